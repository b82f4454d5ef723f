package outbound

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/replay"
	"github.com/backkem/localtalk/pkg/security"
)

// DefaultRequestTimeout is the per-request deadline applied when the
// caller's context carries no earlier deadline.
const DefaultRequestTimeout = 30 * time.Second

// MaxRetries is the default number of retries the exponential-backoff
// loop allows, per spec §4.H.
const MaxRetries = 3

// ErrCancelled is returned when the request's context is cancelled
// mid-retry.
var ErrCancelled = errors.New("outbound: cancelled")

// retryableStatus is the HTTP status table spec §4.K marks retryable.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:       true,
	http.StatusTooManyRequests:      true,
	http.StatusInternalServerError:  true,
	http.StatusBadGateway:           true,
	http.StatusServiceUnavailable:   true,
	http.StatusGatewayTimeout:       true,
}

// ClientConfig configures a Client.
type ClientConfig struct {
	MaxConnsPerHost int           // default DefaultMaxConnsPerHost
	CacheTTL        time.Duration // default DefaultCacheTTL
	RequestTimeout  time.Duration // default DefaultRequestTimeout
	MaxRetries      uint64        // default MaxRetries
	LoggerFactory   logging.LoggerFactory
	Transport       http.RoundTripper // optional, for tests
}

// Client is the HTTP client the core uses to reach peers: bounded
// per-host connection pool, exponential-backoff retry, and a short-TTL
// response cache bypassed for High/Critical analyzer verdicts.
type Client struct {
	http  *http.Client
	sem   *hostSemaphores
	cache *responseCache
	cfg   ClientConfig
	now   func() time.Time
	log   logging.LeveledLogger

	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewClient builds a Client from cfg, applying defaults for zero fields.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = MaxRetries
	}

	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("outbound")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("outbound")
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if cfg.Transport != nil {
		httpClient.Transport = cfg.Transport
	}

	c := &Client{
		http:   httpClient,
		sem:    newHostSemaphores(cfg.MaxConnsPerHost),
		cache:  newResponseCache(cfg.CacheTTL),
		cfg:    cfg,
		now:    time.Now,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the cache-sweep goroutine.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *Client) sweepLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.CacheTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if n := c.cache.sweep(c.now()); n > 0 {
				c.log.Debugf("outbound: swept %d expired cache entries", n)
			}
		}
	}
}

// Do issues method against url with body, attaching replay-protection
// headers, retrying retryable failures with exponential backoff, and
// consulting/populating the response cache unless threatLevel is High or
// above.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, threatLevel security.Level) (*CachedResponse, error) {
	bypassCache := threatLevel >= security.LevelHigh
	key := cacheKey(method, url, body)

	if !bypassCache {
		if cached, ok := c.cache.get(key, c.now()); ok {
			return &cached, nil
		}
	}

	sem := c.sem.forHost(url)
	release, ok := acquire(sem, ctx.Done())
	if !ok {
		return nil, ErrCancelled
	}
	defer release()

	resp, err := c.doWithRetry(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if !bypassCache {
		c.cache.put(key, *resp, c.now())
	}
	return resp, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte) (*CachedResponse, error) {
	var result *CachedResponse

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = time.Second
	bo.RandomizationFactor = 0.25
	bounded := backoff.WithMaxRetries(bo, c.cfg.MaxRetries)
	withCtx := backoff.WithContext(bounded, ctx)

	op := func() error {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			if isRetryableNetErr(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if retryableStatus[resp.StatusCode] {
			return errors.New("outbound: retryable status")
		}
		result = resp
		return nil
	}

	if err := backoff.Retry(op, withCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) (*CachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := replay.AddHeaders(req.Header); err != nil {
		return nil, backoff.Permanent(err)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &CachedResponse{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Header:     map[string][]string(httpResp.Header),
	}, nil
}

func isRetryableNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}
