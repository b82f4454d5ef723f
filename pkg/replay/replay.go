// Package replay detects replayed HTTP requests via a nonce+timestamp
// freshness check backed by a canonical-signature cache, and provides the
// header helper that attaches fresh replay-protection headers to outbound
// requests.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/crypto"
)

// TimestampHeader and NonceHeader are the replay-protection request headers.
const (
	TimestampHeader = "X-Timestamp"
	NonceHeader     = "X-Nonce"
)

// Window is how long a signature remains cached, and the maximum allowed
// clock skew between a request's timestamp and now.
const Window = 5 * time.Minute

// MinNonceLength is the minimum accepted length of X-Nonce.
const MinNonceLength = 16

// NonceLength is the length generated by addHeaders.
const NonceLength = 32

// headersForSignature lists the request headers folded into the canonical
// signature, in order.
var headersForSignature = []string{TimestampHeader, NonceHeader}

// Result is the outcome of validating one request for replay.
type Result struct {
	Valid   bool
	Reason  string
	Warning string
}

// Detector validates requests for freshness and deduplicates identical
// requests within the cache window. Safe for concurrent use.
type Detector struct {
	mu    sync.Mutex
	cache map[string]time.Time

	log logging.LeveledLogger
	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDetector creates a Detector and starts its background cache sweep.
// loggerFactory may be nil.
func NewDetector(loggerFactory logging.LoggerFactory) *Detector {
	var log logging.LeveledLogger
	if loggerFactory != nil {
		log = loggerFactory.NewLogger("replay")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("replay")
	}

	d := &Detector{
		cache:  make(map[string]time.Time),
		log:    log,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// Close stops the background sweep. Safe to call more than once.
func (d *Detector) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Detector) sweepLoop() {
	defer close(d.doneCh)
	t := time.NewTicker(Window)
	defer t.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-t.C:
			n := d.sweep()
			if n > 0 {
				d.log.Debugf("swept %d expired replay signature(s)", n)
			}
		}
	}
}

func (d *Detector) sweep() int {
	now := d.now()
	removed := 0
	d.mu.Lock()
	defer d.mu.Unlock()
	for sig, expiry := range d.cache {
		if now.After(expiry) {
			delete(d.cache, sig)
			removed++
		}
	}
	return removed
}

// Validate checks one request for replay. If X-Timestamp or X-Nonce is
// missing, the request is valid with a warning (legacy peers without replay
// protection). Otherwise the timestamp must be within Window of now and the
// nonce must be at least MinNonceLength characters, and the
// canonical signature must not already be cached; if it is, the request is
// rejected as a replay. A fresh signature is cached for Window.
func (d *Detector) Validate(method, path string, headers http.Header, body []byte, remote string) Result {
	ts := headers.Get(TimestampHeader)
	nonce := headers.Get(NonceHeader)

	if ts == "" || nonce == "" {
		return Result{Valid: true, Warning: "missing replay-protection headers (legacy peer)"}
	}
	if len(nonce) < MinNonceLength {
		return Result{Valid: false, Reason: "nonce too short"}
	}

	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Result{Valid: false, Reason: "malformed timestamp"}
	}

	now := d.now()
	skew := now.Sub(parsed)
	if skew < 0 {
		skew = -skew
	}
	if skew > Window {
		return Result{Valid: false, Reason: "timestamp outside freshness window"}
	}

	sig := Signature(method, path, nonce, ts, headers, body)

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, seen := d.cache[sig]; seen && now.Before(expiry) {
		return Result{Valid: false, Reason: "replay"}
	}
	d.cache[sig] = now.Add(Window)
	return Result{Valid: true}
}

// Signature computes the canonical replay signature over method, path,
// nonce, timestamp, the selected headers, and sha256(body).
func Signature(method, path, nonce, timestamp string, headers http.Header, body []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s\n", strings.ToUpper(method), path, nonce, timestamp)
	for _, name := range headersForSignature {
		fmt.Fprintf(h, "%s=%s\n", name, headers.Get(name))
	}
	bodyHash := crypto.SHA256Slice(body)
	h.Write(bodyHash)
	return hex.EncodeToString(h.Sum(nil))
}

// AddHeaders writes a fresh X-Timestamp and X-Nonce into h, for use on
// outbound requests that want replay protection applied by the peer.
func AddHeaders(h http.Header) error {
	nonce, err := crypto.RandomBase62(NonceLength)
	if err != nil {
		return err
	}
	h.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))
	h.Set(NonceHeader, nonce)
	return nil
}

// Size returns the number of signatures currently cached. Exposed for
// tests and diagnostics.
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}
