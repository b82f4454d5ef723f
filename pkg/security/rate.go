package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateLimit is the default maximum requests per remote per window.
const DefaultRateLimit = 100

// RateWindow is the sliding window duration rate limiting is expressed over.
const RateWindow = 60 * time.Second

// rateLimiter enforces a per-remote request ceiling over RateWindow. It is
// backed by golang.org/x/time/rate, configured so the bucket's burst equals
// the window limit and its refill rate replenishes the full burst once per
// RateWindow — reproducing a sliding-window counter's external behavior
// (limit+1th request in-window blocked; capacity available again after the
// window elapses) on top of a continuously-refilling token bucket.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	buckets map[string]*rate.Limiter
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &rateLimiter{
		limit:   limit,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (r *rateLimiter) limiterFor(remote string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.buckets[remote]
	if !ok {
		every := rate.Every(RateWindow / time.Duration(r.limit))
		l = rate.NewLimiter(every, r.limit)
		r.buckets[remote] = l
	}
	return l
}

// allow reports whether the request at `now` from `remote` stays within the
// rate limit.
func (r *rateLimiter) allow(remote string, now time.Time) bool {
	return r.limiterFor(remote).AllowN(now, 1)
}

// forget discards the bucket state of remote. The analyzer's periodic sweep
// does not call it, so a remote's bucket is kept for the rateLimiter's
// lifetime.
func (r *rateLimiter) forget(remote string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, remote)
}

func (r *rateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
