package outbound

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/backkem/localtalk/pkg/crypto"
)

// DefaultCacheTTL is how long a cached response stays valid.
const DefaultCacheTTL = 10 * time.Minute

// CachedResponse is a response snapshot safe to replay for a repeat request.
type CachedResponse struct {
	StatusCode int
	Body       []byte
	Header     map[string][]string
}

type cacheEntry struct {
	resp   CachedResponse
	expiry time.Time
}

// responseCache is a TTL cache keyed by method|url|sha256(body).
type responseCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]cacheEntry
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{ttl: ttl, m: make(map[string]cacheEntry)}
}

// cacheKey builds "method|url|sha256(body)".
func cacheKey(method, rawURL string, body []byte) string {
	sum := hex.EncodeToString(crypto.SHA256Slice(body))
	return method + "|" + rawURL + "|" + sum
}

func (c *responseCache) get(key string, now time.Time) (CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || now.After(e.expiry) {
		return CachedResponse{}, false
	}
	return e.resp, true
}

func (c *responseCache) put(key string, resp CachedResponse, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cacheEntry{resp: resp, expiry: now.Add(c.ttl)}
}

func (c *responseCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.m {
		if now.After(e.expiry) {
			delete(c.m, k)
			removed++
		}
	}
	return removed
}

func (c *responseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
