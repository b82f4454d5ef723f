// Package outbound implements the HTTP client the core uses to talk to
// peers: a bounded per-host connection pool, exponential-backoff retry,
// and a short-TTL response cache, with replay-protection headers attached
// to every request.
package outbound

import (
	"net/url"
	"sync"
)

// DefaultMaxConnsPerHost bounds how many requests may be in flight to a
// single host at once.
const DefaultMaxConnsPerHost = 10

// hostSemaphores hands out a buffered channel per host, used as a
// counting semaphore for connection-pool capacity.
type hostSemaphores struct {
	mu     sync.Mutex
	limit  int
	byHost map[string]chan struct{}
}

func newHostSemaphores(limit int) *hostSemaphores {
	return &hostSemaphores{limit: limit, byHost: make(map[string]chan struct{})}
}

func (h *hostSemaphores) forHost(rawURL string) chan struct{} {
	host := hostOf(rawURL)

	h.mu.Lock()
	defer h.mu.Unlock()
	sem, ok := h.byHost[host]
	if !ok {
		sem = make(chan struct{}, h.limit)
		h.byHost[host] = sem
	}
	return sem
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// acquire blocks until capacity for host is available or ctx-like done
// channel fires. Returns a release func.
func acquire(sem chan struct{}, done <-chan struct{}) (release func(), ok bool) {
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	case <-done:
		return nil, false
	}
}
