package security

import (
	"net/http"
	"sync"
	"time"

	"github.com/pion/logging"
)

// AnalyzerConfig configures an Analyzer's rate limit, cache TTL, and which
// screening stages are enabled.
type AnalyzerConfig struct {
	MaxRequestsPerMinute         int
	CacheTTL                     time.Duration
	ThreatExpiry                 time.Duration
	EnableSQLInjectionDetection  bool
	EnableXSSDetection           bool
	EnablePathTraversalDetection bool
}

// DefaultAnalyzerConfig returns the spec's documented defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MaxRequestsPerMinute:         DefaultRateLimit,
		CacheTTL:                     DefaultCacheTTL,
		ThreatExpiry:                 time.Hour,
		EnableSQLInjectionDetection:  true,
		EnableXSSDetection:           true,
		EnablePathTraversalDetection: true,
	}
}

// Analyzer produces a Verdict for each inbound request by applying, in
// order: rate limiting, cache lookup, path traversal, header validation,
// content-length sanity, payload screening, and user-agent screening.
type Analyzer struct {
	cfg     AnalyzerConfig
	limiter *rateLimiter
	cache   *resultCache

	mu     sync.Mutex
	table  map[string]map[ThreatType]*Threat
	now    func() time.Time
	log    logging.LeveledLogger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAnalyzer creates an Analyzer and starts its periodic sweep at
// cadence ThreatExpiry/12. loggerFactory may be nil.
func NewAnalyzer(cfg AnalyzerConfig, loggerFactory logging.LoggerFactory) *Analyzer {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = DefaultRateLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ThreatExpiry <= 0 {
		cfg.ThreatExpiry = time.Hour
	}

	var log logging.LeveledLogger
	if loggerFactory != nil {
		log = loggerFactory.NewLogger("security")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("security")
	}

	a := &Analyzer{
		cfg:     cfg,
		limiter: newRateLimiter(cfg.MaxRequestsPerMinute),
		cache:   newResultCache(cfg.CacheTTL),
		table:   make(map[string]map[ThreatType]*Threat),
		now:     time.Now,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go a.sweepLoop()
	return a
}

// Close stops the Analyzer's background sweep. Safe to call more than once.
func (a *Analyzer) Close() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		<-a.doneCh
	})
}

func (a *Analyzer) sweepLoop() {
	defer close(a.doneCh)
	cadence := a.cfg.ThreatExpiry / 12
	if cadence <= 0 {
		cadence = time.Minute
	}
	t := time.NewTicker(cadence)
	defer t.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-t.C:
			a.sweep()
		}
	}
}

func (a *Analyzer) sweep() {
	now := a.now()
	n := a.cache.sweep(now)

	a.mu.Lock()
	expired := 0
	for remote, threats := range a.table {
		for typ, threat := range threats {
			if now.Sub(threat.LastDetected) > a.cfg.ThreatExpiry {
				delete(threats, typ)
				expired++
			}
		}
		if len(threats) == 0 {
			delete(a.table, remote)
		}
	}
	a.mu.Unlock()

	if n > 0 || expired > 0 {
		a.log.Debugf("swept %d cache entries, %d expired threats", n, expired)
	}
}

// Analyze screens one request and records any threats detected against
// remote in the threat table.
func (a *Analyzer) Analyze(remote, method, path string, headers http.Header, declaredLength int64, body []byte) Verdict {
	now := a.now()

	if !a.limiter.allow(remote, now) {
		return a.finalize(remote, path, now, []threatHit{{ThreatRateLimit, LevelCritical, "rate limit exceeded"}}, true)
	}

	if key, ok := cacheKey(remote, path, headers, body); ok {
		if v, hit := a.cache.get(key, now); hit {
			return v
		}
		v := a.analyzeUncached(remote, path, headers, declaredLength, body, now)
		a.cache.put(key, v, now)
		return v
	}

	return a.analyzeUncached(remote, path, headers, declaredLength, body, now)
}

type threatHit struct {
	typ   ThreatType
	level Level
	desc  string
}

func (a *Analyzer) analyzeUncached(remote, path string, headers http.Header, declaredLength int64, body []byte, now time.Time) Verdict {
	var hits []threatHit

	if a.cfg.EnablePathTraversalDetection {
		if lvl, desc := scanPathTraversal(path); lvl != LevelNone {
			hits = append(hits, threatHit{ThreatPathTraversal, lvl, desc})
		}
	}

	if lvl, desc := scanHeaders(headers); lvl != LevelNone {
		hits = append(hits, threatHit{ThreatHeaderInjection, lvl, desc})
	}

	if lvl, desc := scanContentLength(declaredLength, len(body)); lvl != LevelNone {
		typ := ThreatContentLengthMismatch
		if lvl == LevelCritical {
			typ = ThreatBufferOverflow
		}
		hits = append(hits, threatHit{typ, lvl, desc})
	}

	if a.cfg.EnableSQLInjectionDetection || a.cfg.EnableXSSDetection {
		if lvl, desc := scanPayload(body); lvl != LevelNone {
			typ := ThreatScriptInjection
			if lvl == LevelCritical {
				typ = ThreatMaliciousExecutable
			}
			hits = append(hits, threatHit{typ, lvl, desc})
		}
	}

	if lvl, desc := scanUserAgent(headers.Get("User-Agent")); lvl != LevelNone {
		hits = append(hits, threatHit{ThreatSuspiciousUserAgent, lvl, desc})
	}

	return a.finalize(remote, path, now, hits, false)
}

func (a *Analyzer) finalize(remote, path string, now time.Time, hits []threatHit, isBlocked bool) Verdict {
	level := LevelNone
	var threats []Threat

	a.mu.Lock()
	for _, h := range hits {
		level = max(level, h.level)
		threats = append(threats, a.recordLocked(remote, h, now))
	}
	a.mu.Unlock()

	shouldBlock := level >= LevelHigh
	return Verdict{
		Remote:      remote,
		Path:        path,
		Level:       level,
		Threats:     threats,
		ShouldBlock: shouldBlock,
		IsBlocked:   isBlocked || shouldBlock,
	}
}

// recordLocked updates the per-remote threat table for one hit. Caller
// holds a.mu.
func (a *Analyzer) recordLocked(remote string, h threatHit, now time.Time) Threat {
	byType, ok := a.table[remote]
	if !ok {
		byType = make(map[ThreatType]*Threat)
		a.table[remote] = byType
	}
	t, ok := byType[h.typ]
	if !ok {
		t = &Threat{Type: h.typ, Level: h.level, FirstDetected: now, Description: h.desc}
		byType[h.typ] = t
	}
	t.Level = max(t.Level, h.level)
	t.LastDetected = now
	t.Count++
	t.Description = h.desc
	return *t
}
