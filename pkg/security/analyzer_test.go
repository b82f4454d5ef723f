package security

import (
	"net/http"
	"testing"
	"time"
)

func TestAnalyzePathTraversalIsHighOrAbove(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), nil)
	defer a.Close()

	v := a.Analyze("10.0.0.1", "GET", "/api/localsend/v2/info/../../etc/passwd", make(http.Header), -1, nil)
	if v.Level < LevelHigh {
		t.Fatalf("Level = %v, want >= High", v.Level)
	}
	if !v.ShouldBlock {
		t.Error("expected ShouldBlock = true")
	}
}

func TestAnalyzeRateLimitBlocksOverLimitThenResets(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.MaxRequestsPerMinute = 5
	a := NewAnalyzer(cfg, nil)
	defer a.Close()

	base := time.Now()
	a.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		v := a.Analyze("10.0.0.5", "GET", "/api/localsend/v2/info", make(http.Header), -1, nil)
		if v.IsBlocked {
			t.Fatalf("request %d unexpectedly blocked", i)
		}
	}

	v := a.Analyze("10.0.0.5", "GET", "/api/localsend/v2/info", make(http.Header), -1, nil)
	if !v.IsBlocked || v.Level != LevelCritical {
		t.Fatalf("6th request = %+v, want Critical+blocked", v)
	}

	a.now = func() time.Time { return base.Add(RateWindow + time.Second) }
	v = a.Analyze("10.0.0.5", "GET", "/api/localsend/v2/info", make(http.Header), -1, nil)
	if v.IsBlocked {
		t.Errorf("after window elapses, request should succeed again: %+v", v)
	}
}

func TestAnalyzeCachesNonHighVerdicts(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), nil)
	defer a.Close()

	h := make(http.Header)
	h.Set("User-Agent", "LocalTalk/2.0")
	body := []byte(`{"ok":true}`)

	v1 := a.Analyze("10.0.0.9", "POST", "/api/localsend/v2/register", h, int64(len(body)), body)
	v2 := a.Analyze("10.0.0.9", "POST", "/api/localsend/v2/register", h, int64(len(body)), body)

	if v1.Level != LevelNone || v2.Level != LevelNone {
		t.Fatalf("expected clean verdicts, got %v / %v", v1.Level, v2.Level)
	}

	key, _ := cacheKey("10.0.0.9", "/api/localsend/v2/register", h, body)
	if a.cache.size() == 0 {
		t.Error("expected result to be cached")
	}
	if _, ok := a.cache.get(key, a.now()); !ok {
		t.Error("expected cache hit for identical request")
	}
}

func TestAnalyzeScriptInjectionDetected(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), nil)
	defer a.Close()

	body := []byte(`<script>alert(1)</script>`)
	v := a.Analyze("10.0.0.2", "POST", "/api/localsend/v2/upload", make(http.Header), int64(len(body)), body)
	if v.Level < LevelHigh {
		t.Fatalf("Level = %v, want >= High", v.Level)
	}
}

func TestAnalyzeEmbeddedExecutableIsCritical(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), nil)
	defer a.Close()

	body := []byte{0x4D, 0x5A, 0x90, 0x00}
	v := a.Analyze("10.0.0.3", "POST", "/api/localsend/v2/upload", make(http.Header), int64(len(body)), body)
	if v.Level != LevelCritical {
		t.Fatalf("Level = %v, want Critical", v.Level)
	}
}

func TestAnalyzeMissingUserAgentIsLow(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), nil)
	defer a.Close()

	v := a.Analyze("10.0.0.4", "GET", "/health", make(http.Header), -1, nil)
	if v.Level != LevelLow {
		t.Fatalf("Level = %v, want Low", v.Level)
	}
	if v.ShouldBlock {
		t.Error("Low level should not block")
	}
}

func TestThreatTableAccumulatesCount(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig(), nil)
	defer a.Close()

	for i := 0; i < 3; i++ {
		a.Analyze("10.0.0.6", "GET", "/x/../../etc/passwd", make(http.Header), -1, nil)
	}

	a.mu.Lock()
	threat := a.table["10.0.0.6"][ThreatPathTraversal]
	a.mu.Unlock()
	if threat == nil || threat.Count != 3 {
		t.Fatalf("threat = %+v, want Count 3", threat)
	}
}
