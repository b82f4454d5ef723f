package security

import "testing"

func TestScanPathTraversal(t *testing.T) {
	tests := []struct {
		path string
		want Level
	}{
		{"/api/localsend/v2/info", LevelNone},
		{"/api/../../etc/passwd", LevelHigh},
		{"/api/%2e%2e%2fpasswd", LevelHigh},
		{"/x\r\ninjected", LevelHigh},
	}
	for _, tt := range tests {
		lvl, _ := scanPathTraversal(tt.path)
		if lvl != tt.want {
			t.Errorf("scanPathTraversal(%q) = %v, want %v", tt.path, lvl, tt.want)
		}
	}
}

func TestScanPayloadSQLInjection(t *testing.T) {
	lvl, _ := scanPayload([]byte(`username=admin' OR '1'='1`))
	if lvl != LevelHigh {
		t.Fatalf("Level = %v, want High", lvl)
	}
}

func TestScanPayloadClean(t *testing.T) {
	lvl, _ := scanPayload([]byte(`{"fileName":"report.pdf"}`))
	if lvl != LevelNone {
		t.Fatalf("Level = %v, want None", lvl)
	}
}

func TestScanUserAgentScanner(t *testing.T) {
	lvl, _ := scanUserAgent("sqlmap/1.6")
	if lvl != LevelMedium {
		t.Fatalf("Level = %v, want Medium", lvl)
	}
}

func TestScanContentLengthMismatch(t *testing.T) {
	lvl, _ := scanContentLength(100, 40)
	if lvl != LevelMedium {
		t.Fatalf("Level = %v, want Medium", lvl)
	}
}

func TestScanContentLengthOversizeBody(t *testing.T) {
	lvl, _ := scanContentLength(-1, MaxBodyBytes+1)
	if lvl != LevelCritical {
		t.Fatalf("Level = %v, want Critical", lvl)
	}
}
