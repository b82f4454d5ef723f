package httpapi

import (
	"net/http"
	"testing"
)

func noopHandler(w http.ResponseWriter, r *http.Request, params map[string]string) {}

func TestMatchExactRouteCaseInsensitive(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/api/localsend/v2/info", noopHandler)

	h, _, _, found := r.Match(http.MethodGet, "/API/LocalSend/v2/INFO")
	if !found || h == nil {
		t.Fatalf("expected case-insensitive exact match, found=%v h=%v", found, h)
	}
}

func TestMatchUnknownRouteNotFound(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/health", noopHandler)

	_, _, _, found := r.Match(http.MethodGet, "/nope")
	if found {
		t.Error("expected found=false for an unregistered path")
	}
}

func TestMatchWrongMethodReturnsAllowedList(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/health", noopHandler)

	h, _, allowed, found := r.Match(http.MethodPost, "/health")
	if !found {
		t.Fatal("expected found=true: the path exists, just not for POST")
	}
	if h != nil {
		t.Error("expected a nil handler on method mismatch")
	}
	if len(allowed) != 1 || allowed[0] != http.MethodGet {
		t.Errorf("allowed = %v, want [GET]", allowed)
	}
}

func TestMatchPatternCapturesParam(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/api/localsend/v2/download/{fileId}", noopHandler)

	h, params, _, found := r.Match(http.MethodGet, "/api/localsend/v2/download/abc123")
	if !found || h == nil {
		t.Fatalf("expected pattern match, found=%v h=%v", found, h)
	}
	if params["fileId"] != "abc123" {
		t.Errorf("params[fileId] = %q, want abc123", params["fileId"])
	}
}

func TestMatchPatternCaseInsensitive(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/api/localsend/v2/download/{fileId}", noopHandler)

	_, params, _, found := r.Match(http.MethodGet, "/API/LOCALSEND/V2/DOWNLOAD/XYZ")
	if !found {
		t.Fatal("expected pattern match to be case-insensitive")
	}
	if params["fileId"] != "xyz" {
		t.Errorf("params[fileId] = %q, want lowercased xyz", params["fileId"])
	}
}

func TestMatchPatternWrongSegmentCount(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/api/localsend/v2/download/{fileId}", noopHandler)

	_, _, _, found := r.Match(http.MethodGet, "/api/localsend/v2/download/abc/extra")
	if found {
		t.Error("expected no match when segment counts differ")
	}
}

func TestExactMatchPreferredOverPattern(t *testing.T) {
	r := NewRouter()
	r.Handle(http.MethodGet, "/api/localsend/v2/download/{fileId}", noopHandler)
	r.Handle(http.MethodGet, "/api/localsend/v2/download/latest", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		w.Header().Set("X-Matched", "exact")
	})

	_, params, _, found := r.Match(http.MethodGet, "/api/localsend/v2/download/latest")
	if !found {
		t.Fatal("expected a match")
	}
	if params != nil {
		t.Errorf("expected the exact route (nil params) to win, got params=%v", params)
	}
}
