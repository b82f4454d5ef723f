package verify

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/backkem/localtalk/pkg/crypto"
)

func chunksOf(data []byte, n int) [][]byte {
	var out [][]byte
	size := (len(data) + n - 1) / n
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end])
	}
	return out
}

func TestStartAndVerifyChunkRoundTrip(t *testing.T) {
	m := NewManager(nil)
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")
	parts := chunksOf(data, 4)

	sid := m.Start(Request{
		FileName:    "fox.txt",
		Size:        int64(len(data)),
		TotalChunks: len(parts),
	})

	for i, p := range parts {
		valid, err := m.VerifyChunk(sid, i, p, "")
		if err != nil {
			t.Fatalf("VerifyChunk(%d) error = %v", i, err)
		}
		if !valid {
			t.Fatalf("VerifyChunk(%d) valid = false, want true", i)
		}
	}

	res, err := m.Complete(sid)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	want := hex.EncodeToString(crypto.SHA256Slice(data))
	if res.Digests[AlgoSHA256] != want {
		t.Errorf("Digests[SHA-256] = %s, want %s", res.Digests[AlgoSHA256], want)
	}
	if res.Signature == "" {
		t.Error("expected non-empty signature")
	}
}

func TestVerifyChunkExpectedMismatch(t *testing.T) {
	m := NewManager(nil)
	sid := m.Start(Request{FileName: "f", TotalChunks: 1})

	valid, err := m.VerifyChunk(sid, 0, []byte("payload"), "deadbeef")
	if err != nil {
		t.Fatalf("VerifyChunk() error = %v", err)
	}
	if valid {
		t.Error("expected mismatch to report valid = false")
	}
}

func TestCompleteRejectsIncompleteChunkSet(t *testing.T) {
	m := NewManager(nil)
	sid := m.Start(Request{FileName: "f", TotalChunks: 3})
	m.VerifyChunk(sid, 0, []byte("a"), "")
	m.VerifyChunk(sid, 1, []byte("b"), "")

	if _, err := m.Complete(sid); err != ErrChunkCountMismatch {
		t.Errorf("Complete() error = %v, want ErrChunkCountMismatch", err)
	}
}

func TestCompleteRejectsMissingIndex(t *testing.T) {
	m := NewManager(nil)
	sid := m.Start(Request{FileName: "f", TotalChunks: 2})
	m.VerifyChunk(sid, 0, []byte("a"), "")
	m.VerifyChunk(sid, 2, []byte("c"), "") // index 1 is missing, 2 is out of range of the dense set

	_, err := m.Complete(sid)
	if err == nil {
		t.Fatal("expected an error for a non-dense index set")
	}
}

func TestCompleteChecksExpectedDigest(t *testing.T) {
	m := NewManager(nil)
	data := []byte("hello world")
	sid := m.Start(Request{
		FileName:    "f",
		TotalChunks: 1,
		Expected:    map[string]string{AlgoSHA256: "0000000000000000000000000000000000000000000000000000000000000000"},
	})
	m.VerifyChunk(sid, 0, data, "")

	if _, err := m.Complete(sid); err != ErrDigestMismatch {
		t.Errorf("Complete() error = %v, want ErrDigestMismatch", err)
	}
}

func TestCompleteUnknownSession(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Complete("ghost"); err != ErrUnknownSession {
		t.Errorf("error = %v, want ErrUnknownSession", err)
	}
}

func TestCompleteIsOneShot(t *testing.T) {
	m := NewManager(nil)
	sid := m.Start(Request{FileName: "f", TotalChunks: 1})
	m.VerifyChunk(sid, 0, []byte("x"), "")
	if _, err := m.Complete(sid); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if _, err := m.Complete(sid); err != ErrUnknownSession {
		t.Errorf("second Complete() error = %v, want ErrUnknownSession", err)
	}
}

func TestSignIsDeterministicForSameDigestsAndTime(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	digests := map[string]string{AlgoSHA256: "abc123"}

	s1 := Sign(digests, now)
	s2 := Sign(digests, now)
	if s1 != s2 {
		t.Errorf("Sign() not deterministic: %s != %s", s1, s2)
	}
}
