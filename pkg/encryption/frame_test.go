package encryption

import (
	"bytes"
	"testing"
	"time"
)

func readySessionPair(t *testing.T) (*EncryptionSession, *EncryptionSession) {
	t.Helper()
	a := NewManager(nil)
	b := NewManager(nil)
	const sid = "stream-session"

	pubA, err := a.InitiateKeyExchange(sid)
	if err != nil {
		t.Fatalf("InitiateKeyExchange(a) error = %v", err)
	}
	pubB, err := b.InitiateKeyExchange(sid)
	if err != nil {
		t.Fatalf("InitiateKeyExchange(b) error = %v", err)
	}
	if err := a.CompleteWithPeerKey(sid, pubB); err != nil {
		t.Fatalf("CompleteWithPeerKey(a) error = %v", err)
	}
	if err := b.CompleteWithPeerKey(sid, pubA); err != nil {
		t.Fatalf("CompleteWithPeerKey(b) error = %v", err)
	}

	sessA, _ := a.Get(sid)
	sessB, _ := b.Get(sid)
	return sessA, sessB
}

func TestStreamRoundTrip(t *testing.T) {
	writerSess, readerSess := readySessionPair(t)

	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, writerSess)
	if err != nil {
		t.Fatalf("NewStreamWriter() error = %v", err)
	}

	chunks := [][]byte{
		[]byte("first chunk of plaintext"),
		[]byte("second chunk, a little longer this time"),
		[]byte("third"),
	}
	for _, c := range chunks {
		if err := w.WriteChunk(c); err != nil {
			t.Fatalf("WriteChunk() error = %v", err)
		}
	}

	r, err := NewStreamReader(&buf, readerSess)
	if err != nil {
		t.Fatalf("NewStreamReader() error = %v", err)
	}
	for i, want := range chunks {
		got, err := r.ReadChunk()
		if err != nil {
			t.Fatalf("ReadChunk(%d) error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReadChunk(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestStreamTamperDetection(t *testing.T) {
	writerSess, readerSess := readySessionPair(t)

	var buf bytes.Buffer
	w, _ := NewStreamWriter(&buf, writerSess)
	if err := w.WriteChunk([]byte("sensitive payload")); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	tampered := buf.Bytes()
	tampered[0] ^= 0x01 // flip a byte in the IV

	r, _ := NewStreamReader(bytes.NewReader(tampered), readerSess)
	if _, err := r.ReadChunk(); err != ErrTamper {
		t.Fatalf("ReadChunk() error = %v, want ErrTamper", err)
	}
}

func TestStreamRejectsOversizeChunk(t *testing.T) {
	writerSess, _ := readySessionPair(t)
	var buf bytes.Buffer
	w, _ := NewStreamWriter(&buf, writerSess)

	if err := w.WriteChunk(make([]byte, MaxFrameLen+1)); err != ErrFrameTooLarge {
		t.Errorf("WriteChunk() error = %v, want ErrFrameTooLarge", err)
	}
	if err := w.WriteChunk(nil); err != ErrFrameTooLarge {
		t.Errorf("WriteChunk(nil) error = %v, want ErrFrameTooLarge", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	writerSess, readerSess := readySessionPair(t)
	now := time.Now()

	env, err := Seal(writerSess, []byte("control message"), now)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	plaintext, err := Open(readerSess, env)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plaintext) != "control message" {
		t.Fatalf("Open() = %q, want %q", plaintext, "control message")
	}
}

func TestEnvelopeTamperDetection(t *testing.T) {
	writerSess, readerSess := readySessionPair(t)
	env, _ := Seal(writerSess, []byte("control message"), time.Now())

	env.Ciphertext[0] ^= 0x01
	if _, err := Open(readerSess, env); err != ErrTamper {
		t.Fatalf("Open() error = %v, want ErrTamper", err)
	}
}
