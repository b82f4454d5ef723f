package encryption

import "testing"

func TestKeyExchangeDerivesMatchingKeys(t *testing.T) {
	initiator := NewManager(nil)
	responder := NewManager(nil)
	const sid = "session-1"

	initPub, err := initiator.InitiateKeyExchange(sid)
	if err != nil {
		t.Fatalf("initiator.InitiateKeyExchange() error = %v", err)
	}
	respPub, err := responder.InitiateKeyExchange(sid)
	if err != nil {
		t.Fatalf("responder.InitiateKeyExchange() error = %v", err)
	}

	if err := initiator.CompleteWithPeerKey(sid, respPub); err != nil {
		t.Fatalf("initiator.CompleteWithPeerKey() error = %v", err)
	}
	if err := responder.CompleteWithPeerKey(sid, initPub); err != nil {
		t.Fatalf("responder.CompleteWithPeerKey() error = %v", err)
	}

	initSess, _ := initiator.Get(sid)
	respSess, _ := responder.Get(sid)

	if initSess.Status != StatusReady || respSess.Status != StatusReady {
		t.Fatalf("sessions not Ready: initiator=%v responder=%v", initSess.Status, respSess.Status)
	}
	if string(initSess.EncKey) != string(respSess.EncKey) {
		t.Error("EncKey mismatch between initiator and responder")
	}
	if string(initSess.MacKey) != string(respSess.MacKey) {
		t.Error("MacKey mismatch between initiator and responder")
	}
	if initSess.KeyStrength != 384 || respSess.KeyStrength != 384 {
		t.Errorf("KeyStrength = %d/%d, want 384/384", initSess.KeyStrength, respSess.KeyStrength)
	}
}

func TestInitiateKeyExchangeStartsPending(t *testing.T) {
	m := NewManager(nil)
	pub, err := m.InitiateKeyExchange("pending")
	if err != nil {
		t.Fatalf("InitiateKeyExchange() error = %v", err)
	}
	_ = pub

	sess, ok := m.Get("pending")
	if !ok {
		t.Fatal("expected the session to be retrievable")
	}
	if sess.Status != StatusKeyExchangePending {
		t.Errorf("Status = %v, want KeyExchangePending", sess.Status)
	}
}

func TestCompleteWithPeerKeyBadKeyFails(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.InitiateKeyExchange("bad-peer"); err != nil {
		t.Fatalf("InitiateKeyExchange() error = %v", err)
	}

	if err := m.CompleteWithPeerKey("bad-peer", "not-valid-base64!!"); err == nil {
		t.Fatal("expected an error for a malformed peer key")
	}

	sess, ok := m.Get("bad-peer")
	if !ok {
		t.Fatal("expected the session to still be retrievable after a failed exchange")
	}
	if sess.Status != StatusFailed {
		t.Errorf("Status = %v, want Failed", sess.Status)
	}
}

func TestInitiateKeyExchangeRejectsDuplicate(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.InitiateKeyExchange("dup"); err != nil {
		t.Fatalf("first InitiateKeyExchange() error = %v", err)
	}
	if _, err := m.InitiateKeyExchange("dup"); err != ErrAlreadyExists {
		t.Errorf("second InitiateKeyExchange() error = %v, want ErrAlreadyExists", err)
	}
}

func TestCompleteWithPeerKeyUnknownSession(t *testing.T) {
	m := NewManager(nil)
	if err := m.CompleteWithPeerKey("ghost", "AAAA"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDisposeZeroizesKeys(t *testing.T) {
	m := NewManager(nil)
	const sid = "dispose-me"
	pub, _ := m.InitiateKeyExchange(sid)

	other := NewManager(nil)
	otherPub, _ := other.InitiateKeyExchange(sid)
	if err := m.CompleteWithPeerKey(sid, otherPub); err != nil {
		t.Fatalf("CompleteWithPeerKey() error = %v", err)
	}
	_ = pub

	sess, _ := m.Get(sid)
	for _, b := range sess.EncKey {
		if b != 0 {
			break
		}
	}

	m.Dispose(sid)
	if sess.Status != StatusDisposed {
		t.Errorf("Status = %v, want Disposed", sess.Status)
	}
	for i, b := range sess.EncKey {
		if b != 0 {
			t.Fatalf("EncKey[%d] = %d, want 0 after dispose", i, b)
		}
	}
	if _, ok := m.Get(sid); ok {
		t.Error("Get() should not find a disposed session")
	}
}
