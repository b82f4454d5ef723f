// Package encryption implements LocalTalk's end-to-end transport security:
// P-384 ECDH key exchange with HKDF key derivation, and the streaming
// AEAD+HMAC frame codec chunks are sealed with once a session is Ready.
package encryption

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/crypto"
)

// SaltPrefix and Info are the HKDF domain-separation strings: salt is
// "LocalTalk-<sid>" and info is fixed across all sessions.
const (
	SaltPrefix    = "LocalTalk-"
	Info          = "LocalTalk-FileTransfer-v1"
	DerivedKeyLen = 64 // encKey (32) || macKey (32)
)

// HandshakeTimeout bounds how long a key exchange may remain
// KeyExchangePending before SweepExpiredHandshakes removes it.
const HandshakeTimeout = 60 * time.Second

// Status is an EncryptionSession's lifecycle state.
type Status string

const (
	StatusKeyExchangePending Status = "key_exchange_pending"
	StatusReady              Status = "ready"
	StatusFailed             Status = "failed"
	StatusDisposed           Status = "disposed"
)

var (
	// ErrNotFound is returned for operations on an unknown session id.
	ErrNotFound = errors.New("encryption: session not found")
	// ErrNotReady is returned when encrypt/decrypt is attempted before the
	// key exchange has completed.
	ErrNotReady = errors.New("encryption: session not ready")
	// ErrAlreadyExists is returned by InitiateKeyExchange for a duplicate sid.
	ErrAlreadyExists = errors.New("encryption: session already exists")
)

// EncryptionSession holds one peer's negotiated transport keys. EncKey and
// MacKey are zeroized on Dispose. KeyStrength is the negotiated curve's
// group size in bits, fixed for the session's lifetime.
type EncryptionSession struct {
	SessionID   string
	Status      Status
	StartTime   time.Time
	KeyStrength int

	keypair *crypto.P384KeyPair
	EncKey  []byte
	MacKey  []byte
}

func newSession(sessionID string, now time.Time) (*EncryptionSession, error) {
	kp, err := crypto.P384GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &EncryptionSession{
		SessionID:   sessionID,
		Status:      StatusKeyExchangePending,
		StartTime:   now,
		KeyStrength: kp.KeyStrengthBits(),
		keypair:     kp,
	}, nil
}

// PublicKeyBase64 returns this side's uncompressed SEC1 public key (97
// bytes), base64-encoded, for transmission to the peer.
func (s *EncryptionSession) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.keypair.PublicKey())
}

// deriveFrom completes the key exchange given the peer's base64 public
// key: computes Z = ECDH(priv, peerPub), then HKDF-SHA256(Z, salt, info, 64)
// split into EncKey (first 32) and MacKey (last 32). A session whose key
// exchange fails transitions to Failed rather than being left stuck at
// KeyExchangePending.
func (s *EncryptionSession) deriveFrom(peerPublicKeyB64 string) error {
	peerPub, err := base64.StdEncoding.DecodeString(peerPublicKeyB64)
	if err != nil {
		s.Status = StatusFailed
		return err
	}
	shared, err := s.keypair.ECDH(peerPub)
	if err != nil {
		s.Status = StatusFailed
		return err
	}

	salt := []byte(SaltPrefix + s.SessionID)
	material, err := crypto.HKDFSHA256(shared, salt, []byte(Info), DerivedKeyLen)
	if err != nil {
		s.Status = StatusFailed
		return err
	}

	s.EncKey = material[:32]
	s.MacKey = material[32:]
	s.Status = StatusReady
	return nil
}

// dispose zeroizes secret key material.
func (s *EncryptionSession) dispose() {
	for i := range s.EncKey {
		s.EncKey[i] = 0
	}
	for i := range s.MacKey {
		s.MacKey[i] = 0
	}
	s.Status = StatusDisposed
}

// Manager owns the set of in-flight and established encryption sessions,
// keyed by session id, mirroring a handshake-context map guarded by a
// single mutex.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*EncryptionSession
	now      func() time.Time
	log      logging.LeveledLogger
}

// NewManager creates an empty session manager. loggerFactory may be nil.
func NewManager(loggerFactory logging.LoggerFactory) *Manager {
	var log logging.LeveledLogger
	if loggerFactory != nil {
		log = loggerFactory.NewLogger("encryption")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("encryption")
	}
	return &Manager{
		sessions: make(map[string]*EncryptionSession),
		now:      time.Now,
		log:      log,
	}
}

// InitiateKeyExchange creates a new session for sid and returns this
// side's base64 public key to send to the peer.
func (m *Manager) InitiateKeyExchange(sid string) (publicKeyB64 string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sid]; exists {
		return "", ErrAlreadyExists
	}
	sess, err := newSession(sid, m.now())
	if err != nil {
		return "", err
	}
	m.sessions[sid] = sess
	return sess.PublicKeyBase64(), nil
}

// CompleteWithPeerKey finishes the key exchange for sid using the peer's
// base64 public key. Works symmetrically for both initiator and responder:
// the responder calls InitiateKeyExchange then this, the initiator calls
// this directly once it has the responder's key.
func (m *Manager) CompleteWithPeerKey(sid, peerPublicKeyB64 string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sid]
	if !ok {
		return ErrNotFound
	}
	return sess.deriveFrom(peerPublicKeyB64)
}

// Get returns the session for sid.
func (m *Manager) Get(sid string) (*EncryptionSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// Dispose zeroizes and removes the session for sid.
func (m *Manager) Dispose(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sid]; ok {
		s.dispose()
		delete(m.sessions, sid)
	}
}

// SweepExpiredHandshakes removes sessions still KeyExchangePending after
// HandshakeTimeout. Intended to be called periodically by the owning
// runtime.
func (m *Manager) SweepExpiredHandshakes() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for sid, s := range m.sessions {
		if s.Status == StatusKeyExchangePending && now.Sub(s.StartTime) > HandshakeTimeout {
			s.dispose()
			delete(m.sessions, sid)
			removed++
		}
	}
	return removed
}
