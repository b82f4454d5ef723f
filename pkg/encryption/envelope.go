package encryption

import (
	"encoding/binary"
	"time"

	"github.com/backkem/localtalk/pkg/crypto"
)

// EncryptedData is the fixed-buffer envelope variant, used for small
// single-shot payloads (e.g. control messages) rather than streamed
// chunks.
type EncryptedData struct {
	SessionID  string
	IV         [crypto.AESGCMIVSize]byte
	Ciphertext []byte
	Tag        [crypto.AESGCMTagSize]byte
	HMAC       [crypto.SHA256LenBytes]byte
	Timestamp  int64 // Unix nanoseconds
}

// Seal encrypts plaintext under sess's keys into an EncryptedData envelope.
// The HMAC input is iv || ciphertext || tag || timestamp-binary.
func Seal(sess *EncryptionSession, plaintext []byte, now time.Time) (*EncryptedData, error) {
	if sess.Status != StatusReady {
		return nil, ErrNotReady
	}
	gcm, err := crypto.NewAESGCM(sess.EncKey)
	if err != nil {
		return nil, err
	}

	ivBytes, err := crypto.NewIV()
	if err != nil {
		return nil, err
	}
	ciphertext, tag := gcm.SealDetached(ivBytes, plaintext, nil)

	env := &EncryptedData{
		SessionID:  sess.SessionID,
		Ciphertext: ciphertext,
		Timestamp:  now.UnixNano(),
	}
	copy(env.IV[:], ivBytes)
	copy(env.Tag[:], tag)

	mac := envelopeHMAC(sess.MacKey, env.IV[:], env.Ciphertext, env.Tag[:], env.Timestamp)
	copy(env.HMAC[:], mac)

	return env, nil
}

// Open decrypts and authenticates an EncryptedData envelope. Any
// verification failure returns ErrTamper.
func Open(sess *EncryptionSession, env *EncryptedData) ([]byte, error) {
	if sess.Status != StatusReady {
		return nil, ErrNotReady
	}

	expectedMAC := envelopeHMAC(sess.MacKey, env.IV[:], env.Ciphertext, env.Tag[:], env.Timestamp)
	if !crypto.HMACEqual(env.HMAC[:], expectedMAC) {
		return nil, ErrTamper
	}

	gcm, err := crypto.NewAESGCM(sess.EncKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.OpenDetached(env.IV[:], env.Ciphertext, env.Tag[:], nil)
	if err != nil {
		return nil, ErrTamper
	}
	return plaintext, nil
}

func envelopeHMAC(key, iv, ciphertext, tag []byte, timestamp int64) []byte {
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))

	buf := make([]byte, 0, len(iv)+len(ciphertext)+len(tag)+8)
	buf = append(buf, iv...)
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)
	buf = append(buf, tsBuf[:]...)
	return crypto.HMACSHA256Slice(key, buf)
}
