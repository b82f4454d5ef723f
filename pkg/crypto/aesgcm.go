// AES-256-GCM authenticated encryption used for streaming chunk frames and
// fixed-buffer envelopes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// AEAD sizing constants.
const (
	// AESGCMKeySize is the AES-256 key size in bytes.
	AESGCMKeySize = 32

	// AESGCMIVSize is the GCM nonce/IV size in bytes.
	AESGCMIVSize = 12

	// AESGCMTagSize is the authentication tag size in bytes.
	AESGCMTagSize = 16
)

// ErrInvalidGCMKeySize is returned when a key is not 32 bytes.
var ErrInvalidGCMKeySize = errors.New("crypto: AES-256-GCM key must be 32 bytes")

// AESGCM wraps a configured AES-256-GCM cipher.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM constructs an AES-256-GCM cipher from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != AESGCMKeySize {
		return nil, ErrInvalidGCMKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, AESGCMTagSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new GCM: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// NewIV draws a fresh random 12-byte IV from the CSPRNG. Callers must use a
// fresh IV for every Seal call under the same key.
func NewIV() ([]byte, error) {
	iv := make([]byte, AESGCMIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: generate IV: %w", err)
	}
	return iv, nil
}

// Seal encrypts plaintext, returning ciphertext||tag (tag is the trailing
// AESGCMTagSize bytes, matching the wire layout in the stream frame format).
func (g *AESGCM) Seal(iv, plaintext, aad []byte) []byte {
	return g.aead.Seal(nil, iv, plaintext, aad)
}

// SealDetached encrypts plaintext and returns ciphertext and tag separately.
func (g *AESGCM) SealDetached(iv, plaintext, aad []byte) (ciphertext, tag []byte) {
	sealed := g.aead.Seal(nil, iv, plaintext, aad)
	n := len(sealed) - AESGCMTagSize
	return sealed[:n], sealed[n:]
}

// Open decrypts ciphertext||tag and verifies the tag, returning plaintext.
func (g *AESGCM) Open(iv, ciphertextAndTag, aad []byte) ([]byte, error) {
	pt, err := g.aead.Open(nil, iv, ciphertextAndTag, aad)
	if err != nil {
		return nil, ErrTamper
	}
	return pt, nil
}

// OpenDetached decrypts a ciphertext/tag pair supplied separately.
func (g *AESGCM) OpenDetached(iv, ciphertext, tag, aad []byte) ([]byte, error) {
	combined := make([]byte, 0, len(ciphertext)+len(tag))
	combined = append(combined, ciphertext...)
	combined = append(combined, tag...)
	return g.Open(iv, combined, aad)
}

// ErrTamper indicates AEAD/HMAC verification failed; the caller must treat
// the associated stream or frame as compromised and abort it.
var ErrTamper = errors.New("crypto: authentication failed (tamper detected)")
