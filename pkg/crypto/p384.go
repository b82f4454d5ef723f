package crypto

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
)

// P-384 key agreement constants.
const (
	// P384GroupSizeBytes is the scalar size in bytes.
	P384GroupSizeBytes = 48

	// P384PublicKeySizeBytes is the uncompressed public key size.
	// Format: 0x04 || X (48 bytes) || Y (48 bytes) = 97 bytes.
	P384PublicKeySizeBytes = 97

	// MinECDHKeyStrengthBits is the minimum accepted curve size; curve sizes
	// below this are rejected by RequireMinimumStrength.
	MinECDHKeyStrengthBits = 256
)

// ErrKeyTooWeak is returned when a curve below MinECDHKeyStrengthBits is requested.
var ErrKeyTooWeak = errors.New("crypto: key strength below minimum of 256 bits")

// P384KeyPair is a P-384 ECDH key pair.
type P384KeyPair struct {
	priv *ecdh.PrivateKey
}

// P384GenerateKeyPair generates a new P-384 ECDH key pair.
func P384GenerateKeyPair() (*P384KeyPair, error) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate P-384 key: %w", err)
	}
	return &P384KeyPair{priv: priv}, nil
}

// PublicKey returns the public key in uncompressed SEC1 format (97 bytes).
func (kp *P384KeyPair) PublicKey() []byte {
	return kp.priv.PublicKey().Bytes()
}

// PrivateKeyBytes returns the raw private scalar (48 bytes).
func (kp *P384KeyPair) PrivateKeyBytes() []byte {
	return kp.priv.Bytes()
}

// KeyStrengthBits returns the curve's group size in bits, used to populate
// EncryptionSession.keyStrength.
func (kp *P384KeyPair) KeyStrengthBits() int {
	return P384GroupSizeBytes * 8
}

// ECDH computes the shared secret Z with a peer's uncompressed public key.
func (kp *P384KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	peerPub, err := ecdh.P384().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid peer public key: %w", err)
	}
	secret, err := kp.priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH failed: %w", err)
	}
	return secret, nil
}

// ValidateP384PublicKey checks that a public key is well-formed and on the curve.
func ValidateP384PublicKey(publicKey []byte) error {
	if len(publicKey) != P384PublicKeySizeBytes {
		return fmt.Errorf("crypto: public key must be %d bytes, got %d", P384PublicKeySizeBytes, len(publicKey))
	}
	if publicKey[0] != 0x04 {
		return errors.New("crypto: public key must be uncompressed (0x04 prefix)")
	}
	if _, err := ecdh.P384().NewPublicKey(publicKey); err != nil {
		return fmt.Errorf("crypto: invalid public key: %w", err)
	}
	return nil
}

// CurveGroupSizeBits returns the curve's bit size, used to reject weak curves
// before a key exchange begins.
func CurveGroupSizeBits(curve elliptic.Curve) int {
	return curve.Params().BitSize
}

// RequireMinimumStrength rejects curves smaller than MinECDHKeyStrengthBits.
func RequireMinimumStrength(bits int) error {
	if bits < MinECDHKeyStrengthBits {
		return ErrKeyTooWeak
	}
	return nil
}
