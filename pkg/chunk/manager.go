// Package chunk implements the chunked transfer engine: per-chunk state
// tracking across a TransferSession, checksum validation, and bounded
// parallel dispatch with retry.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/backkem/localtalk/pkg/crypto"
)

// Manager computes and validates chunk checksums, and slices source data
// into chunks.
type Manager struct{}

// NewManager returns a stateless ChunkManager.
func NewManager() *Manager {
	return &Manager{}
}

// CreateChunk slices n bytes from src starting at offset. If offset+n
// exceeds len(src), the chunk is truncated to what remains.
func (m *Manager) CreateChunk(src []byte, offset, n int) []byte {
	if offset >= len(src) {
		return nil
	}
	end := offset + n
	if end > len(src) {
		end = len(src)
	}
	out := make([]byte, end-offset)
	copy(out, src[offset:end])
	return out
}

// Checksum returns the lowercase hex SHA-256 of data.
func (m *Manager) Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate reports whether data's checksum matches the expected hex
// digest, using a constant-time string comparison.
func (m *Manager) Validate(data []byte, expected string) bool {
	return crypto.ConstantTimeEqualString(m.Checksum(data), expected)
}
