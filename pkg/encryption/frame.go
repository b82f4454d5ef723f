package encryption

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/backkem/localtalk/pkg/crypto"
)

// MaxFrameLen is the stream chunk cap (64 KiB).
const MaxFrameLen = 64 * 1024

// FrameHeaderLen is IV(12) || TAG(16) || LEN(4).
const FrameHeaderLen = crypto.AESGCMIVSize + crypto.AESGCMTagSize + 4

// ErrTamper is returned when a frame fails HMAC or AEAD tag verification.
// It never wraps the underlying cause, so callers cannot distinguish a
// bit-flip from a key mismatch.
var ErrTamper = errors.New("encryption: tamper detected, stream aborted")

// ErrFrameTooLarge is returned when a frame's declared LEN is out of
// range, or a caller asks to write a chunk above MaxFrameLen.
var ErrFrameTooLarge = errors.New("encryption: frame length out of range")

// StreamWriter seals plaintext chunks onto an underlying io.Writer using
// the per-chunk frame format: IV || TAG || LEN || CIPHERTEXT || HMAC.
// Streams are unidirectional and non-seekable; construct one per direction.
type StreamWriter struct {
	w    io.Writer
	gcm  *crypto.AESGCM
	hmac []byte // macKey, kept for HMAC input, never logged
}

// NewStreamWriter constructs a writer bound to a Ready EncryptionSession.
func NewStreamWriter(w io.Writer, sess *EncryptionSession) (*StreamWriter, error) {
	if sess.Status != StatusReady {
		return nil, ErrNotReady
	}
	gcm, err := crypto.NewAESGCM(sess.EncKey)
	if err != nil {
		return nil, err
	}
	return &StreamWriter{w: w, gcm: gcm, hmac: sess.MacKey}, nil
}

// WriteChunk seals and writes one plaintext chunk. len(plaintext) must be
// in (0, MaxFrameLen].
func (s *StreamWriter) WriteChunk(plaintext []byte) error {
	if len(plaintext) == 0 || len(plaintext) > MaxFrameLen {
		return ErrFrameTooLarge
	}

	iv, err := crypto.NewIV()
	if err != nil {
		return err
	}
	ciphertext, tag := s.gcm.SealDetached(iv, plaintext, nil)

	frame := make([]byte, 0, FrameHeaderLen+len(ciphertext)+crypto.SHA256LenBytes)
	frame = append(frame, iv...)
	frame = append(frame, tag...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, ciphertext...)

	mac := hmacInput(s.hmac, iv, tag, ciphertext)
	frame = append(frame, mac...)

	_, err = s.w.Write(frame)
	return err
}

// StreamReader opens frames from an underlying io.Reader, one chunk per
// ReadChunk call.
type StreamReader struct {
	r    io.Reader
	gcm  *crypto.AESGCM
	hmac []byte
}

// NewStreamReader constructs a reader bound to a Ready EncryptionSession.
func NewStreamReader(r io.Reader, sess *EncryptionSession) (*StreamReader, error) {
	if sess.Status != StatusReady {
		return nil, ErrNotReady
	}
	gcm, err := crypto.NewAESGCM(sess.EncKey)
	if err != nil {
		return nil, err
	}
	return &StreamReader{r: r, gcm: gcm, hmac: sess.MacKey}, nil
}

// ReadChunk reads and authenticates one frame, returning its plaintext.
// Any verification failure returns ErrTamper and the stream should be
// abandoned; no partial plaintext is ever returned on failure.
func (s *StreamReader) ReadChunk() ([]byte, error) {
	header := make([]byte, FrameHeaderLen)
	if _, err := io.ReadFull(s.r, header); err != nil {
		return nil, err
	}

	iv := header[:crypto.AESGCMIVSize]
	tag := header[crypto.AESGCMIVSize : crypto.AESGCMIVSize+crypto.AESGCMTagSize]
	length := binary.BigEndian.Uint32(header[crypto.AESGCMIVSize+crypto.AESGCMTagSize:])

	if length == 0 || length > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(s.r, ciphertext); err != nil {
		return nil, err
	}
	mac := make([]byte, crypto.SHA256LenBytes)
	if _, err := io.ReadFull(s.r, mac); err != nil {
		return nil, err
	}

	expectedMAC := hmacInput(s.hmac, iv, tag, ciphertext)
	if !crypto.HMACEqual(mac, expectedMAC) {
		return nil, ErrTamper
	}

	plaintext, err := s.gcm.OpenDetached(iv, ciphertext, tag, nil)
	if err != nil {
		return nil, ErrTamper
	}
	return plaintext, nil
}

func hmacInput(key, iv, tag, ciphertext []byte) []byte {
	buf := make([]byte, 0, len(iv)+len(tag)+len(ciphertext))
	buf = append(buf, iv...)
	buf = append(buf, tag...)
	buf = append(buf, ciphertext...)
	return crypto.HMACSHA256Slice(key, buf)
}
