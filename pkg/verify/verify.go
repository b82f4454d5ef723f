// Package verify implements per-chunk and whole-file integrity checking
// for completed transfers: a session records a hash per received chunk,
// then on completion recomputes whole-file digests and cross-checks chunk
// bookkeeping before optionally emitting a placeholder signature.
package verify

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/crypto"
)

// Algorithm names accepted in a Request's Algos list.
const (
	AlgoSHA256 = "SHA-256"
)

var (
	// ErrUnknownSession is returned for operations on an unknown session id.
	ErrUnknownSession = errors.New("verify: unknown session")
	// ErrChunkCountMismatch is returned by Complete when the recorded chunk
	// count does not equal Request.TotalChunks.
	ErrChunkCountMismatch = errors.New("verify: chunk count mismatch")
	// ErrDuplicateChunk is returned by Complete when two ChunkHash entries
	// share an index.
	ErrDuplicateChunk = errors.New("verify: duplicate chunk index")
	// ErrMissingChunk is returned by Complete when indices do not form a
	// dense [0, totalChunks) range.
	ErrMissingChunk = errors.New("verify: missing chunk index")
	// ErrDigestMismatch is returned by Complete when a recomputed whole-file
	// digest does not match Request.Expected for that algorithm.
	ErrDigestMismatch = errors.New("verify: digest mismatch")
	// ErrUnsupportedAlgorithm is returned for an Algos entry this package
	// cannot compute.
	ErrUnsupportedAlgorithm = errors.New("verify: unsupported algorithm")
)

// Request describes the file a verification session is tracking.
type Request struct {
	FileName    string
	Size        int64
	Path        string
	TotalChunks int
	Algos       []string          // defaults to []string{AlgoSHA256}
	Expected    map[string]string // algorithm -> expected hex digest, optional
}

// ChunkHash records the outcome of verifying one received chunk.
type ChunkHash struct {
	Index     int
	Hex       string
	Size      int
	Timestamp time.Time
}

// Result is returned by Complete on success.
type Result struct {
	SessionID string
	Digests   map[string]string // algorithm -> hex digest
	Signature string            // placeholder signature, see Sign
}

// Session tracks per-chunk hashes for one in-flight verification.
type Session struct {
	SessionID string
	Request   Request

	mu     sync.Mutex
	chunks map[int]ChunkHash
	data   map[int][]byte // chunk payloads retained for whole-file recomputation
	seen   map[int]int    // submission count per index, for duplicate detection
}

// Manager owns verification sessions keyed by id, mirroring the
// handshake-context-map shape used elsewhere in this module.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idFunc   func() string
	now      func() time.Time
	log      logging.LeveledLogger
}

// NewManager creates an empty verification manager. loggerFactory may be nil.
func NewManager(loggerFactory logging.LoggerFactory) *Manager {
	var log logging.LeveledLogger
	if loggerFactory != nil {
		log = loggerFactory.NewLogger("verify")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("verify")
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idFunc:   defaultSessionID,
		now:      time.Now,
		log:      log,
	}
}

// Start opens a new verification session for req and returns its id.
func (m *Manager) Start(req Request) string {
	if len(req.Algos) == 0 {
		req.Algos = []string{AlgoSHA256}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sid := m.idFunc()
	m.sessions[sid] = &Session{
		SessionID: sid,
		Request:   req,
		chunks:    make(map[int]ChunkHash),
		data:      make(map[int][]byte),
		seen:      make(map[int]int),
	}
	m.log.Debugf("verify: started session %s for %s (%d chunks)", sid, req.FileName, req.TotalChunks)
	return sid
}

// VerifyChunk records the hash of one received chunk. If expected is
// non-empty, the recorded hex digest is compared case-insensitively and the
// returned bool reports the match; if expected is empty, the chunk is
// recorded unconditionally and valid is true.
func (m *Manager) VerifyChunk(sid string, idx int, data []byte, expected string) (valid bool, err error) {
	m.mu.RLock()
	sess, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return false, ErrUnknownSession
	}

	digest := hex.EncodeToString(crypto.SHA256Slice(data))
	valid = expected == "" || strings.EqualFold(digest, expected)

	sess.mu.Lock()
	sess.seen[idx]++
	sess.chunks[idx] = ChunkHash{Index: idx, Hex: digest, Size: len(data), Timestamp: m.now()}
	if valid {
		cp := make([]byte, len(data))
		copy(cp, data)
		sess.data[idx] = cp
	}
	sess.mu.Unlock()

	return valid, nil
}

// Complete cross-checks the session's recorded chunks against its Request
// and, if they are consistent, recomputes whole-file digests for every
// requested algorithm and checks them against Request.Expected. On success
// it emits a placeholder signature and removes the session.
func (m *Manager) Complete(sid string) (*Result, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.chunks) != sess.Request.TotalChunks {
		return nil, ErrChunkCountMismatch
	}
	for idx, n := range sess.seen {
		if n > 1 {
			return nil, fmt.Errorf("%w: index %d", ErrDuplicateChunk, idx)
		}
	}

	assembled := make([]byte, 0, sess.Request.Size)
	for i := 0; i < sess.Request.TotalChunks; i++ {
		if _, ok := sess.chunks[i]; !ok {
			return nil, ErrMissingChunk
		}
		data, ok := sess.data[i]
		if !ok {
			return nil, ErrMissingChunk
		}
		assembled = append(assembled, data...)
	}

	digests := make(map[string]string, len(sess.Request.Algos))
	for _, algo := range sess.Request.Algos {
		digest, err := digestFor(algo, assembled)
		if err != nil {
			return nil, err
		}
		digests[algo] = digest

		if want, ok := sess.Request.Expected[algo]; ok && !strings.EqualFold(digest, want) {
			return nil, ErrDigestMismatch
		}
	}

	return &Result{
		SessionID: sid,
		Digests:   digests,
		Signature: Sign(digests, m.now()),
	}, nil
}

func digestFor(algo string, data []byte) (string, error) {
	switch algo {
	case AlgoSHA256:
		return hex.EncodeToString(crypto.SHA256Slice(data)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algo)
	}
}

// Sign builds the placeholder signature format
// base64("<alg>:<hex>|...:<iso-timestamp>"). Real deployments substitute a
// detached Ed25519 signature over the same digest set.
func Sign(digests map[string]string, now time.Time) string {
	algos := make([]string, 0, len(digests))
	for algo := range digests {
		algos = append(algos, algo)
	}
	sortStrings(algos)

	var parts []string
	for _, algo := range algos {
		parts = append(parts, algo+":"+digests[algo])
	}
	payload := strings.Join(parts, "|") + ":" + now.UTC().Format(time.RFC3339)
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func defaultSessionID() string {
	b, err := crypto.RandomBase62(32)
	if err != nil {
		// CSPRNG failure is unrecoverable; a zero-value id is
		// indistinguishable from a collision and fails loudly downstream.
		return ""
	}
	return b
}
