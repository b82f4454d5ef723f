package chunk

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultMaxConcurrentTransfers bounds TransferChunksParallel's fan-out
// when no explicit concurrency cap is configured.
const DefaultMaxConcurrentTransfers = 8

// MaxPoolAcquireAttempts is the retry ceiling for one chunk transfer under
// backoff: the first try plus at most this many retries.
const MaxPoolAcquireAttempts = 10

// EventKind enumerates the events an Engine emits as chunks complete.
type EventKind string

const (
	EventChunkTransferred  EventKind = "chunk_transferred"
	EventProgress          EventKind = "progress"
	EventTransferCompleted EventKind = "transfer_completed"
)

// Event is one engine notification, delivered on the Engine's Events channel.
type Event struct {
	Kind            EventKind
	SessionID       string
	ChunkIndex      int
	CompletedChunks int
	TotalChunks     int
}

// ChunkResult is one chunk's outcome from TransferChunksParallel, returned
// in the same order as the input requests.
type ChunkResult struct {
	Index int
	Err   error
}

// Engine owns the set of in-flight TransferSessions and dispatches chunk
// work, bounded by a configurable concurrency cap.
type Engine struct {
	mgr *Manager

	mu       sync.RWMutex
	sessions map[string]*TransferSession

	maxConcurrent int
	now           func() time.Time
	log           logging.LeveledLogger

	Events chan Event
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	MaxConcurrentTransfers int
	LoggerFactory          logging.LoggerFactory
}

// NewEngine creates a chunk engine. loggerFactory may be nil.
func NewEngine(cfg EngineConfig) *Engine {
	max := cfg.MaxConcurrentTransfers
	if max <= 0 {
		max = DefaultMaxConcurrentTransfers
	}

	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("chunk")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("chunk")
	}

	return &Engine{
		mgr:           NewManager(),
		sessions:      make(map[string]*TransferSession),
		maxConcurrent: max,
		now:           time.Now,
		log:           log,
		Events:        make(chan Event, 64),
	}
}

// Start allocates a new TransferSession for req and returns its id.
func (e *Engine) Start(req Request) string {
	id := uuid.NewString()
	sess := newTransferSession(id, req, e.now())

	e.mu.Lock()
	e.sessions[id] = sess
	e.mu.Unlock()

	return id
}

// Get returns the session for sid, if present.
func (e *Engine) Get(sid string) (*TransferSession, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sid]
	return s, ok
}

// Cancel transitions a session to Cancelled. In-flight chunk work observes
// this at its next suspension point and stops.
func (e *Engine) Cancel(sid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sid]
	if !ok {
		return ErrNotFound
	}
	switch s.Status {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return nil
	}
	s.Status = SessionCancelled
	return nil
}

func (e *Engine) cancelled(sid string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sid]
	return ok && s.Status == SessionCancelled
}

// TransferChunk marks chunk idx of session sid complete, validating its
// checksum against data. Nil data is tolerated without throwing: a chunk
// with no payload still transitions its slot to Completed (used by tests
// and by zero-byte transfers). A checksum mismatch marks the slot Failed
// instead of aborting the session.
func (e *Engine) TransferChunk(sid string, idx int, data []byte, expectedChecksum string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sid]
	if !ok {
		return ErrNotFound
	}
	if idx < 0 || idx >= s.TotalChunks {
		return ErrInvalidChunkIndex
	}
	if s.Status == SessionCancelled {
		return nil
	}

	now := e.now()
	s.LastActivity = now

	if expectedChecksum != "" && data != nil && !e.mgr.Validate(data, expectedChecksum) {
		if s.ChunkStates[idx] != StateFailed {
			s.ChunkStates[idx] = StateFailed
			s.FailedChunks++
		}
		return nil
	}

	if s.ChunkStates[idx] != StateCompleted {
		s.ChunkStates[idx] = StateCompleted
		s.CompletedChunks++
		e.emit(Event{Kind: EventChunkTransferred, SessionID: sid, ChunkIndex: idx, CompletedChunks: s.CompletedChunks, TotalChunks: s.TotalChunks})
		e.emit(Event{Kind: EventProgress, SessionID: sid, CompletedChunks: s.CompletedChunks, TotalChunks: s.TotalChunks})
	}

	if s.complete() {
		s.Status = SessionCompleted
		e.emit(Event{Kind: EventTransferCompleted, SessionID: sid, CompletedChunks: s.CompletedChunks, TotalChunks: s.TotalChunks})
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	select {
	case e.Events <- ev:
	default:
		e.log.Warnf("event channel full, dropping %s for session %s", ev.Kind, ev.SessionID)
	}
}

// ChunkTransferFunc fetches or sends chunk idx's bytes and returns the
// data plus its expected checksum, or an error if the I/O failed.
type ChunkTransferFunc func(ctx context.Context, idx int) (data []byte, checksum string, err error)

// TransferChunksParallel dispatches fn for every chunk index of session
// sid, bounded by the engine's concurrency cap, retrying transient
// failures with exponential backoff. Results are returned in input-vector
// (index) order; Events fire in completion order as chunks finish.
func (e *Engine) TransferChunksParallel(ctx context.Context, sid string, indices []int, fn ChunkTransferFunc) ([]ChunkResult, error) {
	if _, ok := e.Get(sid); !ok {
		return nil, ErrNotFound
	}

	results := make([]ChunkResult, len(indices))
	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup

	for i, idx := range indices {
		i, idx := i, idx
		wg.Add(1)
		go func() {
			defer wg.Done()

			if e.cancelled(sid) {
				results[i] = ChunkResult{Index: idx, Err: context.Canceled}
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = ChunkResult{Index: idx, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			err := e.transferWithRetry(ctx, sid, idx, fn)
			results[i] = ChunkResult{Index: idx, Err: err}
		}()
	}

	wg.Wait()
	return results, nil
}

func (e *Engine) transferWithRetry(ctx context.Context, sid string, idx int, fn ChunkTransferFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = time.Second
	bo.RandomizationFactor = 0.25
	withCap := backoff.WithMaxRetries(bo, MaxPoolAcquireAttempts)
	ctxBackoff := backoff.WithContext(withCap, ctx)

	return backoff.Retry(func() error {
		if e.cancelled(sid) {
			return backoff.Permanent(context.Canceled)
		}
		data, checksum, err := fn(ctx, idx)
		if err != nil {
			return err
		}
		return e.TransferChunk(sid, idx, data, checksum)
	}, ctxBackoff)
}

// jitteredDelay is exposed for tests exercising the retry schedule in
// isolation from backoff's internal randomness source.
func jitteredDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > time.Second {
			d = time.Second
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
