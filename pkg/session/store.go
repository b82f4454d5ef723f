package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// CleanupInterval is how often the store sweeps for expired or terminal
// sessions.
const CleanupInterval = time.Minute

// Store holds the live upload and download sessions, keyed by sessionId.
// It is safe for concurrent use; a background goroutine periodically reaps
// sessions that have expired or reached a terminal status.
type Store struct {
	mu        sync.RWMutex
	uploads   map[string]*UploadSession
	downloads map[string]*DownloadSession

	log logging.LeveledLogger

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewStore creates an empty session store and starts its cleanup sweep.
// loggerFactory may be nil, in which case a no-op logger is used.
func NewStore(loggerFactory logging.LoggerFactory) *Store {
	var log logging.LeveledLogger
	if loggerFactory != nil {
		log = loggerFactory.NewLogger("session")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("session")
	}

	s := &Store{
		uploads:   make(map[string]*UploadSession),
		downloads: make(map[string]*DownloadSession),
		log:       log,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background cleanup sweep. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *Store) sweepLoop() {
	defer close(s.doneCh)
	t := time.NewTicker(CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			n := s.sweep()
			if n > 0 {
				s.log.Debugf("swept %d expired/terminal session(s)", n)
			}
		}
	}
}

// sweep removes sessions that are expired or already in a terminal status.
// Returns the number removed.
func (s *Store) sweep() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.uploads {
		if sess.expired(now) || isTerminal(sess.Status) {
			delete(s.uploads, id)
			removed++
		}
	}
	for id, sess := range s.downloads {
		if sess.expired(now) || isTerminal(sess.Status) {
			delete(s.downloads, id)
			removed++
		}
	}
	return removed
}

// CreateUpload allocates a new UploadSession for the given request and
// per-file tokens, bound to the remote address the prepare-upload call
// arrived from.
func (s *Store) CreateUpload(req UploadRequest, tokens map[string]string, remoteAddr string) *UploadSession {
	id := uuid.NewString()
	sess := newUploadSession(id, req, tokens, remoteAddr, s.now())

	s.mu.Lock()
	s.uploads[id] = sess
	s.mu.Unlock()

	return sess
}

// CreateDownload allocates a new DownloadSession, mirroring CreateUpload.
func (s *Store) CreateDownload(req UploadRequest, tokens map[string]string, remoteAddr string) *DownloadSession {
	id := uuid.NewString()
	sess := newDownloadSession(id, req, tokens, remoteAddr, s.now())

	s.mu.Lock()
	s.downloads[id] = sess
	s.mu.Unlock()

	return sess
}

// GetUpload returns the upload session for sessionId, if present.
func (s *Store) GetUpload(sessionID string) (*UploadSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.uploads[sessionID]
	return sess, ok
}

// GetDownload returns the download session for sessionId, if present.
func (s *Store) GetDownload(sessionID string) (*DownloadSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.downloads[sessionID]
	return sess, ok
}

// MarkUploadFileReceived records fileId as received for sessionId.
// Idempotent: marking the same fileId more than once has the same effect
// as once. The session transitions to Completed exactly when every
// fileId in FileTokens has been received.
func (s *Store) MarkUploadFileReceived(sessionID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.uploads[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if _, ok := sess.FileTokens[fileID]; !ok {
		return ErrUnknownFile
	}
	sess.markReceived(fileID)
	return nil
}

// MarkDownloadFileReceived mirrors MarkUploadFileReceived for downloads.
func (s *Store) MarkDownloadFileReceived(sessionID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.downloads[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if _, ok := sess.FileTokens[fileID]; !ok {
		return ErrUnknownFile
	}
	sess.markReceived(fileID)
	return nil
}

// CancelUpload transitions an upload session to Cancelled. Idempotent:
// cancelling an already-terminal session is a no-op, never resurrected.
func (s *Store) CancelUpload(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.uploads[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if isTerminal(sess.Status) {
		return nil
	}
	sess.Status = StatusCancelled
	return nil
}

// CancelDownload mirrors CancelUpload for downloads.
func (s *Store) CancelDownload(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.downloads[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if isTerminal(sess.Status) {
		return nil
	}
	sess.Status = StatusCancelled
	return nil
}

// CancelAllOpen transitions every non-terminal upload and download session
// to Cancelled, in one locked pass, and returns how many it changed. Used at
// shutdown so no session is left Active once the process exits.
func (s *Store) CancelAllOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.uploads {
		if !isTerminal(sess.Status) {
			sess.Status = StatusCancelled
			n++
		}
	}
	for _, sess := range s.downloads {
		if !isTerminal(sess.Status) {
			sess.Status = StatusCancelled
			n++
		}
	}
	return n
}

// UploadCount returns the number of upload sessions currently held,
// regardless of status.
func (s *Store) UploadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

// DownloadCount returns the number of download sessions currently held.
func (s *Store) DownloadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.downloads)
}
