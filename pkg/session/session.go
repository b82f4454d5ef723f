// Package session holds the upload/download session state machines and the
// store that tracks them from prepare-upload through completion, cancel, or
// expiry.
package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an UploadSession or DownloadSession.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusError     Status = "error"
)

// TTL is how long a freshly created session remains valid before the
// cleanup sweep reaps it.
const TTL = time.Hour

var (
	// ErrUnknownSession is returned when an operation names a sessionId not
	// held by the store.
	ErrUnknownSession = errors.New("session: unknown session id")
	// ErrUnknownFile is returned when an operation names a fileId not part
	// of the session's file set.
	ErrUnknownFile = errors.New("session: unknown file id")
	// ErrTerminal is returned when an operation targets a session already
	// in a terminal status (Completed, Cancelled, Expired, Error).
	ErrTerminal = errors.New("session: session already in a terminal state")
)

// FileMeta describes one file offered or requested in a transfer.
type FileMeta struct {
	FileName     string `json:"fileName"`
	Size         int64  `json:"size"`
	FileType     string `json:"fileType"`
	LastModified string `json:"lastModified,omitempty"`
	Preview      string `json:"preview,omitempty"`
}

// PeerInfo is the originator info block carried in UploadRequest.
type PeerInfo struct {
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	DeviceModel string `json:"deviceModel"`
	DeviceType  string `json:"deviceType"`
	Fingerprint string `json:"fingerprint"`
}

// UploadRequest is the body of a prepare-upload call: an originator info
// block plus an ordered mapping of fileId to FileMeta.
type UploadRequest struct {
	Info  PeerInfo            `json:"info"`
	Files map[string]FileMeta `json:"files"`
	// FileOrder preserves the order fileIds were declared in, since Files
	// is a map and Go map iteration order is not stable.
	FileOrder []string `json:"-"`
}

// isTerminal reports whether a status cannot transition further.
func isTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusError:
		return true
	default:
		return false
	}
}

// UploadSession tracks one in-progress or completed upload negotiated via
// prepare-upload.
//
// Invariant: Status transitions to Completed if and only if every fileId in
// FileTokens has been marked received. Cancelled and Expired are terminal;
// each token in FileTokens is single-use.
type UploadSession struct {
	SessionID     string
	Request       UploadRequest
	FileTokens    map[string]string
	RemoteAddress string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Status        Status
	ReceivedFiles map[string]bool
}

// DownloadSession mirrors UploadSession for the reverse direction: the
// local device is the originator offering files for a peer to pull.
type DownloadSession struct {
	SessionID     string
	Request       UploadRequest
	FileTokens    map[string]string
	RemoteAddress string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Status        Status
	ReceivedFiles map[string]bool
}

func newUploadSession(sessionID string, req UploadRequest, tokens map[string]string, remoteAddr string, now time.Time) *UploadSession {
	return &UploadSession{
		SessionID:     sessionID,
		Request:       req,
		FileTokens:    tokens,
		RemoteAddress: remoteAddr,
		CreatedAt:     now,
		ExpiresAt:     now.Add(TTL),
		Status:        StatusActive,
		ReceivedFiles: make(map[string]bool),
	}
}

func newDownloadSession(sessionID string, req UploadRequest, tokens map[string]string, remoteAddr string, now time.Time) *DownloadSession {
	return &DownloadSession{
		SessionID:     sessionID,
		Request:       req,
		FileTokens:    tokens,
		RemoteAddress: remoteAddr,
		CreatedAt:     now,
		ExpiresAt:     now.Add(TTL),
		Status:        StatusActive,
		ReceivedFiles: make(map[string]bool),
	}
}

// expired reports whether the session's TTL has elapsed as of now.
func (s *UploadSession) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *DownloadSession) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// markReceived records fileId as received and sets Status to Completed once
// every fileId in FileTokens has been received. Idempotent: marking an
// already-received fileId again is a no-op.
func (s *UploadSession) markReceived(fileID string) {
	if isTerminal(s.Status) {
		return
	}
	if _, ok := s.FileTokens[fileID]; !ok {
		return
	}
	s.ReceivedFiles[fileID] = true
	if len(s.ReceivedFiles) == len(s.FileTokens) {
		s.Status = StatusCompleted
	}
}

func (s *DownloadSession) markReceived(fileID string) {
	if isTerminal(s.Status) {
		return
	}
	if _, ok := s.FileTokens[fileID]; !ok {
		return
	}
	s.ReceivedFiles[fileID] = true
	if len(s.ReceivedFiles) == len(s.FileTokens) {
		s.Status = StatusCompleted
	}
}
