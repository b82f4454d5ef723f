package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/backkem/localtalk/pkg/crypto"
	"github.com/backkem/localtalk/pkg/device"
	"github.com/backkem/localtalk/pkg/localtalk"
	"github.com/backkem/localtalk/pkg/session"
)

const tokenLength = 32

var (
	errMalformedJSON  = errors.New("malformed JSON body")
	errPinRequired    = errors.New("pin required")
	errPinMismatch    = errors.New("pin mismatch")
	errTokenMismatch  = errors.New("session, file, or token mismatch")
	errTokenGenFailed = errors.New("failed to allocate a file token")
)

// handleInfo responds with this device's own advertisement record.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, s.self)
}

// handleRegister accepts a peer's Device, dedupes it into the registry by
// fingerprint, and echoes this device's own record back.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var d device.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeErrorStatus(w, localtalk.KindValidation, http.StatusBadRequest,
			localtalk.Wrap(localtalk.KindValidation, "handleRegister", fmt.Errorf("%w: %v", errMalformedJSON, err)))
		return
	}
	if err := d.Validate(); err != nil {
		writeErrorStatus(w, localtalk.KindValidation, http.StatusBadRequest,
			localtalk.Wrap(localtalk.KindValidation, "handleRegister", err))
		return
	}

	s.registry.Insert(d)
	writeJSON(w, http.StatusOK, s.self)
}

// handlePrepareUpload checks the optional PIN, allocates a session and a
// per-file token, and returns them to the caller.
func (s *Server) handlePrepareUpload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.cfg.RequiredPin != "" {
		pin := r.URL.Query().Get("pin")
		if pin == "" {
			writeErrorStatus(w, localtalk.KindAuth, http.StatusUnauthorized,
				localtalk.Wrap(localtalk.KindAuth, "handlePrepareUpload", errPinRequired))
			return
		}
		if !crypto.ConstantTimeEqualString(pin, s.cfg.RequiredPin) {
			writeErrorStatus(w, localtalk.KindAuth, http.StatusUnauthorized,
				localtalk.Wrap(localtalk.KindAuth, "handlePrepareUpload", errPinMismatch))
			return
		}
	}

	var req session.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, localtalk.KindValidation, http.StatusBadRequest,
			localtalk.Wrap(localtalk.KindValidation, "handlePrepareUpload", fmt.Errorf("%w: %v", errMalformedJSON, err)))
		return
	}

	tokens := make(map[string]string, len(req.Files))
	for fileID := range req.Files {
		token, err := crypto.RandomBase62(tokenLength)
		if err != nil {
			writeErrorStatus(w, localtalk.KindInternal, http.StatusInternalServerError,
				localtalk.Wrap(localtalk.KindInternal, "handlePrepareUpload", fmt.Errorf("%w: %v", errTokenGenFailed, err)))
			return
		}
		tokens[fileID] = token
	}

	sess := s.sessions.CreateUpload(req, tokens, remoteAddr(r))
	writeJSON(w, http.StatusOK, prepareUploadResponse{
		SessionID: sess.SessionID,
		Files:     tokens,
	})
}

type prepareUploadResponse struct {
	SessionID string            `json:"sessionId"`
	Files     map[string]string `json:"files"`
}

// handleUpload validates sessionId/fileId/token, streams the request body
// to the backing store, and marks the file received.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	fileID := q.Get("fileId")
	token := q.Get("token")

	sess, ok := s.sessions.GetUpload(sessionID)
	if !ok {
		writeErrorStatus(w, localtalk.KindNotFound, http.StatusNotFound,
			localtalk.Wrap(localtalk.KindNotFound, "handleUpload", session.ErrUnknownSession))
		return
	}

	want, ok := sess.FileTokens[fileID]
	if !ok || !crypto.ConstantTimeEqualString(token, want) {
		writeErrorStatus(w, localtalk.KindAuth, http.StatusForbidden,
			localtalk.Wrap(localtalk.KindAuth, "handleUpload", errTokenMismatch))
		return
	}

	var fileName string
	if meta, ok := sess.Request.Files[fileID]; ok {
		fileName = meta.FileName
	}

	dst, err := s.storage.Create(sessionID, fileID, fileName)
	if err != nil {
		writeErrorStatus(w, localtalk.KindInternal, http.StatusInternalServerError,
			localtalk.Wrap(localtalk.KindInternal, "handleUpload", err))
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r.Body); err != nil {
		writeErrorStatus(w, localtalk.KindInternal, http.StatusInternalServerError,
			localtalk.Wrap(localtalk.KindInternal, "handleUpload", err))
		return
	}

	if err := s.sessions.MarkUploadFileReceived(sessionID, fileID); err != nil {
		writeError(w, localtalk.Wrap(localtalk.KindInternal, "handleUpload", err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleCancel sets an upload session's status to Cancelled.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	sessionID := r.URL.Query().Get("sessionId")
	if err := s.sessions.CancelUpload(sessionID); err != nil {
		writeErrorStatus(w, localtalk.KindNotFound, http.StatusNotFound,
			localtalk.Wrap(localtalk.KindNotFound, "handleCancel", err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Version:   Version,
		Device:    s.self.Alias,
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Device    string `json:"device"`
}

// handlePrepareDownload and handleDownload are not implemented: LocalTalk
// is upload-only in this deployment (spec §4.G).
func (s *Server) handlePrepareDownload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusNotImplemented, errorResponse{Error: errNotImplemented.Error(), StatusCode: http.StatusNotImplemented})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusNotImplemented, errorResponse{Error: errNotImplemented.Error(), StatusCode: http.StatusNotImplemented})
}

var errNotImplemented = errors.New("download is not implemented")
