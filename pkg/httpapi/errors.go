package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/backkem/localtalk/pkg/localtalk"
)

// errorResponse is the JSON body spec §7 requires on data-route errors.
type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// statusForKind maps an ErrorKind onto the HTTP status spec §7 assigns it
// by default. Handlers that need a different status for the same Kind
// (prepare-upload's PIN mismatch is Auth→401, upload's token mismatch is
// Auth→403) call writeErrorStatus directly instead of relying on this.
func statusForKind(k localtalk.ErrorKind) int {
	switch k {
	case localtalk.KindValidation:
		return http.StatusBadRequest
	case localtalk.KindAuth:
		return http.StatusUnauthorized
	case localtalk.KindNotFound:
		return http.StatusNotFound
	case localtalk.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case localtalk.KindConflict:
		return http.StatusConflict
	case localtalk.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case localtalk.KindRateLimited:
		return http.StatusForbidden
	case localtalk.KindTamper:
		return http.StatusInternalServerError
	case localtalk.KindTransport:
		return http.StatusBadGateway
	case localtalk.KindCancelled:
		return 499 // non-standard, matches nginx's "client closed request"
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status via statusForKind and writes the
// spec §7 JSON body. Internal errors are sanitized: the client never sees
// the underlying message, only "Internal Server Error".
func writeError(w http.ResponseWriter, err error) {
	kind := localtalk.KindOf(err)
	writeErrorStatus(w, kind, statusForKind(kind), err)
}

// writeErrorStatus writes the JSON error body with an explicit status,
// for handlers where the same Kind maps to more than one status depending
// on which check failed.
func writeErrorStatus(w http.ResponseWriter, kind localtalk.ErrorKind, status int, err error) {
	msg := err.Error()
	if kind == localtalk.KindInternal {
		msg = "Internal Server Error"
	}
	writeJSON(w, status, errorResponse{Error: msg, StatusCode: status})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
