package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/config"
	"github.com/backkem/localtalk/pkg/device"
	"github.com/backkem/localtalk/pkg/localtalk"
	"github.com/backkem/localtalk/pkg/replay"
	"github.com/backkem/localtalk/pkg/security"
	"github.com/backkem/localtalk/pkg/session"
)

// BasePath is the prefix every LocalTalk data route lives under.
const BasePath = "/api/localsend/v2"

// MaxBodyBytes caps request bodies; anything larger is rejected 413
// before a handler ever sees it.
const MaxBodyBytes = 100 * 1024 * 1024

// Version is reported in the health check and the self Device record.
const Version = "2.0"

// Server wires the router to the security analyzer, replay detector,
// session store, and peer registry, and exposes the result as an
// http.Handler.
type Server struct {
	router *Router

	self     device.Device
	registry *device.Registry
	sessions *session.Store
	analyzer *security.Analyzer
	replay   *replay.Detector
	storage  Storage
	cfg      config.Config

	log logging.LeveledLogger
	now func() time.Time
}

// Deps bundles the collaborators NewServer wires together.
type Deps struct {
	Self     device.Device
	Registry *device.Registry
	Sessions *session.Store
	Analyzer *security.Analyzer
	Replay   *replay.Detector
	Storage  Storage
	Config   config.Config

	LoggerFactory logging.LoggerFactory
}

// NewServer builds a Server and registers all known routes.
func NewServer(deps Deps) *Server {
	var log logging.LeveledLogger
	if deps.LoggerFactory != nil {
		log = deps.LoggerFactory.NewLogger("httpapi")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("httpapi")
	}

	s := &Server{
		router:   NewRouter(),
		self:     deps.Self,
		registry: deps.Registry,
		sessions: deps.Sessions,
		analyzer: deps.Analyzer,
		replay:   deps.Replay,
		storage:  deps.Storage,
		cfg:      deps.Config,
		log:      log,
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Handle(http.MethodGet, BasePath+"/info", s.handleInfo)
	s.router.Handle(http.MethodPost, BasePath+"/register", s.handleRegister)
	s.router.Handle(http.MethodPost, BasePath+"/prepare-upload", s.handlePrepareUpload)
	s.router.Handle(http.MethodPost, BasePath+"/upload", s.handleUpload)
	s.router.Handle(http.MethodPost, BasePath+"/cancel", s.handleCancel)
	s.router.Handle(http.MethodGet, "/health", s.handleHealth)
	s.router.Handle(http.MethodPost, BasePath+"/prepare-download", s.handlePrepareDownload)
	s.router.Handle(http.MethodGet, BasePath+"/download", s.handleDownload)
}

// ServeHTTP implements http.Handler: CORS/preflight, routing, body-size
// enforcement, security screening, and replay detection all happen here,
// ahead of handler dispatch, per spec §4.F.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	isData := strings.HasPrefix(r.URL.Path, BasePath)
	if isData {
		writeCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	// Route matching happens first only to learn the handler/params/allowed
	// set; the not-found and method-not-allowed responses it can produce are
	// deferred until after security screening, so a path that never matches
	// a registered route (e.g. a traversal attempt) is still scanned and
	// rate-limited rather than short-circuiting straight to 404.
	handler, params, allowed, found := s.router.Match(r.Method, r.URL.Path)

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorStatus(w, localtalk.KindTooLarge, http.StatusRequestEntityTooLarge,
			localtalk.Wrap(localtalk.KindTooLarge, "ServeHTTP", err))
		return
	}

	remote := remoteAddr(r)

	if s.analyzer != nil {
		verdict := s.analyzer.Analyze(remote, r.Method, r.URL.Path, r.Header, r.ContentLength, body)
		if verdict.ShouldBlock {
			writeErrorStatus(w, localtalk.KindRateLimited, http.StatusForbidden,
				localtalk.Wrap(localtalk.KindRateLimited, "security.Analyze", errBlocked(verdict.Level)))
			return
		}
	}

	if s.replay != nil {
		result := s.replay.Validate(r.Method, r.URL.Path, r.Header, body, remote)
		if !result.Valid {
			writeErrorStatus(w, localtalk.KindConflict, http.StatusConflict,
				localtalk.Wrap(localtalk.KindConflict, "replay.Validate", errReplay(result.Reason)))
			return
		}
	}

	if !found {
		writeErrorStatus(w, localtalk.KindNotFound, http.StatusNotFound,
			localtalk.Wrap(localtalk.KindNotFound, "router.Match", errNotFound(r.URL.Path)))
		return
	}
	if handler == nil {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeErrorStatus(w, localtalk.KindMethodNotAllowed, http.StatusMethodNotAllowed,
			localtalk.Wrap(localtalk.KindMethodNotAllowed, "router.Match", errMethodNotAllowed(r.Method)))
		return
	}

	r.Body = io.NopCloser(newBodyReader(body))
	handler(w, r, params)
}

func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func remoteAddr(r *http.Request) string {
	host, _, err := splitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
