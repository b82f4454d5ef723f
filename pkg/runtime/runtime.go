// Package runtime wires every LocalTalk subsystem into a single
// lifecycle-managed process, generalizing the teacher's Node Start/Stop
// shape (forward-ordered startup with rollback on error, reverse-ordered
// shutdown) to LocalTalk's configuration → logging → performance monitor →
// crypto → discovery → HTTP server sequence.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/chunk"
	"github.com/backkem/localtalk/pkg/config"
	"github.com/backkem/localtalk/pkg/credentials"
	"github.com/backkem/localtalk/pkg/crypto"
	"github.com/backkem/localtalk/pkg/device"
	"github.com/backkem/localtalk/pkg/discovery"
	"github.com/backkem/localtalk/pkg/encryption"
	"github.com/backkem/localtalk/pkg/httpapi"
	"github.com/backkem/localtalk/pkg/outbound"
	"github.com/backkem/localtalk/pkg/portmap"
	"github.com/backkem/localtalk/pkg/replay"
	"github.com/backkem/localtalk/pkg/security"
	"github.com/backkem/localtalk/pkg/session"
	"github.com/backkem/localtalk/pkg/verify"
)

// ErrAlreadyStarted is returned by Start when the Runtime is already
// running or has already been stopped.
var ErrAlreadyStarted = errors.New("runtime: already started")

// ErrNotStarted is returned by Stop when the Runtime was never started.
var ErrNotStarted = errors.New("runtime: not started")

// ErrAlreadyStopped is returned by Stop when the Runtime has already been
// stopped.
var ErrAlreadyStopped = errors.New("runtime: already stopped")

// shutdownDeadline bounds how long Stop waits to close port mappings and
// finalize in-flight transfers, per spec §5.
const shutdownDeadline = 10 * time.Second

// perfReportInterval is how often the performance monitor logs a snapshot.
const perfReportInterval = time.Minute

// Options configures a Runtime. Only Config and StorageDir are required;
// everything else defaults the way Default() / the collaborator
// constructors already do for a nil value.
type Options struct {
	Config     config.Config
	StorageDir string

	Self           device.Device
	PortProvider   portmap.Provider
	LoggerFactory  logging.LoggerFactory
	OnStateChanged func(State)
}

// Runtime owns every LocalTalk subsystem and coordinates their startup and
// shutdown as one unit. Build one with New, then call Start and Stop.
type Runtime struct {
	cfg     config.Config
	self    device.Device
	log     logging.LeveledLogger
	lf      logging.LoggerFactory
	onState func(State)

	registry    *device.Registry
	sessions    *session.Store
	analyzer    *security.Analyzer
	replayDet   *replay.Detector
	discoveryEg *discovery.Engine
	encryption  *encryption.Manager
	verify      *verify.Manager
	credentials *credentials.Store
	chunks      *chunk.Engine
	outboundCl  *outbound.Client
	storage     httpapi.Storage
	portProv    portmap.Provider
	perfmon     *perfMonitor

	httpHandler *httpapi.Server
	httpServer  *http.Server

	mu        sync.RWMutex
	state     State
	lease     portmap.Lease
	haveLease bool
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// New validates cfg, builds every collaborator (none of which touch the
// network yet), and returns a Runtime in StateInitialized. It mirrors
// NewNode: construction can fail on bad configuration, but nothing is
// started until Start is called.
func New(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	log := lf.NewLogger("runtime")

	self := opts.Self
	if self.Fingerprint == "" {
		fp, err := crypto.RandomBase62(device.FingerprintLength)
		if err != nil {
			return nil, fmt.Errorf("runtime: generate self fingerprint: %w", err)
		}
		self.Fingerprint = fp
	}
	if self.Port == 0 {
		self.Port = cfg.Port
	}
	if self.Version == "" {
		self.Version = httpapi.Version
	}
	if self.Protocol == "" {
		self.Protocol = device.ProtocolHTTP
	}
	if self.DeviceType == "" {
		self.DeviceType = device.DeviceTypeDesktop
	}
	if err := self.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: invalid self device: %w", err)
	}

	portProv := opts.PortProvider
	if portProv == nil {
		portProv = selectPortProvider(cfg.Firewall)
	}

	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = "."
	}

	registry := device.NewRegistry()
	sessions := session.NewStore(lf)
	analyzer := security.NewAnalyzer(security.AnalyzerConfig{
		MaxRequestsPerMinute:         cfg.Security.MaxRequestsPerMinute,
		ThreatExpiry:                 time.Duration(cfg.Security.ThreatCacheExpiryMinutes) * time.Minute,
		EnableSQLInjectionDetection:  cfg.Security.EnableSqlInjectionDetection,
		EnableXSSDetection:           cfg.Security.EnableXssDetection,
		EnablePathTraversalDetection: cfg.Security.EnablePathTraversalDetection,
	}, lf)
	replayDet := replay.NewDetector(lf)
	encMgr := encryption.NewManager(lf)
	verifyMgr := verify.NewManager(lf)
	credStore := credentials.NewStore()
	chunkEngine := chunk.NewEngine(chunk.EngineConfig{LoggerFactory: lf})
	outboundCl := outbound.NewClient(outbound.ClientConfig{LoggerFactory: lf})
	storage := httpapi.NewFileStorage(storageDir)

	discoveryEg, err := discovery.NewEngine(discovery.Config{
		MulticastAddr: cfg.MulticastAddr(),
		Self:          self,
		Registry:      registry,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build discovery engine: %w", err)
	}

	httpHandler := httpapi.NewServer(httpapi.Deps{
		Self:          self,
		Registry:      registry,
		Sessions:      sessions,
		Analyzer:      analyzer,
		Replay:        replayDet,
		Storage:       storage,
		Config:        cfg,
		LoggerFactory: lf,
	})

	r := &Runtime{
		cfg:         cfg,
		self:        self,
		log:         log,
		lf:          lf,
		onState:     opts.OnStateChanged,
		registry:    registry,
		sessions:    sessions,
		analyzer:    analyzer,
		replayDet:   replayDet,
		discoveryEg: discoveryEg,
		encryption:  encMgr,
		verify:      verifyMgr,
		credentials: credStore,
		chunks:      chunkEngine,
		outboundCl:  outboundCl,
		storage:     storage,
		portProv:    portProv,
		httpHandler: httpHandler,
		state:       StateInitialized,
	}
	r.perfmon = newPerfMonitor(perfReportInterval, r.snapshot, lf.NewLogger("perfmon"))
	return r, nil
}

// selectPortProvider picks a Provider from Firewall.Enable*. UPnP/NAT-PMP/
// PCP clients are external collaborators this module does not implement
// (spec §1 Non-goals), so every combination resolves to the no-op provider
// today; the switch still names each option so wiring a real client later
// is a one-line change per mechanism.
func selectPortProvider(fw config.FirewallConfig) portmap.Provider {
	switch {
	case fw.EnableUpnp, fw.EnableNatPmp, fw.EnablePcp:
		return portmap.NewNoopProvider()
	default:
		return portmap.NewNoopProvider()
	}
}

func (r *Runtime) snapshot() perfSnapshot {
	return perfSnapshot{
		uploadSessions:   r.sessions.UploadCount(),
		downloadSessions: r.sessions.DownloadCount(),
		peers:            r.registry.Len(),
	}
}

// State returns the Runtime's current lifecycle state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Self returns this runtime's own advertisement record.
func (r *Runtime) Self() device.Device {
	return r.self
}

// setState updates state and invokes the OnStateChanged callback, if any,
// without holding r.mu.
func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(s)
	}
}

// Start brings up the runtime in the order spec §5 documents: logging is
// already live from New, so this stage only covers the performance
// monitor, crypto-adjacent port mapping, discovery, and the HTTP server.
// Any failure rolls back everything already started, mirroring Node.Start.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if !r.state.CanStart() {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateStarting
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.perfmon.start()

	if err := r.mapPort(r.ctx); err != nil {
		r.perfmon.stop()
		r.setState(StateInitialized)
		return fmt.Errorf("runtime: map port: %w", err)
	}

	if err := r.discoveryEg.Start(); err != nil {
		r.unmapPort(r.ctx)
		r.perfmon.stop()
		r.setState(StateInitialized)
		return fmt.Errorf("runtime: start discovery: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.Port))
	if err != nil {
		r.discoveryEg.Stop()
		r.unmapPort(r.ctx)
		r.perfmon.stop()
		r.setState(StateInitialized)
		return fmt.Errorf("runtime: listen: %w", err)
	}
	r.httpServer = &http.Server{Handler: r.httpHandler}

	go func() {
		if err := r.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.log.Errorf("http server exited: %v", err)
		}
	}()

	r.log.Infof("runtime started: self=%s port=%d", r.self.Alias, r.cfg.Port)
	r.setState(StateRunning)
	return nil
}

// Stop shuts everything down in reverse order, with shutdownDeadline to
// close the port mapping and finalize in-flight transfers. Sessions not
// already Completed are transitioned to Cancelled.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.state.CanStop() {
		if r.state == StateStopped {
			r.mu.Unlock()
			return ErrAlreadyStopped
		}
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.state = StateStopping
	r.mu.Unlock()

	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(ctx); err != nil {
			r.log.Warnf("http server shutdown: %v", err)
		}
	}

	if err := r.discoveryEg.Stop(); err != nil {
		r.log.Warnf("discovery stop: %v", err)
	}

	r.unmapPort(ctx)
	r.cancelOpenSessions()

	r.perfmon.stop()
	r.outboundCl.Close()
	r.analyzer.Close()
	r.replayDet.Close()
	r.sessions.Close()

	r.log.Info("runtime stopped")
	r.setState(StateStopped)
	return nil
}

func (r *Runtime) mapPort(ctx context.Context) error {
	lease, err := r.portProv.Map(ctx, r.cfg.Port, portmap.ProtocolTCP, shutdownDeadline*6)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lease = lease
	r.haveLease = true
	r.mu.Unlock()
	return nil
}

func (r *Runtime) unmapPort(ctx context.Context) {
	r.mu.Lock()
	lease, have := r.lease, r.haveLease
	r.haveLease = false
	r.mu.Unlock()
	if !have {
		return
	}
	if err := r.portProv.Unmap(ctx, lease); err != nil {
		r.log.Warnf("unmap port: %v", err)
	}
}

// cancelOpenSessions transitions every non-terminal session to Cancelled,
// per spec §5's shutdown lifecycle note.
func (r *Runtime) cancelOpenSessions() {
	if n := r.sessions.CancelAllOpen(); n > 0 {
		r.log.Infof("cancelled %d open session(s) on shutdown", n)
	}
}
