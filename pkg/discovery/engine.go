package discovery

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/localtalk/pkg/device"
)

// DefaultMulticastAddr is the LocalSend v2 discovery multicast group.
const DefaultMulticastAddr = "224.0.0.167:53317"

// MaxDatagramSize bounds a single inbound announcement datagram.
const MaxDatagramSize = 8192

// Config configures an Engine.
type Config struct {
	// MulticastAddr is the "host:port" of the discovery multicast group.
	// Defaults to DefaultMulticastAddr.
	MulticastAddr string

	// Interface optionally pins the multicast group join to one network
	// interface. Nil lets the OS choose.
	Interface *net.Interface

	// Self is this device's own announcement, sent once on Start and used
	// to reject self-announcements looped back by the network.
	Self device.Device

	// Registry accumulates discovered peers. Required.
	Registry *device.Registry

	// LoggerFactory builds the engine's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Engine binds the discovery socket, announces this device once, and
// folds inbound peer announcements into Config.Registry.
type Engine struct {
	cfg     Config
	conn    *net.UDPConn
	groupAddr *net.UDPAddr
	log     logging.LeveledLogger

	closeCh chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewEngine validates cfg and prepares an Engine. The socket is not bound
// until Start is called.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.MulticastAddr == "" {
		cfg.MulticastAddr = DefaultMulticastAddr
	}
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}

	groupAddr, err := net.ResolveUDPAddr("udp4", cfg.MulticastAddr)
	if err != nil {
		return nil, err
	}

	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("discovery")
	} else {
		log = logging.NewDefaultLoggerFactory().NewLogger("discovery")
	}

	return &Engine{
		cfg:       cfg,
		groupAddr: groupAddr,
		log:       log,
		closeCh:   make(chan struct{}),
	}, nil
}

// Start binds the multicast socket, joins the group, sends one
// self-announcement, and begins the inbound read loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	conn, err := net.ListenMulticastUDP("udp4", e.cfg.Interface, e.groupAddr)
	if err != nil {
		return err
	}
	e.conn = conn
	e.cfg.Registry.SetSelf(e.cfg.Self)

	if err := e.Announce(); err != nil {
		e.log.Warnf("initial self-announcement failed: %v", err)
	}

	e.wg.Add(1)
	go e.readLoop()

	e.log.Infof("discovery engine listening on %s", e.groupAddr)
	return nil
}

// Announce sends this device's self-announcement to the multicast group.
// Safe to call again later, e.g. on a platform interface-change event.
func (e *Engine) Announce() error {
	frame, err := json.Marshal(e.cfg.Self)
	if err != nil {
		return err
	}
	_, err = e.conn.WriteToUDP(frame, e.groupAddr)
	return err
}

// Stop closes the socket and waits for the read loop to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.closed = true
	e.mu.Unlock()

	close(e.closeCh)
	e.conn.SetReadDeadline(time.Now())
	e.conn.Close()
	e.wg.Wait()
	return nil
}

func (e *Engine) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-e.closeCh:
			return
		default:
		}

		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.closeCh:
				return
			default:
				e.log.Warnf("discovery read error: %v", err)
				continue
			}
		}
		e.handleDatagram(buf[:n])
	}
}

// handleDatagram decodes and registers one inbound announcement. Malformed
// datagrams are logged and discarded; a hostile peer must not be able to
// crash the listener.
func (e *Engine) handleDatagram(data []byte) {
	var d device.Device
	if err := json.Unmarshal(data, &d); err != nil {
		e.log.Debugf("discarding malformed announcement: %v", err)
		return
	}
	if err := d.Validate(); err != nil {
		e.log.Debugf("discarding invalid announcement: %v", err)
		return
	}
	if e.cfg.Registry.Insert(d) {
		e.log.Infof("discovered peer %s (%s)", d.Alias, d.Fingerprint)
	}
}
