package discovery

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/backkem/localtalk/pkg/device"
)

func testSelf() device.Device {
	return device.Device{
		Alias:       "This Device",
		Fingerprint: "SELFSELFSELFSELFSELFSELFSELFSE",
		Version:     "2.0",
		DeviceModel: "Server",
		DeviceType:  device.DeviceTypeDesktop,
		Port:        53317,
		Protocol:    device.ProtocolHTTP,
		Download:    true,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Self:     testSelf(),
		Registry: device.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestHandleDatagramIgnoresMalformedJSON(t *testing.T) {
	e := newTestEngine(t)
	e.handleDatagram([]byte("not json"))
	if e.cfg.Registry.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0", e.cfg.Registry.Len())
	}
}

func TestHandleDatagramIgnoresInvalidDevice(t *testing.T) {
	e := newTestEngine(t)
	frame, _ := json.Marshal(map[string]any{"alias": "short fingerprint"})
	e.handleDatagram(frame)
	if e.cfg.Registry.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0", e.cfg.Registry.Len())
	}
}

func TestHandleDatagramIgnoresSelf(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Registry.SetSelf(testSelf())

	frame, _ := json.Marshal(testSelf())
	e.handleDatagram(frame)
	if e.cfg.Registry.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0 (self should be rejected)", e.cfg.Registry.Len())
	}
}

func TestHandleDatagramInsertsPeer(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.Registry.SetSelf(testSelf())

	peer := testSelf()
	peer.Alias = "Peer"
	peer.Fingerprint = "PEERPEERPEERPEERPEERPEERPEERPE"
	frame, _ := json.Marshal(peer)

	e.handleDatagram(frame)
	e.handleDatagram(frame) // duplicate, should not double-insert

	if e.cfg.Registry.Len() != 1 {
		t.Fatalf("registry Len() = %d, want 1", e.cfg.Registry.Len())
	}
	got, ok := e.cfg.Registry.Get(peer.Fingerprint)
	if !ok || got.Alias != "Peer" {
		t.Errorf("registry Get() = %v, %v", got, ok)
	}
}

func TestNewEngineRequiresRegistry(t *testing.T) {
	if _, err := NewEngine(Config{Self: testSelf()}); err != ErrNoRegistry {
		t.Errorf("error = %v, want ErrNoRegistry", err)
	}
}

// TestEngineAnnounceAndDiscoverOverLoopback exercises the real multicast
// path: two engines on the loopback interface should see each other's
// self-announcement. Skips if the sandbox has no loopback interface or
// denies multicast group membership.
func TestEngineAnnounceAndDiscoverOverLoopback(t *testing.T) {
	iface, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no loopback interface available: %v", err)
	}

	deviceA := testSelf()
	deviceB := testSelf()
	deviceB.Fingerprint = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	deviceB.Alias = "Device B"

	regA := device.NewRegistry()
	regB := device.NewRegistry()

	addr := "224.0.0.167:53317"

	engineA, err := NewEngine(Config{MulticastAddr: addr, Interface: iface, Self: deviceA, Registry: regA})
	if err != nil {
		t.Fatalf("NewEngine(A) error = %v", err)
	}
	engineB, err := NewEngine(Config{MulticastAddr: addr, Interface: iface, Self: deviceB, Registry: regB})
	if err != nil {
		t.Fatalf("NewEngine(B) error = %v", err)
	}

	if err := engineA.Start(); err != nil {
		t.Skipf("multicast unavailable in this sandbox: %v", err)
	}
	defer engineA.Stop()

	if err := engineB.Start(); err != nil {
		t.Skipf("multicast unavailable in this sandbox: %v", err)
	}
	defer engineB.Stop()

	// B announces again now that A is listening, since A's earlier
	// self-announce may have preceded B's join.
	if err := engineB.Announce(); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if err := engineA.Announce(); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if regA.Len() > 0 && regB.Len() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if regA.Len() == 0 {
		t.Error("device A never discovered device B")
	}
	if regB.Len() == 0 {
		t.Error("device B never discovered device A")
	}
}
