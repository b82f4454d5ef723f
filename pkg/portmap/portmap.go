// Package portmap defines the narrow interface LocalTalk's runtime uses to
// request inbound port mappings from the local gateway (UPnP, NAT-PMP, or
// PCP). Mapping itself is an external collaborator: this package never
// speaks any of those protocols, it only shapes the provider contract the
// runtime calls at startup and shutdown.
package portmap

import (
	"context"
	"errors"
	"time"
)

// ErrNotMapped is returned by Unmap for a port that has no active mapping.
var ErrNotMapped = errors.New("portmap: port not mapped")

// Protocol identifies the transport protocol a mapping applies to.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Lease describes an active port mapping.
type Lease struct {
	ExternalPort int
	InternalPort int
	Protocol     Protocol
	ExpiresAt    time.Time
}

// Provider is implemented by whatever gateway-mapping mechanism is
// configured (UPnP, NAT-PMP, PCP). The runtime holds one Provider and calls
// Map at startup, Unmap at shutdown.
type Provider interface {
	// Map requests an external port forwarded to internalPort for the given
	// protocol, for roughly ttl before it must be renewed. It returns the
	// lease actually granted (the external port may differ from requested).
	Map(ctx context.Context, internalPort int, proto Protocol, ttl time.Duration) (Lease, error)
	// Unmap releases a previously granted mapping.
	Unmap(ctx context.Context, lease Lease) error
	// Name identifies the underlying mechanism, for logging.
	Name() string
}

// NoopProvider is a Provider that maps nothing. It is the default when no
// Firewall.Enable* option is set, and stands in for UPnP/NAT-PMP/PCP clients
// that are out of scope for this module.
type NoopProvider struct{}

// NewNoopProvider returns a Provider that performs no gateway interaction.
func NewNoopProvider() NoopProvider { return NoopProvider{} }

func (NoopProvider) Map(_ context.Context, internalPort int, proto Protocol, ttl time.Duration) (Lease, error) {
	return Lease{
		ExternalPort: internalPort,
		InternalPort: internalPort,
		Protocol:     proto,
		ExpiresAt:    time.Now().Add(ttl),
	}, nil
}

func (NoopProvider) Unmap(_ context.Context, _ Lease) error {
	return nil
}

func (NoopProvider) Name() string { return "noop" }
