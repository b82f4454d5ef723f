// Package discovery implements the UDP multicast announce engine: binding
// the discovery socket, sending this device's self-announcement, and
// folding inbound peer announcements into a device.Registry.
package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when starting an already-started engine.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned when stopping an engine that was not started.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrNoRegistry is returned by NewEngine when no Registry is configured.
	ErrNoRegistry = errors.New("discovery: no registry configured")
)
