// Package config holds the single Config struct constructed once at
// startup and passed into the runtime, mirroring the teacher's
// NodeConfig/applyDefaults/Validate shape.
package config

import (
	"errors"
	"fmt"

	"github.com/pion/logging"
)

// DefaultPort and DefaultAddress are LocalTalk's multicast discovery
// defaults.
const (
	DefaultPort    = 53317
	DefaultAddress = "224.0.0.167"
)

var (
	// ErrInvalidPort is returned when Port is out of the valid TCP/UDP range.
	ErrInvalidPort = errors.New("config: port must be 1-65535")
	// ErrInvalidAddress is returned when Address is empty.
	ErrInvalidAddress = errors.New("config: address must not be empty")
	// ErrInvalidMaxRequestsPerMinute is returned when Security.MaxRequestsPerMinute is negative.
	ErrInvalidMaxRequestsPerMinute = errors.New("config: Security.MaxRequestsPerMinute must be >= 0")
	// ErrInvalidThreatCacheExpiry is returned when Security.ThreatCacheExpiryMinutes is negative.
	ErrInvalidThreatCacheExpiry = errors.New("config: Security.ThreatCacheExpiryMinutes must be >= 0")
	// ErrInvalidInterfaceCacheTimeout is returned when Network.InterfaceCacheTimeoutSeconds is negative.
	ErrInvalidInterfaceCacheTimeout = errors.New("config: Network.InterfaceCacheTimeoutSeconds must be >= 0")
)

// SecurityConfig controls the threat-analysis pipeline (pkg/security).
type SecurityConfig struct {
	MaxRequestsPerMinute         int
	ThreatCacheExpiryMinutes     int
	EnableSqlInjectionDetection  bool
	EnableXssDetection           bool
	EnablePathTraversalDetection bool
}

// NetworkConfig controls discovery/interface behavior.
type NetworkConfig struct {
	InterfaceCacheTimeoutSeconds int
}

// FirewallConfig holds the port-mapping switches (UPnP, NAT-PMP, PCP). The
// runtime resolves every combination, including none enabled, to the no-op
// provider from pkg/portmap; this module contains no UPnP, NAT-PMP or PCP
// client.
type FirewallConfig struct {
	EnableUpnp   bool
	EnableNatPmp bool
	EnablePcp    bool
}

// LoggingConfig controls the logger factory cmd/localtalkd wires up.
type LoggingConfig struct {
	MinLevel      logging.LogLevel
	EnableConsole bool
	EnableDebug   bool
}

// Config is LocalTalk's single top-level configuration value. Fields match
// spec §6 exactly.
type Config struct {
	Security SecurityConfig
	Network  NetworkConfig
	Firewall FirewallConfig
	Logging  LoggingConfig

	RequiredPin string // optional; empty disables the PIN check
	Port        int
	Address     string
}

// Default returns a Config with every field set to the spec's documented
// default.
func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills in zero-valued fields with spec defaults.
func (c *Config) applyDefaults() {
	if c.Security.MaxRequestsPerMinute == 0 {
		c.Security.MaxRequestsPerMinute = 100
	}
	if c.Security.ThreatCacheExpiryMinutes == 0 {
		c.Security.ThreatCacheExpiryMinutes = 60
	}
	if c.Network.InterfaceCacheTimeoutSeconds == 0 {
		c.Network.InterfaceCacheTimeoutSeconds = 30
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}
}

// Validate checks the configuration for errors, applying defaults first so
// a zero-valued Config is valid.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Address == "" {
		return ErrInvalidAddress
	}
	if c.Security.MaxRequestsPerMinute < 0 {
		return ErrInvalidMaxRequestsPerMinute
	}
	if c.Security.ThreatCacheExpiryMinutes < 0 {
		return ErrInvalidThreatCacheExpiry
	}
	if c.Network.InterfaceCacheTimeoutSeconds < 0 {
		return ErrInvalidInterfaceCacheTimeout
	}
	return nil
}

// MulticastAddr returns Address and Port combined as a dial/listen string.
func (c *Config) MulticastAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
