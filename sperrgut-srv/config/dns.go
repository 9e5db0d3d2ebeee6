package config

import (
	"fmt"
	"time"
)

// DNSType defines the transport used to reach a DNS server
type DNSType string

// Available DNS types
const (
	DNSTypeUDP DNSType = "udp" // Standard DNS over UDP
	DNSTypeTCP DNSType = "tcp" // Standard DNS over TCP
	DNSTypeDoT DNSType = "dot" // DNS over TLS
)

// defaultDNSTimeoutSeconds applies to servers configured without a timeout.
const defaultDNSTimeoutSeconds = 5

// DNSServerConfig defines configuration for a single DNS server
type DNSServerConfig struct {
	Address        string  // host:port or [IPv6]:port
	Type           DNSType // udp, tcp or dot
	TimeoutSeconds int     // Query timeout in seconds
	TLSHost        string  // SNI name, only used for DoT
}

// GetTimeoutDuration returns the timeout as a time.Duration
func (d DNSServerConfig) GetTimeoutDuration() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return defaultDNSTimeoutSeconds * time.Second
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// DNSConfig holds configuration for the outbound name resolver.
// When disabled the system resolver is used.
type DNSConfig struct {
	Enabled bool
	Servers []DNSServerConfig
}

// Validate checks every configured server.
func (d DNSConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	if len(d.Servers) == 0 {
		return fmt.Errorf("dns: enabled without servers")
	}
	for i, server := range d.Servers {
		if server.Address == "" {
			return fmt.Errorf("dns: server %d has no address", i)
		}
		switch server.Type {
		case DNSTypeUDP, DNSTypeTCP, DNSTypeDoT:
		default:
			return fmt.Errorf("dns: server %d has unsupported type %q", i, server.Type)
		}
	}
	return nil
}

// Equal reports whether both configs describe the same resolver.
func (d DNSConfig) Equal(other DNSConfig) bool {
	if d.Enabled != other.Enabled || len(d.Servers) != len(other.Servers) {
		return false
	}
	for i := range d.Servers {
		if d.Servers[i] != other.Servers[i] {
			return false
		}
	}
	return true
}
