// Package resolver builds the net.Resolver used for every outbound dial.
package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/codefionn/sperrgut/sperrgut-srv/config"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
)

// Resolver dials the configured DNS servers in round-robin order over UDP,
// TCP or DNS-over-TLS.
type Resolver struct {
	servers    []config.DNSServerConfig
	currentIdx int
	mutex      sync.Mutex
	tlsConfig  *tls.Config
}

// NewResolver creates a new Resolver with the given DNS configuration.
func NewResolver(cfg config.DNSConfig) *Resolver {
	return &Resolver{
		servers: append([]config.DNSServerConfig(nil), cfg.Servers...),
		tlsConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// New returns a resolver for cfg. A disabled config or one without servers
// yields the pure-Go system resolver.
func New(cfg config.DNSConfig) *net.Resolver {
	if !cfg.Enabled || len(cfg.Servers) == 0 {
		logger.Debug("Using system default DNS resolver")
		return &net.Resolver{PreferGo: true}
	}

	custom := NewResolver(cfg)
	logger.Info("Custom DNS resolver initialized with %d server(s)", len(cfg.Servers))
	for i, server := range cfg.Servers {
		logger.Debug("  DNS Server %d: %s (%s)", i, server.Address, server.Type)
	}
	return &net.Resolver{
		PreferGo: true,
		Dial:     custom.Dial,
	}
}

// next returns the server to use for the next query.
func (r *Resolver) next() (int, config.DNSServerConfig) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	idx := r.currentIdx
	r.currentIdx = (r.currentIdx + 1) % len(r.servers)
	return idx, r.servers[idx]
}

// Dial is the custom dial function for DNS resolution. The network requested
// by the Go resolver is ignored in favour of the server's configured type.
func (r *Resolver) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	serverIdx, dnsServer := r.next()
	logger.Trace("Using DNS server %d: %s (%s)", serverIdx, dnsServer.Address, dnsServer.Type)

	dialer := &net.Dialer{
		Timeout: dnsServer.GetTimeoutDuration(),
	}

	switch dnsServer.Type {
	case config.DNSTypeUDP, config.DNSTypeTCP:
		return dialer.DialContext(ctx, string(dnsServer.Type), dnsServer.Address)

	case config.DNSTypeDoT:
		tcpConn, err := dialer.DialContext(ctx, "tcp", dnsServer.Address)
		if err != nil {
			return nil, fmt.Errorf("DoT TCP connection failed: %w", err)
		}

		tlsConfig := r.tlsConfig.Clone()
		if dnsServer.TLSHost != "" {
			tlsConfig.ServerName = dnsServer.TLSHost
		} else if host, _, splitErr := net.SplitHostPort(dnsServer.Address); splitErr == nil {
			tlsConfig.ServerName = host
		}

		tlsConn := tls.Client(tcpConn, tlsConfig)
		handshakeCtx, cancel := context.WithTimeout(ctx, dnsServer.GetTimeoutDuration())
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			if closeErr := tcpConn.Close(); closeErr != nil {
				logger.Debug("Error closing DoT connection: %v", closeErr)
			}
			return nil, fmt.Errorf("DoT TLS handshake failed with %s: %w", dnsServer.Address, err)
		}
		return tlsConn, nil

	default:
		return nil, fmt.Errorf("unsupported DNS server type: %s", dnsServer.Type)
	}
}
