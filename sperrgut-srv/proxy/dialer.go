package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/config"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/codefionn/sperrgut/sperrgut-srv/resolver"
	"golang.org/x/net/proxy"
)

// dialFunc opens an outbound TCP connection to a host:port address.
type dialFunc func(ctx context.Context, addr string) (net.Conn, error)

// newDialer builds the outbound dialer for cfg. Direct connections are
// IPv4 and resolve through the configured DNS servers; with an upstream
// SOCKS5 proxy the proxy resolves the name instead.
func newDialer(cfg *config.Config) (dialFunc, error) {
	timeout := cfg.Timeout()
	base := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Resolver:  resolver.New(cfg.DNS),
	}

	if !cfg.Upstream.Enabled() {
		return func(ctx context.Context, addr string) (net.Conn, error) {
			conn, err := base.DialContext(ctx, "tcp4", addr)
			if err != nil {
				return nil, classifyDialError(addr, err)
			}
			return conn, nil
		}, nil
	}

	return newSocks5Dialer(cfg.Upstream, base, timeout)
}

// newSocks5Dialer chains outbound connections through an upstream SOCKS5 proxy.
func newSocks5Dialer(upstream config.UpstreamConfig, base *net.Dialer, timeout time.Duration) (dialFunc, error) {
	var auth *proxy.Auth
	if upstream.Username != "" {
		auth = &proxy.Auth{
			User:     upstream.Username,
			Password: upstream.Password,
		}
	}

	socksDialer, err := proxy.SOCKS5("tcp", upstream.SOCKS5Address, auth, base)
	if err != nil {
		return nil, newCodedError(ErrCodeSOCKS5DialerFailed, fmt.Errorf("proxy %s: %w", upstream.SOCKS5Address, err))
	}
	ctxDialer, ok := socksDialer.(proxy.ContextDialer)
	if !ok {
		return nil, newCodedError(ErrCodeSOCKS5DialerFailed, fmt.Errorf("proxy %s: dialer does not support contexts", upstream.SOCKS5Address))
	}

	logger.Debug("Outbound connections use SOCKS5 proxy %s", upstream.SOCKS5Address)
	return func(ctx context.Context, addr string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		conn, err := ctxDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, newCodedError(ErrCodeSOCKS5ConnectFailed,
				fmt.Errorf("target %s via SOCKS5 proxy %s: %w", addr, upstream.SOCKS5Address, err))
		}
		return conn, nil
	}, nil
}
