package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// tunnel connects the client to req's host:port and relays bytes in both
// directions until each side has stopped sending. Setup failures close the
// client without a response.
func (s *Server) tunnel(ctx context.Context, client net.Conn, req *Request, clientIP string) error {
	logger.Log(clientIP, "HTTPS Tunneling for: "+req.Host)

	if req.Host == "" {
		return newCodedError(ErrCodeInvalidAddress, fmt.Errorf("CONNECT %q", req.Target))
	}

	addr := net.JoinHostPort(req.Host, req.Port)
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	remote := newDeadlineConn(conn, s.timeout)
	defer remote.Close()

	if _, err := io.WriteString(client, connectEstablished); err != nil {
		return newCodedError(ErrCodeCONNECTResponseFailed, err)
	}

	// Bytes the client sent right behind the CONNECT head belong to the tunnel.
	if early := req.Trailing(); len(early) > 0 {
		if _, err := remote.Write(early); err != nil {
			return newCodedError(ErrCodeTunnelRelayFailed, err)
		}
	}

	logger.Debug("Tunnel established to %s", addr)

	var (
		wg      sync.WaitGroup
		upErr   error
		downErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, upErr = s.buffers.copy(remote, client)
	}()
	go func() {
		defer wg.Done()
		_, downErr = s.buffers.copy(client, remote)
	}()
	wg.Wait()

	logger.Debug("Tunnel to %s closed", addr)
	if err := relayError(upErr, downErr); err != nil {
		return newCodedError(ErrCodeTunnelRelayFailed, fmt.Errorf("%s: %w", addr, err))
	}
	return nil
}

// relayError drops the errors that just mean a peer went away.
func relayError(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err == nil || isTimeout(err) || isClosedConnError(err) || errors.Is(err, io.ErrClosedPipe) {
			continue
		}
		kept = append(kept, err)
	}
	return errors.Join(kept...)
}
