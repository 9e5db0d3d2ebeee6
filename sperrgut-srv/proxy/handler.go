package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"

	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	"github.com/codefionn/sperrgut/sperrgut-srv/stats"
)

const forbiddenResponse = "HTTP/1.1 403 Forbidden\r\n\r\n<h1>403 Forbidden</h1><p>Blocked by Proxy.</p>"

// handleConnection serves exactly one request on conn and then closes it.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	ip := clientIP(conn)
	client := newDeadlineConn(conn, s.timeout)
	defer client.Close()

	defer func() {
		if r := recover(); r != nil {
			err := newCodedError(ErrCodePanicRecovered, fmt.Errorf("%v", r))
			logger.Error("Connection from %s: %v\n%s", ip, err, debug.Stack())
		}
	}()

	buf := s.buffers.get()
	head, err := readRequestHead(client, s.cfg.BufferSize-1, *buf)
	s.buffers.put(buf)
	if err != nil {
		logger.Debug("Reading request from %s: %v", ip, newCodedError(ErrCodeHTTPRequestReadFailed, err))
		return
	}
	if len(head) == 0 {
		return
	}

	req := ParseRequest(head)

	if err := s.checkBlacklist(req); IsAccessControlError(err) {
		logger.Log(ip, "BLOCKED: "+req.Host)
		logger.Debug("Connection from %s: %v", ip, err)
		_ = s.collector.RecordBlockedRequest(ctx, ip, req.Host, err.Error())
		_, _ = io.WriteString(client, forbiddenResponse)
		return
	}
	_ = s.collector.RecordAllowedRequest(ctx, ip, req.Host)

	protocol := stats.ProtocolHTTP
	if req.IsConnect() {
		protocol = stats.ProtocolTunnel
	}
	port, _ := strconv.Atoi(req.Port)
	connID, err := s.collector.StartConnection(ctx, ip, req.Host, port, protocol)
	if err != nil {
		logger.Debug("Failed to record connection start: %v", err)
	}
	tracked := newTrackedConn(ctx, client, s.collector, connID)
	defer tracked.Close()

	if req.IsConnect() {
		err = s.tunnel(ctx, tracked, req, ip)
	} else {
		err = s.forward(ctx, tracked, req, ip, connID)
	}
	if err != nil {
		s.reportError(ctx, tracked, connID, ip, err)
	}
}

// checkBlacklist returns an access control error when req's host matches a
// blacklist entry.
func (s *Server) checkBlacklist(req *Request) error {
	entry, blocked := s.blacklist.Match(req.Host)
	if !blocked {
		return nil
	}
	return newCodedError(ErrCodeBlocklistMatch, fmt.Errorf("%s matches %q", req.Host, entry))
}

// reportError logs a failed request and records it with the collector. The
// client only ever sees the connection close.
func (s *Server) reportError(ctx context.Context, conn *trackedConn, connID int64, ip string, err error) {
	code := ErrorCode(err)
	if code == "" {
		code = "unknown"
	}
	conn.setCloseReason(code)
	_ = s.collector.RecordError(ctx, connID, code, err.Error())

	msg := logger.WithRequestID(strconv.FormatInt(connID, 10), "Connection from %s: %v", ip, err)
	if IsConnectionError(err) || IsProxyChainError(err) || IsHTTPError(err) {
		logger.Debug("%s", msg)
		return
	}
	logger.Warn("%s", msg)
}
