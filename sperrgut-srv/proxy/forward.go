package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/codefionn/sperrgut/sperrgut-srv/cache"
	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
)

// originPort is where plain HTTP requests are sent, whatever port the Host
// header names.
const originPort = "80"

// forward serves a plain HTTP request from the cache or from its origin.
// A complete origin response smaller than cache.MaxEntrySize is cached.
func (s *Server) forward(ctx context.Context, client net.Conn, req *Request, clientIP string, connID int64) error {
	key := req.CacheKey()

	if data, ok := s.cache.Get(key); ok {
		logger.Log(clientIP, "CACHE HIT: "+req.Host)
		_ = s.collector.RecordHTTPRequest(ctx, connID, req.Method, req.Target, req.Host, true)
		if _, err := client.Write(data); err != nil {
			return newCodedError(ErrCodeHTTPResponseWriteFailed, err)
		}
		return nil
	}

	logger.Log(clientIP, "Visiting: "+req.Host)
	_ = s.collector.RecordHTTPRequest(ctx, connID, req.Method, req.Target, req.Host, false)

	if req.Host == "" {
		return newCodedError(ErrCodeInvalidAddress, fmt.Errorf("request %q", req.FirstLine))
	}

	conn, err := s.dial(ctx, net.JoinHostPort(req.Host, originPort))
	if err != nil {
		return err
	}
	origin := newDeadlineConn(conn, s.timeout)
	defer origin.Close()

	if _, err := origin.Write(rewriteConnectionClose(req.Raw)); err != nil {
		return newCodedError(ErrCodeHTTPRequestWriteFailed, err)
	}

	capture := newResponseCapture(cache.MaxEntrySize)
	if _, err := s.buffers.copy(client, newTeeReader(origin, capture.write)); err != nil {
		return newCodedError(ErrCodeHTTPResponseReadFailed, fmt.Errorf("%s: %w", req.Host, err))
	}

	data, ok := capture.bytes()
	switch {
	case !ok:
		logger.Debug("Response from %s exceeds %d bytes, not caching", req.Host, cache.MaxEntrySize)
	case len(data) > 0:
		s.cache.Put(key, data)
	}
	return nil
}
