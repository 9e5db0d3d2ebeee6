package proxy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/sperrgut/sperrgut-srv/stats"
)

// flushInterval is how many bytes may accumulate on a long-lived connection
// before a data transfer record is written.
const flushInterval = 64 * 1024

// trackedConn wraps a client connection and reports its traffic to a
// stats.Collector. Sent counts bytes written to the client, received counts
// bytes read from it.
type trackedConn struct {
	net.Conn
	collector    stats.Collector
	connectionID int64
	startTime    time.Time
	ctx          context.Context

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	flushedSent   atomic.Int64
	flushedRecv   atomic.Int64
	flushMu       sync.Mutex
	endOnce       sync.Once
	closeReason   atomic.Value // string
}

func newTrackedConn(ctx context.Context, conn net.Conn, collector stats.Collector, connectionID int64) *trackedConn {
	return &trackedConn{
		Conn:         conn,
		collector:    collector,
		connectionID: connectionID,
		startTime:    time.Now(),
		ctx:          ctx,
	}
}

func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.bytesReceived.Add(int64(n))
		c.maybeFlush()
	}
	return n, err
}

func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.bytesSent.Add(int64(n))
		c.maybeFlush()
	}
	return n, err
}

// setCloseReason overrides the reason recorded when the connection ends.
func (c *trackedConn) setCloseReason(reason string) {
	c.closeReason.Store(reason)
}

func (c *trackedConn) maybeFlush() {
	pending := c.bytesSent.Load() - c.flushedSent.Load() +
		c.bytesReceived.Load() - c.flushedRecv.Load()
	if pending >= flushInterval {
		c.flush()
	}
}

// flush reports the bytes moved since the previous flush.
func (c *trackedConn) flush() {
	c.flushMu.Lock()
	sent := c.bytesSent.Load()
	recv := c.bytesReceived.Load()
	deltaSent := sent - c.flushedSent.Swap(sent)
	deltaRecv := recv - c.flushedRecv.Swap(recv)
	c.flushMu.Unlock()

	if deltaSent > 0 || deltaRecv > 0 {
		_ = c.collector.RecordDataTransfer(c.ctx, c.connectionID, deltaSent, deltaRecv)
	}
}

// Close closes the connection and records the final statistics once.
func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.endOnce.Do(func() {
		c.flush()
		reason, _ := c.closeReason.Load().(string)
		if reason == "" {
			reason = "normal"
		}
		_ = c.collector.EndConnection(c.ctx, c.connectionID,
			c.bytesSent.Load(), c.bytesReceived.Load(), time.Since(c.startTime), reason)
	})
	return err
}
