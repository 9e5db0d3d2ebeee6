package stats

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCollectorClosed is returned by a MemoryCollector after Close.
var ErrCollectorClosed = errors.New("stats collector closed")

// MemoryCollector keeps lock-free counters in process memory. Nothing
// survives a restart.
type MemoryCollector struct {
	counters  AtomicCounters
	nextID    atomic.Int64
	startedAt time.Time
	closed    atomic.Bool
}

// NewMemoryCollector creates a new in-memory collector
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{startedAt: time.Now()}
}

func (m *MemoryCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	if m.closed.Load() {
		return 0, ErrCollectorClosed
	}
	m.counters.TotalConnections.Add(1)
	m.counters.ActiveConnections.Add(1)
	return m.nextID.Add(1), nil
}

func (m *MemoryCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	m.counters.ActiveConnections.Add(-1)
	m.counters.TotalBytesOut.Add(bytesSent)
	m.counters.TotalBytesIn.Add(bytesReceived)
	return nil
}

func (m *MemoryCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, cacheHit bool) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	m.counters.TotalRequests.Add(1)
	if cacheHit {
		m.counters.CacheHits.Add(1)
	}
	return nil
}

func (m *MemoryCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	m.counters.TotalErrors.Add(1)
	return nil
}

// RecordDataTransfer is accepted for interface compatibility; byte totals
// are taken from EndConnection.
func (m *MemoryCollector) RecordDataTransfer(ctx context.Context, connectionID, bytesSent, bytesReceived int64) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	return nil
}

func (m *MemoryCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	m.counters.BlockedRequests.Add(1)
	return nil
}

func (m *MemoryCollector) RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	m.counters.AllowedRequests.Add(1)
	return nil
}

// GetOverviewStats returns overview statistics
func (m *MemoryCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	s := m.counters.Snapshot()
	return &OverviewStats{
		TotalConnections:  s.TotalConnections,
		ActiveConnections: s.ActiveConnections,
		TotalRequests:     s.TotalRequests,
		CacheHits:         s.CacheHits,
		TotalErrors:       s.TotalErrors,
		BlockedRequests:   s.BlockedRequests,
		AllowedRequests:   s.AllowedRequests,
		TotalBytesIn:      s.TotalBytesIn,
		TotalBytesOut:     s.TotalBytesOut,
		Uptime:            time.Since(m.startedAt).Round(time.Second).String(),
	}, nil
}

// Snapshot returns the raw counters.
func (m *MemoryCollector) Snapshot() CounterSnapshot {
	return m.counters.Snapshot()
}

func (m *MemoryCollector) HealthCheck(ctx context.Context) error {
	if m.closed.Load() {
		return ErrCollectorClosed
	}
	return nil
}

func (m *MemoryCollector) Close() error {
	m.closed.Store(true)
	return nil
}
