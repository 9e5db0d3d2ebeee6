package stats

import (
	"sync/atomic"
)

// AtomicInt64Counter is a lock-free 64-bit integer counter
type AtomicInt64Counter int64

// Add atomically adds delta to the counter and returns the new value
func (c *AtomicInt64Counter) Add(delta int64) int64 {
	return atomic.AddInt64((*int64)(c), delta)
}

// Load atomically loads the current value
func (c *AtomicInt64Counter) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// AtomicCounters holds the counters backing MemoryCollector
type AtomicCounters struct {
	TotalConnections  AtomicInt64Counter
	ActiveConnections AtomicInt64Counter
	TotalRequests     AtomicInt64Counter
	CacheHits         AtomicInt64Counter
	TotalErrors       AtomicInt64Counter
	BlockedRequests   AtomicInt64Counter
	AllowedRequests   AtomicInt64Counter
	TotalBytesIn      AtomicInt64Counter
	TotalBytesOut     AtomicInt64Counter
}

// CounterSnapshot represents a snapshot of counter values
type CounterSnapshot struct {
	TotalConnections  int64
	ActiveConnections int64
	TotalRequests     int64
	CacheHits         int64
	TotalErrors       int64
	BlockedRequests   int64
	AllowedRequests   int64
	TotalBytesIn      int64
	TotalBytesOut     int64
}

// Snapshot returns a copy of all counter values
func (a *AtomicCounters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		TotalConnections:  a.TotalConnections.Load(),
		ActiveConnections: a.ActiveConnections.Load(),
		TotalRequests:     a.TotalRequests.Load(),
		CacheHits:         a.CacheHits.Load(),
		TotalErrors:       a.TotalErrors.Load(),
		BlockedRequests:   a.BlockedRequests.Load(),
		AllowedRequests:   a.AllowedRequests.Load(),
		TotalBytesIn:      a.TotalBytesIn.Load(),
		TotalBytesOut:     a.TotalBytesOut.Load(),
	}
}
