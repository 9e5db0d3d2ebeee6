package stats

import (
	"context"
	"time"
)

// Collector defines the interface for collecting proxy statistics
type Collector interface {
	// Connection tracking
	StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error)
	EndConnection(ctx context.Context, connectionID int64, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error

	// Request tracking; cacheHit is true when the response came from the LRU cache
	RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, cacheHit bool) error

	// Error tracking
	RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error

	// Bandwidth tracking
	RecordDataTransfer(ctx context.Context, connectionID int64, bytesSent, bytesReceived int64) error

	// Security events
	RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error
	RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error

	// Queries
	GetOverviewStats(ctx context.Context) (*OverviewStats, error)

	// Health check
	HealthCheck(ctx context.Context) error

	// Close cleans up resources
	Close() error
}

// Protocol values passed to StartConnection.
const (
	ProtocolHTTP   = "http"
	ProtocolTunnel = "connect"
)

// OverviewStats provides high-level statistics
type OverviewStats struct {
	TotalConnections  int64  `json:"total_connections"`
	ActiveConnections int64  `json:"active_connections"`
	TotalRequests     int64  `json:"total_requests"`
	CacheHits         int64  `json:"cache_hits"`
	TotalErrors       int64  `json:"total_errors"`
	BlockedRequests   int64  `json:"blocked_requests"`
	AllowedRequests   int64  `json:"allowed_requests"`
	TotalBytesIn      int64  `json:"total_bytes_in"`
	TotalBytesOut     int64  `json:"total_bytes_out"`
	Uptime            string `json:"uptime"`
}
