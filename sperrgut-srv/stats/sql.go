package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// sqlCollector implements Collector over database/sql. SQLiteCollector and
// PostgreSQLCollector differ only in driver, placeholders and schema types.
type sqlCollector struct {
	db        *sql.DB
	driver    string
	startedAt time.Time
}

func newSQLCollector(db *sql.DB, driver string) (*sqlCollector, error) {
	c := &sqlCollector{db: db, driver: driver, startedAt: time.Now()}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

func (s *sqlCollector) initSchema() error {
	for _, stmt := range schemaStatements(s.driver) {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *sqlCollector) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlCollector) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// StartConnection records the start of a connection
func (s *sqlCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO connections (client_ip, target_host, target_port, protocol, started_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		clientIP, targetHost, targetPort, protocol, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}
	return id, nil
}

// EndConnection records the end of a connection
func (s *sqlCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	err := s.exec(ctx,
		`UPDATE connections
		 SET ended_at = ?, bytes_sent = ?, bytes_received = ?, duration_ms = ?, close_reason = ?
		 WHERE id = ?`,
		time.Now().UTC(), bytesSent, bytesReceived, duration.Milliseconds(), closeReason, connectionID)
	if err != nil {
		return fmt.Errorf("failed to record connection end: %w", err)
	}
	return nil
}

// RecordHTTPRequest records a forwarded or cached HTTP request
func (s *sqlCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, cacheHit bool) error {
	err := s.exec(ctx,
		`INSERT INTO http_requests (connection_id, method, url, host, cache_hit, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		connectionID, method, url, host, cacheHit, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record HTTP request: %w", err)
	}
	return nil
}

// RecordError records an error
func (s *sqlCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	err := s.exec(ctx,
		`INSERT INTO errors (connection_id, error_type, error_message, timestamp)
		 VALUES (?, ?, ?, ?)`,
		connectionID, errorType, errorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// RecordDataTransfer records an intermediate byte count for a long connection
func (s *sqlCollector) RecordDataTransfer(ctx context.Context, connectionID, bytesSent, bytesReceived int64) error {
	err := s.exec(ctx,
		`INSERT INTO data_transfer (connection_id, bytes_sent, bytes_received, timestamp)
		 VALUES (?, ?, ?, ?)`,
		connectionID, bytesSent, bytesReceived, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record data transfer: %w", err)
	}
	return nil
}

func (s *sqlCollector) recordSecurityEvent(ctx context.Context, clientIP, targetHost, eventType, reason string) error {
	err := s.exec(ctx,
		`INSERT INTO security_events (client_ip, target_host, event_type, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		clientIP, targetHost, eventType, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s request: %w", eventType, err)
	}
	return nil
}

// RecordBlockedRequest records a blacklisted request
func (s *sqlCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	return s.recordSecurityEvent(ctx, clientIP, targetHost, "blocked", reason)
}

// RecordAllowedRequest records a request that passed the blacklist
func (s *sqlCollector) RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error {
	return s.recordSecurityEvent(ctx, clientIP, targetHost, "allowed", "")
}

// GetOverviewStats returns overview statistics
func (s *sqlCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(bytes_sent), 0),
			COALESCE(SUM(bytes_received), 0)
		 FROM connections`).Scan(&stats.TotalConnections, &stats.ActiveConnections, &stats.TotalBytesOut, &stats.TotalBytesIn)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) FROM http_requests`).
		Scan(&stats.TotalRequests, &stats.CacheHits)
	if err != nil {
		return nil, fmt.Errorf("failed to get request stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM errors").Scan(&stats.TotalErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to get total errors: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN event_type = 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'allowed' THEN 1 ELSE 0 END), 0)
		 FROM security_events`).Scan(&stats.BlockedRequests, &stats.AllowedRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to get security stats: %w", err)
	}

	stats.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	return stats, nil
}

// HealthCheck checks if the database connection is healthy
func (s *sqlCollector) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlCollector) Close() error {
	return s.db.Close()
}
