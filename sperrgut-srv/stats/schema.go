package stats

// schemaStatements returns the DDL for the given driver name.
func schemaStatements(driver string) []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "TIMESTAMP"
	big := "INTEGER"
	if driver == driverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
		big = "BIGINT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id ` + id + `,
			client_ip TEXT NOT NULL,
			target_host TEXT NOT NULL,
			target_port INTEGER NOT NULL,
			protocol TEXT NOT NULL,
			started_at ` + ts + ` NOT NULL,
			ended_at ` + ts + `,
			bytes_sent ` + big + ` NOT NULL DEFAULT 0,
			bytes_received ` + big + ` NOT NULL DEFAULT 0,
			duration_ms ` + big + ` NOT NULL DEFAULT 0,
			close_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS http_requests (
			id ` + id + `,
			connection_id ` + big + ` NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			host TEXT NOT NULL,
			cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS errors (
			id ` + id + `,
			connection_id ` + big + ` NOT NULL,
			error_type TEXT NOT NULL,
			error_message TEXT NOT NULL,
			timestamp ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS data_transfer (
			id ` + id + `,
			connection_id ` + big + ` NOT NULL,
			bytes_sent ` + big + ` NOT NULL,
			bytes_received ` + big + ` NOT NULL,
			timestamp ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS security_events (
			id ` + id + `,
			client_ip TEXT NOT NULL,
			target_host TEXT NOT NULL,
			event_type TEXT NOT NULL,
			reason TEXT,
			timestamp ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_target_host ON connections(target_host)`,
		`CREATE INDEX IF NOT EXISTS idx_http_requests_connection_id ON http_requests(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp)`,
	}
}
