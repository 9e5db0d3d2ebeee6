package stats

import (
	"database/sql"
	"fmt"

	"github.com/codefionn/sperrgut/sperrgut-srv/logger"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCollector implements Collector using SQLite as the backend
type SQLiteCollector struct {
	*sqlCollector
	path string
}

// NewSQLiteCollector creates a new SQLite-based statistics collector
func NewSQLiteCollector(dbPath string) (*SQLiteCollector, error) {
	db, err := sql.Open(driverSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	inner, err := newSQLCollector(db, driverSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Initialized stats collector sqlite at %s", dbPath)
	return &SQLiteCollector{sqlCollector: inner, path: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteCollector) Path() string {
	return s.path
}
