package stats

import (
	"fmt"

	"github.com/codefionn/sperrgut/sperrgut-srv/config"
)

// NewCollector creates a statistics collector for cfg. Disabled statistics
// yield a DummyCollector.
func NewCollector(cfg config.StatisticsConfig) (Collector, error) {
	if !cfg.Enabled {
		return NewDummyCollector(), nil
	}

	switch cfg.Backend {
	case config.StatsBackendSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = config.DefaultStatsSQLite
		}
		collector, err := NewSQLiteCollector(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite collector: %w", err)
		}
		return collector, nil
	case config.StatsBackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres_dsn is required for postgres backend")
		}
		collector, err := NewPostgreSQLCollector(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres collector: %w", err)
		}
		return collector, nil
	case config.StatsBackendMemory:
		return NewMemoryCollector(), nil
	case config.StatsBackendDummy:
		return NewDummyCollector(), nil
	default:
		return nil, fmt.Errorf("unsupported stats backend: %s", cfg.Backend)
	}
}

var (
	_ Collector = (*DummyCollector)(nil)
	_ Collector = (*MemoryCollector)(nil)
	_ Collector = (*SQLiteCollector)(nil)
	_ Collector = (*PostgreSQLCollector)(nil)
)
