// Package sqlite opens the SQLite execution gateway.
package sqlite

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/TFMV/sqlguard/pkg/infrastructure/pool"
	"github.com/TFMV/sqlguard/pkg/repositories"
	"github.com/TFMV/sqlguard/pkg/repositories/sqldb"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Config configures the SQLite gateway.
type Config struct {
	Pool         pool.Config
	QueryTimeout time.Duration
	// Metrics, when set, receives pool acquisition and breaker metrics.
	Metrics      pool.MetricsCollector
}

// Open creates the SQLite gateway. In-memory databases exist per
// connection, so they are pinned to a single connection.
func Open(cfg Config, logger zerolog.Logger) (repositories.QueryRepository, error) {
	poolCfg := cfg.Pool
	poolCfg.Driver = DriverName
	if isMemoryDSN(poolCfg.DSN) {
		poolCfg.MaxOpenConnections = 1
		poolCfg.MaxIdleConnections = 1
		// the database vanishes with its last connection
		poolCfg.ConnMaxLifetime = 100 * 365 * 24 * time.Hour
		poolCfg.ConnMaxIdleTime = 100 * 365 * 24 * time.Hour
	}

	p, err := pool.New(poolCfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		p.SetMetricsCollector(cfg.Metrics)
	}
	return sqldb.NewQueryRepository(p, DriverName, cfg.QueryTimeout, logger), nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
