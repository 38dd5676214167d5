// Package postgres implements the execution gateway for PostgreSQL on a
// pgx connection pool.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/infrastructure/pool"
	"github.com/TFMV/sqlguard/pkg/models"
	"github.com/TFMV/sqlguard/pkg/repositories"
)

// DriverName identifies the engine.
const DriverName = "postgres"

// Config configures the PostgreSQL gateway.
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	QueryTimeout      time.Duration
	SlowQuery         time.Duration
}

type queryRepository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	queryLogger  *pool.QueryLogger
	logger       zerolog.Logger
}

// Open connects a pgx pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (repositories.QueryRepository, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "postgres DSN is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse postgres DSN")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	logger = logger.With().Str("component", "gateway").Str("driver", DriverName).Logger()
	logger.Info().
		Str("dsn", pool.MaskDSN(cfg.DSN)).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("Creating postgres connection pool")

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to create postgres pool")
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "initial ping failed")
	}

	return &queryRepository{
		pool:         p,
		queryTimeout: cfg.QueryTimeout,
		queryLogger:  pool.NewQueryLogger(logger, cfg.SlowQuery),
		logger:       logger,
	}, nil
}

func (r *queryRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// ExecuteQuery runs query in a READ ONLY transaction that is rolled back, so
// the server itself refuses any write hidden inside a read statement.
func (r *queryRepository) ExecuteQuery(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error) {
	r.logger.Debug().
		Str("query", pool.TruncateQuery(query)).
		Int("args_count", len(args)).
		Msg("Executing query")

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, r.connectionError(ctx, err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		r.queryLogger.LogQuery(query, time.Since(start), err)
		return nil, repositories.WrapExecutionError(ctx, err)
	}

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	data, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (map[string]interface{}, error) {
		m, err := pgx.RowToMap(row)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			m[k] = repositories.NormalizeValue(v)
		}
		return m, nil
	})
	executionTime := time.Since(start)
	r.queryLogger.LogQuery(query, executionTime, err)
	if err != nil {
		return nil, repositories.WrapExecutionError(ctx, err)
	}
	if data == nil {
		data = make([]map[string]interface{}, 0)
	}

	return &models.QueryResult{
		Columns:       columns,
		Rows:          data,
		TotalRows:     int64(len(data)),
		ExecutionTime: executionTime,
	}, nil
}

// ExecuteUpdate executes a write statement and returns affected rows.
func (r *queryRepository) ExecuteUpdate(ctx context.Context, statement string, args ...interface{}) (*models.UpdateResult, error) {
	r.logger.Debug().
		Str("statement", pool.TruncateQuery(statement)).
		Int("args_count", len(args)).
		Msg("Executing update")

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tag, err := r.pool.Exec(ctx, statement, args...)
	executionTime := time.Since(start)
	r.queryLogger.LogQuery(statement, executionTime, err)
	if err != nil {
		return nil, repositories.WrapExecutionError(ctx, err)
	}

	r.logger.Debug().
		Int64("rows_affected", tag.RowsAffected()).
		Dur("execution_time", executionTime).
		Msg("Update executed successfully")

	return &models.UpdateResult{
		RowsAffected:  tag.RowsAffected(),
		ExecutionTime: executionTime,
	}, nil
}

func (r *queryRepository) connectionError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return repositories.WrapExecutionError(ctx, err)
	}
	return errors.Wrap(err, errors.CodeConnectionFailed, errors.NormalizeMessage(err.Error()))
}

func (r *queryRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "ping failed")
	}
	return nil
}

func (r *queryRepository) Driver() string {
	return DriverName
}

func (r *queryRepository) Close() error {
	r.pool.Close()
	return nil
}
