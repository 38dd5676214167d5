// Package sqldb implements the execution gateway over database/sql for the
// embedded engines.
package sqldb

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/sqlguard/pkg/infrastructure/pool"
	"github.com/TFMV/sqlguard/pkg/models"
	"github.com/TFMV/sqlguard/pkg/repositories"
)

// queryRepository implements repositories.QueryRepository on a pool.
type queryRepository struct {
	pool         pool.ConnectionPool
	driver       string
	queryTimeout time.Duration
	logger       zerolog.Logger
}

// NewQueryRepository creates a gateway over an open pool. A zero
// queryTimeout disables the per-statement deadline.
func NewQueryRepository(p pool.ConnectionPool, driver string, queryTimeout time.Duration, logger zerolog.Logger) repositories.QueryRepository {
	return &queryRepository{
		pool:         p,
		driver:       driver,
		queryTimeout: queryTimeout,
		logger:       logger.With().Str("component", "gateway").Str("driver", driver).Logger(),
	}
}

func (r *queryRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// ExecuteQuery runs query inside a transaction that is always rolled back,
// so a read statement with hidden side effects leaves nothing behind.
func (r *queryRepository) ExecuteQuery(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error) {
	r.logger.Debug().
		Str("query", pool.TruncateQuery(query)).
		Int("args_count", len(args)).
		Msg("Executing query")

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, repositories.WrapExecutionError(ctx, err)
	}
	defer func() {
		// rollback after a successful read is the expected path
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		r.pool.QueryLogger().LogQuery(query, time.Since(start), err)
		return nil, repositories.WrapExecutionError(ctx, err)
	}

	columns, data, err := repositories.ScanRows(rows)
	executionTime := time.Since(start)
	r.pool.QueryLogger().LogQuery(query, executionTime, err)
	if err != nil {
		return nil, repositories.WrapExecutionError(ctx, err)
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

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := db.ExecContext(ctx, statement, args...)
	executionTime := time.Since(start)
	r.pool.QueryLogger().LogQuery(statement, executionTime, err)
	if err != nil {
		return nil, repositories.WrapExecutionError(ctx, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, repositories.WrapExecutionError(ctx, err)
	}

	r.logger.Debug().
		Int64("rows_affected", rowsAffected).
		Dur("execution_time", executionTime).
		Msg("Update executed successfully")

	return &models.UpdateResult{
		RowsAffected:  rowsAffected,
		ExecutionTime: executionTime,
	}, nil
}

func (r *queryRepository) Ping(ctx context.Context) error {
	return r.pool.HealthCheck(ctx)
}

func (r *queryRepository) Driver() string {
	return r.driver
}

func (r *queryRepository) Close() error {
	return r.pool.Close()
}
