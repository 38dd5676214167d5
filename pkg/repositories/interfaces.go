// Package repositories defines the execution gateway used by the query
// pipeline and helpers shared by its engine implementations.
package repositories

import (
	"context"

	"github.com/TFMV/sqlguard/pkg/models"
)

// QueryRepository executes statements that the pipeline has already
// accepted. Implementations own connection pooling and query timeouts.
type QueryRepository interface {
	// ExecuteQuery runs a read statement and returns its rows. The statement
	// runs in a transaction that is never committed.
	ExecuteQuery(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error)
	// ExecuteUpdate runs a write statement and returns affected rows.
	ExecuteUpdate(ctx context.Context, statement string, args ...interface{}) (*models.UpdateResult, error)
	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error
	// Driver names the engine.
	Driver() string
	// Close releases the gateway's connections.
	Close() error
}
