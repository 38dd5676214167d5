package sqlite

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/infrastructure/pool"
)

func TestOpen_ExecuteRoundTrip(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	repo, err := Open(Config{Pool: pool.Config{DSN: ":memory:"}}, logger)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	assert.Equal(t, DriverName, repo.Driver())
	require.NoError(t, repo.Ping(ctx))

	_, err = repo.ExecuteUpdate(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score REAL)")
	require.NoError(t, err)

	res, err := repo.ExecuteUpdate(ctx, "INSERT INTO users (id, name, score) VALUES ($1, $2, $3), ($4, $5, $6)",
		int64(1), "alice", 9.5, int64(2), "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)

	result, err := repo.ExecuteQuery(ctx, "SELECT id, name, score FROM users ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "score"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "alice", result.Rows[0]["name"])
	assert.Equal(t, 9.5, result.Rows[0]["score"])
	assert.Nil(t, result.Rows[1]["score"])
	assert.Equal(t, int64(2), result.TotalRows)
}

func TestOpen_ReadsAreRolledBack(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	repo, err := Open(Config{Pool: pool.Config{DSN: ":memory:"}}, logger)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	_, err = repo.ExecuteUpdate(ctx, "CREATE TABLE events (id INTEGER)")
	require.NoError(t, err)

	// a write smuggled through the read path does not persist
	_, err = repo.ExecuteQuery(ctx, "INSERT INTO events (id) VALUES (1) RETURNING id")
	require.NoError(t, err)

	result, err := repo.ExecuteQuery(ctx, "SELECT COUNT(*) AS n FROM events")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(0), result.Rows[0]["n"])
}

func TestOpen_ExecutionError(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	repo, err := Open(Config{Pool: pool.Config{DSN: ":memory:"}}, logger)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.ExecuteQuery(context.Background(), "SELECT * FROM missing_table")
	require.Error(t, err)
	assert.Equal(t, errors.CodeExecutionFailed, errors.GetCode(err))
	assert.Contains(t, errors.GetMessage(err), "missing_table")
	assert.NotContains(t, errors.GetMessage(err), "\n")
}

func TestIsMemoryDSN(t *testing.T) {
	assert.True(t, isMemoryDSN(""))
	assert.True(t, isMemoryDSN(":memory:"))
	assert.True(t, isMemoryDSN("file:test?mode=memory&cache=shared"))
	assert.False(t, isMemoryDSN("/var/lib/app.db"))
}
