package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
)

// mockQueryRepo implements repositories.QueryRepository
type mockQueryRepo struct {
	mock.Mock
}

func (m *mockQueryRepo) ExecuteQuery(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error) {
	called := m.Called(ctx, query, args)
	if r := called.Get(0); r != nil {
		return r.(*models.QueryResult), called.Error(1)
	}
	return nil, called.Error(1)
}

func (m *mockQueryRepo) ExecuteUpdate(ctx context.Context, statement string, args ...interface{}) (*models.UpdateResult, error) {
	called := m.Called(ctx, statement, args)
	if r := called.Get(0); r != nil {
		return r.(*models.UpdateResult), called.Error(1)
	}
	return nil, called.Error(1)
}

func (m *mockQueryRepo) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockQueryRepo) Driver() string {
	return "mock"
}

func (m *mockQueryRepo) Close() error {
	return nil
}

// mockLogger implements Logger
type mockLogger struct{}

func (mockLogger) Debug(string, ...interface{}) {}
func (mockLogger) Info(string, ...interface{})  {}
func (mockLogger) Warn(string, ...interface{})  {}
func (mockLogger) Error(string, ...interface{}) {}

// mockMetricsCollector implements MetricsCollector and records counters.
type mockMetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]int
	histograms map[string][]float64
	gauges     map[string]float64
}

func newMockMetricsCollector() *mockMetricsCollector {
	return &mockMetricsCollector{
		counters:   make(map[string]int),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
	}
}

func (m *mockMetricsCollector) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counterKey(name, labels)]++
}

func (m *mockMetricsCollector) RecordHistogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *mockMetricsCollector) RecordGauge(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[counterKey(name, labels)] = value
}

func (m *mockMetricsCollector) gauge(name string, labels ...string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[counterKey(name, labels)]
}

func (m *mockMetricsCollector) StartTimer(string) Timer {
	return &mockTimer{}
}

func (m *mockMetricsCollector) count(name string, labels ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterKey(name, labels)]
}

func counterKey(name string, labels []string) string {
	return fmt.Sprint(name, labels)
}

// mockTimer implements Timer
type mockTimer struct{}

func (m *mockTimer) Stop() time.Duration {
	return 0
}

func setupTestQueryService(mutate func(*PolicyConfig)) (QueryService, *mockQueryRepo, *mockMetricsCollector) {
	cfg := DefaultPolicyConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	repo := &mockQueryRepo{}
	metrics := newMockMetricsCollector()
	return NewQueryService(repo, cfg, mockLogger{}, metrics), repo, metrics
}

func readWrite(c *PolicyConfig) { c.AccessMode = ReadWrite }

func TestQueryService_ExecuteRead(t *testing.T) {
	service, repo, metrics := setupTestQueryService(nil)
	ctx := context.Background()

	rows := []map[string]interface{}{{"id": int64(1)}, {"id": int64(2)}}
	repo.On("ExecuteQuery", ctx, "SELECT * FROM users LIMIT 2", []interface{}(nil)).
		Return(&models.QueryResult{Columns: []string{"id"}, Rows: rows, TotalRows: 2}, nil).Once()

	outcome, err := service.Execute(ctx, &models.QueryRequest{
		SQL:      "SELECT * FROM users",
		PageSize: intPtr(2),
		Offset:   intPtr(0),
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeRows, outcome.Kind)
	assert.Equal(t, rows, outcome.Rows)
	assert.Equal(t, int64(2), outcome.RowCount)
	assert.Equal(t, &models.Pagination{HasMore: true, PageSize: 2, Offset: 0}, outcome.Pagination)
	assert.Equal(t, len(`[{"id":1},{"id":2}]`), outcome.PayloadBytes)

	assert.Equal(t, 1, metrics.count("statements_total", "kind", "SELECT"))
	assert.Equal(t, 1, metrics.count("rewrites_total"))
	repo.AssertExpectations(t)
}

func TestQueryService_ExecuteReadShortPage(t *testing.T) {
	service, repo, _ := setupTestQueryService(nil)
	ctx := context.Background()

	repo.On("ExecuteQuery", ctx, "SELECT * FROM users WHERE id = $1 LIMIT 100 OFFSET 10", []interface{}{int64(7)}).
		Return(&models.QueryResult{Rows: []map[string]interface{}{{"id": int64(7)}}}, nil).Once()

	outcome, err := service.Execute(ctx, &models.QueryRequest{
		SQL:        "SELECT * FROM users WHERE id = $1",
		Parameters: []interface{}{float64(7)},
		Offset:     intPtr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, &models.Pagination{HasMore: false, PageSize: 100, Offset: 10}, outcome.Pagination)
	repo.AssertExpectations(t)
}

func TestQueryService_ExecuteWrite(t *testing.T) {
	service, repo, _ := setupTestQueryService(readWrite)
	ctx := context.Background()

	repo.On("ExecuteUpdate", ctx, "UPDATE users SET name = $1 WHERE id = $2", []interface{}{"bob", int64(3)}).
		Return(&models.UpdateResult{RowsAffected: 1}, nil).Once()

	outcome, err := service.Execute(ctx, &models.QueryRequest{
		SQL:        "UPDATE users SET name = $1 WHERE id = $2",
		Parameters: []interface{}{"bob", 3},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAffected, outcome.Kind)
	assert.Equal(t, "UPDATE", outcome.StatementKind)
	assert.Equal(t, int64(1), outcome.RowCount)
	assert.Nil(t, outcome.Pagination)
	repo.AssertExpectations(t)
}

func TestQueryService_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*PolicyConfig)
		req      *models.QueryRequest
		code     string
		contains string
		reason   string
	}{
		{
			name:     "delete in read-only mode",
			req:      &models.QueryRequest{SQL: "DELETE FROM users WHERE id = 1"},
			code:     errors.CodePolicyRejected,
			contains: ReasonReadOnly,
			reason:   "read_only",
		},
		{
			name:     "drop in read-write mode",
			mutate:   readWrite,
			req:      &models.QueryRequest{SQL: "DROP TABLE users"},
			code:     errors.CodePolicyRejected,
			contains: "DROP operation not allowed",
			reason:   "dangerous",
		},
		{
			name:     "update without where",
			mutate:   readWrite,
			req:      &models.QueryRequest{SQL: "UPDATE users SET name = 'x'"},
			code:     errors.CodePolicyRejected,
			contains: ReasonMissingWhere,
			reason:   "missing_where",
		},
		{
			name:     "trivial where",
			mutate:   readWrite,
			req:      &models.QueryRequest{SQL: "UPDATE users SET name = 'x' WHERE 1=1"},
			code:     errors.CodePolicyRejected,
			contains: ReasonTrivialWhere,
			reason:   "trivial_where",
		},
		{
			name:     "syntax error",
			req:      &models.QueryRequest{SQL: "SELEC * FROM users"},
			code:     errors.CodePolicyRejected,
			contains: ReasonInvalidSyntax,
			reason:   "unparseable",
		},
		{
			name: "object parameter",
			req: &models.QueryRequest{
				SQL:        "SELECT * FROM users WHERE id = $1",
				Parameters: []interface{}{map[string]interface{}{"malicious": true}},
			},
			code:     errors.CodeInvalidInput,
			contains: "parameters[0] has unsupported type object",
			reason:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, repo, metrics := setupTestQueryService(tt.mutate)

			outcome, err := service.Execute(context.Background(), tt.req)
			require.NoError(t, err)
			require.Equal(t, models.OutcomeRejected, outcome.Kind)
			require.NotNil(t, outcome.Rejection)
			assert.Equal(t, tt.code, outcome.Rejection.Code)
			assert.Contains(t, outcome.Rejection.Message, tt.contains)
			assert.Equal(t, 1, metrics.count("rejections_total", "reason", tt.reason))

			repo.AssertNotCalled(t, "ExecuteQuery", mock.Anything, mock.Anything, mock.Anything)
			repo.AssertNotCalled(t, "ExecuteUpdate", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestQueryService_PayloadTooLarge(t *testing.T) {
	service, repo, metrics := setupTestQueryService(func(c *PolicyConfig) { c.MaxPayloadBytes = 16 })
	ctx := context.Background()

	repo.On("ExecuteQuery", ctx, "SELECT note FROM notes LIMIT 100", []interface{}(nil)).
		Return(&models.QueryResult{Rows: []map[string]interface{}{{"note": "a rather long note"}}}, nil).Once()

	outcome, err := service.Execute(ctx, &models.QueryRequest{SQL: "SELECT note FROM notes"})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeRejected, outcome.Kind)
	assert.True(t, errors.IsPayloadTooLarge(outcome.Rejection))
	assert.Nil(t, outcome.Rows)
	assert.Equal(t, 1, metrics.count("rejections_total", "reason", "payload_too_large"))
	repo.AssertExpectations(t)
}

func TestQueryService_ExecutionErrors(t *testing.T) {
	t.Run("engine error normalized", func(t *testing.T) {
		service, repo, _ := setupTestQueryService(nil)
		ctx := context.Background()
		repo.On("ExecuteQuery", ctx, mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("relation \"nope\"\n   does not exist")).Once()

		outcome, err := service.Execute(ctx, &models.QueryRequest{SQL: "SELECT * FROM nope"})
		require.Error(t, err)
		assert.Nil(t, outcome)
		assert.Equal(t, errors.CodeExecutionFailed, errors.GetCode(err))
		assert.Equal(t, `relation "nope" does not exist`, errors.GetMessage(err))
	})

	t.Run("deadline", func(t *testing.T) {
		service, repo, _ := setupTestQueryService(readWrite)
		ctx := context.Background()
		repo.On("ExecuteUpdate", ctx, mock.Anything, mock.Anything).
			Return(nil, context.DeadlineExceeded).Once()

		_, err := service.Execute(ctx, &models.QueryRequest{SQL: "DELETE FROM users WHERE id = 1"})
		require.Error(t, err)
		assert.Equal(t, errors.CodeDeadlineExceeded, errors.GetCode(err))
	})
}

func TestQueryService_InvalidRequest(t *testing.T) {
	service, repo, _ := setupTestQueryService(nil)

	_, err := service.Execute(context.Background(), nil)
	assert.True(t, errors.IsInvalidInput(err))

	_, err = service.Execute(context.Background(), &models.QueryRequest{SQL: "  \n "})
	assert.True(t, errors.IsInvalidInput(err))

	repo.AssertNotCalled(t, "ExecuteQuery", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryService_Check(t *testing.T) {
	service, repo, _ := setupTestQueryService(nil)

	kind, err := service.Check("SELECT 1")
	assert.NoError(t, err)
	assert.Equal(t, KindSelect, kind)

	kind, err = service.Check("INSERT INTO t VALUES (1)")
	assert.Equal(t, KindInsert, kind)
	assert.True(t, errors.IsPolicyRejection(err))

	_, err = service.Check("")
	assert.True(t, errors.IsInvalidInput(err))

	assert.Equal(t, DefaultPolicyConfig(), service.Policy())
	repo.AssertNotCalled(t, "ExecuteQuery", mock.Anything, mock.Anything, mock.Anything)
}
