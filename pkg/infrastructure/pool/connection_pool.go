// Package pool provides database/sql connection pooling for the embedded
// engines (DuckDB and SQLite).
package pool

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/sqlguard/pkg/errors"
)

// Config represents pool configuration.
type Config struct {
	Driver             string        `json:"driver"`
	DSN                string        `json:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `json:"health_check_period"`
	ConnectionTimeout  time.Duration `json:"connection_timeout"`

	EnableCircuitBreaker    bool          `json:"enable_circuit_breaker"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `json:"circuit_breaker_timeout"`
	SlowQueryThreshold      time.Duration `json:"slow_query_threshold"`
}

// ConnectionPool manages database connections.
type ConnectionPool interface {
	// Get returns a database handle once the pool is known to be reachable.
	Get(ctx context.Context) (*sql.DB, error)
	// Stats returns pool statistics.
	Stats() PoolStats
	// HealthCheck performs a health check on the pool.
	HealthCheck(ctx context.Context) error
	// Close closes the connection pool.
	Close() error
	// SetMetricsCollector sets the metrics collector.
	SetMetricsCollector(collector MetricsCollector)
	// QueryLogger returns the slow query logger.
	QueryLogger() *QueryLogger
}

// MetricsCollector interface for collecting pool metrics.
type MetricsCollector interface {
	RecordConnectionAcquisition(duration time.Duration)
	UpdateActiveConnections(count int)
	IncrementCircuitBreakerTrip()
}

// PoolStats represents connection pool statistics.
type PoolStats struct {
	Driver              string        `json:"driver"`
	OpenConnections     int           `json:"open_connections"`
	InUse               int           `json:"in_use"`
	Idle                int           `json:"idle"`
	WaitCount           int64         `json:"wait_count"`
	WaitDuration        time.Duration `json:"wait_duration"`
	MaxIdleClosed       int64         `json:"max_idle_closed"`
	MaxLifetimeClosed   int64         `json:"max_lifetime_closed"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	HealthCheckStatus   string        `json:"health_check_status"`
	CircuitBreakerState string        `json:"circuit_breaker_state,omitempty"`
}

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops handing out connections after repeated connect
// failures until a cool-down has passed.
type CircuitBreaker struct {
	state           atomic.Int32 // CircuitBreakerState
	failures        atomic.Int64
	lastFailureTime atomic.Int64
	threshold       int
	timeout         time.Duration
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
	}
}

// CanExecute checks if the circuit breaker allows execution.
func (cb *CircuitBreaker) CanExecute() bool {
	switch CircuitBreakerState(cb.state.Load()) {
	case CircuitBreakerClosed, CircuitBreakerHalfOpen:
		return true
	case CircuitBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFailureTime.Load())) > cb.timeout {
			return cb.state.CompareAndSwap(int32(CircuitBreakerOpen), int32(CircuitBreakerHalfOpen))
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(int32(CircuitBreakerClosed))
}

// RecordFailure records a failed operation and reports whether it tripped
// the breaker open.
func (cb *CircuitBreaker) RecordFailure() bool {
	failures := cb.failures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())

	if failures >= int64(cb.threshold) {
		return cb.state.Swap(int32(CircuitBreakerOpen)) != int32(CircuitBreakerOpen)
	}
	return false
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetFailures returns the current failure count.
func (cb *CircuitBreaker) GetFailures() int64 {
	return cb.failures.Load()
}

// QueryLogger logs statement durations and flags slow ones.
type QueryLogger struct {
	logger    zerolog.Logger
	threshold time.Duration
}

// NewQueryLogger creates a new query logger.
func NewQueryLogger(logger zerolog.Logger, threshold time.Duration) *QueryLogger {
	return &QueryLogger{
		logger:    logger,
		threshold: threshold,
	}
}

// LogQuery logs query execution details. Parameter values are never logged.
func (ql *QueryLogger) LogQuery(query string, duration time.Duration, err error) {
	logEvent := ql.logger.Debug()
	if ql.threshold > 0 && duration > ql.threshold {
		logEvent = ql.logger.Warn().Bool("slow_query", true)
	}

	logEvent.
		Dur("duration", duration).
		Str("query", TruncateQuery(query)).
		Bool("success", err == nil).
		Msg("Query executed")
}

type connectionPool struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger

	closed atomic.Bool

	lastHealthCheck atomic.Int64 // Unix timestamp
	healthStatus    atomic.Value // string

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	waitCount    atomic.Int64
	waitDuration atomic.Int64

	circuitBreaker   *CircuitBreaker
	queryLogger      *QueryLogger
	metricsCollector MetricsCollector
	mu               sync.RWMutex
}

// New opens a database/sql pool for cfg.Driver. The driver must already be
// registered by the caller's import.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	if cfg.Driver == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidConfig, "pool driver is required")
	}
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}

	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = 10
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 10 * time.Minute
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 60 * time.Second
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = time.Second
	}

	logger = logger.With().Str("driver", cfg.Driver).Logger()
	logger.Info().
		Str("dsn", MaskDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Int("max_idle", cfg.MaxIdleConnections).
		Dur("conn_lifetime", cfg.ConnMaxLifetime).
		Bool("circuit_breaker", cfg.EnableCircuitBreaker).
		Msg("Creating connection pool")

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())

	p := &connectionPool{
		db:          db,
		config:      cfg,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		queryLogger: NewQueryLogger(logger, cfg.SlowQueryThreshold),
	}
	if cfg.EnableCircuitBreaker {
		p.circuitBreaker = NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}
	p.healthStatus.Store("unknown")

	connCtx, connCancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer connCancel()

	if err := p.HealthCheck(connCtx); err != nil {
		db.Close()
		cancel()
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "initial health check failed")
	}

	if cfg.HealthCheckPeriod > 0 {
		go p.healthCheckRoutine(ctx)
	}

	logger.Info().Msg("Connection pool created")
	return p, nil
}

func (p *connectionPool) Get(ctx context.Context) (*sql.DB, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}

	if p.circuitBreaker != nil && !p.circuitBreaker.CanExecute() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "circuit breaker is open").
			WithHint("The database has been unreachable; retry after a short wait")
	}

	start := time.Now()
	p.waitCount.Add(1)
	collector := p.collector()
	defer func() {
		duration := time.Since(start)
		p.waitDuration.Add(int64(duration))
		if collector != nil {
			collector.RecordConnectionAcquisition(duration)
		}
	}()

	if err := p.db.PingContext(ctx); err != nil {
		p.logger.Error().Err(err).Msg("Database ping failed")
		if p.circuitBreaker != nil && p.circuitBreaker.RecordFailure() && collector != nil {
			collector.IncrementCircuitBreakerTrip()
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "database connection failed")
	}

	if p.circuitBreaker != nil {
		p.circuitBreaker.RecordSuccess()
	}
	if collector != nil {
		collector.UpdateActiveConnections(p.db.Stats().OpenConnections)
	}

	return p.db, nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	dbStats := p.db.Stats()

	stats := PoolStats{
		Driver:            p.config.Driver,
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         p.waitCount.Load(),
		WaitDuration:      time.Duration(p.waitDuration.Load()),
		MaxIdleClosed:     dbStats.MaxIdleClosed,
		MaxLifetimeClosed: dbStats.MaxLifetimeClosed,
		LastHealthCheck:   time.Unix(p.lastHealthCheck.Load(), 0),
		HealthCheckStatus: p.getHealthStatus(),
	}
	if p.circuitBreaker != nil {
		stats.CircuitBreakerState = p.circuitBreaker.GetState().String()
	}
	return stats
}

// SetMetricsCollector sets the metrics collector.
func (p *connectionPool) SetMetricsCollector(collector MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metricsCollector = collector
}

func (p *connectionPool) collector() MetricsCollector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metricsCollector
}

func (p *connectionPool) QueryLogger() *QueryLogger {
	return p.queryLogger
}

// HealthCheck performs a health check on the pool.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}

	if err := p.db.PingContext(ctx); err != nil {
		p.updateHealthStatus("unhealthy", err.Error())
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check ping failed")
	}

	var result int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil || result != 1 {
		p.updateHealthStatus("unhealthy", "query test failed")
		if err == nil {
			err = errors.New("unexpected probe result")
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check query failed")
	}

	p.updateHealthStatus("healthy", "")
	return nil
}

// Close closes the connection pool.
func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.logger.Info().Msg("Closing connection pool")
	p.cancel()

	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

// healthCheckRoutine performs periodic health checks until ctx is cancelled.
func (p *connectionPool) healthCheckRoutine(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.HealthCheck(probeCtx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("Periodic health check failed")
			}
			cancel()
		}
	}
}

func (p *connectionPool) updateHealthStatus(status, detail string) {
	p.lastHealthCheck.Store(time.Now().Unix())
	previous := p.getHealthStatus()
	p.healthStatus.Store(status)

	if status != previous && detail != "" {
		p.logger.Warn().
			Str("status", status).
			Str("detail", detail).
			Msg("Connection pool health status changed")
	}
}

func (p *connectionPool) getHealthStatus() string {
	if v := p.healthStatus.Load(); v != nil {
		return v.(string)
	}
	return "unknown"
}

// MaskDSN hides passwords and secret query parameters while keeping the DSN
// recognisable in logs. Strings that do not parse as URLs keep only their
// first and last three characters.
func MaskDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err == nil && looksLikeURL(u) {
		if ui := u.User; ui != nil {
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(ui.Username(), "*****")
			}
		}
		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func looksLikeURL(u *url.URL) bool {
	return u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != ""
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "pass") ||
		strings.Contains(key, "token") ||
		strings.Contains(key, "secret") ||
		strings.HasSuffix(key, "key")
}

// TruncateQuery shortens long statements for logging.
func TruncateQuery(query string) string {
	const maxLen = 100
	query = pkgerrors.NormalizeMessage(query)
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
