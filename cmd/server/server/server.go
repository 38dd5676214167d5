// Package server assembles the query tool server: execution gateway, query
// pipeline, MCP tools and their transports.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlguard/cmd/server/config"
	"github.com/TFMV/sqlguard/cmd/server/middleware"
	"github.com/TFMV/sqlguard/pkg/handlers"
	"github.com/TFMV/sqlguard/pkg/infrastructure/metrics"
	"github.com/TFMV/sqlguard/pkg/infrastructure/pool"
	"github.com/TFMV/sqlguard/pkg/repositories"
	"github.com/TFMV/sqlguard/pkg/repositories/duckdb"
	"github.com/TFMV/sqlguard/pkg/repositories/postgres"
	"github.com/TFMV/sqlguard/pkg/repositories/sqlite"
	"github.com/TFMV/sqlguard/pkg/services"
)

// Name is the server name reported during MCP initialization.
const Name = "sqlguard"

// MetricsCollector is the collector every layer reports to through its
// adapter.
type MetricsCollector = metrics.Collector

// Timer represents a timing measurement.
type Timer = metrics.Timer

// Server is the MCP query tool server.
type Server struct {
	config    *config.Config
	logger    zerolog.Logger
	collector MetricsCollector

	repo    repositories.QueryRepository
	handler handlers.QueryHandler
	mcp     *mcpserver.MCPServer

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// New opens the configured gateway and assembles the server around it.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector MetricsCollector, version string) (*Server, error) {
	repo, err := OpenRepository(ctx, cfg.Database, logger, collector)
	if err != nil {
		return nil, err
	}

	srv, err := NewWithRepository(cfg, repo, logger, collector, version)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithRepository assembles the server around an already open gateway.
// The server owns repo from here on and closes it in Close.
func NewWithRepository(cfg *config.Config, repo repositories.QueryRepository, logger zerolog.Logger, collector MetricsCollector, version string) (*Server, error) {
	policy, err := cfg.PolicyConfig()
	if err != nil {
		return nil, err
	}

	queryService := services.NewQueryService(
		repo,
		policy,
		&loggerAdapter{logger: logger.With().Str("component", "query_service").Logger()},
		&serviceMetricsAdapter{collector: collector},
	)

	queryHandler := handlers.NewQueryHandler(
		queryService,
		repo.Driver(),
		&loggerAdapter{logger: logger.With().Str("component", "query_handler").Logger()},
		&handlerMetricsAdapter{collector: collector},
	)

	recoverMW := middleware.NewRecoveryMiddleware(logger.With().Str("component", "recovery_middleware").Logger())
	logMW := middleware.NewLoggingMiddleware(logger.With().Str("component", "logging_middleware").Logger())
	metricsMW := middleware.NewMetricsMiddleware(&middlewareMetricsAdapter{collector: collector})

	// registration order is outermost first
	mcp := mcpserver.NewMCPServer(Name, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithToolHandlerMiddleware(recoverMW.ToolMiddleware()),
		mcpserver.WithToolHandlerMiddleware(logMW.ToolMiddleware()),
		mcpserver.WithToolHandlerMiddleware(metricsMW.ToolMiddleware()),
		mcpserver.WithInstructions(instructions(policy)),
	)
	mcp.AddTool(queryHandler.QueryTool(), queryHandler.HandleQuery)
	mcp.AddTool(queryHandler.PolicyTool(), queryHandler.HandlePolicy)

	logger.Info().
		Str("driver", repo.Driver()).
		Str("access_mode", policy.AccessMode.String()).
		Int("max_page_size", policy.MaxPageSize).
		Int("default_page_size", policy.DefaultPageSize).
		Bool("auto_limit", policy.AutoLimitEnabled).
		Int("max_payload_bytes", policy.MaxPayloadBytes).
		Msg("Query tools registered")

	return &Server{
		config:    cfg,
		logger:    logger,
		collector: collector,
		repo:      repo,
		handler:   queryHandler,
		mcp:       mcp,
	}, nil
}

// NewCheckService builds a query pipeline without a gateway. Only Check and
// Policy may be called on it.
func NewCheckService(policy services.PolicyConfig, logger zerolog.Logger) services.QueryService {
	return services.NewQueryService(
		nil,
		policy,
		&loggerAdapter{logger: logger.With().Str("component", "query_service").Logger()},
		&serviceMetricsAdapter{collector: metrics.NewNoOpCollector()},
	)
}

// OpenRepository opens the execution gateway named by cfg.Driver.
func OpenRepository(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger, collector MetricsCollector) (repositories.QueryRepository, error) {
	logger = logger.With().Str("component", "gateway").Logger()

	poolCfg := pool.Config{
		DSN:                  cfg.DSN,
		MaxOpenConnections:   cfg.MaxOpenConns,
		MaxIdleConnections:   cfg.MaxIdleConns,
		ConnMaxLifetime:      cfg.ConnMaxLifetime,
		ConnMaxIdleTime:      cfg.ConnMaxIdleTime,
		HealthCheckPeriod:    cfg.HealthCheck,
		ConnectionTimeout:    cfg.ConnectTimeout,
		EnableCircuitBreaker: cfg.CircuitBreaker,
		SlowQueryThreshold:   cfg.SlowQuery,
	}

	switch cfg.Driver {
	case postgres.DriverName:
		return postgres.Open(ctx, postgres.Config{
			DSN:               cfg.DSN,
			MaxConns:          int32(cfg.MaxOpenConns),
			MaxConnLifetime:   cfg.ConnMaxLifetime,
			MaxConnIdleTime:   cfg.ConnMaxIdleTime,
			HealthCheckPeriod: cfg.HealthCheck,
			ConnectTimeout:    cfg.ConnectTimeout,
			QueryTimeout:      cfg.QueryTimeout,
			SlowQuery:         cfg.SlowQuery,
		}, logger)
	case duckdb.DriverName:
		return duckdb.Open(duckdb.Config{
			Pool:                poolCfg,
			MotherDuckToken:     cfg.MotherDuckToken,
			QueryTimeout:        cfg.QueryTimeout,
			AllowExternalAccess: cfg.AllowExternalAccess,
			Metrics:             &poolMetricsAdapter{collector: collector, driver: duckdb.DriverName},
		}, logger)
	case sqlite.DriverName:
		return sqlite.Open(sqlite.Config{
			Pool:         poolCfg,
			QueryTimeout: cfg.QueryTimeout,
			Metrics:      &poolMetricsAdapter{collector: collector, driver: sqlite.DriverName},
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Serve runs the configured transport until ctx is canceled or the
// transport fails.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	switch s.config.Server.Transport {
	case "http":
		return s.ServeHTTP(ctx)
	default:
		return s.ServeStdio(ctx, stdin, stdout)
	}
}

// ServeStdio speaks MCP over the given streams. It returns nil at EOF.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger.With().Str("component", "stdio").Logger(), "", 0))

	s.logger.Info().Msg("Serving MCP over stdio")
	err := stdio.Listen(ctx, stdin, stdout)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Handler returns the HTTP handler of the streamable HTTP transport: the MCP
// endpoint behind authentication plus an unauthenticated /healthz.
func (s *Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath(s.config.Server.EndpointPath),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id := r.Header.Get("X-Request-Id"); id != "" {
				ctx = handlers.WithRequestID(ctx, id)
			}
			return ctx
		}),
	)

	authMW := middleware.NewAuthMiddleware(s.config.Auth, s.logger.With().Str("component", "auth_middleware").Logger())

	mux := http.NewServeMux()
	mux.Handle(s.config.Server.EndpointPath, authMW.Handler(streamable))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ServeHTTP speaks MCP over streamable HTTP on the configured address.
func (s *Server) ServeHTTP(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return s.serveListener(ctx, listener)
}

func (s *Server) serveListener(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return fmt.Errorf("server is closed")
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	serverErrCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("address", listener.Addr().String()).
			Str("endpoint", s.config.Server.EndpointPath).
			Bool("auth", s.config.Auth.Enabled).
			Msg("Serving MCP over streamable HTTP")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
		close(serverErrCh)
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-serverErrCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "driver": s.repo.Driver()}
	if err := s.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		s.logger.Warn().Err(err).Msg("Health check failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Close shuts down the HTTP transport, if running, and the gateway.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error shutting down HTTP transport")
		}
	}

	if err := s.repo.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing gateway")
		return err
	}

	s.logger.Info().Msg("Query tool server closed")
	return nil
}

func instructions(policy services.PolicyConfig) string {
	text := "Use the query tool to run one SQL statement at a time with $1-style placeholders for values. " +
		"Read results are paginated: pass pageSize and offset, and follow pagination.hasMore."
	if policy.AccessMode == services.ReadOnly {
		text += " The database is read-only; writes and DDL are rejected."
	}
	return text
}
