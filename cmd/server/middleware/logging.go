package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlguard/pkg/handlers"
)

// LoggingMiddleware logs every tool call and tags it with a request id.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger,
	}
}

// ToolMiddleware returns the tool handler middleware. Arguments are never
// logged since they carry parameter values.
func (m *LoggingMiddleware) ToolMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()

			requestID := handlers.RequestIDFromContext(ctx)
			if requestID == "" {
				requestID = uuid.NewString()
				ctx = handlers.WithRequestID(ctx, requestID)
			}
			user, _ := GetUser(ctx)

			result, err := next(ctx, req)

			duration := time.Since(start)
			event := m.logger.Info()
			switch {
			case err != nil:
				event = m.logger.Error().Err(err)
			case result != nil && result.IsError:
				event = m.logger.Warn()
			}

			event.
				Str("tool", req.Params.Name).
				Str("request_id", requestID).
				Str("user", user).
				Dur("duration", duration).
				Bool("tool_error", result != nil && result.IsError).
				Msg("Tool call")

			return result, err
		}
	}
}
