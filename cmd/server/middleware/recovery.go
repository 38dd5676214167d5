package middleware

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// RecoveryMiddleware converts handler panics into tool error results.
type RecoveryMiddleware struct {
	logger zerolog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger zerolog.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger,
	}
}

// ToolMiddleware returns the tool handler middleware for panic recovery.
func (m *RecoveryMiddleware) ToolMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					m.handlePanic(r, req.Params.Name)
					result = mcp.NewToolResultError(`{"error":"internal server error","code":"INTERNAL_ERROR"}`)
					err = nil
				}
			}()

			return next(ctx, req)
		}
	}
}

// handlePanic logs panic information.
func (m *RecoveryMiddleware) handlePanic(r interface{}, tool string) {
	stack := debug.Stack()

	m.logger.Error().
		Str("tool", tool).
		Interface("panic", r).
		Str("stack", string(stack)).
		Msg("Panic recovered")

	fmt.Fprintf(stderr, "PANIC in %s: %v\n%s\n", tool, r, stack)
}

// stderr is used for panic output
var stderr io.Writer = os.Stderr
