// Package handlers contains the MCP tool handlers.
package handlers

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names.
const (
	QueryToolName  = "query"
	PolicyToolName = "policy"
)

// QueryHandler handles the query and policy tools.
type QueryHandler interface {
	// QueryTool returns the definition of the query tool.
	QueryTool() mcp.Tool

	// PolicyTool returns the definition of the policy tool.
	PolicyTool() mcp.Tool

	// HandleQuery validates argument shapes, runs the query pipeline and
	// renders the outcome. Failures are reported as tool error results,
	// never as protocol errors.
	HandleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

	// HandlePolicy reports the active access policy.
	HandlePolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines the metrics interface.
type MetricsCollector interface {
	IncrementCounter(name string, tags ...string)
	RecordHistogram(name string, value float64, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop()
}
