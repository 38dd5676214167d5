package middleware

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MetricsCollector defines the interface for collecting metrics.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() float64
}

// MetricsMiddleware provides metrics collection middleware.
type MetricsMiddleware struct {
	collector MetricsCollector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{
		collector: collector,
	}
}

// ToolMiddleware returns the tool handler middleware that counts calls and
// results per tool.
func (m *MetricsMiddleware) ToolMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tool := req.Params.Name
			timer := m.collector.StartTimer("tool_call_duration_seconds")
			defer timer.Stop()

			m.collector.IncrementCounter("tool_calls_total", "tool", tool)

			result, err := next(ctx, req)

			status := "ok"
			switch {
			case err != nil:
				status = "protocol_error"
			case result != nil && result.IsError:
				status = "tool_error"
			}
			m.collector.IncrementCounter("tool_responses_total", "tool", tool, "status", status)

			return result, err
		}
	}
}
