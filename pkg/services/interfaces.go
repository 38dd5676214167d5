// Package services contains business logic implementations.
package services

import (
	"context"
	"time"

	"github.com/TFMV/sqlguard/pkg/models"
)

// QueryService runs one query tool call through the safety pipeline.
type QueryService interface {
	// Execute classifies, validates, sanitizes, paginates, executes and
	// governs the request. Policy, sanitizer and governor rejections are
	// returned as a rejected outcome; execution failures as an error.
	Execute(ctx context.Context, req *models.QueryRequest) (*models.ExecutionOutcome, error)
	// Check classifies and validates sql without executing it.
	Check(sql string) (StatementKind, error)
	// Policy returns the configuration the service was built with.
	Policy() PolicyConfig
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
