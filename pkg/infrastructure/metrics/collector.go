// Package metrics provides metrics collection for the query tool server.
//
// Metric names are given without the Namespace prefix. Labels are passed as
// alternating name/value pairs, e.g. IncrementCounter("rejections_total",
// "reason", "read_only"); a trailing unpaired label is ignored.
package metrics

import (
	"time"
)

// Collector records pipeline, tool and pool metrics.
type Collector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	// StartTimer starts measuring name; the value is recorded on Stop.
	StartTimer(name string) Timer
}

// Timer represents a running duration measurement.
type Timer interface {
	// Stop records the measurement and returns the elapsed seconds.
	Stop() float64
}

// NoOpCollector discards every observation. Timers still measure so callers
// can log durations with metrics disabled.
type NoOpCollector struct{}

// NewNoOpCollector creates a collector for metrics.enabled=false.
func NewNoOpCollector() Collector {
	return NoOpCollector{}
}

func (NoOpCollector) IncrementCounter(string, ...string)         {}
func (NoOpCollector) RecordHistogram(string, float64, ...string) {}
func (NoOpCollector) RecordGauge(string, float64, ...string)     {}

func (NoOpCollector) StartTimer(string) Timer {
	return stopwatch(time.Now())
}

// stopwatch is a Timer that only measures.
type stopwatch time.Time

func (s stopwatch) Stop() float64 {
	return time.Since(time.Time(s)).Seconds()
}
