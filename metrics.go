package vqgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems. See
// package metrics/prometheus for a Prometheus implementation.
type MetricsCollector interface {
	// RecordForward is called after each forward pass.
	// vectors is the number of grouped vectors quantized, duration is the
	// time taken, err is nil if successful.
	RecordForward(vectors int, duration time.Duration, err error)

	// RecordReplacement is called after dead codes were replaced.
	RecordReplacement(codes int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordForward(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordReplacement(int)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ForwardCount      atomic.Int64
	ForwardErrors     atomic.Int64
	ForwardVectors    atomic.Int64
	ForwardTotalNanos atomic.Int64
	Replacements      atomic.Int64
	ReplacedCodes     atomic.Int64
}

// RecordForward implements MetricsCollector.
func (b *BasicMetricsCollector) RecordForward(vectors int, duration time.Duration, err error) {
	b.ForwardCount.Add(1)
	b.ForwardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ForwardErrors.Add(1)
		return
	}
	b.ForwardVectors.Add(int64(vectors))
}

// RecordReplacement implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReplacement(codes int) {
	b.Replacements.Add(1)
	b.ReplacedCodes.Add(int64(codes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ForwardCount:    b.ForwardCount.Load(),
		ForwardErrors:   b.ForwardErrors.Load(),
		ForwardVectors:  b.ForwardVectors.Load(),
		ForwardAvgNanos: b.getAvgForwardNanos(),
		Replacements:    b.Replacements.Load(),
		ReplacedCodes:   b.ReplacedCodes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgForwardNanos() int64 {
	count := b.ForwardCount.Load()
	if count == 0 {
		return 0
	}
	return b.ForwardTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ForwardCount    int64
	ForwardErrors   int64
	ForwardVectors  int64
	ForwardAvgNanos int64
	Replacements    int64
	ReplacedCodes   int64
}
