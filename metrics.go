package feather

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordAdd is called after each add operation.
	RecordAdd(duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of neighbors requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordLink is called after each link operation.
	// created is false when the call was an idempotent no-op.
	RecordLink(created bool)

	// RecordContextChain is called after each context chain query.
	RecordContextChain(duration time.Duration)

	// RecordSave is called after each save operation.
	RecordSave(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(time.Duration, error)         {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordLink(bool)                        {}
func (NoopMetricsCollector) RecordContextChain(time.Duration)       {}
func (NoopMetricsCollector) RecordSave(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount          atomic.Int64
	AddErrors         atomic.Int64
	AddTotalNanos     atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchTotalNanos  atomic.Int64
	LinkCount         atomic.Int64
	LinkCreated       atomic.Int64
	ContextChainCount atomic.Int64
	SaveCount         atomic.Int64
	SaveErrors        atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordLink implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLink(created bool) {
	b.LinkCount.Add(1)
	if created {
		b.LinkCreated.Add(1)
	}
}

// RecordContextChain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordContextChain(duration time.Duration) {
	b.ContextChainCount.Add(1)
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, err error) {
	b.SaveCount.Add(1)
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:          b.AddCount.Load(),
		AddErrors:         b.AddErrors.Load(),
		AddAvgNanos:       avg(b.AddTotalNanos.Load(), b.AddCount.Load()),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchAvgNanos:    avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		LinkCount:         b.LinkCount.Load(),
		LinkCreated:       b.LinkCreated.Load(),
		ContextChainCount: b.ContextChainCount.Load(),
		SaveCount:         b.SaveCount.Load(),
		SaveErrors:        b.SaveErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount          int64
	AddErrors         int64
	AddAvgNanos       int64
	SearchCount       int64
	SearchErrors      int64
	SearchAvgNanos    int64
	LinkCount         int64
	LinkCreated       int64
	ContextChainCount int64
	SaveCount         int64
	SaveErrors        int64
}
