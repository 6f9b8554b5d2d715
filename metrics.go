package framealloc

import (
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting allocator metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// RecordAlloc and RecordFree run on the allocation hot path; implementations
// must be cheap and must not block.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    allocs    prometheus.Counter
//	    exhausted prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordAlloc(err error) {
//	    if err != nil {
//	        p.exhausted.Inc()
//	        return
//	    }
//	    p.allocs.Inc()
//	}
type MetricsCollector interface {
	// RecordAlloc is called after each allocation attempt.
	// err is nil on success, ErrOutOfMemory when the free list was empty.
	RecordAlloc(err error)

	// RecordFree is called after each frame is returned.
	RecordFree()

	// RecordMap is called after the backing region is mapped (or fails to map).
	RecordMap(bytes int, err error)

	// RecordUnmap is called after the backing region is released.
	RecordUnmap(bytes int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(error)      {}
func (NoopMetricsCollector) RecordFree()            {}
func (NoopMetricsCollector) RecordMap(int, error)   {}
func (NoopMetricsCollector) RecordUnmap(int, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount    atomic.Int64
	AllocFailures atomic.Int64
	FreeCount     atomic.Int64
	MapCount      atomic.Int64
	MapErrors     atomic.Int64
	MappedBytes   atomic.Int64
	UnmapCount    atomic.Int64
	UnmapErrors   atomic.Int64
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(err error) {
	if err != nil {
		b.AllocFailures.Add(1)
		return
	}
	b.AllocCount.Add(1)
}

// RecordFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFree() {
	b.FreeCount.Add(1)
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(bytes int, err error) {
	b.MapCount.Add(1)
	if err != nil {
		b.MapErrors.Add(1)
		return
	}
	b.MappedBytes.Add(int64(bytes))
}

// RecordUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmap(bytes int, err error) {
	b.UnmapCount.Add(1)
	if err != nil {
		b.UnmapErrors.Add(1)
		return
	}
	b.MappedBytes.Add(-int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocCount:    b.AllocCount.Load(),
		AllocFailures: b.AllocFailures.Load(),
		FreeCount:     b.FreeCount.Load(),
		MapCount:      b.MapCount.Load(),
		MapErrors:     b.MapErrors.Load(),
		MappedBytes:   b.MappedBytes.Load(),
		UnmapCount:    b.UnmapCount.Load(),
		UnmapErrors:   b.UnmapErrors.Load(),
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocCount    int64
	AllocFailures int64
	FreeCount     int64
	MapCount      int64
	MapErrors     int64
	MappedBytes   int64
	UnmapCount    int64
	UnmapErrors   int64
}
