package pmem2

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// MetricsCollector receives one call per completed pmem2 operation.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package ships a client_golang implementation.
type MetricsCollector interface {
	// RecordMap is called after each Map. length is the mapped length, zero
	// when the map failed before it was resolved.
	RecordMap(length uint64, duration time.Duration, err error)

	// RecordUnmap is called after each Mapping.Delete.
	RecordUnmap(duration time.Duration, err error)

	// RecordPersist is called after each Mapping.Persist.
	RecordPersist(bytes uint64, duration time.Duration, err error)

	// RecordFlush is called after each Mapping.Flush.
	RecordFlush(bytes uint64, duration time.Duration, err error)

	// RecordDeepFlush is called after each Mapping.DeepFlush.
	RecordDeepFlush(bytes uint64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMap(uint64, time.Duration, error)       {}
func (NoopMetricsCollector) RecordUnmap(time.Duration, error)             {}
func (NoopMetricsCollector) RecordPersist(uint64, time.Duration, error)   {}
func (NoopMetricsCollector) RecordFlush(uint64, time.Duration, error)     {}
func (NoopMetricsCollector) RecordDeepFlush(uint64, time.Duration, error) {}

const (
	histMinNanos = 1
	histMaxNanos = int64(10 * time.Second)
	histSigFigs  = 3
)

// BasicMetricsCollector provides simple in-memory metrics collection with
// persist latency percentiles. The zero value is ready to use.
type BasicMetricsCollector struct {
	MapCount        atomic.Int64
	MapErrors       atomic.Int64
	MappedBytes     atomic.Int64
	UnmapCount      atomic.Int64
	UnmapErrors     atomic.Int64
	PersistCount    atomic.Int64
	PersistErrors   atomic.Int64
	PersistBytes    atomic.Int64
	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	DeepFlushCount  atomic.Int64
	DeepFlushErrors atomic.Int64

	mu      sync.Mutex
	persist *hdrhistogram.Histogram
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(length uint64, _ time.Duration, err error) {
	b.MapCount.Add(1)
	if err != nil {
		b.MapErrors.Add(1)
		return
	}
	b.MappedBytes.Add(int64(length))
}

// RecordUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmap(_ time.Duration, err error) {
	b.UnmapCount.Add(1)
	if err != nil {
		b.UnmapErrors.Add(1)
	}
}

// RecordPersist implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPersist(bytes uint64, duration time.Duration, err error) {
	b.PersistCount.Add(1)
	if err != nil {
		b.PersistErrors.Add(1)
		return
	}
	b.PersistBytes.Add(int64(bytes))

	b.mu.Lock()
	if b.persist == nil {
		b.persist = hdrhistogram.New(histMinNanos, histMaxNanos, histSigFigs)
	}
	// Out-of-range samples are dropped.
	_ = b.persist.RecordValue(duration.Nanoseconds())
	b.mu.Unlock()
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(_ uint64, _ time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordDeepFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeepFlush(_ uint64, _ time.Duration, err error) {
	b.DeepFlushCount.Add(1)
	if err != nil {
		b.DeepFlushErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		MapCount:        b.MapCount.Load(),
		MapErrors:       b.MapErrors.Load(),
		MappedBytes:     b.MappedBytes.Load(),
		UnmapCount:      b.UnmapCount.Load(),
		UnmapErrors:     b.UnmapErrors.Load(),
		PersistCount:    b.PersistCount.Load(),
		PersistErrors:   b.PersistErrors.Load(),
		PersistBytes:    b.PersistBytes.Load(),
		FlushCount:      b.FlushCount.Load(),
		FlushErrors:     b.FlushErrors.Load(),
		DeepFlushCount:  b.DeepFlushCount.Load(),
		DeepFlushErrors: b.DeepFlushErrors.Load(),
	}

	b.mu.Lock()
	if b.persist != nil && b.persist.TotalCount() > 0 {
		s.PersistP50 = time.Duration(b.persist.ValueAtQuantile(50))
		s.PersistP99 = time.Duration(b.persist.ValueAtQuantile(99))
		s.PersistMax = time.Duration(b.persist.Max())
	}
	b.mu.Unlock()
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MapCount        int64
	MapErrors       int64
	MappedBytes     int64
	UnmapCount      int64
	UnmapErrors     int64
	PersistCount    int64
	PersistErrors   int64
	PersistBytes    int64
	FlushCount      int64
	FlushErrors     int64
	DeepFlushCount  int64
	DeepFlushErrors int64
	PersistP50      time.Duration
	PersistP99      time.Duration
	PersistMax      time.Duration
}
