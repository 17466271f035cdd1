// Package prometheus exports pmem2 operation metrics through
// prometheus/client_golang.
//
//	reg := prometheus.NewRegistry()
//	m, err := pmem2.Map(cfg, src, pmem2.WithMetrics(pmem2prom.New(reg)))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	pmem2 "github.com/pmem/pmdk-sub006"
)

const (
	namespace = "pmem2"

	resultOK    = "ok"
	resultError = "error"
)

var latencyBuckets = prometheus.ExponentialBuckets(1e-7, 4, 12) // 100ns .. ~0.4s

// Collector implements pmem2.MetricsCollector.
type Collector struct {
	ops          *prometheus.CounterVec
	seconds      *prometheus.HistogramVec
	mappedBytes  prometheus.Counter
	persistBytes prometheus.Counter
	flushBytes   prometheus.Counter
}

var _ pmem2.MetricsCollector = (*Collector)(nil)

// New registers the pmem2 metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed pmem2 operations by kind and result.",
		}, []string{"op", "result"}),
		seconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "Latency of pmem2 operations.",
			Buckets:   latencyBuckets,
		}, []string{"op"}),
		mappedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapped_bytes_total",
			Help:      "Bytes mapped by successful Map calls.",
		}),
		persistBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_bytes_total",
			Help:      "Bytes made durable by Persist.",
		}),
		flushBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_bytes_total",
			Help:      "Bytes passed to Flush and DeepFlush.",
		}),
	}
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	c.ops.WithLabelValues(op, result).Inc()
	c.seconds.WithLabelValues(op).Observe(d.Seconds())
}

// RecordMap implements pmem2.MetricsCollector.
func (c *Collector) RecordMap(length uint64, d time.Duration, err error) {
	c.observe("map", d, err)
	if err == nil {
		c.mappedBytes.Add(float64(length))
	}
}

// RecordUnmap implements pmem2.MetricsCollector.
func (c *Collector) RecordUnmap(d time.Duration, err error) {
	c.observe("unmap", d, err)
}

// RecordPersist implements pmem2.MetricsCollector.
func (c *Collector) RecordPersist(bytes uint64, d time.Duration, err error) {
	c.observe("persist", d, err)
	if err == nil {
		c.persistBytes.Add(float64(bytes))
	}
}

// RecordFlush implements pmem2.MetricsCollector.
func (c *Collector) RecordFlush(bytes uint64, d time.Duration, err error) {
	c.observe("flush", d, err)
	if err == nil {
		c.flushBytes.Add(float64(bytes))
	}
}

// RecordDeepFlush implements pmem2.MetricsCollector.
func (c *Collector) RecordDeepFlush(bytes uint64, d time.Duration, err error) {
	c.observe("deep_flush", d, err)
	if err == nil {
		c.flushBytes.Add(float64(bytes))
	}
}
