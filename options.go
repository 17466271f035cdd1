package pmem2

import (
	"log/slog"

	"github.com/pmem/pmdk-sub006/internal/flush"
	"github.com/pmem/pmdk-sub006/internal/mmap"
	"github.com/pmem/pmdk-sub006/internal/sysfs"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	mover            Mover
	deepFlusher      DeepFlusher
	platform         mmap.Platform
	flusher          *flush.Flusher
	sysfs            *sysfs.FS

	// nil means probe.
	isPmem    *bool
	autoFlush *bool
}

// Option configures Map, MapFromExisting and NewVMReservation.
type Option func(*options)

// WithLogger configures structured logging. Pass nil for the package default
// (see SetDefaultLogger).
//
// Example with JSON logging:
//
//	m, err := pmem2.Map(cfg, src, pmem2.WithLogger(pmem2.NewJSONLogger(slog.LevelDebug)))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetrics configures a metrics collector. Pass nil to disable metrics.
//
//	metrics := &pmem2.BasicMetricsCollector{}
//	m, _ := pmem2.Map(cfg, src, pmem2.WithMetrics(metrics))
//	_ = m.Persist(0, 4096)
//	fmt.Println(metrics.GetStats().PersistP99)
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithMover attaches a caller-owned data mover. The mapping uses it for the
// async mem-ops and never closes it.
func WithMover(m Mover) Option {
	return func(o *options) {
		o.mover = m
	}
}

// WithDeepFlusher replaces the default deep-flush collaborator.
func WithDeepFlusher(d DeepFlusher) Option {
	return func(o *options) {
		o.deepFlusher = d
	}
}

// WithCapabilities overrides the media and platform probes: isPmem claims
// the mapped medium is persistent memory, autoFlush claims the CPU caches
// are inside the power-fail domain (eADR).
func WithCapabilities(isPmem, autoFlush bool) Option {
	return func(o *options) {
		o.isPmem = &isPmem
		o.autoFlush = &autoFlush
	}
}

// WithSysfsRoot points NVDIMM attribute lookups at root instead of /sys.
func WithSysfsRoot(root string) Option {
	return func(o *options) {
		o.sysfs = sysfs.New(root)
	}
}

func withPlatform(p mmap.Platform) Option {
	return func(o *options) {
		o.platform = p
	}
}

func withFlusher(f *flush.Flusher) Option {
	return func(o *options) {
		o.flusher = f
	}
}

var defaultSysfs = sysfs.New("")

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.platform == nil {
		o.platform = nativePlatform()
	}
	if o.flusher == nil {
		o.flusher = flush.Default()
	}
	if o.sysfs == nil {
		o.sysfs = defaultSysfs
	}
	if o.deepFlusher == nil {
		o.deepFlusher = &sysfsDeepFlusher{fs: o.sysfs}
	}
	return o
}
