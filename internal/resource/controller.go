package resource

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrInFlightLimitExceeded is returned when a bulk operation would exceed the
// in-flight byte budget.
var ErrInFlightLimitExceeded = errors.New("in-flight byte limit exceeded")

// Config holds mover resource limits.
type Config struct {
	// MaxInFlightBytes caps the bytes of all submitted but unfinished
	// operations. If 0, unlimited.
	MaxInFlightBytes int64

	// MaxWorkers is the maximum number of operations executing at once.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec is the maximum copy throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller governs how much work a mover runs concurrently.
type Controller struct {
	cfg Config

	// In-flight bytes
	inflightSem *semaphore.Weighted // nil if unlimited

	// Concurrency
	workerSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	c := &Controller{
		cfg:       cfg,
		workerSem: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.MaxInFlightBytes > 0 {
		c.inflightSem = semaphore.NewWeighted(cfg.MaxInFlightBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// AcquireInFlight reserves bytes of the in-flight budget.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireInFlight(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.inflightSem != nil && !c.inflightSem.TryAcquire(bytes) {
		return ErrInFlightLimitExceeded
	}
	return nil
}

// ReleaseInFlight returns bytes to the in-flight budget.
func (c *Controller) ReleaseInFlight(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.inflightSem != nil {
		c.inflightSem.Release(bytes)
	}
}

// AcquireWorker reserves an execution slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workerSem.Acquire(ctx, 1)
}

// ReleaseWorker releases an execution slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workerSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the burst are split into burst-sized waits.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
