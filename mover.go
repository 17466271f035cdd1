package pmem2

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pmem/pmdk-sub006/internal/resource"
)

// Future is the handle of a data-mover operation.
type Future interface {
	// Poll reports whether the operation finished, and its error if so.
	Poll() (done bool, err error)
	// Wait blocks until the operation finishes or ctx is done.
	Wait(ctx context.Context) error
}

// Mover copies and fills memory on behalf of a mapping's async mem-ops.
// A durable mover guarantees its writes reach the persistence domain, so the
// mapping skips its own flush afterwards.
type Mover interface {
	Memcpy(dst, src []byte) Future
	Memmove(dst, src []byte) Future
	Memset(dst []byte, c byte) Future
	Durable() bool
	Close() error
}

type doneFuture struct {
	err error
}

func (f doneFuture) Poll() (bool, error) { return true, f.err }
func (f doneFuture) Wait(context.Context) error { return f.err }

func fill(dst []byte, c byte) {
	if len(dst) == 0 {
		return
	}
	dst[0] = c
	for i := 1; i < len(dst); i *= 2 {
		copy(dst[i:], dst[:i])
	}
}

// syncMover runs every operation on the calling goroutine. It is the default
// mover of a mapping.
type syncMover struct {
	closed atomic.Bool
}

// NewSyncMover returns a mover that completes each operation before
// returning its future.
func NewSyncMover() Mover {
	return &syncMover{}
}

func (s *syncMover) Memcpy(dst, src []byte) Future {
	if s.closed.Load() {
		return doneFuture{err: ErrMoverClosed}
	}
	copy(dst, src)
	return doneFuture{}
}

// Memmove is Memcpy; copy already handles overlap.
func (s *syncMover) Memmove(dst, src []byte) Future {
	return s.Memcpy(dst, src)
}

func (s *syncMover) Memset(dst []byte, c byte) Future {
	if s.closed.Load() {
		return doneFuture{err: ErrMoverClosed}
	}
	fill(dst, c)
	return doneFuture{}
}

func (s *syncMover) Durable() bool { return false }

func (s *syncMover) Close() error {
	s.closed.Store(true)
	return nil
}

// AsyncMoverConfig bounds the work of an async mover.
type AsyncMoverConfig struct {
	// Workers is the number of operations executing at once. Default 1.
	Workers int64
	// MaxInFlightBytes caps submitted but unfinished bytes; further
	// submissions fail with ErrMoverBusy. 0 means unlimited.
	MaxInFlightBytes int64
	// BytesPerSecond throttles copy throughput. 0 means unlimited.
	BytesPerSecond int64
}

type asyncMover struct {
	ctrl   *resource.Controller
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncMover returns a mover that runs operations on background
// goroutines. Close cancels queued operations and waits for running ones.
func NewAsyncMover(cfg AsyncMoverConfig) Mover {
	ctx, cancel := context.WithCancel(context.Background())
	return &asyncMover{
		ctrl: resource.NewController(resource.Config{
			MaxInFlightBytes:   cfg.MaxInFlightBytes,
			MaxWorkers:         cfg.Workers,
			IOLimitBytesPerSec: cfg.BytesPerSecond,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

type asyncFuture struct {
	done chan struct{}
	err  error
}

func (f *asyncFuture) complete(err error) {
	f.err = err
	close(f.done)
}

func (f *asyncFuture) Poll() (bool, error) {
	select {
	case <-f.done:
		return true, f.err
	default:
		return false, nil
	}
}

func (f *asyncFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *asyncMover) submit(n int, op func()) Future {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return doneFuture{err: ErrMoverClosed}
	}
	if err := a.ctrl.AcquireInFlight(int64(n)); err != nil {
		return doneFuture{err: &Error{Code: CodeMoverBusy, Msg: ErrMoverBusy.Msg, Err: err}}
	}

	f := &asyncFuture{done: make(chan struct{})}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.ctrl.ReleaseInFlight(int64(n))

		if err := a.ctrl.AcquireWorker(a.ctx); err != nil {
			f.complete(&Error{Code: CodeMoverClosed, Msg: ErrMoverClosed.Msg, Err: err})
			return
		}
		defer a.ctrl.ReleaseWorker()

		if err := a.ctrl.AcquireIO(a.ctx, n); err != nil {
			f.complete(&Error{Code: CodeMoverClosed, Msg: ErrMoverClosed.Msg, Err: err})
			return
		}
		op()
		f.complete(nil)
	}()
	return f
}

func (a *asyncMover) Memcpy(dst, src []byte) Future {
	return a.submit(min(len(dst), len(src)), func() { copy(dst, src) })
}

func (a *asyncMover) Memmove(dst, src []byte) Future {
	return a.Memcpy(dst, src)
}

func (a *asyncMover) Memset(dst []byte, c byte) Future {
	return a.submit(len(dst), func() { fill(dst, c) })
}

func (a *asyncMover) Durable() bool { return false }

func (a *asyncMover) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	return nil
}
