// Package resource bounds the work an asynchronous mover performs.
//
// The Controller manages three limits:
//
//   - In-flight bytes: total size of submitted, unfinished operations (fail-fast)
//   - Workers: operations executing at the same time (blocking)
//   - IO: copy throughput in bytes per second (token bucket)
//
// # Usage
//
//	rc := resource.NewController(resource.Config{
//	    MaxWorkers:         4,
//	    MaxInFlightBytes:   256 << 20,
//	    IOLimitBytesPerSec: 1 << 30,
//	})
//
//	if err := rc.AcquireInFlight(int64(len(src))); err != nil {
//	    return err // ErrInFlightLimitExceeded
//	}
//	defer rc.ReleaseInFlight(int64(len(src)))
//
//	if err := rc.AcquireWorker(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseWorker()
//
//	if err := rc.AcquireIO(ctx, len(src)); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
