package pmem2

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

// Flags modify the persistence behaviour of the mem-ops.
type Flags uint32

const (
	// FlagNoDrain skips the final drain; the caller drains later.
	FlagNoDrain Flags = 1 << iota
	// FlagNonTemporal hints that the data will not be read back soon.
	FlagNonTemporal
	// FlagTemporal hints that the data will be read back soon.
	FlagTemporal
	// FlagWC hints write-combining stores.
	FlagWC
	// FlagWB hints write-back stores.
	FlagWB
	// FlagNoFlush skips the flush and the drain; the caller persists later.
	FlagNoFlush

	memFlagMask = FlagNoDrain | FlagNonTemporal | FlagTemporal | FlagWC | FlagWB | FlagNoFlush
)

func checkMemFlags(flags Flags) Flags {
	if flags&^memFlagMask != 0 {
		if debugChecks {
			panic(fmt.Sprintf("pmem2: unknown mem-op flags %#x", uint32(flags&^memFlagMask)))
		}
		flags &= memFlagMask
	}
	return flags
}

// afterStore makes a completed store durable according to flags. There is
// no error channel: a failed page flush is fatal.
//
// Go has no non-temporal store primitive, so the NT and WC hints produce
// cached stores that are flushed like temporal ones.
func (m *Mapping) afterStore(addr, n uintptr, flags Flags) {
	if flags&FlagNoFlush != 0 {
		return
	}
	if err := m.p.flush(m, addr, n); err != nil {
		panic(fmt.Sprintf("pmem2: flush of [%#x, %#x) failed: %v", addr, addr+n, err))
	}
	if flags&FlagNoDrain == 0 {
		m.p.drain()
	}
}

func (m *Mapping) dst(offset, n int) []byte {
	return m.Bytes()[offset : offset+n]
}

func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Memcpy copies src to the mapping at offset and persists it.
func (m *Mapping) Memcpy(offset int, src []byte, flags Flags) {
	flags = checkMemFlags(flags)
	d := m.dst(offset, len(src))
	copy(d, src)
	m.afterStore(sliceAddr(d), uintptr(len(d)), flags)
}

// Memmove is Memcpy for a src that may overlap the destination.
func (m *Mapping) Memmove(offset int, src []byte, flags Flags) {
	m.Memcpy(offset, src, flags)
}

// Memset fills n bytes at offset with c and persists them.
func (m *Mapping) Memset(offset int, c byte, n int, flags Flags) {
	flags = checkMemFlags(flags)
	d := m.dst(offset, n)
	fill(d, c)
	m.afterStore(sliceAddr(d), uintptr(n), flags)
}

// persistFuture persists the destination of a mover operation once the
// operation completes.
type persistFuture struct {
	inner Future
	m     *Mapping
	dst   []byte
	flags Flags

	once sync.Once
	err  error
}

func (f *persistFuture) finish(opErr error) error {
	f.once.Do(func() {
		if opErr != nil {
			f.err = opErr
			return
		}
		if f.m.mover.Durable() || f.flags&FlagNoFlush != 0 || len(f.dst) == 0 {
			return
		}
		if err := f.m.p.flush(f.m, sliceAddr(f.dst), uintptr(len(f.dst))); err != nil {
			f.err = err
			return
		}
		if f.flags&FlagNoDrain == 0 {
			f.m.p.drain()
		}
	})
	return f.err
}

func (f *persistFuture) Poll() (bool, error) {
	done, err := f.inner.Poll()
	if !done {
		return false, nil
	}
	return true, f.finish(err)
}

func (f *persistFuture) Wait(ctx context.Context) error {
	err := f.inner.Wait(ctx)
	if done, opErr := f.inner.Poll(); done {
		return f.finish(opErr)
	}
	return err
}

func (m *Mapping) async(d []byte, flags Flags, inner Future) Future {
	return &persistFuture{inner: inner, m: m, dst: d, flags: flags}
}

// MemcpyAsync copies src to offset through the mapping's mover. The
// returned future completes after the data is persisted.
func (m *Mapping) MemcpyAsync(offset int, src []byte, flags Flags) Future {
	flags = checkMemFlags(flags)
	d := m.dst(offset, len(src))
	return m.async(d, flags, m.mover.Memcpy(d, src))
}

// MemmoveAsync is MemcpyAsync for overlapping ranges.
func (m *Mapping) MemmoveAsync(offset int, src []byte, flags Flags) Future {
	flags = checkMemFlags(flags)
	d := m.dst(offset, len(src))
	return m.async(d, flags, m.mover.Memmove(d, src))
}

// MemsetAsync fills n bytes at offset with c through the mapping's mover.
func (m *Mapping) MemsetAsync(offset int, c byte, n int, flags Flags) Future {
	flags = checkMemFlags(flags)
	d := m.dst(offset, n)
	return m.async(d, flags, m.mover.Memset(d, c))
}
