package pmem2

import (
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/pmem/pmdk-sub006/internal/flush"
	"github.com/pmem/pmdk-sub006/internal/mmap"
)

// AccessPattern provides hints to the kernel about how the data will be accessed.
type AccessPattern = mmap.AccessPattern

const (
	AccessDefault    = mmap.AccessDefault
	AccessSequential = mmap.AccessSequential
	AccessRandom     = mmap.AccessRandom
	AccessWillNeed   = mmap.AccessWillNeed
	AccessDontNeed   = mmap.AccessDontNeed
)

// PersistFunc makes [addr, addr+n) durable. The range may span several
// mappings.
type PersistFunc func(addr, n uintptr) error

// FlushFunc starts making [addr, addr+n) durable; a DrainFunc completes it.
type FlushFunc func(addr, n uintptr) error

// DrainFunc waits for preceding flushes.
type DrainFunc func()

// Mapping is a live mapping of a Source. Create it with Map or
// MapFromExisting and release it with Delete.
type Mapping struct {
	addr           uintptr
	contentLength  uint64
	reservedLength uint64 // 0 for MapFromExisting
	p              persister

	src Source
	fd  uintptr // duplicate owned by the mapping

	reservation       *VMReservation
	reservationOffset uint64

	mover     Mover
	ownsMover bool

	platform    mmap.Platform
	flusher     *flush.Flusher
	deepFlusher DeepFlusher
	logger      *Logger
	metrics     MetricsCollector

	mu      sync.Mutex
	deleted bool
}

// Address returns the first byte of the mapping.
func (m *Mapping) Address() uintptr {
	return m.addr
}

// Size returns the number of mapped source bytes.
func (m *Mapping) Size() uint64 {
	return m.contentLength
}

// StoreGranularity returns the effective granularity, which is never weaker
// than the one the config required.
func (m *Mapping) StoreGranularity() Granularity {
	return m.p.granularity()
}

// Source returns a snapshot of the source the mapping was created from.
func (m *Mapping) Source() Source {
	return m.src
}

// Reservation returns the reservation the mapping was placed in and its
// offset there, or nil.
func (m *Mapping) Reservation() (*VMReservation, uint64) {
	return m.reservation, m.reservationOffset
}

// Mover returns the mover used by the async mem-ops.
func (m *Mapping) Mover() Mover {
	return m.mover
}

// Bytes returns the mapped memory. The slice is invalid after Delete.
func (m *Mapping) Bytes() []byte {
	if m.contentLength == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(m.addr)), m.contentLength)
}

// PersistFunc returns the persist routine bound at map time.
func (m *Mapping) PersistFunc() PersistFunc {
	return func(addr, n uintptr) error {
		if err := m.p.flush(m, addr, n); err != nil {
			return err
		}
		m.p.drain()
		return nil
	}
}

// FlushFunc returns the flush routine bound at map time.
func (m *Mapping) FlushFunc() FlushFunc {
	return func(addr, n uintptr) error {
		return m.p.flush(m, addr, n)
	}
}

// DrainFunc returns the drain routine bound at map time.
func (m *Mapping) DrainFunc() DrainFunc {
	return m.p.drain
}

func (m *Mapping) span(offset, length uint64) (uintptr, error) {
	end := offset + length
	if end < offset || end > m.contentLength {
		return 0, newError(CodeOffsetOutOfRange, "range [%d, %d) outside the %d byte mapping", offset, end, m.contentLength)
	}
	return m.addr + uintptr(offset), nil
}

// Persist flushes and drains [offset, offset+length) of the mapping.
func (m *Mapping) Persist(offset, length uint64) error {
	start := time.Now()
	addr, err := m.span(offset, length)
	if err == nil {
		if err = m.p.flush(m, addr, uintptr(length)); err == nil {
			m.p.drain()
		}
	}
	m.metrics.RecordPersist(length, time.Since(start), err)
	return err
}

// Flush starts persisting [offset, offset+length); call Drain to complete.
func (m *Mapping) Flush(offset, length uint64) error {
	start := time.Now()
	addr, err := m.span(offset, length)
	if err == nil {
		err = m.p.flush(m, addr, uintptr(length))
	}
	m.metrics.RecordFlush(length, time.Since(start), err)
	return err
}

// Drain waits for preceding flushes.
func (m *Mapping) Drain() {
	m.p.drain()
}

// DeepFlush pushes [offset, offset+length) past the memory controller's
// write-pending queues. The range must lie within the mapping.
func (m *Mapping) DeepFlush(offset, length uint64) error {
	start := time.Now()
	end := offset + length
	var err error
	if end < offset || end > m.contentLength {
		err = newError(CodeDeepFlushRange, "range [%d, %d) outside the %d byte mapping", offset, end, m.contentLength)
	} else {
		err = m.p.deepFlush(m, m.addr+uintptr(offset), uintptr(length))
	}
	m.metrics.RecordDeepFlush(length, time.Since(start), err)
	return err
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOffsetOutOfRange
	}
	if uint64(off) >= m.contentLength {
		return 0, io.EOF
	}
	n := copy(p, m.Bytes()[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. The written range is persisted before
// WriteAt returns.
func (m *Mapping) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > m.contentLength {
		return 0, newError(CodeOffsetOutOfRange, "write of %d bytes at %d outside the %d byte mapping", len(p), off, m.contentLength)
	}
	n := copy(m.Bytes()[off:], p)
	if err := m.Persist(uint64(off), uint64(n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Advise hints the expected access pattern of [offset, offset+length).
func (m *Mapping) Advise(offset, length uint64, pattern AccessPattern) error {
	addr, err := m.span(offset, length)
	if err != nil {
		return err
	}
	if err := m.platform.Advise(addr, uintptr(length), pattern); err != nil {
		return osError("advise", err)
	}
	return nil
}
