package pmem2

import (
	"errors"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/pmem/pmdk-sub006/internal/mmap"
)

// resRange is a claimed sub-range of a reservation. m is nil while the
// mapping that claimed it is still being created.
type resRange struct {
	offset uint64
	length uint64
	m      *Mapping
}

func (r resRange) end() uint64 { return r.offset + r.length }

func resRangeLess(a, b resRange) bool { return a.offset < b.offset }

// VMReservation is a range of virtual address space that mappings can be
// placed into at chosen offsets. Every byte of it is either an inaccessible
// placeholder or part of exactly one mapping.
//
// Placing and removing mappings is safe for concurrent use; iterating with
// MapFirst/MapNext while other goroutines map into the same reservation is
// not, and callers must synchronise that themselves.
type VMReservation struct {
	mu       sync.Mutex
	addr     uintptr
	size     uint64
	pageSize uint64
	platform mmap.Platform
	logger   *Logger

	pages  *roaring.Bitmap // occupied page indices
	ranges *btree.BTreeG[resRange]

	deleted bool
}

// NewVMReservation reserves size bytes of address space at addr, or at an
// address chosen by the OS when addr is zero. Both must be multiples of the
// platform page size (allocation granularity on windows).
func NewVMReservation(addr uintptr, size uint64, opts ...Option) (*VMReservation, error) {
	o := applyOptions(opts)
	page := uint64(o.platform.PageSize())

	if size == 0 || size%page != 0 {
		return nil, newError(CodeLengthUnaligned, "reservation size %d is not a multiple of page size %d", size, page)
	}
	if uint64(addr)%page != 0 {
		return nil, newError(CodeAddressUnaligned, "reservation address %#x is not page aligned", addr)
	}
	if size/page > math.MaxUint32 || size > uint64(^uintptr(0)) {
		return nil, newError(CodeInvalidSize, "reservation size %d is too large", size)
	}

	got, err := o.platform.Reserve(addr, uintptr(size), mmap.ReservationAlignment(uintptr(size), uintptr(page)))
	if err != nil {
		err = reserveError(addr, size, err)
		o.logger.LogReservation("create", addr, size, err)
		return nil, err
	}

	r := &VMReservation{
		addr:     got,
		size:     size,
		pageSize: page,
		platform: o.platform,
		logger:   o.logger,
		pages:    roaring.New(),
		ranges:   btree.NewG(8, resRangeLess),
	}
	o.logger.LogReservation("create", got, size, nil)
	return r, nil
}

func reserveError(addr uintptr, size uint64, err error) error {
	switch {
	case errors.Is(err, mmap.ErrAlreadyOccupied):
		return newError(CodeAddressOccupied, "range [%#x, %#x) is already occupied", addr, uint64(addr)+size)
	case errors.Is(err, mmap.ErrUnaligned):
		return newError(CodeAddressUnaligned, "reservation %#x+%d is not aligned", addr, size)
	default:
		return osError("reserve", err)
	}
}

// Address returns the start of the reservation.
func (r *VMReservation) Address() uintptr {
	return r.addr
}

// Size returns the reservation length in bytes.
func (r *VMReservation) Size() uint64 {
	return r.size
}

// OccupiedLength returns the number of bytes covered by mappings, including
// those still being created.
func (r *VMReservation) OccupiedLength() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pages.GetCardinality() * r.pageSize
}

// FreeSpace returns the number of bytes still available for mappings.
func (r *VMReservation) FreeSpace() uint64 {
	return r.size - r.OccupiedLength()
}

// LargestFreeSpan returns the length of the longest unoccupied run of the
// reservation, the biggest mapping that still fits.
func (r *VMReservation) LargestFreeSpan() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var largest, prev uint64
	r.ranges.Ascend(func(it resRange) bool {
		largest = max(largest, it.offset-prev)
		prev = it.end()
		return true
	})
	return max(largest, r.size-prev)
}

// Delete releases the address space. It fails while mappings remain.
func (r *VMReservation) Delete() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return newError(CodeInvalidArgument, "vm reservation already deleted")
	}
	if r.ranges.Len() > 0 {
		return ErrVMReservationNotEmpty
	}
	if err := r.platform.Release(r.addr, uintptr(r.size)); err != nil {
		err = osError("release reservation", err)
		r.logger.LogReservation("delete", r.addr, r.size, err)
		return err
	}
	r.deleted = true
	r.logger.LogReservation("delete", r.addr, r.size, nil)
	return nil
}

// usedPagesLocked counts occupied pages in [first, last).
func (r *VMReservation) usedPagesLocked(first, last uint32) uint64 {
	n := r.pages.Rank(last - 1)
	if first > 0 {
		n -= r.pages.Rank(first - 1)
	}
	return n
}

// freeSpanLocked returns the bounds of the unclaimed gap around
// [offset, offset+length), which must itself be unclaimed.
func (r *VMReservation) freeSpanLocked(offset, length uint64) (start, end uint64) {
	start, end = 0, r.size
	r.ranges.DescendLessOrEqual(resRange{offset: offset}, func(it resRange) bool {
		start = it.end()
		return false
	})
	r.ranges.AscendGreaterOrEqual(resRange{offset: offset + length}, func(it resRange) bool {
		end = it.offset
		return false
	})
	return start, end
}

// claim marks [offset, offset+length) as used and splits the placeholder
// around it so it can be replaced by a real mapping.
func (r *VMReservation) claim(offset, length uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return newError(CodeInvalidArgument, "vm reservation already deleted")
	}
	end := offset + length
	if length == 0 || end < offset || end > r.size {
		return newError(CodeLengthOutOfRange, "range [%d, %d) does not fit the %d byte reservation", offset, end, r.size)
	}
	if offset%r.pageSize != 0 {
		return newError(CodeOffsetUnaligned, "reservation offset %d is not page aligned", offset)
	}

	first, last := uint32(offset/r.pageSize), uint32((end+r.pageSize-1)/r.pageSize)
	if r.usedPagesLocked(first, last) > 0 {
		return newError(CodeMappingExists, "reservation range [%d, %d) is already mapped", offset, end)
	}

	if start, stop := r.freeSpanLocked(offset, length); start != offset || stop != end {
		if err := r.platform.Split(r.addr+uintptr(offset), uintptr(length)); err != nil {
			return osError("split reservation", err)
		}
	}

	r.pages.AddRange(uint64(first), uint64(last))
	r.ranges.ReplaceOrInsert(resRange{offset: offset, length: length})
	return nil
}

// attach records the mapping that owns a claimed range.
func (r *VMReservation) attach(offset uint64, m *Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if it, ok := r.ranges.Get(resRange{offset: offset}); ok {
		it.m = m
		r.ranges.ReplaceOrInsert(it)
	}
}

// release returns a claimed range to the placeholder pool, coalescing it
// with adjacent free placeholders. The real mapping must already be mended.
func (r *VMReservation) release(offset uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.ranges.Delete(resRange{offset: offset})
	if !ok {
		return invariant("reservation offset %d is not claimed", offset)
	}
	first, last := it.offset/r.pageSize, (it.end()+r.pageSize-1)/r.pageSize
	r.pages.RemoveRange(first, last)

	if start, stop := r.freeSpanLocked(it.offset, it.length); start != it.offset || stop != it.end() {
		if err := r.platform.MergeBack(r.addr+uintptr(start), uintptr(stop-start)); err != nil {
			return osError("merge reservation", err)
		}
	}
	return nil
}

// MapFind returns the lowest mapping overlapping [offset, offset+length).
func (r *VMReservation) MapFind(offset, length uint64) (*Mapping, bool) {
	if length == 0 {
		length = 1
	}
	end := offset + length

	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Mapping
	r.ranges.DescendLessOrEqual(resRange{offset: offset}, func(it resRange) bool {
		if it.end() > offset && it.m != nil {
			found = it.m
		}
		return false
	})
	if found != nil {
		return found, true
	}
	r.ranges.AscendGreaterOrEqual(resRange{offset: offset}, func(it resRange) bool {
		if it.offset >= end {
			return false
		}
		if it.m != nil {
			found = it.m
			return false
		}
		return true
	})
	return found, found != nil
}

// MapFirst returns the mapping with the lowest offset.
func (r *VMReservation) MapFirst() (*Mapping, bool) {
	return r.next(0, true)
}

// MapLast returns the mapping with the highest offset.
func (r *VMReservation) MapLast() (*Mapping, bool) {
	return r.prev(r.size, true)
}

// MapNext returns the mapping following m.
func (r *VMReservation) MapNext(m *Mapping) (*Mapping, bool) {
	if m == nil || m.reservation != r {
		return nil, false
	}
	return r.next(m.reservationOffset, false)
}

// MapPrev returns the mapping preceding m.
func (r *VMReservation) MapPrev(m *Mapping) (*Mapping, bool) {
	if m == nil || m.reservation != r {
		return nil, false
	}
	return r.prev(m.reservationOffset, false)
}

func (r *VMReservation) next(offset uint64, inclusive bool) (*Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Mapping
	r.ranges.AscendGreaterOrEqual(resRange{offset: offset}, func(it resRange) bool {
		if (!inclusive && it.offset == offset) || it.m == nil {
			return true
		}
		found = it.m
		return false
	})
	return found, found != nil
}

func (r *VMReservation) prev(offset uint64, inclusive bool) (*Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Mapping
	r.ranges.DescendLessOrEqual(resRange{offset: offset}, func(it resRange) bool {
		if (!inclusive && it.offset == offset) || it.m == nil {
			return true
		}
		found = it.m
		return false
	})
	return found, found != nil
}
