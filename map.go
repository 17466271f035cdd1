package pmem2

import (
	"errors"
	"time"

	"github.com/pmem/pmdk-sub006/internal/mmap"
	"github.com/pmem/pmdk-sub006/internal/registry"
)

// undoStack collects compensating actions in acquisition order and runs them
// in reverse when a multi-step operation fails part way.
type undoStack []func()

func (u *undoStack) push(fn func()) {
	*u = append(*u, fn)
}

// replaceTop swaps the most recent action, for steps that supersede the
// cleanup of the step before them.
func (u *undoStack) replaceTop(fn func()) {
	(*u)[len(*u)-1] = fn
}

func (u *undoStack) unwind() {
	for i := len(*u) - 1; i >= 0; i-- {
		(*u)[i]()
	}
	*u = nil
}

func (u *undoStack) commit() {
	*u = nil
}

// Map creates a mapping of src as described by cfg.
//
// On failure every resource acquired along the way is returned: a fresh
// address range is released, a range inside a caller's VMReservation is
// turned back into a placeholder.
func Map(cfg *Config, src *Source, opts ...Option) (*Mapping, error) {
	o := applyOptions(opts)
	start := time.Now()

	m, err := mapSource(cfg, src, o)

	var length uint64
	if m != nil {
		length = m.contentLength
		o.logger.LogMap(m.addr, length, m.StoreGranularity(), nil)
	} else {
		o.logger.LogMap(0, 0, GranularityUnset, err)
	}
	o.metricsCollector.RecordMap(length, time.Since(start), err)
	return m, err
}

func mapSource(cfg *Config, src *Source, o options) (_ *Mapping, err error) {
	if cfg == nil || src == nil {
		return nil, ErrInvalidArgument
	}
	if cfg.consumed {
		return nil, ErrConfigConsumed
	}
	if cfg.granularity == GranularityUnset {
		return nil, ErrGranularityNotSet
	}
	if src.ftype == FileTypeDeviceDAX && cfg.sharing == Private {
		return nil, ErrSrcDevDAXPrivate
	}

	length, reserved, err := cfg.resolveLength(src)
	if err != nil {
		return nil, err
	}
	if reserved > uint64(^uintptr(0)) {
		return nil, newError(CodeInvalidSize, "length %d exceeds the address space", reserved)
	}
	align, _ := src.Alignment()

	var undo undoStack
	defer func() {
		if err != nil {
			undo.unwind()
		}
	}()

	// Claim address space.
	var addr uintptr
	rsv, rsvOffset := cfg.reservation, cfg.reservationOffset
	if rsv != nil {
		o.platform = rsv.platform
		if (uint64(rsv.addr)+rsvOffset)%align != 0 {
			return nil, newError(CodeOffsetUnaligned, "reservation offset %d is not aligned to %d", rsvOffset, align)
		}
		if err := rsv.claim(rsvOffset, reserved); err != nil {
			return nil, err
		}
		addr = rsv.addr + uintptr(rsvOffset)
		undo.push(func() {
			_ = rsv.release(rsvOffset)
		})
	} else {
		a, err := o.platform.Reserve(0, uintptr(reserved), mmap.ReservationAlignment(uintptr(reserved), uintptr(align)))
		if err != nil {
			return nil, reserveError(0, reserved, err)
		}
		addr = a
		undo.push(func() {
			_ = o.platform.Release(addr, uintptr(reserved))
		})
	}

	// Replace the placeholder with the real mapping.
	res, err := o.platform.MapAt(mmap.MapRequest{
		Addr:    addr,
		Length:  uintptr(reserved),
		Prot:    cfg.protection.mmapProt(),
		Sharing: mmap.Sharing(cfg.sharing),
		Fd:      src.fd,
		Offset:  int64(cfg.offset),
		TrySync: src.ftype == FileTypeRegular && cfg.sharing == Shared,
	})
	if err != nil {
		if rsv != nil {
			// A failed fixed mapping may have dropped the placeholder.
			_ = o.platform.Mend(addr, uintptr(reserved))
		}
		return nil, osError("map", err)
	}
	if rsv != nil {
		undo.push(func() {
			_ = o.platform.Mend(addr, uintptr(reserved))
		})
	} else {
		undo.replaceTop(func() {
			_ = o.platform.Unmap(addr, uintptr(reserved))
		})
	}

	// Negotiate granularity.
	isPmem := src.ftype == FileTypeDeviceDAX || res.Synced
	if o.isPmem != nil {
		isPmem = *o.isPmem
	}
	autoFlush := false
	if o.autoFlush != nil {
		autoFlush = *o.autoFlush
	} else if isPmem {
		autoFlush = platformAutoFlush(o)
	}
	g, err := decide(cfg.granularity, isPmem, autoFlush, cfg.sharing, o.logger)
	if err != nil {
		return nil, err
	}
	p, err := bind(g, o.flusher)
	if err != nil {
		return nil, err
	}

	fd, err := dupFd(src.fd)
	if err != nil {
		return nil, err
	}
	undo.push(func() {
		_ = closeFd(fd)
	})

	m := &Mapping{
		addr:              addr,
		contentLength:     length,
		reservedLength:    reserved,
		p:                 p,
		src:               *src,
		fd:                fd,
		reservation:       rsv,
		reservationOffset: rsvOffset,
		mover:             o.mover,
		platform:          o.platform,
		flusher:           o.flusher,
		deepFlusher:       o.deepFlusher,
		logger:            o.logger,
		metrics:           o.metricsCollector,
	}
	if m.mover == nil {
		m.mover = NewSyncMover()
		m.ownsMover = true
	}

	if rsv != nil {
		rsv.attach(rsvOffset, m)
		undo.push(func() {
			rsv.attach(rsvOffset, nil)
		})
	}

	if err := mappingRegistry().Insert(addr, uintptr(length), m); err != nil {
		if errors.Is(err, registry.ErrExists) {
			return nil, newError(CodeMappingExists, "range [%#x, %#x) is already registered", addr, addr+uintptr(length))
		}
		return nil, invariant("registry insert: %v", err)
	}

	undo.commit()
	cfg.consumed = true
	return m, nil
}

// MapFromExisting registers memory mapped outside this package so that the
// persistence routines and FindMapping know about it. Delete unregisters it
// without unmapping.
func MapFromExisting(src *Source, addr uintptr, length uint64, g Granularity, opts ...Option) (*Mapping, error) {
	o := applyOptions(opts)

	if src == nil || addr == 0 || length == 0 {
		return nil, ErrInvalidArgument
	}
	if !g.valid() {
		return nil, ErrGranularityNotSet
	}
	p, err := bind(g, o.flusher)
	if err != nil {
		return nil, err
	}

	m := &Mapping{
		addr:          addr,
		contentLength: length,
		p:             p,
		src:           *src,
		fd:            mmap.InvalidFd,
		mover:         o.mover,
		platform:      o.platform,
		flusher:       o.flusher,
		deepFlusher:   o.deepFlusher,
		logger:        o.logger,
		metrics:       o.metricsCollector,
	}
	if m.mover == nil {
		m.mover = NewSyncMover()
		m.ownsMover = true
	}

	if err := mappingRegistry().Insert(addr, uintptr(length), m); err != nil {
		if errors.Is(err, registry.ErrExists) {
			return nil, newError(CodeMappingExists, "range [%#x, %#x) is already registered", addr, addr+uintptr(length))
		}
		return nil, invariant("registry insert: %v", err)
	}
	o.logger.LogMap(addr, length, g, nil)
	return m, nil
}

// Delete unregisters and unmaps the mapping. A mapping placed in a
// VMReservation leaves a placeholder behind; otherwise the address range is
// returned to the OS. If unmapping fails the mapping stays registered and
// usable. If the reservation cannot coalesce its placeholders afterwards the
// mapping is still gone and the error is returned.
func (m *Mapping) Delete() error {
	start := time.Now()
	err := m.delete()
	m.logger.LogUnmap(m.addr, m.contentLength, err)
	m.metrics.RecordUnmap(time.Since(start), err)
	return err
}

func (m *Mapping) delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleted {
		return ErrMappingNotFound
	}
	if _, err := mappingRegistry().Remove(m.addr); err != nil {
		return ErrMappingNotFound
	}

	m.closeMover()
	if m.reservedLength == 0 {
		m.deleted = true
		return nil
	}

	var err error
	if m.reservation != nil {
		err = m.platform.Mend(m.addr, uintptr(m.reservedLength))
	} else {
		err = m.platform.Unmap(m.addr, uintptr(m.reservedLength))
	}
	if err != nil {
		// Put the mapping back as it was.
		if m.ownsMover {
			m.mover = NewSyncMover()
		}
		if rerr := mappingRegistry().Insert(m.addr, uintptr(m.contentLength), m); rerr != nil {
			m.logger.Error("failed to re-register mapping after unmap failure", "addr", m.addr, "error", rerr)
		}
		return osError("unmap", err)
	}

	// The range is unmapped; a failed merge leaves the mapping deleted and
	// the surrounding placeholders split.
	if m.reservation != nil {
		err = m.reservation.release(m.reservationOffset)
	}
	if cerr := closeFd(m.fd); cerr != nil {
		m.logger.Warn("closing mapping descriptor failed", "addr", m.addr, "error", cerr)
	}
	m.deleted = true
	return err
}

func (m *Mapping) closeMover() {
	if m.ownsMover && m.mover != nil {
		_ = m.mover.Close()
	}
}
