//go:build linux || darwin || freebsd || netbsd || openbsd

package mmap

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

type unixPlatform struct {
	pageSize uintptr
}

// Native returns the mapping primitive of the running OS.
func Native() Platform {
	return &unixPlatform{pageSize: uintptr(os.Getpagesize())}
}

func (p *unixPlatform) PageSize() uintptr {
	return p.pageSize
}

func (p *unixPlatform) checkRange(addr, length uintptr) error {
	if length == 0 || addr+length < addr {
		return ErrInvalidRange
	}
	if addr%p.pageSize != 0 || length%p.pageSize != 0 {
		return ErrUnaligned
	}
	return nil
}

// Reserve maps a throwaway PROT_NONE region. Without a hint it overshoots by
// alignment and trims the unaligned head and tail, because mmap never
// guarantees an aligned address.
func (p *unixPlatform) Reserve(hint, length, alignment uintptr) (uintptr, error) {
	if length == 0 {
		return 0, ErrInvalidRange
	}
	if alignment < p.pageSize {
		alignment = p.pageSize
	}
	if !IsPowerOfTwo(alignment) {
		return 0, ErrUnaligned
	}

	if hint != 0 {
		return p.reserveAt(hint, length)
	}

	total := length + alignment
	if total < length {
		return 0, ErrInvalidRange
	}

	raw, err := unix.MmapPtr(-1, 0, nil, total, unix.PROT_NONE, reserveFlags)
	if err != nil {
		return 0, err
	}
	base := uintptr(raw)
	aligned := AlignUp(base, alignment)

	if head := aligned - base; head > 0 {
		if err := munmap(base, head); err != nil {
			_ = munmap(base, total)
			return 0, err
		}
	}
	if tail := (base + total) - (aligned + length); tail > 0 {
		if err := munmap(aligned+length, tail); err != nil {
			_ = munmap(aligned, total-(aligned-base))
			return 0, err
		}
	}

	return aligned, nil
}

func (p *unixPlatform) reserveAt(hint, length uintptr) (uintptr, error) {
	if err := p.checkRange(hint, length); err != nil {
		return 0, err
	}

	raw, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), length, unix.PROT_NONE, reserveFlags|noReplaceFlag)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return 0, ErrAlreadyOccupied
		}
		return 0, err
	}

	// Kernels without MAP_FIXED_NOREPLACE treat the address as a hint only.
	if got := uintptr(raw); got != hint {
		_ = munmap(got, length)
		return 0, ErrAlreadyOccupied
	}
	return hint, nil
}

func (p *unixPlatform) Release(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	return munmap(addr, length)
}

func (p *unixPlatform) MapAt(req MapRequest) (MapResult, error) {
	if err := p.checkRange(req.Addr, req.Length); err != nil {
		return MapResult{}, err
	}

	prot := protFlags(req.Prot)
	flags := unix.MAP_FIXED
	fd := -1
	if req.Fd == InvalidFd {
		flags |= unix.MAP_ANON
	} else {
		fd = int(req.Fd)
	}
	if req.Sharing == Private {
		flags |= unix.MAP_PRIVATE
	} else {
		flags |= unix.MAP_SHARED
	}

	if req.TrySync && fd >= 0 && req.Sharing == Shared && syncFlags != 0 {
		sflags := (flags &^ unix.MAP_SHARED) | syncFlags
		raw, err := unix.MmapPtr(fd, req.Offset, unsafe.Pointer(req.Addr), req.Length, prot, sflags)
		if err == nil {
			return MapResult{Addr: uintptr(raw), Synced: true}, nil
		}
		if !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.EINVAL) {
			return MapResult{}, err
		}
		// Not DAX-capable; fall through to a regular shared mapping.
	}

	raw, err := unix.MmapPtr(fd, req.Offset, unsafe.Pointer(req.Addr), req.Length, prot, flags)
	if err != nil {
		return MapResult{}, err
	}
	return MapResult{Addr: uintptr(raw)}, nil
}

func (p *unixPlatform) Unmap(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	return munmap(addr, length)
}

// Mend maps a fresh PROT_NONE placeholder over the vacated range in one step,
// so no other thread can grab the address in between.
func (p *unixPlatform) Mend(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	_, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), length, unix.PROT_NONE, reserveFlags|unix.MAP_FIXED)
	return err
}

func (p *unixPlatform) Split(addr, length uintptr) error {
	return p.checkRange(addr, length)
}

func (p *unixPlatform) MergeBack(addr, length uintptr) error {
	return p.checkRange(addr, length)
}

func (p *unixPlatform) FlushOS(addr, length, _ uintptr) error {
	if length == 0 {
		return nil
	}
	// msync requires a page-aligned start.
	start := AlignDown(addr, p.pageSize)
	n := length + (addr - start)
	for {
		err := unix.Msync(unsafe.Slice((*byte)(unsafe.Pointer(start)), n), unix.MS_SYNC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

func (p *unixPlatform) Advise(addr, length uintptr, pattern AccessPattern) error {
	if length == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	case AccessDontNeed:
		advice = unix.MADV_DONTNEED
	default:
		advice = unix.MADV_NORMAL
	}

	start := AlignDown(addr, p.pageSize)
	err := unix.Madvise(unsafe.Slice((*byte)(unsafe.Pointer(start)), length+(addr-start)), advice)
	if errors.Is(err, unix.EINVAL) {
		// Advisory only.
		return nil
	}
	return err
}

func protFlags(p Prot) int {
	prot := unix.PROT_NONE
	if p&ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func munmap(addr, length uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(addr), length)
}
