//go:build windows

package mmap

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// Placeholder APIs (Windows 10 1803+). Not wrapped by x/sys/windows.
var (
	modkernelbase = windows.NewLazySystemDLL("kernelbase.dll")

	procVirtualAlloc2    = modkernelbase.NewProc("VirtualAlloc2")
	procMapViewOfFile3   = modkernelbase.NewProc("MapViewOfFile3")
	procUnmapViewOfFile2 = modkernelbase.NewProc("UnmapViewOfFile2")
)

const (
	memReservePlaceholder   = 0x00040000
	memReplacePlaceholder   = 0x00004000
	memPreservePlaceholder  = 0x00000002
	memCoalescePlaceholders = 0x00000001

	errorInvalidAddress syscall.Errno = 487

	// allocationGranularity is the VirtualAlloc granularity on every
	// supported Windows release.
	allocationGranularity = 64 << 10
)

type windowsPlatform struct{}

// Native returns the mapping primitive of the running OS.
func Native() Platform {
	return &windowsPlatform{}
}

func (p *windowsPlatform) PageSize() uintptr {
	return allocationGranularity
}

func (p *windowsPlatform) checkRange(addr, length uintptr) error {
	if length == 0 || addr+length < addr {
		return ErrInvalidRange
	}
	if addr%allocationGranularity != 0 || length%allocationGranularity != 0 {
		return ErrUnaligned
	}
	return nil
}

func (p *windowsPlatform) placeholder(hint, length uintptr) (uintptr, error) {
	if err := procVirtualAlloc2.Find(); err != nil {
		return 0, ErrUnsupported
	}
	r, _, err := procVirtualAlloc2.Call(
		uintptr(windows.CurrentProcess()),
		hint,
		length,
		windows.MEM_RESERVE|memReservePlaceholder,
		windows.PAGE_NOACCESS,
		0, 0,
	)
	if r == 0 {
		if errors.Is(err, errorInvalidAddress) {
			return 0, ErrAlreadyOccupied
		}
		return 0, err
	}
	return r, nil
}

// Reserve overshoots by alignment, splits the placeholder at the aligned
// boundaries and frees the head and tail pieces.
func (p *windowsPlatform) Reserve(hint, length, alignment uintptr) (uintptr, error) {
	if length == 0 {
		return 0, ErrInvalidRange
	}
	if alignment < allocationGranularity {
		alignment = allocationGranularity
	}
	if !IsPowerOfTwo(alignment) {
		return 0, ErrUnaligned
	}

	if hint != 0 {
		if err := p.checkRange(hint, length); err != nil {
			return 0, err
		}
		return p.placeholder(hint, length)
	}

	total := length + alignment
	base, err := p.placeholder(0, total)
	if err != nil {
		return 0, err
	}
	aligned := AlignUp(base, alignment)

	if head := aligned - base; head > 0 {
		if err := p.splitAndFree(base, head); err != nil {
			_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
			return 0, err
		}
	}
	if tail := (base + total) - (aligned + length); tail > 0 {
		if err := p.splitAndFree(aligned+length, tail); err != nil {
			_ = windows.VirtualFree(aligned, 0, windows.MEM_RELEASE)
			return 0, err
		}
	}
	return aligned, nil
}

func (p *windowsPlatform) splitAndFree(addr, length uintptr) error {
	if err := windows.VirtualFree(addr, length, windows.MEM_RELEASE|memPreservePlaceholder); err != nil {
		return err
	}
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func (p *windowsPlatform) Release(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func (p *windowsPlatform) MapAt(req MapRequest) (MapResult, error) {
	if err := p.checkRange(req.Addr, req.Length); err != nil {
		return MapResult{}, err
	}
	if err := procMapViewOfFile3.Find(); err != nil {
		return MapResult{}, ErrUnsupported
	}

	sectionProt, viewProt := pageProtections(req)

	file := windows.InvalidHandle
	var maxHigh, maxLow uint32
	if req.Fd != InvalidFd {
		file = windows.Handle(req.Fd)
	} else {
		size := uint64(req.Offset) + uint64(req.Length)
		maxHigh, maxLow = uint32(size>>32), uint32(size)
	}

	section, err := windows.CreateFileMapping(file, nil, sectionProt, maxHigh, maxLow, nil)
	if err != nil {
		return MapResult{}, err
	}
	// The view keeps its own reference to the section.
	defer windows.CloseHandle(section)

	r, _, err := procMapViewOfFile3.Call(
		uintptr(section),
		uintptr(windows.CurrentProcess()),
		req.Addr,
		uintptr(req.Offset),
		req.Length,
		memReplacePlaceholder,
		uintptr(viewProt),
		0, 0,
	)
	if r == 0 {
		return MapResult{}, err
	}
	return MapResult{Addr: r}, nil
}

func (p *windowsPlatform) unmapView(addr uintptr, flags uint32) error {
	if err := procUnmapViewOfFile2.Find(); err != nil {
		return ErrUnsupported
	}
	r, _, err := procUnmapViewOfFile2.Call(uintptr(windows.CurrentProcess()), addr, uintptr(flags))
	if r == 0 {
		return err
	}
	return nil
}

func (p *windowsPlatform) Unmap(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	if err := p.unmapView(addr, memPreservePlaceholder); err != nil {
		return err
	}
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func (p *windowsPlatform) Mend(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	return p.unmapView(addr, memPreservePlaceholder)
}

func (p *windowsPlatform) Split(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	return windows.VirtualFree(addr, length, windows.MEM_RELEASE|memPreservePlaceholder)
}

func (p *windowsPlatform) MergeBack(addr, length uintptr) error {
	if err := p.checkRange(addr, length); err != nil {
		return err
	}
	return windows.VirtualFree(addr, length, windows.MEM_RELEASE|memCoalescePlaceholders)
}

func (p *windowsPlatform) FlushOS(addr, length, fd uintptr) error {
	if length == 0 {
		return nil
	}
	if err := windows.FlushViewOfFile(addr, length); err != nil {
		return err
	}
	if fd == InvalidFd {
		return nil
	}
	return windows.FlushFileBuffers(windows.Handle(fd))
}

func (p *windowsPlatform) Advise(addr, length uintptr, pattern AccessPattern) error {
	// No madvise equivalent worth the PrefetchVirtualMemory setup.
	_ = addr
	_ = length
	_ = pattern
	return nil
}

func pageProtections(req MapRequest) (section, view uint32) {
	exec := req.Prot&ProtExec != 0
	write := req.Prot&ProtWrite != 0
	anon := req.Fd == InvalidFd

	switch {
	case req.Prot == ProtNone:
		section, view = windows.PAGE_READONLY, windows.PAGE_NOACCESS
	case req.Sharing == Private && write:
		section, view = windows.PAGE_READONLY, windows.PAGE_WRITECOPY
	case write:
		section, view = windows.PAGE_READWRITE, windows.PAGE_READWRITE
	default:
		section, view = windows.PAGE_READONLY, windows.PAGE_READONLY
	}
	if anon {
		section = windows.PAGE_READWRITE
	}

	if exec {
		switch view {
		case windows.PAGE_WRITECOPY:
			view = windows.PAGE_EXECUTE_WRITECOPY
		case windows.PAGE_READWRITE:
			view = windows.PAGE_EXECUTE_READWRITE
		case windows.PAGE_READONLY:
			view = windows.PAGE_EXECUTE_READ
		}
		switch section {
		case windows.PAGE_READWRITE:
			section = windows.PAGE_EXECUTE_READWRITE
		case windows.PAGE_READONLY:
			section = windows.PAGE_EXECUTE_READ
		}
	}
	return section, view
}
