package mmap

import "errors"

// AccessPattern provides hints to the kernel about how the data will be accessed.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects data to be accessed sequentially.
	AccessSequential
	// AccessRandom expects data to be accessed randomly.
	AccessRandom
	// AccessWillNeed expects data to be accessed in the near future.
	AccessWillNeed
	// AccessDontNeed expects data to not be accessed in the near future.
	AccessDontNeed
)

// Prot is a page protection bitset.
type Prot uint8

const (
	// ProtNone forbids any access.
	ProtNone Prot = 0
	// ProtRead allows loads.
	ProtRead Prot = 1 << (iota - 1)
	// ProtWrite allows stores.
	ProtWrite
	// ProtExec allows instruction fetch.
	ProtExec
)

// Sharing selects whether stores reach the underlying object.
type Sharing uint8

const (
	// Shared mappings write through to the backing object.
	Shared Sharing = iota
	// Private mappings are copy-on-write.
	Private
)

// InvalidFd marks a request without a backing descriptor.
const InvalidFd = ^uintptr(0)

// MapRequest describes a real mapping placed at a fixed address inside a
// range previously obtained from Reserve.
type MapRequest struct {
	Addr    uintptr
	Length  uintptr
	Prot    Prot
	Sharing Sharing
	// Fd is the file descriptor (handle on windows), or InvalidFd for
	// anonymous memory.
	Fd     uintptr
	Offset int64
	// TrySync asks for synchronous page faults (MAP_SYNC) so that CPU cache
	// flushes alone are enough for durability.
	TrySync bool
}

// MapResult reports what the OS actually granted.
type MapResult struct {
	Addr uintptr
	// Synced is true when the mapping was created with MAP_SYNC.
	Synced bool
}

// Platform is the OS mapping primitive used by the mapping lifecycle.
//
// A reserved range is a placeholder: address space with no backing storage.
// Real mappings replace parts of it; Mend turns a real mapping back into a
// placeholder. Split and MergeBack only matter on platforms that require a
// placeholder to be carved out before it can be replaced (windows); elsewhere
// they are no-ops.
type Platform interface {
	// PageSize is the mapping granularity for offsets and lengths.
	PageSize() uintptr
	// Reserve claims [hint, hint+length) or, with hint 0, any range aligned to
	// alignment. ErrAlreadyOccupied reports a hint that is already in use.
	Reserve(hint, length, alignment uintptr) (uintptr, error)
	// Release returns a placeholder range to the OS.
	Release(addr, length uintptr) error
	// MapAt replaces a placeholder range with a real mapping.
	MapAt(req MapRequest) (MapResult, error)
	// Unmap removes a real mapping together with its address range.
	Unmap(addr, length uintptr) error
	// Mend replaces a real mapping with a placeholder.
	Mend(addr, length uintptr) error
	// Split carves [addr, addr+length) out of a larger placeholder.
	Split(addr, length uintptr) error
	// MergeBack coalesces adjacent placeholders covering [addr, addr+length).
	MergeBack(addr, length uintptr) error
	// FlushOS writes dirty pages of [addr, addr+length) back to the medium.
	FlushOS(addr, length, fd uintptr) error
	// Advise passes an access hint for [addr, addr+length).
	Advise(addr, length uintptr, pattern AccessPattern) error
}

var (
	// ErrAlreadyOccupied is returned when a requested address is already mapped.
	ErrAlreadyOccupied = errors.New("mmap: address already occupied")
	// ErrInvalidRange is returned for zero-length or wrapping ranges.
	ErrInvalidRange = errors.New("mmap: invalid range")
	// ErrUnaligned is returned when an address or length is not page aligned.
	ErrUnaligned = errors.New("mmap: unaligned address or length")
	// ErrUnsupported is returned when the platform cannot satisfy a request.
	ErrUnsupported = errors.New("mmap: operation not supported")
)

const (
	// Alignment2M is the default reservation alignment.
	Alignment2M uintptr = 2 << 20
	// Alignment1G is used for reservations of at least twice its size.
	Alignment1G uintptr = 1 << 30
)

// ReservationAlignment picks the alignment of an implicit reservation: 2 MiB
// by default, 1 GiB when length is at least 2 GiB, and never less than the
// alignment the source itself requires.
func ReservationAlignment(length, sourceAlign uintptr) uintptr {
	align := Alignment2M
	if length >= 2*Alignment1G {
		align = Alignment1G
	}
	if sourceAlign > align {
		align = sourceAlign
	}
	return align
}

// AlignUp rounds v up to a multiple of align (a power of two).
func AlignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to a multiple of align (a power of two).
func AlignDown(v, align uintptr) uintptr {
	return v &^ (align - 1)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
