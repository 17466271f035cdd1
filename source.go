package pmem2

import (
	"fmt"
	"sync"

	"github.com/pmem/pmdk-sub006/internal/mmap"
)

// SourceKind distinguishes file-backed from anonymous sources.
type SourceKind uint8

const (
	// SourceFile is backed by a file descriptor (handle on windows).
	SourceFile SourceKind = iota
	// SourceAnonymous is zero-filled process memory.
	SourceAnonymous
)

func (k SourceKind) String() string {
	if k == SourceAnonymous {
		return "anonymous"
	}
	return "file"
}

// FileType classifies the object behind a file source.
type FileType uint8

const (
	FileTypeUnknown FileType = iota
	// FileTypeRegular is an ordinary file, possibly on a DAX filesystem.
	FileTypeRegular
	// FileTypeDeviceDAX is a device DAX character device.
	FileTypeDeviceDAX
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDeviceDAX:
		return "devdax"
	default:
		return "unknown"
	}
}

// DeviceID identifies the device behind a file source: st_dev for regular
// files, st_rdev for device DAX.
type DeviceID struct {
	Major uint32
	Minor uint32
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// Source describes what to map. A Source may back any number of mappings;
// each mapping keeps its own duplicate of the descriptor, so the caller may
// close the original once Map returns.
type Source struct {
	kind      SourceKind
	fd        uintptr
	ftype     FileType
	dev       DeviceID
	size      uint64
	alignment uint64
}

var nativePlatform = sync.OnceValue(mmap.Native)

// NewAnonymousSource creates a source of size bytes of zero-filled memory.
func NewAnonymousSource(size uint64) (*Source, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	return &Source{
		kind:      SourceAnonymous,
		fd:        mmap.InvalidFd,
		size:      size,
		alignment: uint64(nativePlatform().PageSize()),
	}, nil
}

// Kind returns the source kind.
func (s *Source) Kind() SourceKind {
	return s.kind
}

// FileType returns the file classification; FileTypeUnknown for anonymous
// sources.
func (s *Source) FileType() FileType {
	return s.ftype
}

// DeviceID returns the device numbers of a file source.
func (s *Source) DeviceID() (DeviceID, error) {
	if s.kind != SourceFile {
		return DeviceID{}, newError(CodeNotSupported, "anonymous source has no device")
	}
	return s.dev, nil
}

// Size returns the current size of the source. Regular files are re-read on
// every call since they may grow.
func (s *Source) Size() (uint64, error) {
	if s.kind == SourceFile && s.ftype == FileTypeRegular {
		return regularFileSize(s.fd)
	}
	return s.size, nil
}

// Alignment returns the required alignment of mapping offsets and lengths.
func (s *Source) Alignment() (uint64, error) {
	if s.alignment == 0 || s.alignment&(s.alignment-1) != 0 {
		return 0, newError(CodeInvalidAlignmentValue, "source alignment %d is not a power of two", s.alignment)
	}
	return s.alignment, nil
}

// Fd returns the descriptor (handle on windows) the source was created from,
// or an all-ones value for anonymous sources.
func (s *Source) Fd() uintptr {
	return s.fd
}
