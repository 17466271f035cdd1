//go:build linux || darwin || freebsd || netbsd || openbsd

package pmem2

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pmem/pmdk-sub006/internal/mmap"
)

// NewSourceFromFile creates a source from an open file. The file must be
// opened for reading; write-only descriptors cannot be mapped.
func NewSourceFromFile(f *os.File, opts ...Option) (*Source, error) {
	if f == nil {
		return nil, ErrInvalidFileHandle
	}
	return NewSourceFromFd(f.Fd(), opts...)
}

// NewSourceFromFd creates a source from a raw file descriptor.
func NewSourceFromFd(fd uintptr, opts ...Option) (*Source, error) {
	if int(fd) < 0 {
		return nil, ErrInvalidFileHandle
	}

	flags, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	if err != nil {
		if errors.Is(err, unix.EBADF) {
			return nil, ErrInvalidFileHandle
		}
		return nil, osError("fcntl", err)
	}
	if flags&unix.O_ACCMODE == unix.O_WRONLY {
		return nil, newError(CodeInvalidFileHandle, "descriptor %d is write-only", fd)
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return nil, osError("fstat", err)
	}

	src := &Source{kind: SourceFile, fd: fd}
	switch uint32(st.Mode) & unix.S_IFMT {
	case unix.S_IFREG:
		if st.Size < 0 {
			return nil, newError(CodeInvalidSize, "negative file size %d", st.Size)
		}
		src.ftype = FileTypeRegular
		src.dev = deviceID(uint64(st.Dev))
		src.size = uint64(st.Size)
		src.alignment = uint64(nativePlatform().PageSize())
	case unix.S_IFCHR:
		o := applyOptions(opts)
		src.dev = deviceID(uint64(st.Rdev))
		size, align, err := classifyCharDevice(o, src.dev)
		if err != nil {
			return nil, err
		}
		src.ftype = FileTypeDeviceDAX
		src.size = size
		src.alignment = align
	case unix.S_IFDIR:
		return nil, newError(CodeInvalidFileType, "cannot map a directory")
	default:
		return nil, ErrInvalidFileType
	}
	return src, nil
}

func deviceID(dev uint64) DeviceID {
	return DeviceID{Major: unix.Major(dev), Minor: unix.Minor(dev)}
}

func regularFileSize(fd uintptr) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return 0, osError("fstat", err)
	}
	if st.Size < 0 {
		return 0, newError(CodeInvalidSize, "negative file size %d", st.Size)
	}
	return uint64(st.Size), nil
}

func dupFd(fd uintptr) (uintptr, error) {
	if fd == mmap.InvalidFd {
		return mmap.InvalidFd, nil
	}
	nfd, err := unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return mmap.InvalidFd, osError("dup", err)
	}
	return uintptr(nfd), nil
}

func closeFd(fd uintptr) error {
	if fd == mmap.InvalidFd {
		return nil
	}
	return unix.Close(int(fd))
}
