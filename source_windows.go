package pmem2

import (
	"os"

	"golang.org/x/sys/windows"

	"github.com/pmem/pmdk-sub006/internal/mmap"
)

// NewSourceFromFile creates a source from an open file.
func NewSourceFromFile(f *os.File, opts ...Option) (*Source, error) {
	if f == nil {
		return nil, ErrInvalidFileHandle
	}
	return NewSourceFromHandle(windows.Handle(f.Fd()), opts...)
}

// NewSourceFromHandle creates a source from a file handle.
func NewSourceFromHandle(h windows.Handle, _ ...Option) (*Source, error) {
	if h == 0 || h == windows.InvalidHandle {
		return nil, ErrInvalidFileHandle
	}

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return nil, osError("GetFileInformationByHandle", err)
	}
	if info.FileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0 {
		return nil, newError(CodeInvalidFileType, "cannot map a directory")
	}

	return &Source{
		kind:      SourceFile,
		fd:        uintptr(h),
		ftype:     FileTypeRegular,
		dev:       DeviceID{Major: info.VolumeSerialNumber},
		size:      uint64(info.FileSizeHigh)<<32 | uint64(info.FileSizeLow),
		alignment: uint64(nativePlatform().PageSize()),
	}, nil
}

func regularFileSize(fd uintptr) (uint64, error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(fd), &info); err != nil {
		return 0, osError("GetFileInformationByHandle", err)
	}
	return uint64(info.FileSizeHigh)<<32 | uint64(info.FileSizeLow), nil
}

func dupFd(fd uintptr) (uintptr, error) {
	if fd == mmap.InvalidFd {
		return mmap.InvalidFd, nil
	}
	self := windows.CurrentProcess()
	var out windows.Handle
	if err := windows.DuplicateHandle(self, windows.Handle(fd), self, &out, 0, false, windows.DUPLICATE_SAME_ACCESS); err != nil {
		return mmap.InvalidFd, osError("DuplicateHandle", err)
	}
	return uintptr(out), nil
}

func closeFd(fd uintptr) error {
	if fd == mmap.InvalidFd {
		return nil
	}
	return windows.CloseHandle(windows.Handle(fd))
}

// Windows reports no eADR capability through any public interface.
func platformAutoFlush(options) bool {
	return false
}
