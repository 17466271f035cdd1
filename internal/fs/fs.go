package fs

import (
	"io"
	"os"
	"path/filepath"
)

// File represents an open attribute file.
type File interface {
	io.ReadWriteCloser
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	ReadFile(name string) ([]byte, error)
	EvalSymlinks(path string) (string, error)
	Glob(pattern string) ([]string, error)
}

// LocalFS implements FileSystem using the local os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) ReadFile(name string) ([]byte, error)     { return os.ReadFile(name) }
func (LocalFS) EvalSymlinks(path string) (string, error) { return filepath.EvalSymlinks(path) }
func (LocalFS) Glob(pattern string) ([]string, error)    { return filepath.Glob(pattern) }

// Default is the default local file system.
var Default FileSystem = LocalFS{}
