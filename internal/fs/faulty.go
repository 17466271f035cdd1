package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the error returned by a Fault without its own Err.
var ErrInjected = errors.New("injected fault error")

// Fault defines specific failure behavior.
type Fault struct {
	FailOnOpen  bool
	FailOnRead  bool
	FailOnWrite bool
	Err         error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault // path substring -> fault
	hits  int
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{FS: fs, rules: make(map[string]Fault)}
}

// AddRule adds a fault for every path containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// Hits returns how many operations failed by injection.
func (f *FaultyFS) Hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		fault Fault
		found bool
		best  int
	)
	// Longest pattern wins.
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) && len(pattern) >= best {
			fault, found, best = rule, true, len(pattern)
		}
	}
	return fault, found
}

func (f *FaultyFS) hit(err error) error {
	f.mu.Lock()
	f.hits++
	f.mu.Unlock()
	return err
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	fault, ok := f.match(name)
	if ok && fault.FailOnOpen {
		return nil, f.hit(fault.err())
	}
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil || !ok {
		return file, err
	}
	return &faultyFile{File: file, fs: f, fault: fault}, nil
}

func (f *FaultyFS) ReadFile(name string) ([]byte, error) {
	if fault, ok := f.match(name); ok && (fault.FailOnOpen || fault.FailOnRead) {
		return nil, f.hit(fault.err())
	}
	return f.FS.ReadFile(name)
}

func (f *FaultyFS) EvalSymlinks(path string) (string, error) {
	if fault, ok := f.match(path); ok && fault.FailOnOpen {
		return "", f.hit(fault.err())
	}
	return f.FS.EvalSymlinks(path)
}

func (f *FaultyFS) Glob(pattern string) ([]string, error) {
	return f.FS.Glob(pattern)
}

type faultyFile struct {
	File
	fs    *FaultyFS
	fault Fault
}

func (ff *faultyFile) Read(p []byte) (int, error) {
	if ff.fault.FailOnRead {
		return 0, ff.fs.hit(ff.fault.err())
	}
	return ff.File.Read(p)
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailOnWrite {
		return 0, ff.fs.hit(ff.fault.err())
	}
	return ff.File.Write(p)
}
