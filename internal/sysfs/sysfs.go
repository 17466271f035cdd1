// Package sysfs reads the Linux NVDIMM (libnvdimm) and device-DAX attributes
// pmem2 needs: persistence domain (eADR), region ids, DAX sizes and
// alignments, and the region deep_flush trigger.
//
// All lookups are relative to a configurable root so tests can build a fake
// tree under a temporary directory.
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pmem/pmdk-sub006/internal/fs"
)

// DefaultRoot is the sysfs mount point.
const DefaultRoot = "/sys"

const regionCacheSize = 128

var (
	// ErrNoRegion is returned when a device does not sit below an NVDIMM region.
	ErrNoRegion = errors.New("sysfs: device is not part of an nvdimm region")
	// ErrMalformed is returned for attribute files with unexpected contents.
	ErrMalformed = errors.New("sysfs: malformed attribute")
)

var regionRe = regexp.MustCompile(`/region(\d+)(/|$)`)

// DeviceClass selects /sys/dev/char or /sys/dev/block.
type DeviceClass uint8

const (
	// Char is a character device (device DAX).
	Char DeviceClass = iota
	// Block is a block device (fsdax namespace).
	Block
)

func (c DeviceClass) dir() string {
	if c == Block {
		return "block"
	}
	return "char"
}

type devKey struct {
	class        DeviceClass
	major, minor uint32
}

// FS resolves attributes below Root. Region lookups are cached.
type FS struct {
	root    string
	fsys    fs.FileSystem
	regions *lru.Cache[devKey, int]
}

// New creates an FS rooted at root ("" means DefaultRoot).
func New(root string) *FS {
	return NewWithFS(root, fs.Default)
}

// NewWithFS is New with the file operations routed through fsys.
func NewWithFS(root string, fsys fs.FileSystem) *FS {
	if root == "" {
		root = DefaultRoot
	}
	cache, err := lru.New[devKey, int](regionCacheSize)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}
	return &FS{root: root, fsys: fsys, regions: cache}
}

// Root returns the directory lookups are relative to.
func (s *FS) Root() string {
	return s.root
}

func (s *FS) devPath(class DeviceClass, major, minor uint32) string {
	return filepath.Join(s.root, "dev", class.dir(), fmt.Sprintf("%d:%d", major, minor))
}

func (s *FS) readTrimmed(path string) (string, error) {
	b, err := s.fsys.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *FS) readUint(path string) (uint64, error) {
	str, err := s.readTrimmed(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(str, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrMalformed, path, str)
	}
	return v, nil
}

// IsDeviceDAX reports whether the character device major:minor belongs to
// the dax subsystem.
func (s *FS) IsDeviceDAX(major, minor uint32) (bool, error) {
	target, err := s.fsys.EvalSymlinks(filepath.Join(s.devPath(Char, major, minor), "subsystem"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return filepath.Base(target) == "dax", nil
}

// DeviceDAXSize returns the size in bytes of a device DAX instance.
func (s *FS) DeviceDAXSize(major, minor uint32) (uint64, error) {
	return s.readUint(filepath.Join(s.devPath(Char, major, minor), "size"))
}

// DeviceDAXAlignment returns the mapping alignment of a device DAX instance.
func (s *FS) DeviceDAXAlignment(major, minor uint32) (uint64, error) {
	v, err := s.readUint(filepath.Join(s.devPath(Char, major, minor), "device", "align"))
	if err != nil {
		return 0, err
	}
	if v == 0 || v&(v-1) != 0 {
		return 0, fmt.Errorf("%w: alignment %d is not a power of two", ErrMalformed, v)
	}
	return v, nil
}

// RegionID returns the NVDIMM region number the device belongs to.
func (s *FS) RegionID(class DeviceClass, major, minor uint32) (int, error) {
	key := devKey{class: class, major: major, minor: minor}
	if id, ok := s.regions.Get(key); ok {
		return id, nil
	}

	target, err := s.fsys.EvalSymlinks(s.devPath(class, major, minor))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoRegion
		}
		return 0, err
	}

	m := regionRe.FindAllStringSubmatch(filepath.ToSlash(target), -1)
	if len(m) == 0 {
		return 0, ErrNoRegion
	}
	// The innermost region component wins.
	id, err := strconv.Atoi(m[len(m)-1][1])
	if err != nil {
		return 0, fmt.Errorf("%w: region in %s", ErrMalformed, target)
	}

	s.regions.Add(key, id)
	return id, nil
}

// DeepFlush asks region id to drain its write-pending queues. Regions without
// a deep_flush attribute have nothing to drain.
func (s *FS) DeepFlush(regionID int) error {
	path := filepath.Join(s.root, "bus", "nd", "devices", fmt.Sprintf("region%d", regionID), "deep_flush")
	f, err := s.fsys.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte("1")); err != nil {
		return err
	}
	return nil
}

// CPUCachePersistent reports whether every NVDIMM region on the platform
// lists cpu_cache as its persistence domain (eADR). No regions means false.
func (s *FS) CPUCachePersistent() (bool, error) {
	regions, err := s.fsys.Glob(filepath.Join(s.root, "bus", "nd", "devices", "region*"))
	if err != nil {
		return false, err
	}

	seen := 0
	for _, r := range regions {
		domain, err := s.readTrimmed(filepath.Join(r, "persistence_domain"))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return false, err
		}
		seen++
		if domain != "cpu_cache" {
			return false, nil
		}
	}
	return seen > 0, nil
}
