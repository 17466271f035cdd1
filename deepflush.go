package pmem2

import (
	"github.com/pmem/pmdk-sub006/internal/sysfs"
)

// DeepFlusher pushes data past the memory controller's write-pending queues.
type DeepFlusher interface {
	DeepFlush(m *Mapping, addr, n uintptr) error
}

// sysfsDeepFlusher triggers the NVDIMM region deep_flush for device DAX and
// falls back to an OS flush for everything else.
type sysfsDeepFlusher struct {
	fs *sysfs.FS
}

func (d *sysfsDeepFlusher) DeepFlush(m *Mapping, addr, n uintptr) error {
	if m.src.ftype != FileTypeDeviceDAX {
		if err := m.platform.FlushOS(addr, n, m.fd); err != nil {
			return osError("deep flush", err)
		}
		return nil
	}

	id, err := d.fs.RegionID(sysfs.Char, m.src.dev.Major, m.src.dev.Minor)
	if err != nil {
		return osError("deep flush region lookup", err)
	}
	if err := d.fs.DeepFlush(id); err != nil {
		return osError("deep flush", err)
	}
	return nil
}
