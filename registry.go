package pmem2

import (
	"sync"

	"github.com/pmem/pmdk-sub006/internal/registry"
)

var (
	registryOnce sync.Once
	mappings     *registry.Index[*Mapping]
)

// mappingRegistry is the process-wide index of live mappings keyed by
// address range. Its lock only guards the index; no syscall runs under it.
func mappingRegistry() *registry.Index[*Mapping] {
	registryOnce.Do(func() {
		mappings = registry.New[*Mapping]()
	})
	return mappings
}

// FindMapping returns the live mapping containing addr.
func FindMapping(addr uintptr) (*Mapping, bool) {
	e, ok := mappingRegistry().FindEarliestOverlap(addr, 1)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// MappingCount returns the number of live mappings in the process.
func MappingCount() int {
	return mappingRegistry().Len()
}
