// Package pmem2 maps persistent memory and makes stores to it durable.
//
// A Source names what to map (a file, a device DAX character device or
// anonymous memory), a Config says how, and Map produces a Mapping. Every
// mapping carries the weakest store granularity the platform can guarantee:
//
//	GranularityByte       stores are durable once fenced (eADR platforms)
//	GranularityCacheLine  cache lines must be flushed (CLWB/CLFLUSHOPT/CLFLUSH)
//	GranularityPage       the OS must write pages back (msync/FlushViewOfFile)
//
// The caller states the granularity it can live with; Map fails with
// ErrGranularityNotSupported when the platform can only offer something
// coarser.
//
// # Quick Start
//
//	f, _ := os.OpenFile("/mnt/pmem/data", os.O_RDWR, 0)
//	src, _ := pmem2.NewSourceFromFile(f)
//
//	cfg := pmem2.NewConfig()
//	_ = cfg.SetRequiredStoreGranularity(pmem2.GranularityPage)
//
//	m, err := pmem2.Map(cfg, src)
//	if err != nil {
//	    return err
//	}
//	defer m.Delete()
//
//	m.Memcpy(0, []byte("hello"), 0) // copied and persisted
//
// # Reservations
//
// A VMReservation claims a range of address space up front. Mappings placed
// into it with Config.SetVMReservation land at a chosen offset; deleting such
// a mapping leaves an inaccessible placeholder behind instead of a hole
// another allocation could take.
//
// # Environment
//
//   - PMEM2_FORCE_GRANULARITY=BYTE|CACHE_LINE|PAGE overrides the granularity
//     the platform reports
//   - PMEM_NO_CLWB=1, PMEM_NO_CLFLUSHOPT=1 disable those instructions
//   - PMEM_NO_FLUSH=1 skips cache flushes, PMEM_NO_FLUSH=0 forces them
//
// # Debug builds
//
// Build with -tags pmem2debug to turn internal invariant violations and
// unknown mem-op flags into panics.
package pmem2
