// Package mmap is the OS mapping primitive behind pmem2 mappings.
//
// # Overview
//
// Every mapping is placed at a fixed address inside a reserved range. A
// reservation is a placeholder: address space the OS will not hand out to
// anyone else but that has no storage behind it. Real mappings replace parts
// of a placeholder and are turned back into placeholders when they go away.
//
//	p := mmap.Native()
//	addr, _ := p.Reserve(0, 4<<20, mmap.Alignment2M)
//	res, _ := p.MapAt(mmap.MapRequest{Addr: addr, Length: 2 << 20, ...})
//	_ = p.FlushOS(res.Addr, 2<<20, fd)
//	_ = p.Mend(res.Addr, 2<<20)
//	_ = p.Release(addr, 4<<20)
//
// # Platform Support
//
//   - Unix: PROT_NONE anonymous mappings as placeholders, MAP_FIXED to
//     replace them, MAP_FIXED_NOREPLACE on Linux to detect occupied hints and
//     MAP_SYNC to detect DAX-capable files. Split and MergeBack are no-ops.
//   - Windows: VirtualAlloc2 placeholders, MapViewOfFile3 with
//     MEM_REPLACE_PLACEHOLDER, and explicit placeholder splitting/coalescing.
//
// # Thread Safety
//
// The Platform itself keeps no state. Callers own the bookkeeping of which
// parts of a reservation are in use.
package mmap
