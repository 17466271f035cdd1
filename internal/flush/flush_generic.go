//go:build !amd64 || noasm

package flush

import "sync/atomic"

var fenceWord atomic.Uint64

func clflushRange(addr, n uintptr) {}

func clflushoptRange(addr, n uintptr) {}

func clwbRange(addr, n uintptr) {}

// storeFence relies on Go atomics being sequentially consistent.
func storeFence() {
	fenceWord.Add(1)
}
