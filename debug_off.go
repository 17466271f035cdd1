//go:build !pmem2debug

package pmem2

const debugChecks = false
