//go:build pmem2debug

package pmem2

// debugChecks turns programming errors into panics.
const debugChecks = true
