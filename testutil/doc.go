// Package testutil provides testing utilities for pmem2.
//
// This package is intended for use in tests and benchmarks only.
//
// # Backing Files
//
//	f := testutil.TempFile(t, 4<<20) // sized, opened read-write, closed on cleanup
//
// # Data Patterns
//
//	rng := testutil.NewRNG(seed)
//	buf := rng.Bytes(4096)
//	off, ok := testutil.FirstMismatch(got, buf)
package testutil
