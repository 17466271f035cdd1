// Package fs abstracts the file operations used to read and poke kernel
// attribute trees, so tests can substitute failures.
//
//   - [FileSystem]: the operations (open, read, symlink resolution, glob)
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: wrapper that injects errors for matching paths
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	b, err := fs.Default.ReadFile("/sys/bus/nd/devices/region0/persistence_domain")
//
// Tests can wrap it to simulate a failing attribute:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("deep_flush", fs.Fault{FailOnWrite: true})
//
// Attribute files are tiny and reads are served by the kernel from memory,
// so no operation takes a context.
package fs
