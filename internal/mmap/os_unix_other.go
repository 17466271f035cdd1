//go:build darwin || freebsd || netbsd || openbsd

package mmap

import "golang.org/x/sys/unix"

const (
	reserveFlags = unix.MAP_PRIVATE | unix.MAP_ANON
	// Without MAP_FIXED_NOREPLACE the address is a hint; reserveAt checks
	// where the kernel actually placed the region.
	noReplaceFlag = 0
	syncFlags     = 0
)
