//go:build linux

package mmap

import "golang.org/x/sys/unix"

const (
	reserveFlags  = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE
	noReplaceFlag = unix.MAP_FIXED_NOREPLACE
	// syncFlags replaces MAP_SHARED when asking for MAP_SYNC; the kernel only
	// validates MAP_SYNC under MAP_SHARED_VALIDATE.
	syncFlags = unix.MAP_SHARED_VALIDATE | unix.MAP_SYNC
)
