//go:build darwin || freebsd || netbsd || openbsd

package pmem2

func classifyCharDevice(_ options, dev DeviceID) (size, align uint64, err error) {
	return 0, 0, newError(CodeInvalidFileType, "character device %s is not device dax", dev)
}

func platformAutoFlush(options) bool {
	return false
}
