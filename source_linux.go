package pmem2

// classifyCharDevice accepts only device DAX instances and reads their size
// and alignment from sysfs.
func classifyCharDevice(o options, dev DeviceID) (size, align uint64, err error) {
	ok, err := o.sysfs.IsDeviceDAX(dev.Major, dev.Minor)
	if err != nil {
		return 0, 0, osError("sysfs", err)
	}
	if !ok {
		return 0, 0, newError(CodeInvalidFileType, "character device %s is not device dax", dev)
	}
	if size, err = o.sysfs.DeviceDAXSize(dev.Major, dev.Minor); err != nil {
		return 0, 0, newError(CodeInvalidSize, "device dax %s size: %v", dev, err)
	}
	if align, err = o.sysfs.DeviceDAXAlignment(dev.Major, dev.Minor); err != nil {
		return 0, 0, newError(CodeInvalidAlignmentValue, "device dax %s alignment: %v", dev, err)
	}
	return size, align, nil
}

func platformAutoFlush(o options) bool {
	ok, err := o.sysfs.CPUCachePersistent()
	if err != nil {
		o.logger.Debug("eADR probe failed", "error", err)
		return false
	}
	return ok
}
