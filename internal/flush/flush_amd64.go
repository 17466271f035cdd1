//go:build amd64 && !noasm

package flush

func init() {
	maxLeaf, _, _, _ := cpuid(0, 0)
	if maxLeaf < 1 {
		return
	}
	_, _, _, edx1 := cpuid(1, 0)
	detected.CLFLUSH = edx1&(1<<19) != 0

	if maxLeaf >= 7 {
		_, ebx7, _, _ := cpuid(7, 0)
		detected.CLFLUSHOPT = ebx7&(1<<23) != 0
		detected.CLWB = ebx7&(1<<24) != 0
	}
}

func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)

func clflushRange(addr, n uintptr)

func clflushoptRange(addr, n uintptr)

func clwbRange(addr, n uintptr)

func storeFence()
