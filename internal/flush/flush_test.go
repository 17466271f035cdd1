package flush

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestNew_InstructionPreference(t *testing.T) {
	all := Features{CLFLUSH: true, CLFLUSHOPT: true, CLWB: true}

	assert.Equal(t, CLWB, New(all, Env{}).Instruction())
	assert.Equal(t, CLFLUSHOPT, New(all, Env{NoCLWB: true}).Instruction())
	assert.Equal(t, CLFLUSH, New(all, Env{NoCLWB: true, NoCLFLUSHOPT: true}).Instruction())
	assert.Equal(t, None, New(Features{}, Env{}).Instruction())
	assert.False(t, New(Features{}, Env{}).HasCacheFlush())
}

func TestReadEnv(t *testing.T) {
	t.Setenv("PMEM_NO_CLWB", "1")
	t.Setenv("PMEM_NO_CLFLUSHOPT", "0")
	t.Setenv("PMEM_NO_FLUSH", "1")

	env := ReadEnv()
	assert.True(t, env.NoCLWB)
	assert.False(t, env.NoCLFLUSHOPT)
	assert.Equal(t, NoFlushForce, env.NoFlush)

	t.Setenv("PMEM_NO_FLUSH", "0")
	assert.Equal(t, NoFlushNever, ReadEnv().NoFlush)

	t.Setenv("PMEM_NO_FLUSH", "maybe")
	assert.Equal(t, NoFlushUnset, ReadEnv().NoFlush)
}

func TestFlusher_FlushOrdinaryMemory(t *testing.T) {
	buf := make([]byte, 4*CacheLineSize+7)
	for i := range buf {
		buf[i] = byte(i)
	}

	f := Default()
	f.Flush(uintptr(unsafe.Pointer(&buf[3])), uintptr(len(buf)-3))
	f.Flush(uintptr(unsafe.Pointer(&buf[0])), 0)
	f.Fence()
	FullFence()

	for i := range buf {
		assert.Equal(t, byte(i), buf[i])
	}
}

func TestInstruction_String(t *testing.T) {
	assert.Equal(t, "clwb", CLWB.String())
	assert.Equal(t, "clflushopt", CLFLUSHOPT.String())
	assert.Equal(t, "clflush", CLFLUSH.String())
	assert.Equal(t, "none", None.String())
}
