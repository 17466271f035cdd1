// Package flush provides the CPU-level primitives used to make stores durable:
// cache-line write-back/flush instructions and store fences.
//
// # Instruction Selection
//
// On amd64 the best available instruction is chosen once at init:
//
//	CLWB > CLFLUSHOPT > CLFLUSH
//
// CLWB and CLFLUSHOPT are weakly ordered and need a following Fence; CLFLUSH
// is strongly ordered and its Fence is a no-op.
//
// # Environment
//
//   - PMEM_NO_CLWB=1        never use CLWB
//   - PMEM_NO_CLFLUSHOPT=1  never use CLFLUSHOPT
//   - PMEM_NO_FLUSH=1       skip cache flushes entirely (treat caches as persistent)
//   - PMEM_NO_FLUSH=0       always flush, even when the platform reports eADR
//
// Build with -tags noasm, or on architectures without an implementation,
// to get a Flusher whose HasCacheFlush reports false; callers then fall back to
// an OS-level flush.
package flush

import (
	"os"
	"strings"
)

// Instruction identifies the cache flush instruction in use.
type Instruction uint8

const (
	// None means no CPU cache flush instruction is available.
	None Instruction = iota
	// CLFLUSH is the strongly ordered legacy flush.
	CLFLUSH
	// CLFLUSHOPT is the weakly ordered optimized flush.
	CLFLUSHOPT
	// CLWB writes the line back without evicting it.
	CLWB
)

// CacheLineSize is the flush unit.
const CacheLineSize = 64

// String returns the instruction mnemonic.
func (i Instruction) String() string {
	switch i {
	case CLFLUSH:
		return "clflush"
	case CLFLUSHOPT:
		return "clflushopt"
	case CLWB:
		return "clwb"
	default:
		return "none"
	}
}

// NoFlushMode is the tri-state PMEM_NO_FLUSH setting.
type NoFlushMode int8

const (
	// NoFlushUnset leaves the decision to platform detection.
	NoFlushUnset NoFlushMode = iota
	// NoFlushForce skips cache flushes.
	NoFlushForce
	// NoFlushNever always flushes.
	NoFlushNever
)

// Flusher flushes cache lines and fences stores.
type Flusher struct {
	insn    Instruction
	noFlush NoFlushMode
}

// Features describes the CPU support detected at init.
type Features struct {
	CLFLUSH    bool
	CLFLUSHOPT bool
	CLWB       bool
}

// Env holds the parsed environment knobs.
type Env struct {
	NoCLWB       bool
	NoCLFLUSHOPT bool
	NoFlush      NoFlushMode
}

var detected Features

// Detected returns the CPU features found at init.
func Detected() Features {
	return detected
}

// ReadEnv parses the PMEM_NO_* variables.
func ReadEnv() Env {
	return Env{
		NoCLWB:       envBool("PMEM_NO_CLWB"),
		NoCLFLUSHOPT: envBool("PMEM_NO_CLFLUSHOPT"),
		NoFlush:      parseNoFlush(os.Getenv("PMEM_NO_FLUSH")),
	}
}

func envBool(name string) bool {
	return strings.TrimSpace(os.Getenv(name)) == "1"
}

func parseNoFlush(v string) NoFlushMode {
	switch strings.TrimSpace(v) {
	case "1":
		return NoFlushForce
	case "0":
		return NoFlushNever
	default:
		return NoFlushUnset
	}
}

// New selects an instruction from the given features and environment.
func New(f Features, env Env) *Flusher {
	fl := &Flusher{noFlush: env.NoFlush}
	switch {
	case f.CLWB && !env.NoCLWB:
		fl.insn = CLWB
	case f.CLFLUSHOPT && !env.NoCLFLUSHOPT:
		fl.insn = CLFLUSHOPT
	case f.CLFLUSH:
		fl.insn = CLFLUSH
	default:
		fl.insn = None
	}
	return fl
}

// Default returns a Flusher built from detected features and the current
// environment.
func Default() *Flusher {
	return New(detected, ReadEnv())
}

// Instruction returns the selected flush instruction.
func (f *Flusher) Instruction() Instruction {
	return f.insn
}

// HasCacheFlush reports whether CPU cache lines can be flushed directly.
func (f *Flusher) HasCacheFlush() bool {
	return f.insn != None
}

// NoFlush returns the PMEM_NO_FLUSH mode captured at construction.
func (f *Flusher) NoFlush() NoFlushMode {
	return f.noFlush
}

// Flush writes back every cache line overlapping [addr, addr+n).
// It is a no-op when no instruction is available.
func (f *Flusher) Flush(addr, n uintptr) {
	if n == 0 {
		return
	}
	switch f.insn {
	case CLWB:
		clwbRange(addr, n)
	case CLFLUSHOPT:
		clflushoptRange(addr, n)
	case CLFLUSH:
		clflushRange(addr, n)
	}
}

// Fence orders preceding flushes and non-temporal stores before any later
// store.
func (f *Flusher) Fence() {
	if f.insn == CLFLUSH {
		// CLFLUSH is serialized with respect to stores already.
		return
	}
	storeFence()
}

// FullFence is an unconditional store fence.
func FullFence() {
	storeFence()
}
