package pmem2

import (
	"github.com/pmem/pmdk-sub006/internal/flush"
	"github.com/pmem/pmdk-sub006/internal/mmap"
	"github.com/pmem/pmdk-sub006/internal/registry"
)

// persister is the strategy a mapping uses to make stores durable. It is
// chosen once from the effective granularity and never changes.
type persister interface {
	granularity() Granularity
	// flush pushes [addr, addr+n) out of the volatile domain.
	flush(m *Mapping, addr, n uintptr) error
	// drain waits for earlier flushes to complete.
	drain()
	// deepFlush additionally pushes data through the memory controller.
	deepFlush(m *Mapping, addr, n uintptr) error
}

func bind(g Granularity, f *flush.Flusher) (persister, error) {
	switch g {
	case GranularityPage:
		return pagePersister{}, nil
	case GranularityCacheLine:
		return cacheLinePersister{f: f}, nil
	case GranularityByte:
		return bytePersister{f: f}, nil
	default:
		return nil, invariant("cannot bind granularity %s", g)
	}
}

// pagePersister relies on the OS writing dirty pages back.
type pagePersister struct{}

func (pagePersister) granularity() Granularity { return GranularityPage }

func (pagePersister) flush(m *Mapping, addr, n uintptr) error {
	return flushPages(m.platform, addr, n)
}

func (pagePersister) drain() {}

// The OS flush already reached the medium.
func (pagePersister) deepFlush(*Mapping, uintptr, uintptr) error { return nil }

// cacheLinePersister flushes CPU cache lines. Without a usable instruction
// it falls back to the OS flush.
type cacheLinePersister struct {
	f *flush.Flusher
}

func (cacheLinePersister) granularity() Granularity { return GranularityCacheLine }

func (p cacheLinePersister) flush(m *Mapping, addr, n uintptr) error {
	if p.f.NoFlush() == flush.NoFlushForce {
		return nil
	}
	if !p.f.HasCacheFlush() {
		return flushPages(m.platform, addr, n)
	}
	p.f.Flush(addr, n)
	return nil
}

func (p cacheLinePersister) drain() {
	p.f.Fence()
}

func (p cacheLinePersister) deepFlush(m *Mapping, addr, n uintptr) error {
	if err := p.flush(m, addr, n); err != nil {
		return err
	}
	p.drain()
	return m.deepFlusher.DeepFlush(m, addr, n)
}

// bytePersister: CPU caches are persistent, so only ordering matters.
type bytePersister struct {
	f *flush.Flusher
}

func (bytePersister) granularity() Granularity { return GranularityByte }

func (p bytePersister) flush(_ *Mapping, addr, n uintptr) error {
	// PMEM_NO_FLUSH=0 asks for flushes even on eADR platforms.
	if p.f.NoFlush() == flush.NoFlushNever {
		p.f.Flush(addr, n)
	}
	return nil
}

func (bytePersister) drain() {
	flush.FullFence()
}

func (bytePersister) deepFlush(m *Mapping, addr, n uintptr) error {
	flush.FullFence()
	return m.deepFlusher.DeepFlush(m, addr, n)
}

// flushPages msyncs [addr, addr+n), splitting it along registered mappings
// so each piece is flushed with its own descriptor. Pieces no mapping covers
// are flushed as-is and their OS error is returned unwrapped.
func flushPages(p mmap.Platform, addr, n uintptr) error {
	if n == 0 {
		return nil
	}
	end := addr + n

	var pieces []registry.Entry[*Mapping]
	mappingRegistry().Ascend(addr, n, func(e registry.Entry[*Mapping]) bool {
		pieces = append(pieces, e)
		return true
	})

	cur := addr
	for _, e := range pieces {
		if e.Start > cur {
			if err := p.FlushOS(cur, e.Start-cur, mmap.InvalidFd); err != nil {
				return err
			}
			cur = e.Start
		}
		hi := min(e.End(), end)
		if err := e.Value.platform.FlushOS(cur, hi-cur, e.Value.fd); err != nil {
			return osError("flush", err)
		}
		cur = hi
	}
	if cur < end {
		return p.FlushOS(cur, end-cur, mmap.InvalidFd)
	}
	return nil
}
