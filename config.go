package pmem2

import (
	"math"

	"github.com/pmem/pmdk-sub006/internal/mmap"
)

// Protection is the page protection of a mapping.
type Protection uint32

const (
	// ProtNone forbids any access.
	ProtNone Protection = 0
	ProtExec Protection = 1 << 29
	ProtRead Protection = 1 << 30
	// ProtWrite implies read access on most platforms.
	ProtWrite Protection = 1 << 31

	protMask = ProtExec | ProtRead | ProtWrite
)

func (p Protection) mmapProt() mmap.Prot {
	var out mmap.Prot
	if p&ProtRead != 0 {
		out |= mmap.ProtRead
	}
	if p&ProtWrite != 0 {
		out |= mmap.ProtWrite
	}
	if p&ProtExec != 0 {
		out |= mmap.ProtExec
	}
	return out
}

// Config describes how a Source should be mapped. Build it with the setters
// and hand it to Map. Once a mapping has been created from it the config is
// frozen: further setters and further Map calls fail with ErrConfigConsumed.
type Config struct {
	offset      uint64
	length      uint64
	sharing     Sharing
	protection  Protection
	granularity Granularity

	reservation       *VMReservation
	reservationOffset uint64

	consumed bool
}

// NewConfig returns a config with the defaults: shared, read-write, whole
// source, granularity unset.
func NewConfig() *Config {
	return &Config{
		sharing:    Shared,
		protection: ProtRead | ProtWrite,
	}
}

// SetOffset sets the source offset of the mapping. It must be a multiple of
// the source alignment, which is checked by Map.
func (c *Config) SetOffset(offset uint64) error {
	if c.consumed {
		return ErrConfigConsumed
	}
	// mmap takes a signed offset.
	if offset > math.MaxInt64 {
		return newError(CodeOffsetOutOfRange, "offset %d exceeds the signed 64-bit range", offset)
	}
	c.offset = offset
	return nil
}

// SetLength sets the mapping length. Zero maps to the end of the source.
func (c *Config) SetLength(length uint64) error {
	if c.consumed {
		return ErrConfigConsumed
	}
	c.length = length
	return nil
}

// SetSharing selects shared or private mapping.
func (c *Config) SetSharing(s Sharing) error {
	if c.consumed {
		return ErrConfigConsumed
	}
	if s != Shared && s != Private {
		return newError(CodeInvalidSharingValue, "invalid sharing value %d", s)
	}
	c.sharing = s
	return nil
}

// SetProtection sets the page protection.
func (c *Config) SetProtection(p Protection) error {
	if c.consumed {
		return ErrConfigConsumed
	}
	if p&^protMask != 0 {
		return newError(CodeInvalidProtFlag, "invalid protection flags %#x", uint32(p))
	}
	c.protection = p
	return nil
}

// SetRequiredStoreGranularity sets the weakest granularity the caller can
// accept. Map fails if the platform can only offer something coarser.
func (c *Config) SetRequiredStoreGranularity(g Granularity) error {
	if c.consumed {
		return ErrConfigConsumed
	}
	if !g.valid() {
		return newError(CodeInvalidArgument, "invalid granularity %s", g)
	}
	c.granularity = g
	return nil
}

// SetVMReservation places the mapping at offset inside r. nil clears it.
func (c *Config) SetVMReservation(r *VMReservation, offset uint64) error {
	if c.consumed {
		return ErrConfigConsumed
	}
	c.reservation = r
	c.reservationOffset = offset
	if r == nil {
		c.reservationOffset = 0
	}
	return nil
}

// Offset returns the configured source offset.
func (c *Config) Offset() uint64 { return c.offset }

// Length returns the configured length, zero meaning to the end of the source.
func (c *Config) Length() uint64 { return c.length }

// Sharing returns the configured sharing.
func (c *Config) Sharing() Sharing { return c.sharing }

// Protection returns the configured protection.
func (c *Config) Protection() Protection { return c.protection }

// RequiredStoreGranularity returns the configured granularity.
func (c *Config) RequiredStoreGranularity() Granularity { return c.granularity }

// resolveLength validates offset and length against the source. It returns
// the number of source bytes the mapping covers and the page-rounded length
// of address space it occupies. Only a to-end-of-source length may leave a
// partial last page.
func (c *Config) resolveLength(src *Source) (content, reserved uint64, err error) {
	size, err := src.Size()
	if err != nil {
		return 0, 0, err
	}
	align, err := src.Alignment()
	if err != nil {
		return 0, 0, err
	}

	if c.offset%align != 0 {
		return 0, 0, newError(CodeOffsetUnaligned, "offset %d is not a multiple of source alignment %d", c.offset, align)
	}

	content = c.length
	if content == 0 {
		if c.offset > size {
			return 0, 0, newError(CodeMapRange, "offset %d beyond source size %d", c.offset, size)
		}
		content = size - c.offset
	} else if content%align != 0 {
		return 0, 0, newError(CodeLengthUnaligned, "length %d is not a multiple of source alignment %d", content, align)
	}
	if content == 0 {
		return 0, 0, ErrSourceEmpty
	}

	end := c.offset + content
	if end < c.offset || end > math.MaxInt64 {
		return 0, 0, newError(CodeOffsetOutOfRange, "offset %d plus length %d overflows", c.offset, content)
	}
	if end > size {
		return 0, 0, newError(CodeMapRange, "range [%d, %d) exceeds source size %d", c.offset, end, size)
	}

	reserved = (content + align - 1) &^ (align - 1)
	if reserved < content {
		return 0, 0, newError(CodeOffsetOutOfRange, "length %d overflows when rounded to %d", content, align)
	}
	return content, reserved, nil
}
