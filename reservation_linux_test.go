package pmem2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmem/pmdk-sub006/testutil"
)

const mib = 1 << 20

func newReservation(t *testing.T, size uint64, opts ...Option) *VMReservation {
	t.Helper()
	r, err := NewVMReservation(0, size, append([]Option{WithLogger(NoopLogger())}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestVMReservation_New(t *testing.T) {
	r := newReservation(t, 8*mib)

	assert.Zero(t, r.Address()%(2*mib), "implicit reservations are 2 MiB aligned")
	assert.Equal(t, uint64(8*mib), r.Size())
	assert.Equal(t, uint64(8*mib), r.FreeSpace())
	assert.Zero(t, r.OccupiedLength())

	require.NoError(t, r.Delete())
	assert.Error(t, r.Delete())
}

func TestVMReservation_Validation(t *testing.T) {
	page := uint64(nativePlatform().PageSize())

	_, err := NewVMReservation(0, page+1)
	assert.ErrorIs(t, err, ErrLengthUnaligned)
	_, err = NewVMReservation(0, 0)
	assert.ErrorIs(t, err, ErrLengthUnaligned)
	_, err = NewVMReservation(uintptr(page)+1, page)
	assert.ErrorIs(t, err, ErrAddressUnaligned)
}

func TestVMReservation_OccupiedAddress(t *testing.T) {
	r := newReservation(t, 2*mib)
	defer r.Delete()

	_, err := NewVMReservation(r.Address(), 2*mib, WithLogger(NoopLogger()))
	assert.ErrorIs(t, err, ErrAddressOccupied)
}

func TestVMReservation_ClaimRelease(t *testing.T) {
	page := uint64(nativePlatform().PageSize())
	r := newReservation(t, 4*mib)
	defer r.Delete()

	require.NoError(t, r.claim(0, 2*page))
	assert.Equal(t, 2*page, r.OccupiedLength())

	assert.ErrorIs(t, r.claim(page, page), ErrMappingExists)
	assert.ErrorIs(t, r.claim(3, page), ErrOffsetUnaligned)
	assert.ErrorIs(t, r.claim(4*mib-page, 2*page), ErrLengthOutOfRange)
	assert.ErrorIs(t, r.claim(0, 0), ErrLengthOutOfRange)

	require.NoError(t, r.claim(2*page, page))
	require.NoError(t, r.release(0))
	require.NoError(t, r.release(2*page))
	assert.Zero(t, r.OccupiedLength())
}

// Any sequence of claims undone in any order leaves the bookkeeping where it
// started.
func TestVMReservation_Conservation(t *testing.T) {
	page := uint64(nativePlatform().PageSize())
	const slots = 64
	r := newReservation(t, slots*page)
	defer r.Delete()

	rng := testutil.NewRNG(4711)
	var claimed []uint64
	var total uint64
	for slot := uint64(0); slot < slots; {
		n := uint64(rng.Intn(4) + 1)
		if slot+n > slots {
			n = slots - slot
		}
		if rng.Intn(3) > 0 {
			require.NoError(t, r.claim(slot*page, n*page))
			claimed = append(claimed, slot*page)
			total += n * page
		}
		slot += n
	}
	assert.Equal(t, total, r.OccupiedLength())
	assert.Equal(t, r.Size()-total, r.FreeSpace())

	for len(claimed) > 0 {
		i := rng.Intn(len(claimed))
		require.NoError(t, r.release(claimed[i]))
		claimed = append(claimed[:i], claimed[i+1:]...)
	}
	assert.Zero(t, r.OccupiedLength())
	assert.Equal(t, r.Size(), r.FreeSpace())
}

func mapInto(t *testing.T, r *VMReservation, offset, length uint64, opts ...Option) *Mapping {
	t.Helper()
	src, err := NewAnonymousSource(length)
	require.NoError(t, err)

	cfg := NewConfig()
	require.NoError(t, cfg.SetRequiredStoreGranularity(GranularityPage))
	require.NoError(t, cfg.SetVMReservation(r, offset))

	m, err := Map(cfg, src, append([]Option{WithLogger(NoopLogger())}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestVMReservation_MapUnmapRemap(t *testing.T) {
	t.Setenv(ForceGranularityEnv, "")
	r := newReservation(t, 8*mib)

	m := mapInto(t, r, 0, 4*mib)
	assert.Equal(t, r.Address(), m.Address())
	assert.Equal(t, uint64(4*mib), r.FreeSpace())
	require.NoError(t, m.Delete())
	assert.Equal(t, uint64(8*mib), r.FreeSpace())

	m = mapInto(t, r, 4*mib, 4*mib)
	assert.Equal(t, r.Address()+4*mib, m.Address())
	assert.Equal(t, uint64(4*mib), r.FreeSpace())

	assert.ErrorIs(t, r.Delete(), ErrVMReservationNotEmpty)
	require.NoError(t, m.Delete())
	require.NoError(t, r.Delete())
}

func TestVMReservation_LargestFreeSpan(t *testing.T) {
	t.Setenv(ForceGranularityEnv, "")
	r := newReservation(t, 8*mib)
	defer r.Delete()
	assert.Equal(t, uint64(8*mib), r.LargestFreeSpan())

	m := mapInto(t, r, 0, 2*mib)
	assert.Equal(t, uint64(6*mib), r.LargestFreeSpan())
	require.NoError(t, m.Delete())

	m = mapInto(t, r, 4*mib, 2*mib)
	defer m.Delete()
	assert.Equal(t, uint64(6*mib), r.FreeSpace())
	assert.Equal(t, uint64(4*mib), r.LargestFreeSpan())

	tail := mapInto(t, r, 6*mib, 2*mib)
	assert.Equal(t, uint64(4*mib), r.LargestFreeSpan())
	head := mapInto(t, r, mib, 2*mib)
	assert.Equal(t, uint64(mib), r.LargestFreeSpan())
	assert.Equal(t, uint64(2*mib), r.FreeSpace())
	require.NoError(t, head.Delete())
	require.NoError(t, tail.Delete())
	assert.Equal(t, uint64(4*mib), r.LargestFreeSpan())
}

func TestVMReservation_Iteration(t *testing.T) {
	t.Setenv(ForceGranularityEnv, "")
	r := newReservation(t, 8*mib)
	defer r.Delete()

	_, ok := r.MapFirst()
	assert.False(t, ok)

	a := mapInto(t, r, 0, 2*mib)
	defer a.Delete()
	b := mapInto(t, r, 4*mib, 2*mib)
	defer b.Delete()

	got, ok := r.MapFirst()
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = r.MapLast()
	require.True(t, ok)
	assert.Same(t, b, got)

	got, ok = r.MapNext(a)
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = r.MapNext(b)
	assert.False(t, ok)

	got, ok = r.MapPrev(b)
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = r.MapPrev(a)
	assert.False(t, ok)

	got, ok = r.MapFind(mib, 4*mib)
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = r.MapFind(3*mib, 2*mib)
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.MapFind(2*mib, 2*mib)
	assert.False(t, ok)

	rsv, off := b.Reservation()
	assert.Same(t, r, rsv)
	assert.Equal(t, uint64(4*mib), off)
}
