//go:build linux || darwin || freebsd || netbsd || openbsd

package mmap

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesAt(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func TestReserve_Aligned(t *testing.T) {
	p := Native()

	addr, err := p.Reserve(0, 4<<20, Alignment2M)
	require.NoError(t, err)
	defer p.Release(addr, 4<<20)

	assert.Zero(t, addr%Alignment2M)
}

func TestReserve_OccupiedHint(t *testing.T) {
	p := Native()

	addr, err := p.Reserve(0, 2<<20, Alignment2M)
	require.NoError(t, err)
	defer p.Release(addr, 2<<20)

	_, err = p.Reserve(addr, 2<<20, Alignment2M)
	assert.ErrorIs(t, err, ErrAlreadyOccupied)
}

func TestMapAt_AnonymousMendRelease(t *testing.T) {
	p := Native()
	ps := p.PageSize()

	base, err := p.Reserve(0, 8*ps, ps)
	require.NoError(t, err)

	res, err := p.MapAt(MapRequest{
		Addr:   base + 2*ps,
		Length: 2 * ps,
		Prot:   ProtRead | ProtWrite,
		Fd:     InvalidFd,
	})
	require.NoError(t, err)
	assert.Equal(t, base+2*ps, res.Addr)
	assert.False(t, res.Synced)

	data := bytesAt(res.Addr, 2*ps)
	data[0] = 0xAB
	data[len(data)-1] = 0xCD
	assert.Equal(t, byte(0xAB), data[0])

	require.NoError(t, p.FlushOS(res.Addr+1, 10, InvalidFd))
	require.NoError(t, p.Advise(res.Addr, 2*ps, AccessSequential))

	require.NoError(t, p.Mend(res.Addr, 2*ps))
	require.NoError(t, p.Release(base, 8*ps))
}

func TestMapAt_FileRoundTrip(t *testing.T) {
	p := Native()
	ps := p.PageSize()

	f, err := os.CreateTemp(t.TempDir(), "mmap")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(2*ps)))

	base, err := p.Reserve(0, 2*ps, ps)
	require.NoError(t, err)

	res, err := p.MapAt(MapRequest{
		Addr:    base,
		Length:  2 * ps,
		Prot:    ProtRead | ProtWrite,
		Fd:      f.Fd(),
		TrySync: true,
	})
	require.NoError(t, err)

	copy(bytesAt(res.Addr+ps, 5), "hello")
	require.NoError(t, p.FlushOS(res.Addr+ps, 5, f.Fd()))
	require.NoError(t, p.Unmap(res.Addr, 2*ps))

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, int64(ps))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestPlatform_RejectsBadRanges(t *testing.T) {
	p := Native()
	ps := p.PageSize()

	_, err := p.Reserve(0, 0, ps)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = p.Reserve(0, ps, 3*ps)
	assert.ErrorIs(t, err, ErrUnaligned)

	assert.ErrorIs(t, p.Mend(1, ps), ErrUnaligned)
	assert.ErrorIs(t, p.Split(0, 0), ErrInvalidRange)
}

func TestReservationAlignment(t *testing.T) {
	assert.Equal(t, Alignment2M, ReservationAlignment(4<<20, 4096))
	assert.Equal(t, Alignment1G, ReservationAlignment(2*Alignment1G, 4096))
	assert.Equal(t, Alignment2M, ReservationAlignment(2*Alignment1G-1, 4096))
	assert.Equal(t, uintptr(4<<20), ReservationAlignment(4<<20, 4<<20))
}
