package pmem2

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, Shared, cfg.Sharing())
	assert.Equal(t, ProtRead|ProtWrite, cfg.Protection())
	assert.Equal(t, GranularityUnset, cfg.RequiredStoreGranularity())
	assert.Zero(t, cfg.Offset())
	assert.Zero(t, cfg.Length())
}

func TestConfig_Setters(t *testing.T) {
	cfg := NewConfig()

	assert.ErrorIs(t, cfg.SetSharing(Sharing(7)), ErrInvalidSharingValue)
	require.NoError(t, cfg.SetSharing(Private))
	assert.Equal(t, Private, cfg.Sharing())

	assert.ErrorIs(t, cfg.SetProtection(Protection(1)), ErrInvalidProtFlag)
	require.NoError(t, cfg.SetProtection(ProtNone))
	require.NoError(t, cfg.SetProtection(ProtRead|ProtExec))
	assert.Equal(t, ProtRead|ProtExec, cfg.Protection())

	assert.ErrorIs(t, cfg.SetRequiredStoreGranularity(GranularityUnset), ErrInvalidArgument)
	assert.ErrorIs(t, cfg.SetRequiredStoreGranularity(Granularity(42)), ErrInvalidArgument)
	require.NoError(t, cfg.SetRequiredStoreGranularity(GranularityCacheLine))

	assert.ErrorIs(t, cfg.SetOffset(math.MaxInt64+1), ErrOffsetOutOfRange)
	require.NoError(t, cfg.SetOffset(4096))
	require.NoError(t, cfg.SetLength(8192))
}

func TestConfig_Consumed(t *testing.T) {
	cfg := NewConfig()
	cfg.consumed = true

	assert.ErrorIs(t, cfg.SetOffset(0), ErrConfigConsumed)
	assert.ErrorIs(t, cfg.SetLength(0), ErrConfigConsumed)
	assert.ErrorIs(t, cfg.SetSharing(Shared), ErrConfigConsumed)
	assert.ErrorIs(t, cfg.SetProtection(ProtRead), ErrConfigConsumed)
	assert.ErrorIs(t, cfg.SetRequiredStoreGranularity(GranularityPage), ErrConfigConsumed)
	assert.ErrorIs(t, cfg.SetVMReservation(nil, 0), ErrConfigConsumed)
}

func TestConfig_ResolveLength(t *testing.T) {
	page := uint64(nativePlatform().PageSize())
	src, err := NewAnonymousSource(16 * page)
	require.NoError(t, err)

	cases := []struct {
		name    string
		offset  uint64
		length  uint64
		want    uint64
		wantErr error
	}{
		{"whole source", 0, 0, 16 * page, nil},
		{"tail", 4 * page, 0, 12 * page, nil},
		{"explicit", page, 2 * page, 2 * page, nil},
		{"unaligned offset", 1, page, 0, ErrOffsetUnaligned},
		{"unaligned length", 0, page + 1, 0, ErrLengthUnaligned},
		{"past end", 8 * page, 9 * page, 0, ErrMapRange},
		{"empty tail", 16 * page, 0, 0, ErrSourceEmpty},
		{"offset beyond size", 32 * page, 0, 0, ErrMapRange},
		{"overflow", math.MaxInt64 &^ (page - 1), 2 * page, 0, ErrOffsetOutOfRange},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			require.NoError(t, cfg.SetOffset(tc.offset))
			require.NoError(t, cfg.SetLength(tc.length))

			got, reserved, err := cfg.resolveLength(src)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want, reserved)
		})
	}
}

func TestAnonymousSource(t *testing.T) {
	_, err := NewAnonymousSource(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	src, err := NewAnonymousSource(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, SourceAnonymous, src.Kind())
	assert.Equal(t, FileTypeUnknown, src.FileType())

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), size)

	align, err := src.Alignment()
	require.NoError(t, err)
	assert.Equal(t, uint64(nativePlatform().PageSize()), align)

	_, err = src.DeviceID()
	assert.ErrorIs(t, err, ErrNotSupported)
}
