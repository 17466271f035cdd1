package pmem2

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmem/pmdk-sub006/testutil"
)

func TestSourceFromFile(t *testing.T) {
	f := testutil.TempFile(t, 1<<20)

	src, err := NewSourceFromFile(f)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, src.Kind())
	assert.Equal(t, FileTypeRegular, src.FileType())
	assert.Equal(t, f.Fd(), src.Fd())

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), size)

	// Size follows the file.
	require.NoError(t, f.Truncate(2<<20))
	size, err = src.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(2<<20), size)

	_, err = src.DeviceID()
	require.NoError(t, err)
}

func TestSourceFromFile_Rejects(t *testing.T) {
	_, err := NewSourceFromFile(nil)
	assert.ErrorIs(t, err, ErrInvalidFileHandle)

	dir, err := os.Open(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()
	_, err = NewSourceFromFile(dir)
	assert.ErrorIs(t, err, ErrInvalidFileType)

	path := filepath.Join(t.TempDir(), "wo")
	wo, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer wo.Close()
	_, err = NewSourceFromFile(wo)
	assert.ErrorIs(t, err, ErrInvalidFileHandle)

	// /dev/null is a character device but not device DAX.
	null, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer null.Close()
	_, err = NewSourceFromFile(null, WithSysfsRoot(t.TempDir()))
	assert.ErrorIs(t, err, ErrInvalidFileType)
}

// fakeDAXSysfs makes /dev/null (char 1:3) look like a 4 MiB device DAX
// instance in region2.
func fakeDAXSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	dax := filepath.Join(root, "devices", "platform", "ndbus0", "region2", "dax2.0", "dax", "dax2.0")
	require.NoError(t, os.MkdirAll(filepath.Join(dax, "device"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dax, "size"), []byte("4194304\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dax, "device", "align"), []byte("2097152\n"), 0o644))

	class := filepath.Join(root, "class", "dax")
	require.NoError(t, os.MkdirAll(class, 0o755))
	require.NoError(t, os.Symlink(class, filepath.Join(dax, "subsystem")))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "dev", "char"), 0o755))
	require.NoError(t, os.Symlink(dax, filepath.Join(root, "dev", "char", "1:3")))
	return root
}

func TestSourceFromFile_DeviceDAX(t *testing.T) {
	null, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer null.Close()

	root := fakeDAXSysfs(t)
	src, err := NewSourceFromFile(null, WithSysfsRoot(root))
	require.NoError(t, err)
	assert.Equal(t, FileTypeDeviceDAX, src.FileType())

	size, err := src.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(4<<20), size)

	align, err := src.Alignment()
	require.NoError(t, err)
	assert.Equal(t, uint64(2<<20), align)

	dev, err := src.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, DeviceID{Major: 1, Minor: 3}, dev)

	t.Run("PrivateRejected", func(t *testing.T) {
		cfg := NewConfig()
		require.NoError(t, cfg.SetRequiredStoreGranularity(GranularityPage))
		require.NoError(t, cfg.SetSharing(Private))
		_, err := Map(cfg, src, WithLogger(NoopLogger()))
		assert.ErrorIs(t, err, ErrSrcDevDAXPrivate)
	})

	t.Run("MapFailureRollsBack", func(t *testing.T) {
		before := MappingCount()
		cfg := NewConfig()
		require.NoError(t, cfg.SetRequiredStoreGranularity(GranularityPage))

		// The kernel refuses to mmap /dev/null shared.
		_, err := Map(cfg, src, WithLogger(NoopLogger()), WithSysfsRoot(root))
		require.Error(t, err)
		assert.Equal(t, before, MappingCount())
	})
}
