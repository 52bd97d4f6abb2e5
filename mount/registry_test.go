package mount

import (
	"io"
	"os"
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend is the minimal blockdev.Backend a mount-registry test needs:
// enough blocks to open, nothing more.
type stubBackend struct {
	blockCount uint
}

func (b *stubBackend) Open() (uint, multivol.DriverError)                      { return b.blockCount, nil }
func (b *stubBackend) Read(_ []byte, _ uint, _ uint) multivol.DriverError      { return nil }
func (b *stubBackend) Write(_ []byte, _ uint, _ uint) multivol.DriverError     { return nil }
func (b *stubBackend) Close() multivol.DriverError                             { return nil }
func (b *stubBackend) Lock()                                                   {}
func (b *stubBackend) Unlock()                                                 {}
func (b *stubBackend) Resize(uint) multivol.DriverError                        { return multivol.NewDriverError(multivol.ENOTSUP) }

// stubFS is a trivial multivol.DriverImplementation used only to exercise
// the registry's mount bookkeeping, not any real file system semantics.
type stubFS struct{}

func (stubFS) CreateObject(name string, parent multivol.ObjectHandle, perm os.FileMode) (multivol.ObjectHandle, multivol.DriverError) {
	return nil, multivol.NewDriverError(multivol.ENOTSUP)
}
func (stubFS) GetObject(name string, parent multivol.ObjectHandle) (multivol.ObjectHandle, multivol.DriverError) {
	return nil, multivol.NewDriverError(multivol.ENOENT)
}
func (stubFS) GetRootDirectory() multivol.ObjectHandle { return nil }
func (stubFS) FSStat() multivol.FSStat                 { return multivol.FSStat{} }
func (stubFS) GetFSFeatures() multivol.FSFeatures      { return nil }
func (stubFS) FormatImage(image io.ReadWriteSeeker, stat multivol.FSStat) multivol.DriverError {
	return nil
}
func (stubFS) SetBootCode(code []byte) multivol.DriverError { return multivol.NewDriverError(multivol.ENOSYS) }
func (stubFS) GetBootCode() ([]byte, multivol.DriverError)  { return nil, multivol.NewDriverError(multivol.ENOSYS) }

var _ multivol.DriverImplementation = stubFS{}

func newRegisteredDevice(t *testing.T, r *Registry, name string) *blockdev.Device {
	t.Helper()
	dev, err := blockdev.New(name, 512, &stubBackend{blockCount: 16})
	require.NoError(t, err)
	require.NoError(t, r.RegisterDevice(name, dev))
	return dev
}

func TestRegisterDeviceRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	newRegisteredDevice(t, r, "disk0")

	dev2, err := blockdev.New("disk0", 512, &stubBackend{blockCount: 16})
	require.NoError(t, err)
	require.Error(t, r.RegisterDevice("disk0", dev2))
}

func TestMountUnknownDeviceFailsNoDev(t *testing.T) {
	r := NewRegistry()
	err := r.Mount("/mnt/", "missing", stubFS{}, false)
	require.Error(t, err)
}

func TestMountNormalizesTrailingSeparator(t *testing.T) {
	r := NewRegistry()
	newRegisteredDevice(t, r, "disk0")

	require.NoError(t, r.Mount("/mnt", "disk0", stubFS{}, false))

	entry := r.Find("/mnt/file.txt")
	require.NotNil(t, entry)
	assert.Equal(t, "/mnt/", entry.MountPoint)
}

func TestMountRejectsDuplicateMountPoint(t *testing.T) {
	r := NewRegistry()
	newRegisteredDevice(t, r, "disk0")
	newRegisteredDevice(t, r, "disk1")

	require.NoError(t, r.Mount("/mnt/", "disk0", stubFS{}, false))
	err := r.Mount("/mnt/", "disk1", stubFS{}, false)
	require.Error(t, err)
}

func TestUnmountMissingMountFailsNoDev(t *testing.T) {
	r := NewRegistry()
	err := r.Unmount("/nope/")
	require.Error(t, err)
}

func TestUnmountReleasesDevice(t *testing.T) {
	r := NewRegistry()
	dev := newRegisteredDevice(t, r, "disk0")

	require.NoError(t, r.Mount("/mnt/", "disk0", stubFS{}, false))
	assert.EqualValues(t, 1, dev.RefCount())

	require.NoError(t, r.Unmount("/mnt/"))
	assert.EqualValues(t, 0, dev.RefCount())
	assert.Nil(t, r.Find("/mnt/file.txt"))
}

func TestFindLongestPrefixWins(t *testing.T) {
	r := NewRegistry()
	newRegisteredDevice(t, r, "disk0")
	newRegisteredDevice(t, r, "disk1")

	require.NoError(t, r.Mount("/mnt/", "disk0", stubFS{}, false))
	require.NoError(t, r.Mount("/mnt/sub/", "disk1", stubFS{}, false))

	entry := r.Find("/mnt/sub/file.txt")
	require.NotNil(t, entry)
	assert.Equal(t, "/mnt/sub/", entry.MountPoint)

	entry = r.Find("/mnt/file.txt")
	require.NotNil(t, entry)
	assert.Equal(t, "/mnt/", entry.MountPoint)
}

func TestFindReturnsNilWhenNoMountMatches(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Find("/anywhere/file.txt"))
}

func TestUnmountAllAggregatesAndClearsMounts(t *testing.T) {
	r := NewRegistry()
	newRegisteredDevice(t, r, "disk0")
	newRegisteredDevice(t, r, "disk1")

	require.NoError(t, r.Mount("/a/", "disk0", stubFS{}, false))
	require.NoError(t, r.Mount("/b/", "disk1", stubFS{}, false))

	require.NoError(t, r.UnmountAll())
	assert.Empty(t, r.Mounts())
}

func TestOverlayIsPerDevice(t *testing.T) {
	r := NewRegistry()
	newRegisteredDevice(t, r, "disk0")
	newRegisteredDevice(t, r, "disk1")

	o0, ok := r.Overlay("disk0")
	require.True(t, ok)
	o1, ok := r.Overlay("disk1")
	require.True(t, ok)
	assert.NotSame(t, o0, o1)
}
