package ext2

import (
	"os"
	"testing"

	"github.com/latticeworks/multivol/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriverMountsFreshlyFormattedVolume(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()
	require.NotNil(t, root)
	assert.Equal(t, "/", root.Name())
	assert.True(t, root.Stat().ModeFlags.IsDir())

	names, err := root.ListDir()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCreateObjectAndListDir(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	_, derr := driver.CreateObject("hello.txt", root, 0o644)
	require.NoError(t, derr)
	_, derr = driver.CreateObject("world.txt", root, 0o644)
	require.NoError(t, derr)

	names, err := root.ListDir()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hello.txt", "world.txt"}, names)
}

func TestWriteAndReadFileRoundTrip(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("data.bin", root, 0o644)
	require.NoError(t, derr)

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, obj.WriteBlocks(0, payload))

	fetched, derr := driver.GetObject("data.bin", root)
	require.NoError(t, derr)
	assert.EqualValues(t, len(payload), fetched.Stat().Size)

	got := make([]byte, len(payload))
	require.NoError(t, fetched.ReadBlocks(0, got))
	assert.Equal(t, payload, got)
}

func TestWriteFileSpanningMultipleBlocksViaIndirection(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("big.bin", root, 0o644)
	require.NoError(t, derr)

	// 12 direct pointers per inode; write enough blocks to force at least one
	// single-indirect block to be resolved.
	const blockCount = 16
	payload := make([]byte, 1024*blockCount)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, obj.WriteBlocks(0, payload))

	for i := 0; i < blockCount; i++ {
		got := make([]byte, 1024)
		require.NoError(t, obj.ReadBlocks(common.LogicalBlock(i), got))
		assert.Equal(t, payload[i*1024:(i+1)*1024], got, "block %d mismatch", i)
	}
}

func TestResizeTruncatesFile(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("shrink.bin", root, 0o644)
	require.NoError(t, derr)
	require.NoError(t, obj.WriteBlocks(0, make([]byte, 1024*3)))

	require.NoError(t, obj.Resize(100))
	assert.EqualValues(t, 100, obj.Stat().Size)
}

func TestUnlinkFreesInodeAndBlocks(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	before := driver.FSStat()

	obj, derr := driver.CreateObject("gone.txt", root, 0o644)
	require.NoError(t, derr)
	require.NoError(t, obj.WriteBlocks(0, make([]byte, 1024)))

	require.NoError(t, obj.Unlink())

	_, derr = driver.GetObject("gone.txt", root)
	require.Error(t, derr)

	names, err := root.ListDir()
	require.NoError(t, err)
	assert.NotContains(t, names, "gone.txt")

	after := driver.FSStat()
	assert.Equal(t, before.BlocksFree, after.BlocksFree, "unlinking should return the file's block to the free pool")
	assert.Equal(t, before.FilesFree, after.FilesFree, "unlinking should return the inode to the free pool")
}

func TestCreateDirectoryAndNestedFile(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	dirObj, derr := driver.CreateObject("subdir", root, os.ModeDir|0o755)
	require.NoError(t, derr)
	assert.True(t, dirObj.Stat().ModeFlags.IsDir())

	names, err := dirObj.ListDir()
	require.NoError(t, err)
	assert.Empty(t, names)

	nested, derr := driver.CreateObject("nested.txt", dirObj, 0o644)
	require.NoError(t, derr)
	require.NoError(t, nested.WriteBlocks(0, []byte("hi")))

	names, err = dirObj.ListDir()
	require.NoError(t, err)
	assert.Equal(t, []string{"nested.txt"}, names)
}

func TestFSStatReportsUsage(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)

	before := driver.FSStat()
	assert.EqualValues(t, 128, before.TotalBlocks)

	root := driver.GetRootDirectory()
	obj, derr := driver.CreateObject("consume.bin", root, 0o644)
	require.NoError(t, derr)
	require.NoError(t, obj.WriteBlocks(0, make([]byte, 1024)))

	after := driver.FSStat()
	assert.Less(t, after.BlocksFree, before.BlocksFree)
	assert.Less(t, after.FilesFree, before.FilesFree)
}

func TestChmodChownChtimes(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("meta.txt", root, 0o644)
	require.NoError(t, derr)

	require.NoError(t, obj.Chmod(0o600))
	assert.EqualValues(t, 0o600, obj.Stat().ModeFlags.Perm())

	require.NoError(t, obj.Chown(42, 7))
	assert.EqualValues(t, 42, obj.Stat().Uid)
	assert.EqualValues(t, 7, obj.Stat().Gid)
}

func TestBootCodeIsUnsupported(t *testing.T) {
	driver := newFormattedVolume(t, 1024, 128)

	require.Error(t, driver.SetBootCode([]byte("x")))
	_, derr := driver.GetBootCode()
	require.Error(t, derr)
}
