package fat

import (
	"os"
	"testing"

	"github.com/latticeworks/multivol/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriverMountsFreshlyFormattedFAT12Volume(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()
	require.NotNil(t, root)
	assert.Equal(t, "/", root.Name())

	names, err := root.ListDir()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCreateObjectAndListDir(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
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
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("data.bin", root, 0o644)
	require.NoError(t, derr)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, obj.WriteBlocks(0, payload))

	fetched, derr := driver.GetObject("data.bin", root)
	require.NoError(t, derr)

	stat := fetched.Stat()
	assert.EqualValues(t, len(payload), stat.Size)

	got := make([]byte, len(payload))
	require.NoError(t, fetched.ReadBlocks(0, got))
	assert.Equal(t, payload, got)
}

func TestWriteFileSpanningMultipleClusters(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("big.bin", root, 0o644)
	require.NoError(t, derr)

	payload := make([]byte, 512*3)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, obj.WriteBlocks(0, payload))

	for i := 0; i < 3; i++ {
		got := make([]byte, 512)
		require.NoError(t, obj.ReadBlocks(common.LogicalBlock(i), got))
		assert.Equal(t, payload[i*512:(i+1)*512], got)
	}
}

func TestResizeTruncatesFile(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("shrink.bin", root, 0o644)
	require.NoError(t, derr)
	require.NoError(t, obj.WriteBlocks(0, make([]byte, 512*2)))

	require.NoError(t, obj.Resize(100))
	assert.EqualValues(t, 100, obj.Stat().Size)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()

	obj, derr := driver.CreateObject("gone.txt", root, 0o644)
	require.NoError(t, derr)
	require.NoError(t, obj.Unlink())

	_, derr = driver.GetObject("gone.txt", root)
	require.Error(t, derr)

	names, err := root.ListDir()
	require.NoError(t, err)
	assert.NotContains(t, names, "gone.txt")
}

func TestCreateDirectoryAndNestedFile(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()

	dirObj, derr := driver.CreateObject("subdir", root, os.ModeDir|0o755)
	require.NoError(t, derr)
	assert.True(t, dirObj.Stat().ModeFlags.IsDir())

	names, err := dirObj.ListDir()
	require.NoError(t, err)
	assert.Empty(t, names, "a fresh directory lists only . and .. which ListDir filters out")

	nested, derr := driver.CreateObject("nested.txt", dirObj, 0o644)
	require.NoError(t, derr)
	require.NoError(t, nested.WriteBlocks(0, []byte("hi")))

	names, err = dirObj.ListDir()
	require.NoError(t, err)
	assert.Equal(t, []string{"nested.txt"}, names)
}

func TestLongFileNameRoundTrip(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)
	root := driver.GetRootDirectory()

	longName := "a much longer file name than 8.3 allows.txt"
	_, derr := driver.CreateObject(longName, root, 0o644)
	require.NoError(t, derr)

	names, err := root.ListDir()
	require.NoError(t, err)
	assert.Contains(t, names, longName)

	obj, derr := driver.GetObject(longName, root)
	require.NoError(t, derr)
	assert.NotNil(t, obj)
}

func TestFSStatReportsFreeClusters(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)

	before := driver.FSStat()
	assert.EqualValues(t, 20, before.TotalBlocks)
	assert.EqualValues(t, 20, before.BlocksFree)

	root := driver.GetRootDirectory()
	_, derr := driver.CreateObject("consume.bin", root, 0o644)
	require.NoError(t, derr)

	obj, derr := driver.GetObject("consume.bin", root)
	require.NoError(t, derr)
	require.NoError(t, obj.WriteBlocks(0, make([]byte, 512)))

	after := driver.FSStat()
	assert.Less(t, after.BlocksFree, before.BlocksFree)
}

func TestSetAndGetBootCode(t *testing.T) {
	driver := newFormattedVolume(t, 512, 20)

	code := []byte("boot me up")
	require.NoError(t, driver.SetBootCode(code))

	got, derr := driver.GetBootCode()
	require.NoError(t, derr)
	assert.Equal(t, code, got[:len(code)])
}
