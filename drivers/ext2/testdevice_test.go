package ext2

import (
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	mvtesting "github.com/latticeworks/multivol/testing"
	"github.com/stretchr/testify/require"
)

// newFormattedVolume formats a single-block-group ext2 image of blockCount
// blocks of blockSize bytes each, then mounts it through a real
// *blockdev.Device, same as production code does.
func newFormattedVolume(t *testing.T, blockSize, blockCount uint) *Driver {
	t.Helper()

	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{
		BlockSize:   int64(blockSize),
		TotalBlocks: uint64(blockCount),
	}
	require.NoError(t, formatExt2Image(image, stat))

	backend := mvtesting.NewMemBackend(image.Data, blockSize)
	device, err := blockdev.New("ext2vol", blockSize, backend)
	require.NoError(t, err)
	require.NoError(t, device.Init())

	driver, err := NewDriver(device)
	require.NoError(t, err)
	return driver
}
