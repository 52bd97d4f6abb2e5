package fat

import (
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	mvtesting "github.com/latticeworks/multivol/testing"
	"github.com/stretchr/testify/require"
)

// newFormattedVolume formats a brand-new FAT volume sized for clusterCount
// clusters of clusterSize bytes each, then mounts it through a real
// *blockdev.Device so tests exercise the same code path production mounts
// do.
func newFormattedVolume(t *testing.T, clusterSize, clusterCount uint) *Driver {
	t.Helper()

	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{
		BlockSize:   int64(clusterSize),
		TotalBlocks: uint64(clusterCount),
	}
	require.NoError(t, formatFATImage(image, stat))

	backend := mvtesting.NewMemBackend(image.Data, bytesPerSectorDefault)
	device, err := blockdev.New("fatvol", bytesPerSectorDefault, backend)
	require.NoError(t, err)
	require.Nil(t, device.Init())

	driver, err := NewDriver(device)
	require.NoError(t, err)
	return driver
}
