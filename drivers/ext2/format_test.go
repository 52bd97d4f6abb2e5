package ext2

import (
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	mvtesting "github.com/latticeworks/multivol/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatImageProducesReadableSuperblock(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 1024, TotalBlocks: 128}
	require.NoError(t, formatExt2Image(image, stat))

	backend := mvtesting.NewMemBackend(image.Data, 1024)
	device, err := blockdev.New("ext2vol", 1024, backend)
	require.NoError(t, err)
	require.NoError(t, device.Init())

	sb, err := ReadSuperblock(device)
	require.NoError(t, err)
	assert.EqualValues(t, 128, sb.Raw.BlocksCount)
	assert.EqualValues(t, 1024, sb.BlockSize)
}

func TestFormatImageRejectsZeroBlocks(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 1024, TotalBlocks: 0}
	require.Error(t, formatExt2Image(image, stat))
}

func TestFormatImageRejectsVolumeTooSmallForMetadata(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 1024, TotalBlocks: 2}
	require.Error(t, formatExt2Image(image, stat))
}

func TestFormatImageRejectsMultiGroupVolumes(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 1024, TotalBlocks: 1024 * 8 * 2}
	require.Error(t, formatExt2Image(image, stat))
}
