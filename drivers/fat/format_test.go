package fat

import (
	"bytes"
	"testing"

	"github.com/latticeworks/multivol"
	mvtesting "github.com/latticeworks/multivol/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatImagePicksFAT12ForSmallVolumes(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 512, TotalBlocks: 20}
	require.NoError(t, formatFATImage(image, stat))

	boot, err := NewFATBootSectorFromStream(bytes.NewReader(image.Data))
	require.NoError(t, err)
	assert.Equal(t, 12, boot.FATVersion)
}

func TestFormatImagePicksFAT16ForMidSizedVolumes(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 512, TotalBlocks: 5000}
	require.NoError(t, formatFATImage(image, stat))

	boot, err := NewFATBootSectorFromStream(bytes.NewReader(image.Data))
	require.NoError(t, err)
	assert.Equal(t, 16, boot.FATVersion)
}

func TestFormatImagePicksFAT32ForLargeVolumes(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 512, TotalBlocks: 70000}
	require.NoError(t, formatFATImage(image, stat))

	boot, err := NewFATBootSectorFromStream(bytes.NewReader(image.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, boot.FATVersion)
	assert.EqualValues(t, 2, boot.RootCluster)
}

func TestFormatImageRejectsZeroClusters(t *testing.T) {
	image := &mvtesting.GrowingImage{}
	stat := multivol.FSStat{BlockSize: 512, TotalBlocks: 0}
	require.Error(t, formatFATImage(image, stat))
}
