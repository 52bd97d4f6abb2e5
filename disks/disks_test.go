package disks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPredefinedDiskGeometry(t *testing.T) {
	geometry, err := GetPredefinedDiskGeometry("floppy-1440k")
	require.NoError(t, err)
	assert.Equal(t, "1.44MB 3.5in HD", geometry.Name)
	assert.EqualValues(t, 1474560, geometry.TotalSizeBytes())
}

func TestGetPredefinedDiskGeometryUnknownSlug(t *testing.T) {
	_, err := GetPredefinedDiskGeometry("does-not-exist")
	assert.Error(t, err)
}

func TestListPredefinedDiskGeometriesIncludesFATAndExt2Sizes(t *testing.T) {
	slugs := ListPredefinedDiskGeometries()
	assert.Contains(t, slugs, "fat32-2g")
	assert.Contains(t, slugs, "ext2-128m")
}

func TestTotalSizeBytesRoundsUpPartialBytes(t *testing.T) {
	g := DiskGeometry{
		BitsPerAddressUnit:    12,
		AddressUnitsPerSector: 1,
		SectorsPerTrack:       1,
		TotalDataTracks:       1,
		Heads:                 1,
	}
	assert.EqualValues(t, 2, g.TotalSizeBytes())
}
