package testing

import (
	"io"
	"testing"

	"github.com/xaionaro-go/bytesextra"
)

// NewScratchImage builds a zero-filled in-memory disk image of exactly
// sectorSize*totalSectors bytes. It replaces the teacher's
// compressed-fixture loader (utilities/compression, built for the LBR
// archive format) since this repo carries no LBR test fixtures and no
// SPEC_FULL.md component reads that container format (see DESIGN.md's
// dropped-modules entry for utilities/compression). Every FAT/ext2 test in
// this module formats its own image with the engine's own FormatImage
// rather than unpacking a prebuilt one.
func NewScratchImage(t *testing.T, sectorSize, totalSectors uint) io.ReadWriteSeeker {
	t.Helper()
	imageBytes := make([]byte, sectorSize*totalSectors)
	return bytesextra.NewReadWriteSeeker(imageBytes)
}
