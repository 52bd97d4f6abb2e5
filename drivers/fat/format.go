package fat

import (
	"encoding/binary"
	"io"
	"syscall"

	"github.com/noxer/bytewriter"

	"github.com/latticeworks/multivol"
)

// bytesPerSectorDefault is the only sector size formatFATImage ever
// produces; 512 is universally supported by every FAT12/16/32
// implementation and is what NewFATBootSectorFromStream's validation
// accepts without special-casing.
const bytesPerSectorDefault = 512

// defaultRootEntryCount is the number of 32-byte directory entries the
// fixed-size FAT12/16 root directory gets (512 entries * 32 bytes = one
// full 16KiB region), matching the conventional MS-DOS default.
const defaultRootEntryCount = 512

// formatFATImage lays out a brand-new FAT12/16/32 volume onto image,
// choosing the FAT width from stat.TotalBlocks with the same
// DetermineFATVersion heuristic NewFATBootSectorFromStream uses to read one
// back, so the freshly formatted image is immediately mountable.
//
// stat.BlockSize is interpreted as the desired cluster size in bytes
// (rounded down to a whole multiple of bytesPerSectorDefault, minimum one
// sector); stat.TotalBlocks is the desired cluster count. Per spec §9's
// design note, the image is assembled as a single in-memory buffer via
// bytewriter before the one write-out, mirroring the teacher's
// file_systems/unixv1/format.go.
func formatFATImage(image io.ReadWriteSeeker, stat multivol.FSStat) multivol.DriverError {
	sectorsPerCluster := uint(stat.BlockSize / bytesPerSectorDefault)
	if sectorsPerCluster == 0 {
		sectorsPerCluster = 1
	}

	totalClusters := uint(stat.TotalBlocks)
	if totalClusters < 1 {
		return multivol.NewDriverErrorWithMessage(syscall.EINVAL, "stat.TotalBlocks must be nonzero")
	}

	version := DetermineFATVersion(totalClusters)

	var reservedSectors uint
	var rootEntryCount uint
	if version == 32 {
		reservedSectors = 32
		rootEntryCount = 0
	} else {
		reservedSectors = 1
		rootEntryCount = defaultRootEntryCount
	}

	rootDirSectors := (rootEntryCount*DirentSize + bytesPerSectorDefault - 1) / bytesPerSectorDefault

	// Entries 0 and 1 of every FAT are reserved (media descriptor + EOC
	// marker); the table must therefore be sized for totalClusters+2
	// entries.
	entryCount := totalClusters + 2
	var fatSizeSectors uint
	switch version {
	case 12:
		fatSizeSectors = ((entryCount*3+1)/2 + bytesPerSectorDefault - 1) / bytesPerSectorDefault
	case 16:
		fatSizeSectors = (entryCount*2 + bytesPerSectorDefault - 1) / bytesPerSectorDefault
	default:
		fatSizeSectors = (entryCount*4 + bytesPerSectorDefault - 1) / bytesPerSectorDefault
	}

	const numFATs = 2
	dataSectors := totalClusters * sectorsPerCluster
	totalSectors := reservedSectors + numFATs*fatSizeSectors + rootDirSectors + dataSectors

	imageSize := totalSectors * bytesPerSectorDefault
	buf := make([]byte, imageSize)
	writer := bytewriter.New(buf)

	boot := RawFATBootSectorWithBPB{
		JmpBoot:           [3]byte{0xEB, 0x3C, 0x90},
		OEMName:           [8]byte{'M', 'V', 'O', 'L', ' ', ' ', ' ', ' '},
		BytesPerSector:    bytesPerSectorDefault,
		SectorsPerCluster: uint8(sectorsPerCluster),
		ReservedSectors:   uint16(reservedSectors),
		NumFATs:           numFATs,
		RootEntryCount:    uint16(rootEntryCount),
		Media:             0xF8,
		SectorsPerTrack:   63,
		NumHeads:          255,
	}
	if totalSectors <= 0xFFFF {
		boot.totalSectors16 = uint16(totalSectors)
	} else {
		boot.totalSectors32 = uint32(totalSectors)
	}
	if version != 32 {
		boot.sectorsPerFAT16 = uint16(fatSizeSectors)
	}

	if err := binary.Write(writer, binary.LittleEndian, &boot); err != nil {
		return multivol.NewDriverErrorFromError(syscall.EIO, err)
	}

	if version == 32 {
		if err := binary.Write(writer, binary.LittleEndian, uint32(fatSizeSectors)); err != nil {
			return multivol.NewDriverErrorFromError(syscall.EIO, err)
		}
		ext := struct {
			ExtFlags       uint16
			FSVersionMinor uint8
			FSVersionMajor uint8
			RootCluster    uint32
		}{RootCluster: 2}
		if err := binary.Write(writer, binary.LittleEndian, &ext); err != nil {
			return multivol.NewDriverErrorFromError(syscall.EIO, err)
		}
	}

	sig := []byte{0x55, 0xAA}
	copy(buf[bytesPerSectorDefault-2:bytesPerSectorDefault], sig)

	fatStart := reservedSectors * bytesPerSectorDefault
	for i := 0; i < numFATs; i++ {
		offset := fatStart + uint(i)*fatSizeSectors*bytesPerSectorDefault
		writeEmptyFAT(buf[offset:offset+fatSizeSectors*bytesPerSectorDefault], version)
	}

	if version == 32 {
		// The root directory is an ordinary cluster chain starting at
		// cluster 2; mark it end-of-chain in both FAT copies.
		for i := 0; i < numFATs; i++ {
			offset := fatStart + uint(i)*fatSizeSectors*bytesPerSectorDefault
			setFATEntryInBuffer(buf[offset:], version, 2, fatEOCFor(version))
		}
	}

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return multivol.NewDriverErrorFromError(syscall.EIO, err)
	}
	if _, err := image.Write(buf); err != nil {
		return multivol.NewDriverErrorFromError(syscall.EIO, err)
	}
	return nil
}

// writeEmptyFAT zeroes a freshly formatted FAT table's bytes, except for
// the first two reserved entries, which must carry the media descriptor
// byte (entry 0) and an end-of-chain marker (entry 1) per the FAT standard.
func writeEmptyFAT(table []byte, version int) {
	for i := range table {
		table[i] = 0
	}
	switch version {
	case 12:
		// Entries 0 and 1 share the first 3 bytes: 0xF8 0xFF 0xFF.
		table[0] = 0xF8
		table[1] = 0xFF
		table[2] = 0xFF
	case 16:
		binary.LittleEndian.PutUint16(table[0:2], 0xFFF8)
		binary.LittleEndian.PutUint16(table[2:4], 0xFFFF)
	default:
		binary.LittleEndian.PutUint32(table[0:4], 0x0FFFFFF8)
		binary.LittleEndian.PutUint32(table[4:8], 0x0FFFFFFF)
	}
}

func fatEOCFor(version int) uint32 {
	switch version {
	case 12:
		return 0x0FFF
	case 16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

func setFATEntryInBuffer(table []byte, version int, index uint, value uint32) {
	switch version {
	case 12:
		offset := index + index/2
		raw := binary.LittleEndian.Uint16(table[offset : offset+2])
		if index%2 == 0 {
			raw = (raw & 0xF000) | (uint16(value) & 0x0FFF)
		} else {
			raw = (raw & 0x000F) | (uint16(value) << 4)
		}
		binary.LittleEndian.PutUint16(table[offset:offset+2], raw)
	case 16:
		binary.LittleEndian.PutUint16(table[index*2:index*2+2], uint16(value))
	default:
		offset := index * 4
		raw := binary.LittleEndian.Uint32(table[offset : offset+4])
		raw = (raw & 0xF0000000) | (value & 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(table[offset:offset+4], raw)
	}
}
