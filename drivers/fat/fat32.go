package fat

import (
	"encoding/binary"
	"io"
)

// readFAT32Extension reads the FAT32-only boot sector fields that
// immediately follow the 4-byte sectors-per-FAT32 count NewFATBootSectorFromStream
// already consumed, and returns the root directory's starting cluster.
func readFAT32Extension(reader io.Reader) (ClusterID, error) {
	var ext struct {
		ExtFlags       uint16
		FSVersionMinor uint8
		FSVersionMajor uint8
		RootCluster    uint32
	}
	if err := binary.Read(reader, binary.LittleEndian, &ext); err != nil {
		return 0, err
	}
	return ClusterID(ext.RootCluster), nil
}

type RawFAT32BootSector struct {
	RawFATBootSectorWithBPB
	fatSize32        uint32
	ExtFlags         uint16
	FSVersionMinor   uint8
	FSVersionMajor   uint8
	RootCluster      uint32
	BackupBootSector uint32
	reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}
