package fat

import (
	"encoding/binary"

	"github.com/latticeworks/multivol"
)

// ClusterTable is the version-specific half of the engine. FATDriver handles
// everything expressible purely in sectors and clusters; ClusterTable knows
// how wide one File Allocation Table entry is (12, 16, or 32 bits) and how to
// read/write it through the mounted device. One ClusterTable backs exactly
// one FATDriver, selected by FATBootSector.FATVersion.
type ClusterTable struct {
	bootSector     *FATBootSector
	device         fatEntryDevice
	fatStartSector SectorID
}

// fatEntryDevice is the narrow slice of *blockdev.Device that ClusterTable
// needs, kept local so this file has no import cycle concerns and is easy to
// drive from tests with a fake.
type fatEntryDevice interface {
	ReadAt(buffer []byte, offset int64) multivol.DriverError
	WriteAt(data []byte, offset int64) multivol.DriverError
}

// NewClusterTable builds the cluster engine for a mounted FAT volume. The FAT
// itself always begins immediately after the reserved (and, if present,
// hidden) sectors.
func NewClusterTable(bootSector *FATBootSector, device fatEntryDevice) *ClusterTable {
	return &ClusterTable{
		bootSector:     bootSector,
		device:         device,
		fatStartSector: SectorID(uint(bootSector.ReservedSectors) + uint(bootSector.HiddenSectors)),
	}
}

func (t *ClusterTable) GetBootSector() *FATBootSector {
	return t.bootSector
}

func (t *ClusterTable) entryByteOffset(index uint) int64 {
	fatByteStart := int64(t.fatStartSector) * int64(t.bootSector.BytesPerSector)

	switch t.bootSector.FATVersion {
	case 12:
		return fatByteStart + int64(index+index/2)
	case 16:
		return fatByteStart + int64(index)*2
	default:
		return fatByteStart + int64(index)*4
	}
}

// GetClusterAtIndex reads the FAT entry for cluster number `index`, i.e. what
// that cluster points to next in its chain.
func (t *ClusterTable) GetClusterAtIndex(index uint) (ClusterID, error) {
	switch t.bootSector.FATVersion {
	case 12:
		buffer := make([]byte, 2)
		if err := t.device.ReadAt(buffer, t.entryByteOffset(index)); err != nil {
			return 0, err
		}
		raw := binary.LittleEndian.Uint16(buffer)
		if index%2 == 0 {
			return ClusterID(raw & 0x0FFF), nil
		}
		return ClusterID(raw >> 4), nil

	case 16:
		buffer := make([]byte, 2)
		if err := t.device.ReadAt(buffer, t.entryByteOffset(index)); err != nil {
			return 0, err
		}
		return ClusterID(binary.LittleEndian.Uint16(buffer)), nil

	default:
		buffer := make([]byte, 4)
		if err := t.device.ReadAt(buffer, t.entryByteOffset(index)); err != nil {
			return 0, err
		}
		return ClusterID(binary.LittleEndian.Uint32(buffer) & 0x0FFFFFFF), nil
	}
}

// SetClusterAtIndex writes the FAT entry for cluster number `index`. FAT12
// entries share a byte with their neighbor, and FAT32 entries reserve their
// top nibble, so both require a read-modify-write.
func (t *ClusterTable) SetClusterAtIndex(index uint, cluster ClusterID) error {
	offset := t.entryByteOffset(index)

	switch t.bootSector.FATVersion {
	case 12:
		buffer := make([]byte, 2)
		if err := t.device.ReadAt(buffer, offset); err != nil {
			return err
		}
		raw := binary.LittleEndian.Uint16(buffer)
		if index%2 == 0 {
			raw = (raw & 0xF000) | (uint16(cluster) & 0x0FFF)
		} else {
			raw = (raw & 0x000F) | (uint16(cluster) << 4)
		}
		binary.LittleEndian.PutUint16(buffer, raw)
		return t.device.WriteAt(buffer, offset)

	case 16:
		buffer := make([]byte, 2)
		binary.LittleEndian.PutUint16(buffer, uint16(cluster))
		return t.device.WriteAt(buffer, offset)

	default:
		buffer := make([]byte, 4)
		if err := t.device.ReadAt(buffer, offset); err != nil {
			return err
		}
		raw := binary.LittleEndian.Uint32(buffer)
		raw = (raw & 0xF0000000) | (uint32(cluster) & 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(buffer, raw)
		return t.device.WriteAt(buffer, offset)
	}
}

func (t *ClusterTable) GetNextClusterInChain(cluster ClusterID) (ClusterID, error) {
	return t.GetClusterAtIndex(uint(cluster))
}

// IsValidCluster reports whether cluster is in the addressable data-cluster
// range [2, totalClusters+2). Clusters 0 and 1 are reserved; anything beyond
// the last data cluster is either an end-of-chain or bad-cluster marker.
func (t *ClusterTable) IsValidCluster(cluster ClusterID) bool {
	return cluster >= 2 && cluster < ClusterID(t.bootSector.TotalClusters)+2
}

// eocThreshold returns the smallest value that marks end-of-chain for this
// FAT width; anything at or above it (up to the all-ones marker) means EOC.
func (t *ClusterTable) eocThreshold() ClusterID {
	switch t.bootSector.FATVersion {
	case 12:
		return 0x0FF8
	case 16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

func (t *ClusterTable) IsEndOfChain(cluster ClusterID) bool {
	return cluster >= t.eocThreshold()
}

// AllocateCluster finds the first free cluster (FAT entry 0), marks it
// end-of-chain to reserve it, and returns its number. Callers that are
// extending an existing chain are responsible for linking the previous tail
// to the returned cluster.
func (t *ClusterTable) AllocateCluster() (ClusterID, error) {
	total := t.bootSector.TotalClusters

	for i := uint(0); i < total; i++ {
		candidate := ClusterID(i + 2)
		value, err := t.GetClusterAtIndex(uint(candidate))
		if err != nil {
			return 0, err
		}
		if value == 0 {
			if err := t.SetClusterAtIndex(uint(candidate), t.eocThreshold()); err != nil {
				return 0, err
			}
			return candidate, nil
		}
	}

	return 0, multivol.NewDriverError(multivol.ENOSPC)
}

// FreeClusterChain walks the chain starting at start, zeroing every entry so
// each cluster becomes available for AllocateCluster again. A start of 0 (no
// chain) is a no-op.
func (t *ClusterTable) FreeClusterChain(start ClusterID) error {
	current := start

	for t.IsValidCluster(current) {
		next, err := t.GetClusterAtIndex(uint(current))
		if err != nil {
			return err
		}
		if err := t.SetClusterAtIndex(uint(current), 0); err != nil {
			return err
		}
		if t.IsEndOfChain(next) {
			break
		}
		current = next
	}

	return nil
}
