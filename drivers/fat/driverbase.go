package fat

import (
	"fmt"
	"syscall"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
)

// This file defines the driver interface and delegates to the underlying version-specific
// drivers.

type ClusterID uint32
type SectorID uint32

type FATDriverCommon interface {
	GetBootSector() *FATBootSector
	GetClusterAtIndex(index uint) (ClusterID, error)
	SetClusterAtIndex(index uint, cluster ClusterID) error
	GetNextClusterInChain(cluster ClusterID) (ClusterID, error)
	IsValidCluster(cluster ClusterID) bool
	IsEndOfChain(cluster ClusterID) bool
	AllocateCluster() (ClusterID, error)
	FreeClusterChain(start ClusterID) error
}

// FATDriver is the version-agnostic half of the engine: everything that can
// be expressed purely in terms of sectors and clusters, delegating to fs (a
// *ClusterTable, one per FAT width) for the parts that differ between
// FAT12/16/32. It is backed by a *blockdev.Device rather than a raw
// io.ReaderAt so that writes pass through the mounted device's transaction
// overlay exactly like every other engine.
type FATDriver struct {
	fs     FATDriverCommon
	device *blockdev.Device
}

func (drv *FATDriver) getFirstSectorOfCluster(cluster ClusterID) (SectorID, error) {
	bootSector := drv.fs.GetBootSector()
	return bootSector.FirstDataSector + SectorID(
		uint32(bootSector.SectorsPerCluster)*(uint32(cluster)-2)), nil
}

func (drv *FATDriver) readAbsoluteSectors(sector SectorID, numSectors uint) ([]byte, error) {
	bootSector := drv.fs.GetBootSector()

	buffer := make([]byte, uint(bootSector.BytesPerSector)*numSectors)
	offset := int64(bootSector.BytesPerSector) * int64(sector)

	if err := drv.device.ReadAt(buffer, offset); err != nil {
		return nil, err
	}

	return buffer, nil
}

func (drv *FATDriver) writeAbsoluteSectors(sector SectorID, data []byte) error {
	bootSector := drv.fs.GetBootSector()
	offset := int64(bootSector.BytesPerSector) * int64(sector)
	return drv.device.WriteAt(data, offset)
}

// readCluster returns the bytes of cluster number `cluster` on the file system.
// `index` is not used.
func (drv *FATDriver) readCluster(cluster ClusterID, index uint) ([]byte, error) {
	sectorID, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return nil, err
	}

	bootSector := drv.fs.GetBootSector()
	return drv.readAbsoluteSectors(sectorID, uint(bootSector.SectorsPerCluster))
}

// writeCluster overwrites the entire contents of one cluster. data must be
// exactly one cluster's worth of bytes.
func (drv *FATDriver) writeCluster(cluster ClusterID, data []byte) error {
	bootSector := drv.fs.GetBootSector()
	if uint(len(data)) != bootSector.BytesPerCluster {
		return multivol.NewDriverErrorWithMessage(
			syscall.EINVAL,
			fmt.Sprintf(
				"writeCluster needs exactly %d bytes, got %d",
				bootSector.BytesPerCluster, len(data)))
	}

	sectorID, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return err
	}
	return drv.writeAbsoluteSectors(sectorID, data)
}

// readSectorsInCluster returns the bytes of `numSectors` sectors of the given cluster,
// beginning with the `index`th.
// `index` starts from 0. On error, the byte slice will be nil and the second return value
// is an error object detailing what went wrong.
func (drv *FATDriver) readSectorsInCluster(cluster ClusterID, index uint, numSectors uint) ([]byte, error) {
	firstSector, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return nil, err
	}

	bootSector := drv.fs.GetBootSector()
	if (index + numSectors) > uint(bootSector.SectorsPerCluster) {
		return nil, multivol.NewDriverErrorWithMessage(
			syscall.ERANGE,
			fmt.Sprintf(
				"cannot read %d sectors from index %d: read would exceed cluster size",
				numSectors,
				index))
	}

	absoluteSector := uint(firstSector) + index
	return drv.readAbsoluteSectors(SectorID(absoluteSector), numSectors)
}

// listClusters returns a list of every cluster in the chain beginning at chainStart.
//
// The returned list will always have chainStart as its first member. If chainStart
// is not a valid cluster (an EOF marker such as 0xFFF on FAT12 included), the list is
// nil and an EINVAL error is returned.
func (drv *FATDriver) listClusters(chainStart ClusterID) ([]ClusterID, error) {
	if !drv.fs.IsValidCluster(chainStart) {
		return nil, multivol.NewDriverErrorWithMessage(
			syscall.EINVAL,
			fmt.Sprintf("invalid cluster 0x%x cannot start a cluster chain", chainStart))
	}

	chain := []ClusterID{}
	currentCluster := chainStart
	i := 0

	for !drv.fs.IsEndOfChain(currentCluster) {
		chain = append(chain, currentCluster)

		nextCluster, err := drv.fs.GetClusterAtIndex(uint(currentCluster))
		if err != nil {
			return nil, err
		}

		if !drv.fs.IsValidCluster(nextCluster) {
			// Hit an invalid cluster. This is not the same as EOF, and usually indicates
			// corruption of some sort.
			return chain, multivol.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"cluster %d followed by invalid cluster 0x%x at index %d in chain from %d",
					currentCluster,
					nextCluster,
					i,
					chainStart))
		}

		currentCluster = nextCluster
		i++
	}

	return chain, nil

}

// getClusterInChain returns the ID of the `index`th cluster in the chain starting at
// `firstCluster`. Indexing begins at 0. A cluster ID of 0 indicates an error occurred,
// and the Error object in the second return value will indicate what went wrong.
func (drv *FATDriver) getClusterInChain(firstCluster ClusterID, index uint) (ClusterID, error) {
	currentCluster := firstCluster

	for i := uint(0); i < index; i++ {
		nextCluster, err := drv.fs.GetClusterAtIndex(uint(currentCluster))
		if err != nil {
			return 0, err
		}

		if drv.fs.IsEndOfChain(nextCluster) {
			// Hit EOF
			return 0, multivol.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"cluster index %d out of bounds -- chain from 0x%x has %d clusters",
					index,
					firstCluster,
					i+1))
		} else if !drv.fs.IsValidCluster(nextCluster) {
			// Hit an invalid cluster. This is not the same as EOF, and usually indicates
			// corruption of some sort.
			return 0, multivol.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"cluster %d followed by invalid cluster 0x%x at index %d in chain from %d",
					currentCluster,
					nextCluster,
					i,
					firstCluster))
		}
		currentCluster = nextCluster
	}

	return currentCluster, nil
}

func (drv *FATDriver) readClusterOfDirent(dirent *Dirent, index uint) ([]byte, error) {
	cluster, err := drv.getClusterInChain(dirent.FirstCluster, index)
	if err != nil {
		return nil, err
	}
	return drv.readCluster(cluster, 1)
}

func (drv *FATDriver) writeClusterOfDirent(dirent *Dirent, index uint, data []byte) error {
	cluster, err := drv.getClusterInChain(dirent.FirstCluster, index)
	if err != nil {
		return err
	}
	return drv.writeCluster(cluster, data)
}

// extendChain appends one freshly allocated cluster to the end of the chain
// starting at firstCluster (or allocates the very first cluster of a brand
// new chain if firstCluster is 0). It returns the first cluster of the chain
// followed by the cluster that was appended.
func (drv *FATDriver) extendChain(firstCluster ClusterID) (ClusterID, ClusterID, error) {
	newCluster, err := drv.fs.AllocateCluster()
	if err != nil {
		return firstCluster, 0, err
	}

	if firstCluster == 0 || !drv.fs.IsValidCluster(firstCluster) {
		return newCluster, newCluster, nil
	}

	chain, err := drv.listClusters(firstCluster)
	if err != nil {
		return firstCluster, 0, err
	}
	lastCluster := chain[len(chain)-1]
	if err := drv.fs.SetClusterAtIndex(uint(lastCluster), newCluster); err != nil {
		return firstCluster, 0, err
	}
	return firstCluster, newCluster, nil
}

////////////////////////////////////////////////////////////////////////////////////////
// Parts of the Driver interface that can be implemented with little knowledge of the
// underlying file system.

// ReadDirFromDirent returns a list of the directory entries found in directoryDirent,
// including the `.` and `..` entries.
func (drv *FATDriver) ReadDirFromDirent(directoryDirent *Dirent) ([]Dirent, error) {
	if !directoryDirent.IsDir() {
		return nil, multivol.NewDriverError(syscall.ENOTDIR)
	}

	bootSector := drv.fs.GetBootSector()
	allDirents := []Dirent{}

	i := uint(0)
	for true {
		clusterData, err := drv.readClusterOfDirent(directoryDirent, i)
		if err != nil {
			return nil, err
		}

		clusterDirents, err := drv.clusterToDirentSlice(clusterData)
		if err != nil {
			return nil, err
		}

		allDirents = append(allDirents, clusterDirents...)
		if len(clusterDirents) < bootSector.DirentsPerCluster {
			break
		}

		i++
	}

	return allDirents, nil
}
