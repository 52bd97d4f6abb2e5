package fat

import (
	"syscall"

	"github.com/latticeworks/multivol"
)

// ReadFile reads up to len(buffer) bytes of a regular file's contents
// starting at byte offset, following its cluster chain. It returns the
// number of bytes actually copied, which is less than len(buffer) once the
// read reaches the end of the file -- the same short-read contract as
// io.ReaderAt.
func (drv *FATDriver) ReadFile(dirent *Dirent, buffer []byte, offset int64) (int, error) {
	if dirent.IsDir() {
		return 0, multivol.NewDriverError(syscall.EISDIR)
	}
	if offset >= dirent.size {
		return 0, nil
	}

	bootSector := drv.fs.GetBootSector()
	bytesPerCluster := int64(bootSector.BytesPerCluster)

	remaining := dirent.size - offset
	toRead := int64(len(buffer))
	if toRead > remaining {
		toRead = remaining
	}

	var written int64
	for written < toRead {
		absolutePos := offset + written
		clusterIndex := uint(absolutePos / bytesPerCluster)
		inCluster := absolutePos % bytesPerCluster

		clusterData, err := drv.readClusterOfDirent(dirent, clusterIndex)
		if err != nil {
			return int(written), err
		}

		chunk := bytesPerCluster - inCluster
		left := toRead - written
		if chunk > left {
			chunk = left
		}

		copy(buffer[written:written+chunk], clusterData[inCluster:inCluster+chunk])
		written += chunk
	}

	return int(written), nil
}

// WriteFile writes data into a regular file's cluster chain starting at byte
// offset, allocating new clusters as needed. It grows dirent.size in memory
// when the write extends the file but does not write the directory entry;
// the caller (the driver implementation that owns the directory entry) is
// responsible for persisting the new size, since that requires the entry's
// directory location.
func (drv *FATDriver) WriteFile(dirent *Dirent, data []byte, offset int64) (int64, error) {
	if dirent.IsDir() {
		return 0, multivol.NewDriverError(syscall.EISDIR)
	}

	bootSector := drv.fs.GetBootSector()
	bytesPerCluster := int64(bootSector.BytesPerCluster)

	if dirent.FirstCluster == 0 {
		cluster, err := drv.fs.AllocateCluster()
		if err != nil {
			return 0, err
		}
		dirent.FirstCluster = cluster
	}

	var written int64
	for written < int64(len(data)) {
		absolutePos := offset + written
		clusterIndex := uint(absolutePos / bytesPerCluster)
		inCluster := absolutePos % bytesPerCluster

		if err := drv.ensureClusterExists(dirent, clusterIndex); err != nil {
			return written, err
		}

		clusterData, err := drv.readClusterOfDirent(dirent, clusterIndex)
		if err != nil {
			return written, err
		}

		chunk := bytesPerCluster - inCluster
		left := int64(len(data)) - written
		if chunk > left {
			chunk = left
		}

		copy(clusterData[inCluster:inCluster+chunk], data[written:written+chunk])
		if err := drv.writeClusterOfDirent(dirent, clusterIndex, clusterData); err != nil {
			return written, err
		}

		written += chunk
	}

	if newSize := offset + written; newSize > dirent.size {
		dirent.size = newSize
	}

	return written, nil
}

// ensureClusterExists extends dirent's cluster chain, one cluster at a time,
// until it has at least clusterIndex+1 clusters.
func (drv *FATDriver) ensureClusterExists(dirent *Dirent, clusterIndex uint) error {
	for {
		_, err := drv.getClusterInChain(dirent.FirstCluster, clusterIndex)
		if err == nil {
			return nil
		}

		first, _, extendErr := drv.extendChain(dirent.FirstCluster)
		if extendErr != nil {
			return extendErr
		}
		dirent.FirstCluster = first
	}
}

// TruncateFile shrinks or grows a file to exactly newSize bytes. Growing
// allocates the clusters needed and zero-fills the bytes from the old size
// up to newSize; shrinking frees every cluster beyond the one that still
// holds byte newSize-1.
func (drv *FATDriver) TruncateFile(dirent *Dirent, newSize int64) error {
	if dirent.IsDir() {
		return multivol.NewDriverError(syscall.EISDIR)
	}

	bootSector := drv.fs.GetBootSector()
	bytesPerCluster := int64(bootSector.BytesPerCluster)

	if newSize == 0 {
		if err := drv.fs.FreeClusterChain(dirent.FirstCluster); err != nil {
			return err
		}
		dirent.FirstCluster = 0
		dirent.size = 0
		return nil
	}

	neededClusters := uint((newSize + bytesPerCluster - 1) / bytesPerCluster)

	if dirent.FirstCluster == 0 {
		cluster, err := drv.fs.AllocateCluster()
		if err != nil {
			return err
		}
		dirent.FirstCluster = cluster
	}

	chain, err := drv.listClusters(dirent.FirstCluster)
	if err != nil {
		return err
	}

	if uint(len(chain)) < neededClusters {
		for uint(len(chain)) < neededClusters {
			if err := drv.ensureClusterExists(dirent, uint(len(chain))); err != nil {
				return err
			}
			chain, err = drv.listClusters(dirent.FirstCluster)
			if err != nil {
				return err
			}
		}
	} else if uint(len(chain)) > neededClusters {
		tailStart := chain[neededClusters]
		if err := drv.fs.SetClusterAtIndex(uint(chain[neededClusters-1]), drv.eocMarker()); err != nil {
			return err
		}
		if err := drv.fs.FreeClusterChain(tailStart); err != nil {
			return err
		}
	}

	if newSize > dirent.size {
		// Zero-fill the gap opened up by extending the file.
		gapStart := dirent.size
		zeros := make([]byte, newSize-gapStart)
		if _, err := drv.WriteFile(dirent, zeros, gapStart); err != nil {
			return err
		}
	}

	dirent.size = newSize
	return nil
}

// eocMarker returns the canonical end-of-chain value for this FAT width,
// used to cap a chain after truncation frees its tail.
func (drv *FATDriver) eocMarker() ClusterID {
	switch drv.fs.GetBootSector().FATVersion {
	case 12:
		return 0x0FFF
	case 16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}
