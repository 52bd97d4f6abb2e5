package ext2

import (
	"syscall"

	"github.com/latticeworks/multivol"
)

// ReadInodeData reads up to len(buffer) bytes from a regular file's
// contents starting at byte offset, following its block map. Holes (blocks
// never allocated) read back as zero, matching POSIX sparse-file
// semantics.
func ReadInodeData(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode, buffer []byte, offset int64) (int, error) {
	if inode.IsDir() {
		return 0, multivol.NewDriverError(syscall.EISDIR)
	}
	if offset >= inode.Size() {
		return 0, nil
	}

	remaining := inode.Size() - offset
	toRead := int64(len(buffer))
	if toRead > remaining {
		toRead = remaining
	}

	mapper := newBlockMapper(device, sb, alloc, inode)
	blockSize := int64(sb.BlockSize)

	var read int64
	for read < toRead {
		absolutePos := offset + read
		logicalBlock := uint32(absolutePos / blockSize)
		inBlock := absolutePos % blockSize

		chunk := blockSize - inBlock
		left := toRead - read
		if chunk > left {
			chunk = left
		}

		physicalBlock, err := mapper.walk(logicalBlock, false)
		if err != nil {
			return int(read), err
		}

		if physicalBlock == 0 {
			for i := int64(0); i < chunk; i++ {
				buffer[read+i] = 0
			}
		} else {
			raw := make([]byte, blockSize)
			if err := device.ReadAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
				return int(read), err
			}
			copy(buffer[read:read+chunk], raw[inBlock:inBlock+chunk])
		}

		read += chunk
	}

	return int(read), nil
}

// WriteInodeData writes data into a regular file's block map starting at
// byte offset, allocating blocks lazily. It updates inode.Size if the
// write extends the file but does not persist the inode; the caller does
// that (and updates mtime/ctime) once, after the write completes.
func WriteInodeData(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode, data []byte, offset int64) (int64, error) {
	if inode.IsDir() {
		return 0, multivol.NewDriverError(syscall.EISDIR)
	}

	mapper := newBlockMapper(device, sb, alloc, inode)
	blockSize := int64(sb.BlockSize)

	var written int64
	for written < int64(len(data)) {
		absolutePos := offset + written
		logicalBlock := uint32(absolutePos / blockSize)
		inBlock := absolutePos % blockSize

		chunk := blockSize - inBlock
		left := int64(len(data)) - written
		if chunk > left {
			chunk = left
		}

		physicalBlock, err := mapper.walk(logicalBlock, true)
		if err != nil {
			return written, err
		}

		raw := make([]byte, blockSize)
		if inBlock != 0 || chunk != blockSize {
			if err := device.ReadAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
				return written, err
			}
		}
		copy(raw[inBlock:inBlock+chunk], data[written:written+chunk])
		if err := device.WriteAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
			return written, err
		}

		written += chunk
	}

	if newSize := offset + written; newSize > inode.Size() {
		inode.SetSize(newSize)
	}

	return written, nil
}

// TruncateInodeData shrinks or grows a file to exactly newSize bytes.
// Growing never allocates blocks beyond what ReadInodeData/WriteInodeData
// would need to reach newSize -- it simply updates the size, leaving the
// newly exposed range as a hole that reads back as zero, matching
// ftruncate(2) semantics for extending a file.
func TruncateInodeData(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode, newSize int64) error {
	if inode.IsDir() {
		return multivol.NewDriverError(syscall.EISDIR)
	}

	if newSize >= inode.Size() {
		inode.SetSize(newSize)
		return nil
	}

	blockSize := int64(sb.BlockSize)
	mapper := newBlockMapper(device, sb, alloc, inode)

	firstFreedBlock := uint32(0)
	if newSize > 0 {
		firstFreedBlock = uint32((newSize + blockSize - 1) / blockSize)
	}
	lastBlock := uint32((inode.Size() + blockSize - 1) / blockSize)

	for i := firstFreedBlock; i < lastBlock; i++ {
		physicalBlock, err := mapper.walk(i, false)
		if err != nil {
			return err
		}
		if physicalBlock == 0 {
			continue
		}
		if err := alloc.FreeBlock(physicalBlock); err != nil {
			return err
		}
		inode.SetSectorCount(inode.SectorCount() - sb.sectorsPerBlock())
		if err := mapper.clearPointer(i); err != nil {
			return err
		}
	}

	inode.SetSize(newSize)
	return nil
}

// clearPointer zeroes out the pointer slot for logical block i once its
// backing block has been freed. Only direct pointers are cleared
// explicitly; freed indirect blocks themselves are left allocated-but-zero
// since reclaiming emptied indirect blocks is an optimization this engine
// doesn't perform (freeing the file's inode entirely, via unlink, still
// walks and frees every allocated block including indirect ones -- see
// FreeInodeBlocks).
func (m *blockMapper) clearPointer(i uint32) error {
	singleStart, _, _, _ := m.boundaries()
	if i < singleStart {
		m.inode.Raw.Block[i] = 0
	}
	return nil
}

// FreeInodeBlocks releases every block (direct, indirect, double-indirect,
// triple-indirect, and the indirect blocks themselves) owned by an inode.
// Used when unlinking a file's last reference.
func FreeInodeBlocks(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode) error {
	for i := 0; i < NumDirectBlocks; i++ {
		if inode.Raw.Block[i] != 0 {
			if err := alloc.FreeBlock(inode.Raw.Block[i]); err != nil {
				return err
			}
			inode.Raw.Block[i] = 0
		}
	}

	if err := freeIndirectChain(device, sb, alloc, inode.Raw.Block[NumDirectBlocks], 1); err != nil {
		return err
	}
	if err := freeIndirectChain(device, sb, alloc, inode.Raw.Block[NumDirectBlocks+1], 2); err != nil {
		return err
	}
	if err := freeIndirectChain(device, sb, alloc, inode.Raw.Block[NumDirectBlocks+2], 3); err != nil {
		return err
	}
	inode.Raw.Block[NumDirectBlocks] = 0
	inode.Raw.Block[NumDirectBlocks+1] = 0
	inode.Raw.Block[NumDirectBlocks+2] = 0
	inode.SetSectorCount(0)
	inode.SetSize(0)
	return nil
}

// freeIndirectChain recursively frees an indirect block tree of the given
// depth (1 = single, 2 = double, 3 = triple indirect).
func freeIndirectChain(device superblockDevice, sb *Superblock, alloc *Allocator, block uint32, depth int) error {
	if block == 0 {
		return nil
	}

	if depth > 0 {
		raw := make([]byte, sb.BlockSize)
		if err := device.ReadAt(raw, sb.blockOffsetOf(block)); err != nil {
			return err
		}
		p := sb.ptrsPerBlock()
		for i := uint32(0); i < p; i++ {
			child := readUint32LE(raw, i)
			if err := freeIndirectChain(device, sb, alloc, child, depth-1); err != nil {
				return err
			}
		}
	}

	return alloc.FreeBlock(block)
}

func readUint32LE(raw []byte, index uint32) uint32 {
	offset := index * 4
	return uint32(raw[offset]) | uint32(raw[offset+1])<<8 | uint32(raw[offset+2])<<16 | uint32(raw[offset+3])<<24
}
