package ext2

import (
	"bytes"
	"encoding/binary"
	"syscall"

	"github.com/latticeworks/multivol"
)

// GroupDescriptorSize is the on-disk size of one block group descriptor.
const GroupDescriptorSize = 32

// GroupDescriptor mirrors one 32-byte entry of the block group descriptor
// table, which immediately follows the superblock's block.
type GroupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
	Reserved        [12]byte
}

// descriptorTableOffset returns the byte offset of the block group
// descriptor table for the copy hosted alongside the group'th superblock
// copy; the table always immediately follows whichever block holds that
// superblock copy.
func (sb *Superblock) descriptorTableOffset(group uint) int64 {
	if group == 0 {
		// Group 0's superblock lives in the first 1024 bytes of a block (or
		// shares a block with other metadata on 1024-byte-block volumes);
		// the descriptor table starts at the next whole block.
		return int64(sb.Raw.FirstDataBlock+1) * int64(sb.BlockSize)
	}
	return sb.blockOffset(group) + int64(sb.BlockSize)
}

// ReadGroupDescriptors loads the full block group descriptor table (one
// entry per block group) from the primary copy alongside group 0's
// superblock.
func (sb *Superblock) ReadGroupDescriptors(device superblockDevice) ([]GroupDescriptor, error) {
	tableSize := sb.GroupCount * GroupDescriptorSize
	raw := make([]byte, tableSize)
	if err := device.ReadAt(raw, sb.descriptorTableOffset(0)); err != nil {
		return nil, err
	}

	descriptors := make([]GroupDescriptor, sb.GroupCount)
	r := bytes.NewReader(raw)
	for i := range descriptors {
		if err := binary.Read(r, binary.LittleEndian, &descriptors[i]); err != nil {
			return nil, multivol.NewDriverErrorFromError(syscall.EIO, err)
		}
	}
	return descriptors, nil
}

// WriteGroupDescriptors fans the descriptor table out to every group that
// also carries a superblock copy, matching the superblock's own write-back
// fan-out rule (spec §4.9).
func (sb *Superblock) WriteGroupDescriptors(device superblockDevice, descriptors []GroupDescriptor) error {
	buf := &bytes.Buffer{}
	for _, descriptor := range descriptors {
		if err := binary.Write(buf, binary.LittleEndian, descriptor); err != nil {
			return multivol.NewDriverErrorFromError(syscall.EIO, err)
		}
	}
	raw := buf.Bytes()

	for _, group := range sb.groupsWithSuperblockCopy() {
		if err := device.WriteAt(raw, sb.descriptorTableOffset(group)); err != nil {
			return err
		}
	}
	return nil
}

// blockOffsetOf returns the absolute byte offset of the given (0-based,
// filesystem-wide) block number.
func (sb *Superblock) blockOffsetOf(block uint32) int64 {
	return int64(block) * int64(sb.BlockSize)
}

// InodesInGroup returns the number of inodes hosted in the given group;
// every group holds s_inodes_per_group except potentially affecting the
// last one is not special-cased in ext2 (inode count per group is fixed).
func (sb *Superblock) InodesInGroup(group uint) uint32 {
	return sb.Raw.InodesPerGroup
}

// BlocksInGroup returns the number of filesystem blocks belonging to the
// given group; the last group may be short if BlocksCount doesn't divide
// evenly by BlocksPerGroup.
func (sb *Superblock) BlocksInGroup(group uint) uint32 {
	if group < sb.GroupCount-1 {
		return sb.Raw.BlocksPerGroup
	}
	total := sb.Raw.BlocksCount - sb.Raw.FirstDataBlock
	return total - uint32(group)*sb.Raw.BlocksPerGroup
}

// GroupOfInode returns the zero-based group index and the zero-based index
// within that group's inode table for the given (1-based) inode number.
func (sb *Superblock) GroupOfInode(ino uint32) (group uint, indexInGroup uint) {
	group = uint((ino - 1) / sb.Raw.InodesPerGroup)
	indexInGroup = uint((ino - 1) % sb.Raw.InodesPerGroup)
	return
}
