package ext2

import (
	"syscall"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/drivers/common"
)

// GroupAllocators holds the in-memory, block-group-scoped block and inode
// bitmap allocators for one block group, backed directly by the bytes read
// from disk (via common.NewAllocatorFromBytes) so allocation mutates the
// buffer that will be written straight back to the block/inode bitmap
// blocks.
type GroupAllocators struct {
	Group       uint
	BlockBitmap []byte
	InodeBitmap []byte
	blocks      common.Allocator
	inodes      common.Allocator
}

// LoadGroupAllocators reads the block and inode bitmaps for one group.
func LoadGroupAllocators(device superblockDevice, sb *Superblock, descriptor GroupDescriptor, group uint) (*GroupAllocators, error) {
	blockBitmap := make([]byte, sb.BlockSize)
	if err := device.ReadAt(blockBitmap, sb.blockOffsetOf(descriptor.BlockBitmap)); err != nil {
		return nil, err
	}

	inodeBitmap := make([]byte, sb.BlockSize)
	if err := device.ReadAt(inodeBitmap, sb.blockOffsetOf(descriptor.InodeBitmap)); err != nil {
		return nil, err
	}

	ga := &GroupAllocators{
		Group:       group,
		BlockBitmap: blockBitmap,
		InodeBitmap: inodeBitmap,
		blocks:      common.NewAllocatorFromBytes(blockBitmap, uint(sb.BlocksInGroup(group))),
		inodes:      common.NewAllocatorFromBytes(inodeBitmap, uint(sb.InodesInGroup(group))),
	}
	return ga, nil
}

// WriteBack persists both bitmaps for this group back to disk.
func (ga *GroupAllocators) WriteBack(device superblockDevice, sb *Superblock, descriptor GroupDescriptor) error {
	if err := device.WriteAt(ga.BlockBitmap, sb.blockOffsetOf(descriptor.BlockBitmap)); err != nil {
		return err
	}
	return device.WriteAt(ga.InodeBitmap, sb.blockOffsetOf(descriptor.InodeBitmap))
}

// AllocateBlock finds and marks used the first free block in this group,
// returning its filesystem-wide (not group-relative) block number.
func (ga *GroupAllocators) AllocateBlock(sb *Superblock) (uint32, error) {
	local, err := ga.blocks.AllocateBlock()
	if err != nil {
		return 0, err
	}
	return sb.Raw.FirstDataBlock + uint32(ga.Group)*sb.Raw.BlocksPerGroup + uint32(local), nil
}

// FreeBlock releases a filesystem-wide block number back to this group's
// free list.
func (ga *GroupAllocators) FreeBlock(sb *Superblock, block uint32) error {
	groupStart := sb.Raw.FirstDataBlock + uint32(ga.Group)*sb.Raw.BlocksPerGroup
	return ga.blocks.FreeBlock(common.BlockID(block - groupStart))
}

// AllocateInode finds and marks used the first free inode in this group,
// returning its filesystem-wide (1-based) inode number.
func (ga *GroupAllocators) AllocateInode(sb *Superblock) (uint32, error) {
	local, err := ga.inodes.AllocateBlock()
	if err != nil {
		return 0, err
	}
	return uint32(ga.Group)*sb.Raw.InodesPerGroup + uint32(local) + 1, nil
}

// FreeInode releases a filesystem-wide inode number back to this group's
// free list.
func (ga *GroupAllocators) FreeInode(sb *Superblock, ino uint32) error {
	_, indexInGroup := sb.GroupOfInode(ino)
	return ga.inodes.FreeBlock(common.BlockID(indexInGroup))
}

// Allocator bundles the whole-filesystem state needed to allocate blocks
// and inodes: the superblock, group descriptor table, and every group's
// bitmap allocators, all kept in sync with FreeBlocksCount/FreeInodesCount
// bookkeeping in both the descriptor and the superblock per spec §4.10.
type Allocator struct {
	device      superblockDevice
	sb          *Superblock
	descriptors []GroupDescriptor
	groups      []*GroupAllocators
}

// NewAllocatorFromDevice loads every group's bitmaps eagerly; ext2 images
// handled by this engine are small enough (spec's target sizes) that this
// is simpler and safer than lazily faulting groups in.
func NewAllocatorFromDevice(device superblockDevice, sb *Superblock, descriptors []GroupDescriptor) (*Allocator, error) {
	groups := make([]*GroupAllocators, len(descriptors))
	for i, descriptor := range descriptors {
		ga, err := LoadGroupAllocators(device, sb, descriptor, uint(i))
		if err != nil {
			return nil, err
		}
		groups[i] = ga
	}
	return &Allocator{device: device, sb: sb, descriptors: descriptors, groups: groups}, nil
}

// AllocateBlock allocates one block, preferring the group with the most
// free space (a cheap approximation of ext2's real goal-oriented
// allocator, sufficient for this engine's correctness requirements).
func (a *Allocator) AllocateBlock() (uint32, error) {
	order := a.groupsByFreeBlocksDesc()
	for _, g := range order {
		block, err := a.groups[g].AllocateBlock(a.sb)
		if err != nil {
			continue
		}
		a.descriptors[g].FreeBlocksCount--
		a.sb.Raw.FreeBlocksCount--
		return block, nil
	}
	return 0, multivol.NewDriverError(syscall.ENOSPC)
}

// FreeBlock releases a filesystem-wide block number.
func (a *Allocator) FreeBlock(block uint32) error {
	group := uint((block - a.sb.Raw.FirstDataBlock) / a.sb.Raw.BlocksPerGroup)
	if err := a.groups[group].FreeBlock(a.sb, block); err != nil {
		return err
	}
	a.descriptors[group].FreeBlocksCount++
	a.sb.Raw.FreeBlocksCount++
	return nil
}

// AllocateInode allocates one inode, preferring the group with the most
// free inodes.
func (a *Allocator) AllocateInode() (uint32, error) {
	order := a.groupsByFreeInodesDesc()
	for _, g := range order {
		ino, err := a.groups[g].AllocateInode(a.sb)
		if err != nil {
			continue
		}
		a.descriptors[g].FreeInodesCount--
		a.sb.Raw.FreeInodesCount--
		return ino, nil
	}
	return 0, multivol.NewDriverError(syscall.ENOSPC)
}

// FreeInode releases a filesystem-wide inode number.
func (a *Allocator) FreeInode(ino uint32) error {
	group, _ := a.sb.GroupOfInode(ino)
	if err := a.groups[group].FreeInode(a.sb, ino); err != nil {
		return err
	}
	a.descriptors[group].FreeInodesCount++
	a.sb.Raw.FreeInodesCount++
	return nil
}

// WriteBack flushes every group's bitmaps, the descriptor table, and the
// superblock.
func (a *Allocator) WriteBack() error {
	for i, ga := range a.groups {
		if err := ga.WriteBack(a.device, a.sb, a.descriptors[i]); err != nil {
			return err
		}
	}
	if err := a.sb.WriteGroupDescriptors(a.device, a.descriptors); err != nil {
		return err
	}
	return a.sb.WriteBack(a.device)
}

func (a *Allocator) groupsByFreeBlocksDesc() []uint {
	indices := make([]uint, len(a.descriptors))
	for i := range indices {
		indices[i] = uint(i)
	}
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && a.descriptors[indices[j]].FreeBlocksCount > a.descriptors[indices[j-1]].FreeBlocksCount; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}
	return indices
}

func (a *Allocator) groupsByFreeInodesDesc() []uint {
	indices := make([]uint, len(a.descriptors))
	for i := range indices {
		indices[i] = uint(i)
	}
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && a.descriptors[indices[j]].FreeInodesCount > a.descriptors[indices[j-1]].FreeInodesCount; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}
	return indices
}

// Descriptors exposes the current in-memory descriptor table, e.g. for
// format.go to inspect after initial layout.
func (a *Allocator) Descriptors() []GroupDescriptor {
	return a.descriptors
}

// Superblock exposes the allocator's superblock handle.
func (a *Allocator) Superblock() *Superblock {
	return a.sb
}
