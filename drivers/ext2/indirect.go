package ext2

import (
	"encoding/binary"
	"syscall"

	"github.com/latticeworks/multivol"
)

// blockMapper resolves and mutates the direct/single/double/triple indirect
// block pointers of one inode, per spec §4.11: with p = BlockSize/4
// pointers per indirect block, logical block index i maps to:
//
//	i < 12                                    -> direct[i]
//	12 <= i < 12+p                             -> single-indirect
//	12+p <= i < 12+p+p*p                       -> double-indirect
//	12+p+p*p <= i < 12+p+p*p+p*p*p              -> triple-indirect
//
// New indirect blocks are allocated lazily, only when a write needs a
// pointer slot that doesn't exist yet.
type blockMapper struct {
	device superblockDevice
	sb     *Superblock
	alloc  *Allocator
	inode  *Inode
}

func newBlockMapper(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode) *blockMapper {
	return &blockMapper{device: device, sb: sb, alloc: alloc, inode: inode}
}

func (m *blockMapper) p() uint32 {
	return m.sb.ptrsPerBlock()
}

// boundaries returns the block-pointer-array index boundaries for each tier.
func (m *blockMapper) boundaries() (singleStart, doubleStart, tripleStart, end uint32) {
	p := m.p()
	singleStart = NumDirectBlocks
	doubleStart = singleStart + p
	tripleStart = doubleStart + p*p
	end = tripleStart + p*p*p
	return
}

func (m *blockMapper) readPointerBlock(block uint32) ([]uint32, error) {
	raw := make([]byte, m.sb.BlockSize)
	if err := m.device.ReadAt(raw, m.sb.blockOffsetOf(block)); err != nil {
		return nil, err
	}
	pointers := make([]uint32, m.p())
	for i := range pointers {
		pointers[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return pointers, nil
}

func (m *blockMapper) writePointerBlock(block uint32, pointers []uint32) error {
	raw := make([]byte, m.sb.BlockSize)
	for i, ptr := range pointers {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], ptr)
	}
	return m.device.WriteAt(raw, m.sb.blockOffsetOf(block))
}

func (m *blockMapper) zeroBlock(block uint32) error {
	raw := make([]byte, m.sb.BlockSize)
	return m.device.WriteAt(raw, m.sb.blockOffsetOf(block))
}

// walk resolves the filesystem block number backing logical block index i,
// descending through up to 3 levels of indirection. allocate controls
// whether missing pointers (including missing indirect blocks themselves)
// are allocated and zeroed, or whether the walk simply reports 0 (a hole).
func (m *blockMapper) walk(i uint32, allocate bool) (uint32, error) {
	singleStart, doubleStart, tripleStart, end := m.boundaries()

	if i < singleStart {
		return m.resolveDirect(i, allocate)
	}
	if i < doubleStart {
		return m.resolveIndirect(m.indirectSlot(int(singleStart)), i-singleStart, allocate)
	}
	if i < tripleStart {
		rel := i - doubleStart
		return m.resolveDoubleIndirect(m.indirectSlot(int(doubleStart)), rel, allocate)
	}
	if i < end {
		rel := i - tripleStart
		return m.resolveTripleIndirect(m.indirectSlot(int(tripleStart)), rel, allocate)
	}
	return 0, multivol.NewDriverErrorWithMessage(syscall.EFBIG, "logical block index exceeds ext2 maximum file size")
}

// indirectSlot returns the i_block[] array index holding the pointer to the
// single/double/triple-indirect block, given its boundary constant.
func (m *blockMapper) indirectSlot(boundary int) int {
	switch boundary {
	case NumDirectBlocks:
		return NumDirectBlocks
	default:
		p := m.p()
		if uint32(boundary) == NumDirectBlocks+p {
			return NumDirectBlocks + 1
		}
		return NumDirectBlocks + 2
	}
}

func (m *blockMapper) resolveDirect(i uint32, allocate bool) (uint32, error) {
	existing := m.inode.Raw.Block[i]
	if existing != 0 || !allocate {
		return existing, nil
	}
	newBlock, err := m.alloc.AllocateBlock()
	if err != nil {
		return 0, err
	}
	if err := m.zeroBlock(newBlock); err != nil {
		return 0, err
	}
	m.inode.Raw.Block[i] = newBlock
	m.inode.SetSectorCount(m.inode.SectorCount() + m.sb.sectorsPerBlock())
	return newBlock, nil
}

// ensureIndirectBlock returns the block number held at i_block[slot],
// allocating and zeroing a fresh indirect block if it's missing and
// allocate is set.
func (m *blockMapper) ensureIndirectBlock(slot int, allocate bool) (uint32, error) {
	existing := m.inode.Raw.Block[slot]
	if existing != 0 {
		return existing, nil
	}
	if !allocate {
		return 0, nil
	}
	newBlock, err := m.alloc.AllocateBlock()
	if err != nil {
		return 0, err
	}
	if err := m.zeroBlock(newBlock); err != nil {
		return 0, err
	}
	m.inode.Raw.Block[slot] = newBlock
	m.inode.SetSectorCount(m.inode.SectorCount() + m.sb.sectorsPerBlock())
	return newBlock, nil
}

func (m *blockMapper) resolveIndirect(slot int, rel uint32, allocate bool) (uint32, error) {
	indirectBlock, err := m.ensureIndirectBlock(slot, allocate)
	if err != nil {
		return 0, err
	}
	if indirectBlock == 0 {
		return 0, nil
	}
	return m.resolveInPointerBlock(indirectBlock, rel, allocate)
}

func (m *blockMapper) resolveDoubleIndirect(slot int, rel uint32, allocate bool) (uint32, error) {
	indirectBlock, err := m.ensureIndirectBlock(slot, allocate)
	if err != nil {
		return 0, err
	}
	if indirectBlock == 0 {
		return 0, nil
	}

	p := m.p()
	outerIndex := rel / p
	innerRel := rel % p

	pointers, err := m.readPointerBlock(indirectBlock)
	if err != nil {
		return 0, err
	}

	innerBlock := pointers[outerIndex]
	if innerBlock == 0 {
		if !allocate {
			return 0, nil
		}
		innerBlock, err = m.alloc.AllocateBlock()
		if err != nil {
			return 0, err
		}
		if err := m.zeroBlock(innerBlock); err != nil {
			return 0, err
		}
		pointers[outerIndex] = innerBlock
		if err := m.writePointerBlock(indirectBlock, pointers); err != nil {
			return 0, err
		}
		m.inode.SetSectorCount(m.inode.SectorCount() + m.sb.sectorsPerBlock())
	}

	return m.resolveInPointerBlock(innerBlock, innerRel, allocate)
}

func (m *blockMapper) resolveTripleIndirect(slot int, rel uint32, allocate bool) (uint32, error) {
	indirectBlock, err := m.ensureIndirectBlock(slot, allocate)
	if err != nil {
		return 0, err
	}
	if indirectBlock == 0 {
		return 0, nil
	}

	p := m.p()
	outerIndex := rel / (p * p)
	midRel := rel % (p * p)

	pointers, err := m.readPointerBlock(indirectBlock)
	if err != nil {
		return 0, err
	}

	midBlock := pointers[outerIndex]
	if midBlock == 0 {
		if !allocate {
			return 0, nil
		}
		midBlock, err = m.alloc.AllocateBlock()
		if err != nil {
			return 0, err
		}
		if err := m.zeroBlock(midBlock); err != nil {
			return 0, err
		}
		pointers[outerIndex] = midBlock
		if err := m.writePointerBlock(indirectBlock, pointers); err != nil {
			return 0, err
		}
		m.inode.SetSectorCount(m.inode.SectorCount() + m.sb.sectorsPerBlock())
	}

	return m.resolveDoubleIndirectBlock(midBlock, midRel, allocate)
}

// resolveDoubleIndirectBlock is resolveDoubleIndirect's inner loop, reused
// by the triple-indirect case once it reaches its nested double-indirect
// block -- it differs from resolveDoubleIndirect only in that the block
// number is already known rather than stored in i_block[].
func (m *blockMapper) resolveDoubleIndirectBlock(block uint32, rel uint32, allocate bool) (uint32, error) {
	p := m.p()
	outerIndex := rel / p
	innerRel := rel % p

	pointers, err := m.readPointerBlock(block)
	if err != nil {
		return 0, err
	}

	innerBlock := pointers[outerIndex]
	if innerBlock == 0 {
		if !allocate {
			return 0, nil
		}
		innerBlock, err = m.alloc.AllocateBlock()
		if err != nil {
			return 0, err
		}
		if err := m.zeroBlock(innerBlock); err != nil {
			return 0, err
		}
		pointers[outerIndex] = innerBlock
		if err := m.writePointerBlock(block, pointers); err != nil {
			return 0, err
		}
		m.inode.SetSectorCount(m.inode.SectorCount() + m.sb.sectorsPerBlock())
	}

	return m.resolveInPointerBlock(innerBlock, innerRel, allocate)
}

func (m *blockMapper) resolveInPointerBlock(block uint32, index uint32, allocate bool) (uint32, error) {
	pointers, err := m.readPointerBlock(block)
	if err != nil {
		return 0, err
	}

	if pointers[index] != 0 {
		return pointers[index], nil
	}
	if !allocate {
		return 0, nil
	}

	newBlock, err := m.alloc.AllocateBlock()
	if err != nil {
		return 0, err
	}
	if err := m.zeroBlock(newBlock); err != nil {
		return 0, err
	}
	pointers[index] = newBlock
	if err := m.writePointerBlock(block, pointers); err != nil {
		return 0, err
	}
	m.inode.SetSectorCount(m.inode.SectorCount() + m.sb.sectorsPerBlock())
	return newBlock, nil
}

// sectorsPerBlock is BlockSize/512, used to keep i_blocks (always counted
// in 512-byte sectors) in sync as new blocks are allocated.
func (sb *Superblock) sectorsPerBlock() uint32 {
	return uint32(sb.BlockSize / 512)
}
