// Package ext2 implements a driver for accessing ext2 file systems: the
// superblock/block-group descriptor table, the block and inode bitmap
// allocators, direct/indirect block mapping, and directory entries with
// rec_len-based compaction. It mirrors the shape of drivers/fat: a
// version-agnostic engine (this package) driven through a *blockdev.Device,
// with a thin top-level Driver/ObjectHandle pair wiring it into
// multivol.DriverImplementation for the mount registry.
package ext2

import (
	"bytes"
	"encoding/binary"
	"syscall"

	"github.com/latticeworks/multivol"
)

// Magic is the signature every ext2 superblock must carry at byte offset 56.
const Magic = 0xEF53

// SuperblockOffset is the fixed byte offset of the primary superblock,
// regardless of block size.
const SuperblockOffset = 1024

// RawSuperblockSize is the number of bytes of the superblock this engine
// actually decodes; the remaining bytes up to the full 1024-byte superblock
// are preserved verbatim in Superblock.tail so a write-back round-trips
// fields this engine doesn't interpret (journal backup, hash seeds, etc.)
// per the design note to decode/encode explicitly rather than rely on
// in-memory struct layout.
const RawSuperblockSize = 264

// Feature bits. Per spec §4.9/§9, the core only ever interprets
// EXT2_FEATURE_RO_COMPAT_SPARSE_SUPER and EXT2_FEATURE_INCOMPAT_FILETYPE;
// every other bit is preserved but ignored.
const (
	FeatureCompatDirPrealloc  uint32 = 0x0001
	FeatureIncompatFileType   uint32 = 0x0002
	FeatureIncompatRecover    uint32 = 0x0004
	FeatureROCompatSparseSuper uint32 = 0x0001
	FeatureROCompatLargeFile   uint32 = 0x0002
)

// RawSuperblock is the on-disk layout of the first 264 bytes of the ext2
// superblock, covering the rev-0 base fields plus the EXT2_DYNAMIC_REV
// extension (s_first_ino onward). Field order and sizes are bit-exact with
// the standard ext2 layout; binary.Read/Write process them sequentially
// with no implicit padding, same convention as drivers/fat/common.go's
// RawFATBootSectorWithBPB.
type RawSuperblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	RBlocksCount     uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogFragSize      int32
	BlocksPerGroup   uint32
	FragsPerGroup    uint32
	InodesPerGroup   uint32
	Mtime            uint32
	Wtime            uint32
	MntCount         uint16
	MaxMntCount      int16
	Magic            uint16
	State            uint16
	Errors           uint16
	MinorRevLevel    uint16
	LastCheck        uint32
	CheckInterval    uint32
	CreatorOS        uint32
	RevLevel         uint32
	DefResuid        uint16
	DefResgid        uint16

	// EXT2_DYNAMIC_REV only; zero-valued and meaningless on rev-0 images.
	FirstIno          uint32
	InodeSize         uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureROCompat   uint32
	UUID              [16]byte
	VolumeName        [16]byte
	LastMounted       [64]byte
	AlgorithmUsageBmp uint32
	PreallocBlocks    uint8
	PreallocDirBlocks uint8
	_                 uint16 // padding
	JournalUUID       [16]byte
	JournalInum       uint32
	JournalDev        uint32
	LastOrphan        uint32
	HashSeed          [4]uint32
	DefHashVersion    uint8
	_                 [3]byte // padding
	DefaultMountOpts  uint32
	FirstMetaBg       uint32
}

// Superblock is the processed form of RawSuperblock plus the derived
// geometry every other ext2 component needs.
type Superblock struct {
	Raw RawSuperblock

	// tail holds the bytes of the 1024-byte superblock this engine doesn't
	// model explicitly, preserved so WriteBack round-trips them unchanged.
	tail []byte

	BlockSize  uint
	InodeSize  uint
	GroupCount uint
}

func isRevZero(raw *RawSuperblock) bool {
	return raw.RevLevel == 0
}

func deriveSuperblock(raw RawSuperblock, tail []byte) (*Superblock, error) {
	if raw.Magic != Magic {
		return nil, multivol.NewDriverErrorWithMessage(
			syscall.EINVAL, "ext2 superblock signature mismatch")
	}
	if raw.BlocksPerGroup == 0 || raw.InodesPerGroup == 0 {
		return nil, multivol.NewDriverErrorWithMessage(
			syscall.EINVAL, "corrupt ext2 superblock: zero blocks/inodes per group")
	}

	sb := &Superblock{
		Raw:       raw,
		tail:      tail,
		BlockSize: 1024 << raw.LogBlockSize,
	}

	if isRevZero(&raw) {
		sb.InodeSize = 128
	} else {
		sb.InodeSize = uint(raw.InodeSize)
	}

	sb.GroupCount = uint((uint64(raw.BlocksCount) + uint64(raw.BlocksPerGroup) - 1) /
		uint64(raw.BlocksPerGroup))

	return sb, nil
}

// HasFeatureFileType reports whether directory entries carry the file_type
// byte (EXT2_FEATURE_INCOMPAT_FILETYPE).
func (sb *Superblock) HasFeatureFileType() bool {
	return sb.Raw.FeatureIncompat&FeatureIncompatFileType != 0
}

// HasFeatureSparseSuper reports whether the sparse-super layout rule
// applies when deciding which block groups carry a superblock copy.
func (sb *Superblock) HasFeatureSparseSuper() bool {
	return sb.Raw.FeatureROCompat&FeatureROCompatSparseSuper != 0
}

// FirstIno is the first non-reserved inode number: 11 on rev-0, s_first_ino
// otherwise.
func (sb *Superblock) FirstIno() uint32 {
	if isRevZero(&sb.Raw) {
		return 11
	}
	return sb.Raw.FirstIno
}

// ptrsPerBlock is the number of 4-byte block pointers that fit in one
// block, i.e. p in spec §4.11's indirection arithmetic.
func (sb *Superblock) ptrsPerBlock() uint32 {
	return uint32(sb.BlockSize / 4)
}

// decodeSuperblock parses the 264 modeled bytes of data (which must be at
// least RawSuperblockSize long) into a RawSuperblock.
func decodeSuperblock(data []byte) (RawSuperblock, error) {
	var raw RawSuperblock
	r := bytes.NewReader(data[:RawSuperblockSize])
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return RawSuperblock{}, multivol.NewDriverErrorFromError(syscall.EIO, err)
	}
	return raw, nil
}

// encodeSuperblock serializes raw back into RawSuperblockSize bytes.
func encodeSuperblock(raw RawSuperblock) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, multivol.NewDriverErrorFromError(syscall.EIO, err)
	}
	return buf.Bytes(), nil
}

// superblockDevice is the narrow slice of *blockdev.Device the ext2 engine
// needs, kept local the same way drivers/fat/cluster.go defines
// fatEntryDevice -- no import cycle, easy to fake in tests.
type superblockDevice interface {
	ReadAt(buffer []byte, offset int64) multivol.DriverError
	WriteAt(data []byte, offset int64) multivol.DriverError
}

// ReadSuperblock reads and validates the primary superblock at byte offset
// 1024.
func ReadSuperblock(device superblockDevice) (*Superblock, error) {
	raw1024 := make([]byte, 1024)
	if err := device.ReadAt(raw1024, SuperblockOffset); err != nil {
		return nil, err
	}

	raw, err := decodeSuperblock(raw1024)
	if err != nil {
		return nil, err
	}

	return deriveSuperblock(raw, raw1024[RawSuperblockSize:])
}

// groupsWithSuperblockCopy reports, for the superblock's GroupCount, which groups
// hold a superblock/group-descriptor-table copy under the ext2 rev-1
// sparse_super rule: group 0 and 1 always do; beyond that only groups whose
// index is an exact power of 3, 5, or 7. When the sparse-super feature bit
// is absent every group carries a copy (see spec §9 open question 5).
func (sb *Superblock) groupsWithSuperblockCopy() []uint {
	groups := []uint{}
	for g := uint(0); g < sb.GroupCount; g++ {
		if sb.hasSuperblockCopy(g) {
			groups = append(groups, g)
		}
	}
	return groups
}

func (sb *Superblock) hasSuperblockCopy(group uint) bool {
	if !sb.HasFeatureSparseSuper() {
		return true
	}
	if group <= 1 {
		return true
	}
	return isPowerOf(group, 3) || isPowerOf(group, 5) || isPowerOf(group, 7)
}

func isPowerOf(n uint, base uint) bool {
	if n == 0 {
		return false
	}
	for n%base == 0 {
		n /= base
	}
	return n == 1
}

// blockOffset returns the on-device byte offset of the copy of the
// superblock hosted at the start of the given block group. Group 0's
// superblock lives at the fixed byte offset 1024; every other copy sits at
// the very first block of its group.
func (sb *Superblock) blockOffset(group uint) int64 {
	if group == 0 {
		return SuperblockOffset
	}
	return int64(group*sb.Raw.BlocksPerGroup+sb.Raw.FirstDataBlock) * int64(sb.BlockSize)
}

// WriteBack persists the superblock to every group that holds a copy,
// fanning out per spec §4.9's "superblock write fan-out MUST update every
// copy" rule.
func (sb *Superblock) WriteBack(device superblockDevice) error {
	encoded, err := encodeSuperblock(sb.Raw)
	if err != nil {
		return err
	}

	full := make([]byte, 1024)
	copy(full, encoded)
	copy(full[RawSuperblockSize:], sb.tail)

	for _, group := range sb.groupsWithSuperblockCopy() {
		if err := device.WriteAt(full, sb.blockOffset(group)); err != nil {
			return err
		}
	}
	return nil
}
