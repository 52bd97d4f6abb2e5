package ext2

import (
	"io"
	"syscall"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/drivers/common"
)

// bufDevice adapts an in-memory byte slice to the superblockDevice
// interface, letting formatExt2Image build a brand-new image by calling
// the same WriteBack/WriteGroupDescriptors/WriteInode/InitDirectoryBlock machinery the rest
// of the engine uses against a real *blockdev.Device, then writing the
// finished buffer out in one shot -- mirroring drivers/fat/format.go's
// build-in-memory-then-write-once approach.
type bufDevice struct {
	buf []byte
}

func (d *bufDevice) ReadAt(buffer []byte, offset int64) multivol.DriverError {
	if offset < 0 || offset+int64(len(buffer)) > int64(len(d.buf)) {
		return multivol.NewDriverError(syscall.EIO)
	}
	copy(buffer, d.buf[offset:offset+int64(len(buffer))])
	return nil
}

func (d *bufDevice) WriteAt(data []byte, offset int64) multivol.DriverError {
	if offset < 0 || offset+int64(len(data)) > int64(len(d.buf)) {
		return multivol.NewDriverError(syscall.EIO)
	}
	copy(d.buf[offset:offset+int64(len(data))], data)
	return nil
}

var _ superblockDevice = (*bufDevice)(nil)

// formatExt2Image lays out a brand-new single-block-group ext2 rev-0 volume:
// superblock, one group descriptor, block and inode bitmaps, an inode
// table, and a root directory containing only "." and "..". It caps out at
// whatever a single block group can address (blockSize*8 blocks), which
// covers every size this engine is meant for.
func formatExt2Image(image io.ReadWriteSeeker, stat multivol.FSStat) multivol.DriverError {
	blockSize := uint(stat.BlockSize)
	if blockSize == 0 {
		blockSize = 1024
	}

	totalBlocks := uint32(stat.TotalBlocks)
	if totalBlocks == 0 {
		return multivol.NewDriverErrorWithMessage(syscall.EINVAL, "stat.TotalBlocks must be nonzero")
	}
	if uint64(totalBlocks) > uint64(blockSize)*8 {
		return multivol.NewDriverErrorWithMessage(syscall.EFBIG, "formatExt2Image only lays out a single block group")
	}

	firstDataBlock := uint32(0)
	if blockSize == 1024 {
		firstDataBlock = 1
	}

	inodesPerGroup := uint32(blockSize / 4)
	if inodesPerGroup < 16 {
		inodesPerGroup = 16
	}
	if uint64(inodesPerGroup) > uint64(blockSize)*8 {
		inodesPerGroup = uint32(blockSize) * 8
	}

	sbBlock := firstDataBlock
	descriptorBlock := sbBlock + 1
	descriptorTableBlocks := uint32((GroupDescriptorSize + blockSize - 1) / blockSize)
	if descriptorTableBlocks == 0 {
		descriptorTableBlocks = 1
	}
	blockBitmapBlock := descriptorBlock + descriptorTableBlocks
	inodeBitmapBlock := blockBitmapBlock + 1
	inodeTableStart := inodeBitmapBlock + 1
	inodeTableBlocks := uint32((uint(inodesPerGroup)*RawInodeSize + blockSize - 1) / blockSize)
	rootDirBlock := inodeTableStart + inodeTableBlocks

	metadataBlockCount := rootDirBlock + 1 - firstDataBlock
	if metadataBlockCount > totalBlocks {
		return multivol.NewDriverErrorWithMessage(syscall.ENOSPC, "stat.TotalBlocks too small to hold ext2 metadata")
	}

	dev := &bufDevice{buf: make([]byte, uint64(totalBlocks)*uint64(blockSize))}

	const reservedInodes = 10 // inodes 1-10 are reserved; FirstIno() is 11 on rev-0

	raw := RawSuperblock{
		Magic:           Magic,
		InodesCount:     inodesPerGroup,
		BlocksCount:     totalBlocks,
		FreeBlocksCount: totalBlocks - metadataBlockCount,
		FreeInodesCount: inodesPerGroup - reservedInodes,
		FirstDataBlock:  firstDataBlock,
		LogBlockSize:    logBlockSize(blockSize),
		LogFragSize:     int32(logBlockSize(blockSize)),
		BlocksPerGroup:  totalBlocks,
		FragsPerGroup:   totalBlocks,
		InodesPerGroup:  inodesPerGroup,
		State:           1, // EXT2_VALID_FS
		Errors:          1, // EXT2_ERRORS_CONTINUE
		MaxMntCount:     -1,
		RevLevel:        0,
	}

	sb := &Superblock{
		Raw:        raw,
		tail:       make([]byte, 1024-RawSuperblockSize),
		BlockSize:  blockSize,
		InodeSize:  RawInodeSize,
		GroupCount: 1,
	}

	if err := sb.WriteBack(dev); err != nil {
		return toDriverError(err)
	}

	descriptor := GroupDescriptor{
		BlockBitmap:     blockBitmapBlock,
		InodeBitmap:     inodeBitmapBlock,
		InodeTable:      inodeTableStart,
		FreeBlocksCount: uint16(totalBlocks - metadataBlockCount),
		FreeInodesCount: uint16(inodesPerGroup - reservedInodes),
		UsedDirsCount:   1,
	}
	if err := sb.WriteGroupDescriptors(dev, []GroupDescriptor{descriptor}); err != nil {
		return toDriverError(err)
	}

	blockBitmap := make([]byte, blockSize)
	blockAlloc := common.NewAllocatorFromBytes(blockBitmap, uint(totalBlocks))
	for i := uint32(0); i < metadataBlockCount; i++ {
		if _, err := blockAlloc.AllocateBlock(); err != nil {
			return toDriverError(err)
		}
	}
	if err := dev.WriteAt(blockBitmap, sb.blockOffsetOf(blockBitmapBlock)); err != nil {
		return err
	}

	inodeBitmap := make([]byte, blockSize)
	inodeAlloc := common.NewAllocatorFromBytes(inodeBitmap, uint(inodesPerGroup))
	for i := 0; i < reservedInodes; i++ {
		if _, err := inodeAlloc.AllocateBlock(); err != nil {
			return toDriverError(err)
		}
	}
	if err := dev.WriteAt(inodeBitmap, sb.blockOffsetOf(inodeBitmapBlock)); err != nil {
		return err
	}

	rootInode := &Inode{Raw: RawInode{
		Mode:       ModeDirectory | 0o755,
		LinksCount: 2,
	}}
	rootInode.SetSize(int64(blockSize))
	rootInode.Raw.Block[0] = rootDirBlock
	rootInode.SetSectorCount(sb.sectorsPerBlock())

	if err := WriteInode(dev, sb, []GroupDescriptor{descriptor}, rootInodeNumber, rootInode); err != nil {
		return toDriverError(err)
	}

	rootDirRaw := make([]byte, blockSize)
	InitDirectoryBlock(rootDirRaw, rootInodeNumber, rootInodeNumber, sb.HasFeatureFileType())
	if err := dev.WriteAt(rootDirRaw, sb.blockOffsetOf(rootDirBlock)); err != nil {
		return err
	}

	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return multivol.NewDriverErrorFromError(syscall.EIO, err)
	}
	if _, err := image.Write(dev.buf); err != nil {
		return multivol.NewDriverErrorFromError(syscall.EIO, err)
	}
	return nil
}

// logBlockSize converts a block size in bytes to ext2's s_log_block_size
// encoding (block size = 1024 << s_log_block_size).
func logBlockSize(blockSize uint) uint32 {
	n := uint32(0)
	for (1024 << n) < blockSize {
		n++
	}
	return n
}
