package ext2

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
)

// rootInodeNumber is the inode number ext2 always reserves for the root
// directory.
const rootInodeNumber = 2

// Driver implements multivol.DriverImplementation for an ext2 volume
// mounted over a *blockdev.Device. It mirrors the shape of drivers/fat's
// Driver: a thin adapter between the mount registry's object-handle
// contract and the version-agnostic superblock/inode/directory engine
// underneath, which works purely in blocks and inodes.
type Driver struct {
	device *blockdev.Device
	sb     *Superblock
	alloc  *Allocator
}

var _ multivol.DriverImplementation = (*Driver)(nil)

// NewDriver reads the superblock and block group descriptor table from
// device and loads every group's bitmap allocators eagerly.
func NewDriver(device *blockdev.Device) (*Driver, error) {
	sb, err := ReadSuperblock(device)
	if err != nil {
		return nil, err
	}

	descriptors, err := sb.ReadGroupDescriptors(device)
	if err != nil {
		return nil, err
	}

	alloc, err := NewAllocatorFromDevice(device, sb, descriptors)
	if err != nil {
		return nil, err
	}

	return &Driver{device: device, sb: sb, alloc: alloc}, nil
}

func (d *Driver) loadHandle(ino uint32, name string, parentIno uint32, parentInode *Inode, isRoot bool) (*Handle, multivol.DriverError) {
	inode, err := ReadInode(d.device, d.sb, d.alloc.Descriptors(), ino)
	if err != nil {
		return nil, toDriverError(err)
	}
	return &Handle{
		driver:      d,
		ino:         ino,
		inode:       inode,
		name:        name,
		isRoot:      isRoot,
		parentIno:   parentIno,
		parentInode: parentInode,
	}, nil
}

func (d *Driver) GetRootDirectory() multivol.ObjectHandle {
	handle, err := d.loadHandle(rootInodeNumber, "/", 0, nil, true)
	if err != nil {
		// The root inode must always be readable; a failure here means the
		// image itself is corrupt, which NewDriver should have already caught
		// reading the superblock/group descriptors. GetRootDirectory has no
		// error return (api.go's contract), so fall back to an empty
		// in-memory directory inode rather than panicking.
		return &Handle{driver: d, ino: rootInodeNumber, inode: &Inode{}, isRoot: true, name: "/"}
	}
	return handle
}

func (d *Driver) GetObject(name string, parent multivol.ObjectHandle) (multivol.ObjectHandle, multivol.DriverError) {
	parentHandle, ok := parent.(*Handle)
	if !ok {
		return nil, multivol.NewDriverErrorWithMessage(syscall.EINVAL, "parent handle is not an ext2 object")
	}

	entry, err := LookupEntry(d.device, d.sb, d.alloc, parentHandle.inode, name)
	if err != nil {
		return nil, toDriverError(err)
	}

	return d.loadHandle(entry.Ino, name, parentHandle.ino, parentHandle.inode, false)
}

// CreateObject creates a new file system object (regular file or, when
// perm.IsDir() is set, a directory) named name inside parent.
func (d *Driver) CreateObject(name string, parent multivol.ObjectHandle, perm os.FileMode) (multivol.ObjectHandle, multivol.DriverError) {
	parentHandle, ok := parent.(*Handle)
	if !ok {
		return nil, multivol.NewDriverErrorWithMessage(syscall.EINVAL, "parent handle is not an ext2 object")
	}

	ino, err := d.alloc.AllocateInode()
	if err != nil {
		return nil, toDriverError(err)
	}

	now := uint32(time.Now().Unix())
	inode := &Inode{Raw: RawInode{
		Mode:       fileModeToRawMode(perm),
		LinksCount: 1,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
	}}

	if perm.IsDir() {
		if err := d.finishMkdir(inode, ino, parentHandle.ino); err != nil {
			return nil, err
		}
	}

	if err := AddEntry(d.device, d.sb, d.alloc, parentHandle.inode, name, ino, inode.Raw.Mode); err != nil {
		d.alloc.FreeInode(ino)
		return nil, toDriverError(err)
	}

	if perm.IsDir() {
		parentHandle.inode.Raw.LinksCount++
		d.alloc.Descriptors()[groupOf(d.sb, ino)].UsedDirsCount++
	}

	if err := WriteInode(d.device, d.sb, d.alloc.Descriptors(), ino, inode); err != nil {
		return nil, toDriverError(err)
	}
	if err := WriteInode(d.device, d.sb, d.alloc.Descriptors(), parentHandle.ino, parentHandle.inode); err != nil {
		return nil, toDriverError(err)
	}

	return &Handle{
		driver:      d,
		ino:         ino,
		inode:       inode,
		name:        name,
		parentIno:   parentHandle.ino,
		parentInode: parentHandle.inode,
	}, nil
}

func groupOf(sb *Superblock, ino uint32) uint {
	group, _ := sb.GroupOfInode(ino)
	return group
}

// finishMkdir allocates the new directory's first block and lays out its
// "." and ".." entries, mirroring drivers/fat's finishMkdir.
func (d *Driver) finishMkdir(inode *Inode, ino uint32, parentIno uint32) multivol.DriverError {
	block, err := d.alloc.AllocateBlock()
	if err != nil {
		return toDriverError(err)
	}

	raw := make([]byte, d.sb.BlockSize)
	InitDirectoryBlock(raw, ino, parentIno, d.sb.HasFeatureFileType())
	if err := d.device.WriteAt(raw, d.sb.blockOffsetOf(block)); err != nil {
		return err
	}

	inode.Raw.Block[0] = block
	inode.SetSize(int64(d.sb.BlockSize))
	inode.SetSectorCount(d.sb.sectorsPerBlock())
	return nil
}

func (d *Driver) FSStat() multivol.FSStat {
	raw := &d.sb.Raw
	return multivol.FSStat{
		BlockSize:       int64(d.sb.BlockSize),
		TotalBlocks:     uint64(raw.BlocksCount),
		BlocksFree:      uint64(raw.FreeBlocksCount),
		BlocksAvailable: uint64(raw.FreeBlocksCount),
		Files:           uint64(raw.InodesCount - raw.FreeInodesCount),
		FilesFree:       uint64(raw.FreeInodesCount),
		MaxNameLength:   255,
	}
}

func (d *Driver) GetFSFeatures() multivol.FSFeatures {
	return fsFeatures{blockSize: int(d.sb.BlockSize)}
}

// FormatImage lays out a fresh ext2 volume onto image, sized according to
// stat.
func (d *Driver) FormatImage(image io.ReadWriteSeeker, stat multivol.FSStat) multivol.DriverError {
	return formatExt2Image(image, stat)
}

// SetBootCode/GetBootCode: ext2 reserves bytes 0-1023 before the superblock
// for boot code in principle, but this engine doesn't model or preserve
// them, so per api.go's contract for systems with no explicit support it
// reports ENOSYS.
func (d *Driver) SetBootCode(code []byte) multivol.DriverError {
	return multivol.NewDriverError(multivol.ENOSYS)
}

func (d *Driver) GetBootCode() ([]byte, multivol.DriverError) {
	return nil, multivol.NewDriverError(multivol.ENOSYS)
}
