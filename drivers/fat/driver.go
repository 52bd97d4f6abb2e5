package fat

import (
	"bytes"
	"io"
	"math"
	"os"
	"syscall"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
)

// Driver implements multivol.DriverImplementation for a FAT12/16/32 volume
// mounted over a *blockdev.Device. It is the adapter layer the mount
// registry actually talks to; FATDriver/ClusterTable underneath it work
// purely in sectors and clusters and know nothing about the mount-point
// registry's object-handle contract.
type Driver struct {
	engine *FATDriver
	device *blockdev.Device
	boot   *FATBootSector
}

var _ multivol.DriverImplementation = (*Driver)(nil)

// NewDriver reads the boot sector from device and builds the version-
// appropriate cluster table (FAT12, FAT16, or FAT32, chosen automatically
// by NewFATBootSectorFromStream's cluster-count heuristic).
func NewDriver(device *blockdev.Device) (*Driver, error) {
	header := make([]byte, 512)
	if err := device.ReadAt(header, 0); err != nil {
		return nil, err
	}

	boot, err := NewFATBootSectorFromStream(bytes.NewReader(header))
	if err != nil {
		return nil, err
	}

	clusterTable := NewClusterTable(boot, device)
	return &Driver{
		engine: &FATDriver{fs: clusterTable, device: device},
		device: device,
		boot:   boot,
	}, nil
}

func (d *Driver) rootDirent() Dirent {
	return Dirent{
		FirstCluster: d.boot.RootCluster,
		mode:         os.ModeDir | 0o111,
	}
}

func (d *Driver) GetRootDirectory() multivol.ObjectHandle {
	return &Handle{driver: d, dirent: d.rootDirent(), isRoot: true}
}

// findEntry locates a directory entry by name within parent, returning both
// the resolved Dirent and the DirentLocation needed to rewrite its slot.
func (d *Driver) findEntry(parentHandle *Handle, name string) (*DirectoryEntry, error) {
	entries, err := d.engine.ListDirectory(&parentHandle.dirent)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].DisplayName() == name {
			return &entries[i], nil
		}
	}
	return nil, multivol.NewDriverError(multivol.ENOENT)
}

func (d *Driver) GetObject(name string, parent multivol.ObjectHandle) (multivol.ObjectHandle, multivol.DriverError) {
	parentHandle, ok := parent.(*Handle)
	if !ok {
		return nil, multivol.NewDriverErrorWithMessage(syscall.EINVAL, "parent handle is not a FAT object")
	}

	entry, err := d.findEntry(parentHandle, name)
	if err != nil {
		return nil, toDriverError(err)
	}

	return &Handle{driver: d, dirent: entry.Dirent, location: entry.Location}, nil
}

// CreateObject creates a new regular file (directories are created the same
// way but with AttrDirectory set and a freshly allocated, "."/".."-
// initialized cluster -- see finishMkdir).
func (d *Driver) CreateObject(name string, parent multivol.ObjectHandle, perm os.FileMode) (multivol.ObjectHandle, multivol.DriverError) {
	parentHandle, ok := parent.(*Handle)
	if !ok {
		return nil, multivol.NewDriverErrorWithMessage(syscall.EINVAL, "parent handle is not a FAT object")
	}

	existing, err := d.engine.ListDirectory(&parentHandle.dirent)
	if err != nil {
		return nil, toDriverError(err)
	}

	attr := uint8(0)
	if perm&0o200 == 0 {
		attr |= AttrReadOnly
	}
	if perm.IsDir() {
		attr |= AttrDirectory
	}

	raw := RawDirent{AttributeFlags: attr}
	location, err := d.engine.InsertDirectoryEntry(&parentHandle.dirent, existing, name, raw)
	if err != nil {
		return nil, toDriverError(err)
	}

	if perm.IsDir() {
		return d.finishMkdir(location, parentHandle)
	}

	rawBytes, err := readSlot(d.engine, location)
	if err != nil {
		return nil, toDriverError(err)
	}
	parsedRaw, _ := NewRawDirentFromBytes(rawBytes)
	dirent, err := NewDirentFromRaw(&parsedRaw)
	if err != nil {
		return nil, toDriverError(err)
	}

	return &Handle{driver: d, dirent: dirent, location: location}, nil
}

// finishMkdir allocates the new directory's first cluster, lays out its
// "." and ".." entries, and rewrites the just-inserted short entry to point
// at it.
func (d *Driver) finishMkdir(location DirentLocation, parentHandle *Handle) (multivol.ObjectHandle, multivol.DriverError) {
	cluster, err := d.engine.fs.AllocateCluster()
	if err != nil {
		return nil, toDriverError(err)
	}

	bootSector := d.engine.fs.GetBootSector()
	block := make([]byte, bootSector.BytesPerCluster)

	selfEntry := RawDirent{AttributeFlags: AttrDirectory}
	selfEntry.Name = [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	selfEntry.FirstClusterHigh = uint16(uint32(cluster) >> 16)
	selfEntry.FirstClusterLow = uint16(uint32(cluster))
	copy(block[0:DirentSize], rawDirentToBytes(selfEntry))

	parentCluster := parentHandle.dirent.FirstCluster
	parentEntry := RawDirent{AttributeFlags: AttrDirectory}
	parentEntry.Name = [8]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' '}
	parentEntry.FirstClusterHigh = uint16(uint32(parentCluster) >> 16)
	parentEntry.FirstClusterLow = uint16(uint32(parentCluster))
	copy(block[DirentSize:2*DirentSize], rawDirentToBytes(parentEntry))

	if err := d.engine.writeCluster(cluster, block); err != nil {
		return nil, toDriverError(err)
	}

	rawBytes, err := readSlot(d.engine, location)
	if err != nil {
		return nil, toDriverError(err)
	}
	parsedRaw, _ := NewRawDirentFromBytes(rawBytes)
	parsedRaw.FirstClusterHigh = uint16(uint32(cluster) >> 16)
	parsedRaw.FirstClusterLow = uint16(uint32(cluster))
	if err := d.engine.writeDirectorySlot(location.Directory, location.Slot, rawDirentToBytes(parsedRaw)); err != nil {
		return nil, toDriverError(err)
	}

	dirent, err := NewDirentFromRaw(&parsedRaw)
	if err != nil {
		return nil, toDriverError(err)
	}
	return &Handle{driver: d, dirent: dirent, location: location}, nil
}

// readSlot re-reads a single directory entry's raw bytes after it has been
// written, so the in-memory Dirent reflects exactly what's on disk.
func readSlot(engine *FATDriver, location DirentLocation) ([]byte, error) {
	region, err := engine.readDirectoryRegion(location.Directory)
	if err != nil {
		return nil, err
	}
	return region[location.Slot*DirentSize : (location.Slot+1)*DirentSize], nil
}

func (d *Driver) FSStat() multivol.FSStat {
	total := uint64(d.boot.TotalClusters)
	return multivol.FSStat{
		BlockSize:       int64(d.boot.BytesPerCluster),
		TotalBlocks:     total,
		BlocksFree:      d.countFreeClusters(),
		BlocksAvailable: d.countFreeClusters(),
		MaxNameLength:   MaxNameLength,
		FilesFree:       maxFilesFree,
	}
}

func (d *Driver) countFreeClusters() uint64 {
	var free uint64
	for i := uint(2); i < d.boot.TotalClusters+2; i++ {
		value, err := d.engine.fs.GetClusterAtIndex(i)
		if err == nil && value == 0 {
			free++
		}
	}
	return free
}

func (d *Driver) GetFSFeatures() multivol.FSFeatures {
	return fsFeatures{blockSize: int(d.boot.BytesPerCluster)}
}

// SetBootCode overwrites the boot code area of the boot sector (the
// MaxBootCodeSize bytes starting at offset 62), zero-padding code to that
// length. The jump instruction, OEM name, BPB and the trailing 0x55AA
// signature are left as they are.
func (d *Driver) SetBootCode(code []byte) multivol.DriverError {
	if len(code) > fsFeatures{}.MaxBootCodeSize() {
		return multivol.NewDriverError(syscall.ENOSPC)
	}

	buffer := make([]byte, fsFeatures{}.MaxBootCodeSize())
	copy(buffer, code)
	return d.device.WriteAt(buffer, 62)
}

func (d *Driver) GetBootCode() ([]byte, multivol.DriverError) {
	buffer := make([]byte, fsFeatures{}.MaxBootCodeSize())
	if err := d.device.ReadAt(buffer, 62); err != nil {
		return nil, err
	}
	return buffer, nil
}

// FormatImage writes a fresh FAT boot sector plus empty FAT(s) and root
// directory onto image, sized and clustered according to stat. It chooses
// FAT12/16/32 with the same cluster-count heuristic NewFATBootSectorFromStream
// uses to read one back, so a freshly formatted image is immediately
// readable by this same driver.
func (d *Driver) FormatImage(image io.ReadWriteSeeker, stat multivol.FSStat) multivol.DriverError {
	return formatFATImage(image, stat)
}

var _ = math.MaxUint64
