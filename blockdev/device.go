package blockdev

import (
	"github.com/latticeworks/multivol"
)

// Overlay is the subset of the transaction overlay's behavior a Device
// consults before falling through to the backend. A Device that has no
// overlay attached behaves as if every lookup misses and the transaction is
// always closed. Defining this locally (rather than importing the
// transaction package) keeps blockdev a dependency leaf, matching the
// teacher's interface-over-vtable style.
type Overlay interface {
	IsOpen() bool
	Get(blockID uint, blockCount uint) (data []byte, found bool)
	Push(blockID uint, blockCount uint, data []byte) error
}

// Device owns one block-addressable backend plus the partition window (byte
// offset and size) that BDI consumers see. It mirrors the BlockDevice data
// model: block size, total block count, partition offset/size, a reference
// counter for nested init/fini, a one-block scratch buffer, and read/write
// counters.
type Device struct {
	Name          string
	BlockSize     uint
	TotalBlocks   uint
	PartOffset    int64
	PartSize      int64
	backend       Backend
	refCount      uint
	scratch       []byte
	ReadCount     uint64
	WriteCount    uint64
	overlay       Overlay
	mountedFSName string
}

// New constructs a Device around a backend. blockSize must be a power of two
// and at least 512; the device isn't opened until Init is called.
func New(name string, blockSize uint, backend Backend) (*Device, multivol.DriverError) {
	if blockSize < 512 || blockSize&(blockSize-1) != 0 {
		return nil, multivol.NewDriverErrorWithMessage(
			multivol.EINVAL,
			"block size must be a power of two, at least 512 bytes",
		)
	}
	return &Device{
		Name:      name,
		BlockSize: blockSize,
		backend:   backend,
		scratch:   make([]byte, blockSize),
	}, nil
}

// SetOverlay attaches (or clears, with nil) the transaction overlay this
// device's byte I/O consults before touching the backend.
func (dev *Device) SetOverlay(overlay Overlay) {
	dev.overlay = overlay
}

// MountedFSName records the name of the filesystem instance presently
// mounted on this device, mirroring the `bdev.fs` back-pointer in the data
// model -- but by identity key instead of a raw pointer cycle, per the
// design note on cyclic block-device/filesystem ownership.
func (dev *Device) MountedFSName() string {
	return dev.mountedFSName
}

func (dev *Device) SetMountedFSName(name string) {
	dev.mountedFSName = name
}

// Init opens the backend if this is the first nested call, and always
// increments the reference counter.
func (dev *Device) Init() multivol.DriverError {
	if dev.refCount == 0 {
		totalBlocks, err := dev.backend.Open()
		if err != nil {
			return err
		}
		dev.TotalBlocks = totalBlocks
		dev.PartSize = int64(totalBlocks) * int64(dev.BlockSize)
	}
	dev.refCount++
	return nil
}

// Fini decrements the reference counter, closing the backend once it reaches
// zero. Calling Fini on a device that was never Init'd is a no-op.
func (dev *Device) Fini() multivol.DriverError {
	if dev.refCount == 0 {
		return nil
	}
	dev.refCount--
	if dev.refCount == 0 {
		return dev.backend.Close()
	}
	return nil
}

// RefCount returns the current nesting depth of Init calls.
func (dev *Device) RefCount() uint {
	return dev.refCount
}

func (dev *Device) checkOpen() multivol.DriverError {
	if dev.refCount == 0 {
		return multivol.NewDriverErrorWithMessage(
			multivol.EIO, "device is not open: Init was never called or Fini closed it",
		)
	}
	return nil
}

// ReadBlocks performs a block-aligned bulk read of blockCount blocks starting
// at blockID, consulting the transaction overlay first.
func (dev *Device) ReadBlocks(blockID uint, blockCount uint) ([]byte, multivol.DriverError) {
	if err := dev.checkOpen(); err != nil {
		return nil, err
	}

	if dev.overlay != nil && dev.overlay.IsOpen() {
		if data, found := dev.overlay.Get(blockID, blockCount); found {
			return data, nil
		}
	}

	buffer := make([]byte, blockCount*dev.BlockSize)
	dev.backend.Lock()
	err := dev.backend.Read(buffer, blockID, blockCount)
	dev.backend.Unlock()
	if err != nil {
		return nil, err
	}
	dev.ReadCount++
	return buffer, nil
}

// WriteBlocks performs a block-aligned bulk write. While a transaction is
// open on this device, the write is redirected into the overlay and no
// backend I/O occurs.
func (dev *Device) WriteBlocks(blockID uint, data []byte) multivol.DriverError {
	if err := dev.checkOpen(); err != nil {
		return err
	}

	blockCount := uint(len(data)) / dev.BlockSize

	if dev.overlay != nil && dev.overlay.IsOpen() {
		if err := dev.overlay.Push(blockID, blockCount, data); err != nil {
			return multivol.NewDriverErrorFromError(multivol.EIO, err)
		}
		return nil
	}

	dev.backend.Lock()
	err := dev.backend.Write(data, blockID, blockCount)
	dev.backend.Unlock()
	if err != nil {
		return err
	}
	dev.WriteCount++
	return nil
}

// Resize delegates to the backend's Resize hook.
func (dev *Device) Resize(newBlockSize uint) multivol.DriverError {
	return dev.backend.Resize(newBlockSize)
}

// ReadBackendBlocks reads directly from the backend, bypassing the attached
// overlay. It exists for the overlay itself to use when it needs to read the
// on-disk remainder of a block range to extend a partial entry -- calling
// ReadBlocks here would recurse back into the overlay's own Get.
func (dev *Device) ReadBackendBlocks(blockID uint, blockCount uint) ([]byte, multivol.DriverError) {
	if err := dev.checkOpen(); err != nil {
		return nil, err
	}
	buffer := make([]byte, blockCount*dev.BlockSize)
	dev.backend.Lock()
	err := dev.backend.Read(buffer, blockID, blockCount)
	dev.backend.Unlock()
	if err != nil {
		return nil, err
	}
	dev.ReadCount++
	return buffer, nil
}

// WriteBackendBlocks writes directly to the backend, bypassing the attached
// overlay. Used by the transaction overlay's commit path.
func (dev *Device) WriteBackendBlocks(blockID uint, data []byte) multivol.DriverError {
	if err := dev.checkOpen(); err != nil {
		return err
	}
	blockCount := uint(len(data)) / dev.BlockSize
	dev.backend.Lock()
	err := dev.backend.Write(data, blockID, blockCount)
	dev.backend.Unlock()
	if err != nil {
		return err
	}
	dev.WriteCount++
	return nil
}
