package testing

import (
	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
)

// MemBackend is a blockdev.Backend over a plain in-memory byte slice. It
// plays the role blockdev.FileBackend plays for a real disk image, but for
// the in-process images this module's tests format with FormatImage.
type MemBackend struct {
	Data      []byte
	blockSize uint
}

var _ blockdev.Backend = (*MemBackend)(nil)

// NewMemBackend wraps data, a fully-formatted disk image, as a Backend with
// the given block size. len(data) must be a whole multiple of blockSize.
func NewMemBackend(data []byte, blockSize uint) *MemBackend {
	return &MemBackend{Data: data, blockSize: blockSize}
}

func (b *MemBackend) Open() (uint, multivol.DriverError) {
	return uint(len(b.Data)) / b.blockSize, nil
}

func (b *MemBackend) Read(dst []byte, blockID uint, blockCount uint) multivol.DriverError {
	offset := blockID * b.blockSize
	length := blockCount * b.blockSize
	if offset+length > uint(len(b.Data)) {
		return multivol.NewDriverError(multivol.EIO)
	}
	copy(dst[:length], b.Data[offset:offset+length])
	return nil
}

func (b *MemBackend) Write(src []byte, blockID uint, blockCount uint) multivol.DriverError {
	offset := blockID * b.blockSize
	length := blockCount * b.blockSize
	if offset+length > uint(len(b.Data)) {
		return multivol.NewDriverError(multivol.EIO)
	}
	copy(b.Data[offset:offset+length], src[:length])
	return nil
}

func (b *MemBackend) Close() multivol.DriverError {
	return nil
}

func (b *MemBackend) Lock()   {}
func (b *MemBackend) Unlock() {}

func (b *MemBackend) Resize(newBlockSize uint) multivol.DriverError {
	return multivol.NewDriverError(multivol.ENOTSUP)
}
