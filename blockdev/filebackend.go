package blockdev

import (
	"io"
	"os"

	"github.com/latticeworks/multivol"
)

// FileBackend is a Backend over a host OS file: the disk-image front door
// for the CLI (cmd/main.go) and for anything else that mounts a real image
// file rather than the in-memory testing harness.
type FileBackend struct {
	path      string
	blockSize uint
	file      *os.File
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a Backend that reads and writes blockSize-sized
// blocks from the file at path. The file is opened lazily, on Open.
func NewFileBackend(path string, blockSize uint) *FileBackend {
	return &FileBackend{path: path, blockSize: blockSize}
}

func (b *FileBackend) Open() (uint, multivol.DriverError) {
	file, err := os.OpenFile(b.path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, multivol.NewDriverErrorFromError(multivol.ENODATA, err)
		}
		return 0, multivol.NewDriverErrorFromError(multivol.EIO, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, multivol.NewDriverErrorFromError(multivol.EIO, err)
	}

	b.file = file
	return uint(info.Size()) / b.blockSize, nil
}

func (b *FileBackend) Read(dst []byte, blockID uint, blockCount uint) multivol.DriverError {
	offset := int64(blockID) * int64(b.blockSize)
	n, err := b.file.ReadAt(dst[:blockCount*b.blockSize], offset)
	if err != nil && err != io.EOF {
		return multivol.NewDriverErrorFromError(multivol.EIO, err)
	}
	for ; n < len(dst); n++ {
		dst[n] = 0
	}
	return nil
}

func (b *FileBackend) Write(src []byte, blockID uint, blockCount uint) multivol.DriverError {
	offset := int64(blockID) * int64(b.blockSize)
	if _, err := b.file.WriteAt(src[:blockCount*b.blockSize], offset); err != nil {
		return multivol.NewDriverErrorFromError(multivol.EIO, err)
	}
	return nil
}

func (b *FileBackend) Close() multivol.DriverError {
	if b.file == nil {
		return nil
	}
	if err := b.file.Close(); err != nil {
		return multivol.NewDriverErrorFromError(multivol.EIO, err)
	}
	b.file = nil
	return nil
}

// Lock/Unlock are no-ops: the CLI is single-threaded, and each mounted
// Device already serializes its own calls into the backend.
func (b *FileBackend) Lock()   {}
func (b *FileBackend) Unlock() {}

// Resize is not supported: growing or shrinking a disk image in place is
// out of scope for this backend.
func (b *FileBackend) Resize(newBlockSize uint) multivol.DriverError {
	return multivol.NewDriverError(multivol.ENOTSUP)
}
