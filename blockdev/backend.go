// Package blockdev implements the block-device interface: a uniform
// fixed-block I/O facade over a host-supplied backend, plus partitioned
// byte-addressed I/O with head/tail read-modify-write.
package blockdev

import (
	"github.com/latticeworks/multivol"
)

// Backend is the six-operation vtable every host-specific block-device
// implementation (raw file, in-memory test harness, microkernel device
// binding) must satisfy. It plays the role the teacher's DriverImplementation
// interface plays for file systems, but one layer further down the stack.
type Backend interface {
	// Open initializes the backend and returns the total number of blocks
	// available, or a DriverError (NODATA if no backing object is bound, IO
	// if the backing object is unreadable).
	Open() (totalBlocks uint, err multivol.DriverError)

	// Read transfers exactly blockCount blocks starting at blockID into dst.
	// dst is sized blockCount*BlockSize. The backend MUST transfer every
	// requested block or fail with EIO.
	Read(dst []byte, blockID uint, blockCount uint) multivol.DriverError

	// Write transfers exactly blockCount blocks from src to the backend.
	Write(src []byte, blockID uint, blockCount uint) multivol.DriverError

	// Close releases backend resources. Called once the device's reference
	// counter reaches zero.
	Close() multivol.DriverError

	// Lock and Unlock bracket a single backend Read or Write. No-op
	// implementations are valid; they exist so hosts embedding the library
	// in a multithreaded environment can interpose a per-device mutex.
	Lock()
	Unlock()

	// Resize is reserved for backends that support dynamic block-size
	// adjustment. Backends that don't support this return ENOTSUP.
	Resize(newBlockSize uint) multivol.DriverError
}
