package blockdev

import (
	"github.com/latticeworks/multivol"
)

// ReadAt performs a byte-addressed read within the partition window. It reads
// one block at a time and copies the covered part of each block, whether or
// not the block is aligned to the request; there is no multi-block bulk read.
func (dev *Device) ReadAt(buffer []byte, offset int64) multivol.DriverError {
	length := int64(len(buffer))
	if offset < 0 || length < 0 || offset+length > dev.PartSize {
		return multivol.NewDriverErrorWithMessage(
			multivol.EINVAL,
			"byte range exceeds partition bounds",
		)
	}
	if err := dev.checkOpen(); err != nil {
		return err
	}

	blockSize := int64(dev.BlockSize)
	written := int64(0)
	remaining := length

	for remaining > 0 {
		absOffset := dev.PartOffset + offset + written
		blockID := uint(absOffset / blockSize)
		inBlockOffset := absOffset % blockSize

		blockData, err := dev.ReadBlocks(blockID, 1)
		if err != nil {
			return err
		}

		chunk := blockSize - inBlockOffset
		if chunk > remaining {
			chunk = remaining
		}

		copy(buffer[written:written+chunk], blockData[inBlockOffset:inBlockOffset+chunk])
		written += chunk
		remaining -= chunk
	}

	return nil
}

// WriteAt performs a byte-addressed write within the partition window. Head
// and tail fragments that don't align to a block boundary are handled with a
// read-modify-write through the per-device scratch buffer; the aligned body
// is written directly.
func (dev *Device) WriteAt(data []byte, offset int64) multivol.DriverError {
	length := int64(len(data))
	if offset < 0 || length < 0 || offset+length > dev.PartSize {
		return multivol.NewDriverErrorWithMessage(
			multivol.EINVAL,
			"byte range exceeds partition bounds",
		)
	}
	if err := dev.checkOpen(); err != nil {
		return err
	}

	blockSize := int64(dev.BlockSize)
	written := int64(0)
	remaining := length

	for remaining > 0 {
		absOffset := dev.PartOffset + offset + written
		blockID := uint(absOffset / blockSize)
		inBlockOffset := absOffset % blockSize
		chunk := blockSize - inBlockOffset
		if chunk > remaining {
			chunk = remaining
		}

		if inBlockOffset == 0 && chunk == blockSize {
			// Aligned whole-block write: no read-modify-write needed.
			if err := dev.WriteBlocks(blockID, data[written:written+chunk]); err != nil {
				return err
			}
		} else {
			// Head or tail fragment: read the straddling block into scratch,
			// splice in the fragment, write the whole block back.
			existing, err := dev.ReadBlocks(blockID, 1)
			if err != nil {
				return err
			}
			copy(dev.scratch, existing)
			copy(dev.scratch[inBlockOffset:inBlockOffset+chunk], data[written:written+chunk])
			if err := dev.WriteBlocks(blockID, dev.scratch); err != nil {
				return err
			}
		}

		written += chunk
		remaining -= chunk
	}

	return nil
}
