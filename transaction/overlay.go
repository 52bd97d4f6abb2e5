package transaction

import (
	"strconv"

	"github.com/latticeworks/multivol/blockdev"
	"github.com/latticeworks/multivol/errors"
)

// WriterCallback persists one committed entry. In production it wraps a
// *blockdev.Device's WriteBackendBlocks; tests can substitute a recording
// stub.
type WriterCallback func(entry Entry) error

// Overlay buffers modified blocks for one device between Begin and
// Commit/Rollback. It starts empty and only ever holds entries that were
// explicitly pushed -- reads that miss fall through to the bound device.
type Overlay struct {
	device  *blockdev.Device
	writer  WriterCallback
	entries []*Entry
	open    bool
}

// New creates an overlay bound to a single device. It starts closed; call
// Begin to open a transaction.
func New(device *blockdev.Device) *Overlay {
	return &Overlay{device: device}
}

// IsOpen reports whether a transaction is currently open.
func (o *Overlay) IsOpen() bool {
	return o.open
}

// Begin opens a transaction. It fails ALREADY if one is already open on this
// overlay, and INVAL if writer is nil.
func (o *Overlay) Begin(writer WriterCallback) errors.DriverError {
	if o.open {
		return ErrAlreadyOpen.WithMessage("transaction already open on this device")
	}
	if writer == nil {
		return ErrNoWriter.WithMessage("transaction requires a writer callback")
	}
	o.writer = writer
	o.entries = nil
	o.open = true
	return nil
}

// findOverlapping returns the index of the entry (if any) whose range overlaps
// [blockID, blockID+blockCount).
func (o *Overlay) findOverlapping(blockID uint, blockCount uint) int {
	for i, e := range o.entries {
		if e.overlaps(blockID, blockCount) {
			return i
		}
	}
	return -1
}

// Push appends or merges a modified region into the overlay. If an existing
// entry already fully covers the same range, its data is overwritten in
// place rather than creating a duplicate entry.
func (o *Overlay) Push(blockID uint, blockCount uint, data []byte) error {
	if !o.open {
		return ErrNotOpen
	}

	heapCopy := make([]byte, len(data))
	copy(heapCopy, data)

	if idx := o.findOverlapping(blockID, blockCount); idx >= 0 {
		existing := o.entries[idx]
		if existing.covers(blockID, blockCount) && existing.BlockID == blockID &&
			existing.BlockCount == blockCount {
			existing.Data = heapCopy
			return nil
		}
	}

	o.entries = append(o.entries, &Entry{
		BlockID:    blockID,
		BlockCount: blockCount,
		Data:       heapCopy,
	})
	return nil
}

// Get searches for an entry covering the requested range, applying the
// read-your-writes merge rules:
//
//   - an exact-size covering entry returns its bytes directly;
//   - a larger covering entry returns the matching prefix;
//   - a smaller covering entry is extended: the remainder is read from the
//     device, merged into a single entry covering the full requested range,
//     and the merged bytes are returned.
func (o *Overlay) Get(blockID uint, blockCount uint) ([]byte, bool) {
	if !o.open {
		return nil, false
	}

	for _, e := range o.entries {
		if !(blockID >= e.BlockID && blockID < e.BlockID+e.BlockCount) {
			continue
		}

		switch {
		case e.BlockCount == blockCount && e.BlockID == blockID:
			return e.Data, true

		case e.covers(blockID, blockCount):
			offset := (blockID - e.BlockID) * o.blockSize()
			length := blockCount * o.blockSize()
			return e.Data[offset : offset+length], true

		default:
			// The entry covers only part of the requested range. Read the
			// device for the full range and merge this entry's bytes on top,
			// then replace the entry with the merged, wider one.
			// The entry may start before blockID, so the merged entry runs
			// from the entry's start to the end of the requested range.
			start := e.BlockID
			count := blockID + blockCount - start
			merged, err := o.device.ReadBackendBlocks(start, count)
			if err != nil {
				return nil, false
			}
			copy(merged[:e.BlockCount*o.blockSize()], e.Data)

			e.BlockID = start
			e.BlockCount = count
			e.Data = merged
			skip := (blockID - start) * o.blockSize()
			return merged[skip:], true
		}
	}

	return nil, false
}

func (o *Overlay) blockSize() uint {
	return o.device.BlockSize
}

// Commit flushes every buffered entry through the writer callback in
// insertion order. On the first failure, it stops and leaves the overlay
// (including all entries, committed or not) in place so the caller can retry
// or roll back.
func (o *Overlay) Commit() errors.DriverError {
	if !o.open {
		return ErrNotOpen.WithMessage("commit called with no open transaction")
	}

	for i, e := range o.entries {
		if err := o.writer(*e); err != nil {
			return errors.ErrIOFailed.WithMessage(
				"transaction commit failed at entry " + strconv.Itoa(i) + ": " + err.Error(),
			)
		}
	}

	o.entries = nil
	o.open = false
	o.writer = nil
	return nil
}

// Rollback discards all buffered entries and closes the transaction without
// writing anything back.
func (o *Overlay) Rollback() errors.DriverError {
	if !o.open {
		return ErrNotOpen.WithMessage("rollback called with no open transaction")
	}
	o.entries = nil
	o.open = false
	o.writer = nil
	return nil
}

// DeviceWriter builds a WriterCallback that persists entries straight to
// device via WriteBackendBlocks. mount.Registry binds an Overlay to each
// registered device but does not begin transactions itself.
func DeviceWriter(device *blockdev.Device) WriterCallback {
	return func(entry Entry) error {
		return device.WriteBackendBlocks(entry.BlockID, entry.Data)
	}
}
