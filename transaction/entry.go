// Package transaction implements the write-transaction overlay: a per-device
// buffer of modified blocks that gives read-your-own-writes semantics until
// the caller commits or rolls back. Entries are buffered and only flushed to
// the device on Commit, bound one per device rather than in a single
// process-global slot.
package transaction

import (
	"github.com/latticeworks/multivol/errors"
)

// Entry is a single buffered modification: a contiguous block range and a
// heap copy of its replacement data.
type Entry struct {
	BlockID    uint
	BlockCount uint
	Data       []byte
}

// covers reports whether this entry's block range fully covers
// [blockID, blockID+blockCount).
func (e *Entry) covers(blockID uint, blockCount uint) bool {
	return blockID >= e.BlockID && blockID+blockCount <= e.BlockID+e.BlockCount
}

// overlaps reports whether this entry's block range intersects
// [blockID, blockID+blockCount) at all.
func (e *Entry) overlaps(blockID uint, blockCount uint) bool {
	return blockID < e.BlockID+e.BlockCount && blockID+blockCount > e.BlockID
}

// ErrAlreadyOpen is returned by Begin when a transaction is already open on
// this overlay.
const ErrAlreadyOpen = errors.ErrAlreadyInProgress

// ErrNoWriter is returned by Begin when no writer callback is supplied.
const ErrNoWriter = errors.ErrInvalidArgument

// ErrNotOpen is returned by Push/Commit/Rollback when no transaction is
// open.
const ErrNotOpen = errors.DiskoError("no transaction is open on this overlay")
