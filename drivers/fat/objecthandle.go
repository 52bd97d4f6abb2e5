package fat

import (
	"os"
	"syscall"
	"time"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/drivers/common"
)

// Handle is the multivol.ObjectHandle implementation wrapping one FAT
// directory entry. Logical blocks are this volume's clusters: ReadBlocks
// and WriteBlocks operate in units of BytesPerCluster, matching the
// contract ObjectHandle.ReadBlocks/WriteBlocks documents ("buffer is a
// nonzero multiple of the size of a block").
type Handle struct {
	driver   *Driver
	dirent   Dirent
	location DirentLocation // zero value for the root directory
	isRoot   bool
}

var _ multivol.ObjectHandle = (*Handle)(nil)

func (h *Handle) Stat() multivol.FileStat {
	bootSector := h.driver.engine.fs.GetBootSector()
	return multivol.FileStat{
		Nlinks:       1,
		ModeFlags:    h.dirent.Mode(),
		Size:         h.dirent.Size(),
		BlockSize:    int64(bootSector.BytesPerCluster),
		NumBlocks:    int64((h.dirent.Size() + int64(bootSector.BytesPerCluster) - 1) / int64(bootSector.BytesPerCluster)),
		CreatedAt:    h.dirent.Created,
		LastModified: h.dirent.LastModified,
		LastAccessed: h.dirent.LastAccessed,
		LastChanged:  multivol.UndefinedTimestamp,
		DeletedAt:    multivol.UndefinedTimestamp,
	}
}

// Resize changes the file's length, allocating or freeing clusters and
// persisting the new size in its directory entry (root directory excepted:
// it has no entry of its own to update).
func (h *Handle) Resize(newSize uint64) multivol.DriverError {
	if err := h.driver.engine.TruncateFile(&h.dirent, int64(newSize)); err != nil {
		return toDriverError(err)
	}
	return toDriverError(h.persist())
}

func (h *Handle) blockOffset(index common.LogicalBlock) int64 {
	bootSector := h.driver.engine.fs.GetBootSector()
	return int64(index) * int64(bootSector.BytesPerCluster)
}

func (h *Handle) ReadBlocks(index common.LogicalBlock, buffer []byte) multivol.DriverError {
	_, err := h.driver.engine.ReadFile(&h.dirent, buffer, h.blockOffset(index))
	if err != nil {
		return toDriverError(err)
	}
	return nil
}

func (h *Handle) WriteBlocks(index common.LogicalBlock, data []byte) multivol.DriverError {
	if _, err := h.driver.engine.WriteFile(&h.dirent, data, h.blockOffset(index)); err != nil {
		return toDriverError(err)
	}
	return toDriverError(h.persist())
}

func (h *Handle) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) multivol.DriverError {
	bootSector := h.driver.engine.fs.GetBootSector()
	zeros := make([]byte, uint(bootSector.BytesPerCluster)*count)
	return h.WriteBlocks(startIndex, zeros)
}

// Unlink removes this object's directory entry and frees its cluster
// chain. It is never called on the root directory (see api.go's contract).
func (h *Handle) Unlink() multivol.DriverError {
	if err := h.driver.engine.RemoveDirectoryEntry(h.location, h.dirent.FirstCluster); err != nil {
		return toDriverError(err)
	}
	return nil
}

// Chmod maps the read-only permission bit onto FAT's AttrReadOnly flag; FAT
// has no other permission concept to change.
func (h *Handle) Chmod(mode os.FileMode) multivol.DriverError {
	if mode&0o200 == 0 {
		h.dirent.AttributeFlags |= AttrReadOnly
	} else {
		h.dirent.AttributeFlags &^= AttrReadOnly
	}
	return toDriverError(h.persist())
}

// Chown is a no-op: FAT has no concept of file ownership.
func (h *Handle) Chown(uid, gid int) multivol.DriverError {
	return nil
}

func (h *Handle) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	if createdAt != multivol.UndefinedTimestamp {
		h.dirent.Created = createdAt
	}
	if lastAccessed != multivol.UndefinedTimestamp {
		h.dirent.LastAccessed = lastAccessed
	}
	if lastModified != multivol.UndefinedTimestamp {
		h.dirent.LastModified = lastModified
	}
	return toDriverError(h.persist())
}

func (h *Handle) ListDir() ([]string, multivol.DriverError) {
	entries, err := h.driver.engine.ListDirectory(&h.dirent)
	if err != nil {
		return nil, toDriverError(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.DisplayName()
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (h *Handle) Name() string {
	if h.isRoot {
		return "/"
	}
	return h.dirent.Name()
}

// persist rewrites this handle's directory entry in place, e.g. after a
// size or attribute change. It's a no-op for the root directory, which has
// no entry of its own.
func (h *Handle) persist() error {
	if h.isRoot {
		return nil
	}

	raw := direntToRaw(&h.dirent)
	return h.driver.engine.writeDirectorySlot(h.location.Directory, h.location.Slot, rawDirentToBytes(raw))
}

// direntToRaw re-encodes a processed Dirent back into its on-disk form,
// the write-side counterpart of NewDirentFromRaw.
func direntToRaw(d *Dirent) RawDirent {
	nameBytes, extBytes := packShortNameParts(d.Name())

	createdDate, createdTime, createdMillis := timeToFATParts(d.Created)
	modDate, modTime, _ := timeToFATParts(d.LastModified)
	accessedDate, _, _ := timeToFATParts(d.LastAccessed)

	return RawDirent{
		Name:              nameBytes,
		Extension:         extBytes,
		AttributeFlags:    uint8(d.AttributeFlags),
		NTReserved:        uint8(d.NTReserved),
		CreatedTimeMillis: createdMillis,
		CreatedTime:       createdTime,
		CreatedDate:       createdDate,
		LastAccessedDate:  accessedDate,
		FirstClusterHigh:  uint16(uint32(d.FirstCluster) >> 16),
		LastModifiedTime:  modTime,
		LastModifiedDate:  modDate,
		FirstClusterLow:   uint16(uint32(d.FirstCluster)),
		FileSize:          uint32(d.Size()),
	}
}

// timeToFATParts converts a time.Time into FAT's packed date/time/hundredths
// representation, the inverse of TimestampFromParts/DateFromInt.
func timeToFATParts(t time.Time) (date uint16, clock uint16, hundredths uint8) {
	if t.IsZero() || t == multivol.UndefinedTimestamp {
		return 0, 0, 0
	}

	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	date = uint16(year<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
	clock = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)
	hundredths = uint8((t.Second() % 2) * 100)
	return
}

// toDriverError adapts a plain error (returned by the byte/cluster-level
// engine) to multivol.DriverError, preserving it unchanged if it already
// is one.
func toDriverError(err error) multivol.DriverError {
	if err == nil {
		return nil
	}
	if de, ok := err.(multivol.DriverError); ok {
		return de
	}
	return multivol.NewDriverErrorFromError(syscall.EIO, err)
}
