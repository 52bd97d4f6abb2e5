package ext2

import (
	"os"
	"syscall"
	"time"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/drivers/common"
)

// Handle is the multivol.ObjectHandle implementation wrapping one ext2
// inode. Logical blocks are filesystem blocks: ReadBlocks/WriteBlocks
// operate in units of sb.BlockSize, matching ObjectHandle's contract.
type Handle struct {
	driver *Driver
	ino    uint32
	inode  *Inode
	name   string
	isRoot bool

	// parentIno/parentInode are only set for non-root handles, so Unlink can
	// remove this object's directory entry and, when its link count reaches
	// zero, free its blocks.
	parentIno   uint32
	parentInode *Inode
}

var _ multivol.ObjectHandle = (*Handle)(nil)

func (h *Handle) Stat() multivol.FileStat {
	raw := &h.inode.Raw
	return multivol.FileStat{
		InodeNumber:  uint64(h.ino),
		Nlinks:       uint64(raw.LinksCount),
		ModeFlags:    modeToFileMode(raw.Mode),
		Uid:          uint32(raw.Uid),
		Gid:          uint32(raw.Gid),
		Size:         h.inode.Size(),
		BlockSize:    int64(h.driver.sb.BlockSize),
		NumBlocks:    int64(raw.BlocksLo),
		CreatedAt:    multivol.UndefinedTimestamp,
		LastChanged:  epochToTime(raw.Ctime),
		LastAccessed: epochToTime(raw.Atime),
		LastModified: epochToTime(raw.Mtime),
		DeletedAt:    deletedTime(raw.Dtime),
	}
}

func epochToTime(seconds uint32) time.Time {
	if seconds == 0 {
		return multivol.UndefinedTimestamp
	}
	return time.Unix(int64(seconds), 0).UTC()
}

func deletedTime(seconds uint32) time.Time {
	if seconds == 0 {
		return multivol.UndefinedTimestamp
	}
	return time.Unix(int64(seconds), 0).UTC()
}

func (h *Handle) Resize(newSize uint64) multivol.DriverError {
	if err := TruncateInodeData(h.driver.device, h.driver.sb, h.driver.alloc, h.inode, int64(newSize)); err != nil {
		return toDriverError(err)
	}
	return h.persist()
}

func (h *Handle) ReadBlocks(index common.LogicalBlock, buffer []byte) multivol.DriverError {
	offset := int64(index) * int64(h.driver.sb.BlockSize)
	_, err := ReadInodeData(h.driver.device, h.driver.sb, h.driver.alloc, h.inode, buffer, offset)
	return toDriverError(err)
}

func (h *Handle) WriteBlocks(index common.LogicalBlock, data []byte) multivol.DriverError {
	offset := int64(index) * int64(h.driver.sb.BlockSize)
	if _, err := WriteInodeData(h.driver.device, h.driver.sb, h.driver.alloc, h.inode, data, offset); err != nil {
		return toDriverError(err)
	}
	return h.persist()
}

func (h *Handle) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) multivol.DriverError {
	zeros := make([]byte, uint(h.driver.sb.BlockSize)*count)
	return h.WriteBlocks(startIndex, zeros)
}

// Unlink removes this object's directory entry from its parent, decrements
// its link count, and -- once the count reaches zero -- frees its blocks
// and the inode itself. Never called on the root (see api.go's contract).
func (h *Handle) Unlink() multivol.DriverError {
	if err := RemoveEntry(h.driver.device, h.driver.sb, h.driver.alloc, h.parentInode, h.name); err != nil {
		return toDriverError(err)
	}

	h.inode.Raw.LinksCount--
	if h.inode.Raw.LinksCount == 0 {
		if err := FreeInodeBlocks(h.driver.device, h.driver.sb, h.driver.alloc, h.inode); err != nil {
			return toDriverError(err)
		}
		if err := h.driver.alloc.FreeInode(h.ino); err != nil {
			return toDriverError(err)
		}
	}

	if err := WriteInode(h.driver.device, h.driver.sb, h.driver.alloc.Descriptors(), h.ino, h.inode); err != nil {
		return toDriverError(err)
	}
	return toDriverError(WriteInode(h.driver.device, h.driver.sb, h.driver.alloc.Descriptors(), h.parentIno, h.parentInode))
}

// Chmod replaces the permission bits (lower 12 bits) of i_mode, leaving the
// format bits (directory/regular/symlink) untouched.
func (h *Handle) Chmod(mode os.FileMode) multivol.DriverError {
	h.inode.Raw.Mode = (h.inode.Raw.Mode &^ 0xFFF) | uint16(mode.Perm())
	return h.persist()
}

func (h *Handle) Chown(uid, gid int) multivol.DriverError {
	h.inode.Raw.Uid = uint16(uid)
	h.inode.Raw.Gid = uint16(gid)
	return h.persist()
}

func (h *Handle) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	if lastAccessed != multivol.UndefinedTimestamp {
		h.inode.Raw.Atime = uint32(lastAccessed.Unix())
	}
	if lastModified != multivol.UndefinedTimestamp {
		h.inode.Raw.Mtime = uint32(lastModified.Unix())
	}
	if lastChanged != multivol.UndefinedTimestamp {
		h.inode.Raw.Ctime = uint32(lastChanged.Unix())
	}
	if deletedAt != multivol.UndefinedTimestamp {
		h.inode.Raw.Dtime = uint32(deletedAt.Unix())
	}
	return h.persist()
}

func (h *Handle) ListDir() ([]string, multivol.DriverError) {
	entries, err := ListDirectory(h.driver.device, h.driver.sb, h.driver.alloc, h.inode)
	if err != nil {
		return nil, toDriverError(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		names = append(names, e.Name)
	}
	return names, nil
}

func (h *Handle) Name() string {
	if h.isRoot {
		return "/"
	}
	return h.name
}

// persist rewrites this handle's inode in place, e.g. after a size,
// permission, or timestamp change.
func (h *Handle) persist() multivol.DriverError {
	return toDriverError(WriteInode(h.driver.device, h.driver.sb, h.driver.alloc.Descriptors(), h.ino, h.inode))
}

// modeToFileMode converts an ext2 16-bit i_mode into an os.FileMode,
// mapping the format bits (directory/regular/symlink) and the low 9
// permission bits.
func modeToFileMode(raw uint16) os.FileMode {
	mode := os.FileMode(raw & 0x1FF)
	switch raw & ModeFormatMask {
	case ModeDirectory:
		mode |= os.ModeDir
	case ModeSymlink:
		mode |= os.ModeSymlink
	}
	return mode
}

// fileModeToRawMode converts an os.FileMode into the ext2 i_mode bits
// CreateObject needs: the format bits ext2 expects, plus the low 9
// permission bits requested by the caller.
func fileModeToRawMode(mode os.FileMode) uint16 {
	raw := uint16(mode.Perm())
	if mode.IsDir() {
		raw |= ModeDirectory
	} else {
		raw |= ModeRegular
	}
	return raw
}

// toDriverError adapts a plain error (returned by the inode/block-level
// engine) to multivol.DriverError, preserving it unchanged if it already is
// one.
func toDriverError(err error) multivol.DriverError {
	if err == nil {
		return nil
	}
	if de, ok := err.(multivol.DriverError); ok {
		return de
	}
	return multivol.NewDriverErrorFromError(syscall.EIO, err)
}
