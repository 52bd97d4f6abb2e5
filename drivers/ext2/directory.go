package ext2

import (
	"syscall"

	"github.com/latticeworks/multivol"
)

// DirEntryHeaderSize is the fixed portion of ext2_dir_entry_2: inode (4) +
// rec_len (2) + name_len (1) + file_type (1), followed by the (unpadded)
// name bytes.
const DirEntryHeaderSize = 8

// File type values stored in the dir entry's file_type byte when
// EXT2_FEATURE_INCOMPAT_FILETYPE is set.
const (
	FileTypeUnknown  uint8 = 0
	FileTypeRegular  uint8 = 1
	FileTypeDir      uint8 = 2
	FileTypeCharDev  uint8 = 3
	FileTypeBlockDev uint8 = 4
	FileTypeFIFO     uint8 = 5
	FileTypeSocket   uint8 = 6
	FileTypeSymlink  uint8 = 7
)

// DirEntry is the decoded form of one ext2 directory entry, plus its
// position within the directory's data so callers can rewrite it in place.
type DirEntry struct {
	Ino      uint32
	RecLen   uint16
	FileType uint8
	Name     string

	block      uint32 // filesystem block number the entry lives in
	offsetInBlock uint16
}

func modeToFileType(mode uint16) uint8 {
	switch mode & ModeFormatMask {
	case ModeDirectory:
		return FileTypeDir
	case ModeSymlink:
		return FileTypeSymlink
	default:
		return FileTypeRegular
	}
}

// minRecLen returns the minimum possible rec_len for a name of nameLen bytes:
// DirEntryHeaderSize plus the name length, rounded up to a 4-byte boundary.
func minRecLen(nameLen int) uint16 {
	raw := DirEntryHeaderSize + nameLen
	return uint16((raw + 3) &^ 3)
}

func decodeDirEntry(raw []byte, block uint32, offsetInBlock uint16) DirEntry {
	ino := leUint32(raw)
	recLen := leUint16(raw[4:])
	nameLen := raw[6]
	fileType := raw[7]
	name := string(raw[8 : 8+int(nameLen)])
	return DirEntry{
		Ino: ino, RecLen: recLen, FileType: fileType, Name: name,
		block: block, offsetInBlock: offsetInBlock,
	}
}

func encodeDirEntry(entry DirEntry, raw []byte) {
	putLE32(raw, entry.Ino)
	putLE16(raw[4:], entry.RecLen)
	raw[6] = byte(len(entry.Name))
	raw[7] = entry.FileType
	copy(raw[8:8+len(entry.Name)], entry.Name)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// iterateDirBlock walks every entry (including unused, ino==0 tombstones)
// within one directory data block, invoking fn for each. fn returning
// false stops the iteration early.
func iterateDirBlock(raw []byte, block uint32, fn func(DirEntry) bool) {
	offset := uint16(0)
	for int(offset) < len(raw) {
		entry := decodeDirEntry(raw[offset:], block, offset)
		if entry.RecLen == 0 {
			break
		}
		if !fn(entry) {
			return
		}
		offset += entry.RecLen
	}
}

// ListDirectory returns every live (ino != 0) entry in a directory inode,
// in on-disk order.
func ListDirectory(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode) ([]DirEntry, error) {
	if !inode.IsDir() {
		return nil, multivol.NewDriverError(syscall.ENOTDIR)
	}

	blockSize := int64(sb.BlockSize)
	numBlocks := (inode.Size() + blockSize - 1) / blockSize
	mapper := newBlockMapper(device, sb, alloc, inode)

	var entries []DirEntry
	for i := int64(0); i < numBlocks; i++ {
		physicalBlock, err := mapper.walk(uint32(i), false)
		if err != nil {
			return nil, err
		}
		if physicalBlock == 0 {
			continue
		}

		raw := make([]byte, sb.BlockSize)
		if err := device.ReadAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
			return nil, err
		}

		iterateDirBlock(raw, physicalBlock, func(entry DirEntry) bool {
			if entry.Ino != 0 {
				entries = append(entries, entry)
			}
			return true
		})
	}

	return entries, nil
}

// LookupEntry finds a live entry by name within a directory inode.
func LookupEntry(device superblockDevice, sb *Superblock, alloc *Allocator, inode *Inode, name string) (*DirEntry, error) {
	entries, err := ListDirectory(device, sb, alloc, inode)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, multivol.NewDriverError(syscall.ENOENT)
}

// AddEntry inserts (name -> ino) into a directory inode, splitting an
// existing entry's trailing free space when one large enough exists, or
// appending a new block when none does. Mirrors spec §4.12's rec_len
// splitting rule.
func AddEntry(device superblockDevice, sb *Superblock, alloc *Allocator, dirInode *Inode, name string, ino uint32, mode uint16) error {
	if !dirInode.IsDir() {
		return multivol.NewDriverError(syscall.ENOTDIR)
	}
	if len(name) > 255 {
		return multivol.NewDriverError(syscall.ENAMETOOLONG)
	}

	needed := minRecLen(len(name))
	fileType := FileTypeUnknown
	if sb.HasFeatureFileType() {
		fileType = modeToFileType(mode)
	}

	blockSize := int64(sb.BlockSize)
	numBlocks := (dirInode.Size() + blockSize - 1) / blockSize
	mapper := newBlockMapper(device, sb, alloc, dirInode)

	for i := int64(0); i < numBlocks; i++ {
		physicalBlock, err := mapper.walk(uint32(i), false)
		if err != nil {
			return err
		}
		if physicalBlock == 0 {
			continue
		}

		raw := make([]byte, sb.BlockSize)
		if err := device.ReadAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
			return err
		}

		if insertIntoBlock(raw, needed, DirEntry{Ino: ino, FileType: fileType, Name: name}) {
			return device.WriteAt(raw, sb.blockOffsetOf(physicalBlock))
		}
	}

	// No existing block had room: grow the directory by one block and
	// install the new entry as the block's sole (free-space-holding) entry.
	newLogical := uint32(numBlocks)
	physicalBlock, err := mapper.walk(newLogical, true)
	if err != nil {
		return err
	}

	raw := make([]byte, sb.BlockSize)
	entry := DirEntry{Ino: ino, RecLen: uint16(sb.BlockSize), FileType: fileType, Name: name}
	encodeDirEntry(entry, raw)

	if err := device.WriteAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
		return err
	}

	dirInode.SetSize(int64(newLogical+1) * blockSize)
	return nil
}

// insertIntoBlock tries to fit a new entry into raw's free space by
// splitting an existing live entry's trailing slack (rec_len beyond its
// own minimum requirement) or by claiming an existing tombstone
// (ino == 0) large enough to hold it. Returns whether it succeeded.
func insertIntoBlock(raw []byte, needed uint16, newEntry DirEntry) bool {
	offset := uint16(0)
	inserted := false

	for int(offset) < len(raw) && !inserted {
		entry := decodeDirEntry(raw[offset:], 0, offset)
		if entry.RecLen == 0 {
			break
		}

		if entry.Ino == 0 {
			// Tombstone: reuse it outright if it's big enough.
			if entry.RecLen >= needed {
				newEntry.RecLen = entry.RecLen
				encodeDirEntry(newEntry, raw[offset:])
				inserted = true
			}
		} else {
			ownMin := minRecLen(len(entry.Name))
			slack := entry.RecLen - ownMin
			if slack >= needed {
				entry.RecLen = ownMin
				encodeDirEntry(entry, raw[offset:])

				newEntry.RecLen = slack
				encodeDirEntry(newEntry, raw[offset+ownMin:])
				inserted = true
			}
		}

		offset += entry.RecLen
	}

	return inserted
}

// RemoveEntry deletes the entry named `name` from a directory by merging
// its rec_len into the immediately preceding entry in the same block
// (or, if it's the first entry in the block, by zeroing its inode field so
// it becomes a reusable tombstone). Mirrors spec §4.12's merge-on-delete
// rule.
func RemoveEntry(device superblockDevice, sb *Superblock, alloc *Allocator, dirInode *Inode, name string) error {
	blockSize := int64(sb.BlockSize)
	numBlocks := (dirInode.Size() + blockSize - 1) / blockSize
	mapper := newBlockMapper(device, sb, alloc, dirInode)

	for i := int64(0); i < numBlocks; i++ {
		physicalBlock, err := mapper.walk(uint32(i), false)
		if err != nil {
			return err
		}
		if physicalBlock == 0 {
			continue
		}

		raw := make([]byte, sb.BlockSize)
		if err := device.ReadAt(raw, sb.blockOffsetOf(physicalBlock)); err != nil {
			return err
		}

		if removeFromBlock(raw, name) {
			return device.WriteAt(raw, sb.blockOffsetOf(physicalBlock))
		}
	}

	return multivol.NewDriverError(syscall.ENOENT)
}

func removeFromBlock(raw []byte, name string) bool {
	offset := uint16(0)
	prevOffset := int(-1)

	for int(offset) < len(raw) {
		entry := decodeDirEntry(raw[offset:], 0, offset)
		if entry.RecLen == 0 {
			break
		}

		if entry.Ino != 0 && entry.Name == name {
			if prevOffset >= 0 {
				prev := decodeDirEntry(raw[prevOffset:], 0, uint16(prevOffset))
				prev.RecLen += entry.RecLen
				encodeDirEntry(prev, raw[prevOffset:])
			} else {
				entry.Ino = 0
				entry.Name = ""
				encodeDirEntry(entry, raw[offset:])
				// Preserve RecLen (already encoded via entry.RecLen unchanged).
			}
			return true
		}

		prevOffset = int(offset)
		offset += entry.RecLen
	}

	return false
}

// InitDirectoryBlock lays out a freshly allocated directory block
// containing only "." and ".." (or, for the root directory, just those two
// plus whatever room remains as free space), used by mkdir and by
// format.go when creating the root directory.
func InitDirectoryBlock(raw []byte, selfIno, parentIno uint32, fileType bool) {
	dotType := FileTypeUnknown
	if fileType {
		dotType = FileTypeDir
	}

	dot := DirEntry{Ino: selfIno, RecLen: minRecLen(1), FileType: dotType, Name: "."}
	encodeDirEntry(dot, raw)

	dotdotLen := uint16(len(raw)) - dot.RecLen
	dotdot := DirEntry{Ino: parentIno, RecLen: dotdotLen, FileType: dotType, Name: ".."}
	encodeDirEntry(dotdot, raw[dot.RecLen:])
}
