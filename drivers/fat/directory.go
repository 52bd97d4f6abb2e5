package fat

import (
	"strconv"
	"strings"
	"syscall"

	"github.com/latticeworks/multivol"
)

// DirentLocation pinpoints a single directory entry by the directory it
// lives in and its slot (32-byte record) index within that directory,
// fixed-area root included. It is everything Unlink/Rename/SetFirstCluster
// need to rewrite the slot in place without re-walking the directory.
type DirentLocation struct {
	Directory *Dirent
	Slot      int
}

// DirectoryEntry pairs a decoded short entry with the long name (if any)
// recovered from the VFAT fragments immediately preceding it.
type DirectoryEntry struct {
	Dirent
	LongName string
	Location DirentLocation
}

// DisplayName returns the recovered long name, or the bare 8.3 name if none
// was present or its checksum didn't match its short entry.
func (e *DirectoryEntry) DisplayName() string {
	if e.LongName != "" {
		return e.LongName
	}
	return e.Name()
}

func (drv *FATDriver) isFixedRoot(directoryDirent *Dirent) bool {
	bootSector := drv.fs.GetBootSector()
	return bootSector.FATVersion != 32 && directoryDirent.FirstCluster == 0
}

func (drv *FATDriver) slotsPerCluster() int {
	return drv.fs.GetBootSector().DirentsPerCluster
}

// readDirectoryRegion returns the full raw bytes of a directory, whether it
// is the FAT12/16 fixed-size root area or an ordinary cluster chain.
func (drv *FATDriver) readDirectoryRegion(directoryDirent *Dirent) ([]byte, error) {
	if drv.isFixedRoot(directoryDirent) {
		bootSector := drv.fs.GetBootSector()
		return drv.readAbsoluteSectors(bootSector.RootDirSector, bootSector.RootDirSectors)
	}

	var region []byte
	clusterIndex := uint(0)
	currentCluster := directoryDirent.FirstCluster

	for {
		clusterData, err := drv.readCluster(currentCluster, 1)
		if err != nil {
			return nil, err
		}
		region = append(region, clusterData...)

		next, err := drv.fs.GetNextClusterInChain(currentCluster)
		if err != nil {
			return nil, err
		}
		if drv.fs.IsEndOfChain(next) {
			break
		}
		currentCluster = next
		clusterIndex++
	}

	return region, nil
}

// writeDirectorySlot overwrites the 32 bytes at slot index slotIndex within
// directoryDirent's region (fixed root area or cluster chain).
func (drv *FATDriver) writeDirectorySlot(directoryDirent *Dirent, slotIndex int, data []byte) error {
	bootSector := drv.fs.GetBootSector()

	if drv.isFixedRoot(directoryDirent) {
		byteOffset := slotIndex * DirentSize
		sector := bootSector.RootDirSector + SectorID(byteOffset/int(bootSector.BytesPerSector))
		inSector := byteOffset % int(bootSector.BytesPerSector)

		sectorData, err := drv.readAbsoluteSectors(sector, 1)
		if err != nil {
			return err
		}
		copy(sectorData[inSector:inSector+DirentSize], data)
		return drv.writeAbsoluteSectors(sector, sectorData)
	}

	slotsPerCluster := drv.slotsPerCluster()
	clusterIndex := uint(slotIndex / slotsPerCluster)
	withinCluster := (slotIndex % slotsPerCluster) * DirentSize

	clusterData, err := drv.readClusterOfDirent(directoryDirent, clusterIndex)
	if err != nil {
		return err
	}
	copy(clusterData[withinCluster:withinCluster+DirentSize], data)
	return drv.writeClusterOfDirent(directoryDirent, clusterIndex, clusterData)
}

// growDirectory appends one freshly zeroed cluster to a cluster-chain
// directory. The fixed FAT12/16 root area cannot grow; attempting to returns
// ENOSPC, matching the real on-disk limitation.
func (drv *FATDriver) growDirectory(directoryDirent *Dirent) error {
	if drv.isFixedRoot(directoryDirent) {
		return multivol.NewDriverError(multivol.ENOSPC)
	}

	first, newCluster, err := drv.extendChain(directoryDirent.FirstCluster)
	if err != nil {
		return err
	}
	directoryDirent.FirstCluster = first

	zeroed := make([]byte, drv.fs.GetBootSector().BytesPerCluster)
	return drv.writeCluster(newCluster, zeroed)
}

// ListDirectory decodes every live entry in a directory, including `.` and
// `..`, assembling VFAT long names where a checksum-verified run of
// fragments precedes the short entry.
func (drv *FATDriver) ListDirectory(directoryDirent *Dirent) ([]DirectoryEntry, error) {
	if !directoryDirent.IsDir() {
		return nil, multivol.NewDriverError(syscall.ENOTDIR)
	}

	region, err := drv.readDirectoryRegion(directoryDirent)
	if err != nil {
		return nil, err
	}

	var entries []DirectoryEntry
	var pendingLFN []rawLongNameEntry

	slotCount := len(region) / DirentSize
	for slot := 0; slot < slotCount; slot++ {
		raw := region[slot*DirentSize : (slot+1)*DirentSize]

		switch raw[0] {
		case 0x00:
			return entries, nil
		case 0xE5:
			pendingLFN = nil
			continue
		}

		if raw[11] == AttrLongName {
			pendingLFN = append(pendingLFN, newRawLongNameEntry(raw))
			continue
		}

		rawDirent, _ := NewRawDirentFromBytes(raw)
		dirent, err := NewDirentFromRaw(&rawDirent)
		if err != nil {
			pendingLFN = nil
			continue
		}

		longName, ok := assembleLongName(pendingLFN, shortNameChecksum(rawDirent.Name, rawDirent.Extension))
		pendingLFN = nil

		entry := DirectoryEntry{
			Dirent:   dirent,
			Location: DirentLocation{Directory: directoryDirent, Slot: slot},
		}
		if ok {
			entry.LongName = longName
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// findOrMakeFreeRun locates `needed` contiguous free (deleted or never-used)
// slots in directoryDirent, growing the directory if none exists.
func (drv *FATDriver) findOrMakeFreeRun(directoryDirent *Dirent, needed int) ([]int, error) {
	for {
		region, err := drv.readDirectoryRegion(directoryDirent)
		if err != nil {
			return nil, err
		}

		slotCount := len(region) / DirentSize
		runStart := -1
		runLen := 0

		for slot := 0; slot < slotCount; slot++ {
			marker := region[slot*DirentSize]
			if marker == 0x00 || marker == 0xE5 {
				if runLen == 0 {
					runStart = slot
				}
				runLen++
				if runLen == needed {
					result := make([]int, needed)
					for i := range result {
						result[i] = runStart + i
					}
					return result, nil
				}
			} else {
				runLen = 0
			}
		}

		if err := drv.growDirectory(directoryDirent); err != nil {
			return nil, err
		}
	}
}

// rawDirentToBytes serializes a RawDirent struct back into its 32-byte
// on-disk form -- the write-side counterpart of NewRawDirentFromBytes.
func rawDirentToBytes(d RawDirent) []byte {
	data := make([]byte, DirentSize)
	copy(data[0:8], d.Name[:])
	copy(data[8:11], d.Extension[:])
	data[11] = d.AttributeFlags
	data[12] = d.NTReserved
	data[13] = d.CreatedTimeMillis
	data[14] = byte(d.CreatedTime)
	data[15] = byte(d.CreatedTime >> 8)
	data[16] = byte(d.CreatedDate)
	data[17] = byte(d.CreatedDate >> 8)
	data[18] = byte(d.LastAccessedDate)
	data[19] = byte(d.LastAccessedDate >> 8)
	data[20] = byte(d.FirstClusterHigh)
	data[21] = byte(d.FirstClusterHigh >> 8)
	data[22] = byte(d.LastModifiedTime)
	data[23] = byte(d.LastModifiedTime >> 8)
	data[24] = byte(d.LastModifiedDate)
	data[25] = byte(d.LastModifiedDate >> 8)
	data[26] = byte(d.FirstClusterLow)
	data[27] = byte(d.FirstClusterLow >> 8)
	data[28] = byte(d.FileSize)
	data[29] = byte(d.FileSize >> 8)
	data[30] = byte(d.FileSize >> 16)
	data[31] = byte(d.FileSize >> 24)
	return data
}

// shortNameCharset is every byte the 8.3 name/extension fields may legally
// contain, aside from letters and digits.
const shortNameCharset = "!#$%&'()-@^_`{}~"

func isValidShortNameByte(b byte) bool {
	if b >= 'A' && b <= 'Z' {
		return true
	}
	if b >= '0' && b <= '9' {
		return true
	}
	return strings.IndexByte(shortNameCharset, b) >= 0
}

// splitBaseExtension breaks name (e.g. "readme.txt") into an uppercase base
// and extension with no embedded dots.
func splitBaseExtension(name string) (string, string) {
	upper := strings.ToUpper(name)
	idx := strings.LastIndex(upper, ".")
	if idx < 0 {
		return upper, ""
	}
	return upper[:idx], upper[idx+1:]
}

func sanitizeShortComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if isValidShortNameByte(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// fitsAsShortName reports whether name can be represented exactly as an 8.3
// name with no truncation and no invalid characters, meaning no VFAT long
// name entries are needed.
func fitsAsShortName(name string) ([8]byte, [3]byte, bool) {
	base, ext := splitBaseExtension(name)
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return [8]byte{}, [3]byte{}, false
	}
	if sanitizeShortComponent(base) != base || sanitizeShortComponent(ext) != ext {
		return [8]byte{}, [3]byte{}, false
	}

	var nameBytes [8]byte
	var extBytes [3]byte
	for i := range nameBytes {
		nameBytes[i] = ' '
	}
	for i := range extBytes {
		extBytes[i] = ' '
	}
	copy(nameBytes[:], base)
	copy(extBytes[:], ext)
	return nameBytes, extBytes, true
}

// GenerateShortName derives an 8.3 short name for a long name, numbering it
// (e.g. README~2.TXT) until it no longer collides with an existing entry in
// the same directory. It reports whether a VFAT long-name run is needed
// alongside the short entry.
func GenerateShortName(existing []DirectoryEntry, longName string) (nameBytes [8]byte, extBytes [3]byte, needsLFN bool) {
	if n, e, ok := fitsAsShortName(longName); ok {
		if !shortNameCollides(existing, n, e) {
			return n, e, false
		}
	}

	base, ext := splitBaseExtension(longName)
	base = sanitizeShortComponent(base)
	ext = sanitizeShortComponent(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if len(base) == 0 {
		base = "FILE"
	}

	for n := 1; n < 1000000; n++ {
		suffix := "~" + strconv.Itoa(n)
		truncLen := 8 - len(suffix)
		if truncLen < 1 {
			break
		}
		candidateBase := base
		if len(candidateBase) > truncLen {
			candidateBase = candidateBase[:truncLen]
		}
		candidateBase += suffix

		var nb [8]byte
		var eb [3]byte
		for i := range nb {
			nb[i] = ' '
		}
		for i := range eb {
			eb[i] = ' '
		}
		copy(nb[:], candidateBase)
		copy(eb[:], ext)

		if !shortNameCollides(existing, nb, eb) {
			return nb, eb, true
		}
	}

	panic("fat: exhausted short-name numeric tail space")
}

func shortNameCollides(existing []DirectoryEntry, name [8]byte, ext [3]byte) bool {
	for _, e := range existing {
		rawName, rawExt := packShortNameParts(e.Name())
		if rawName == name && rawExt == ext {
			return true
		}
	}
	return false
}

func packShortNameParts(name string) ([8]byte, [3]byte) {
	base, ext := splitBaseExtension(name)
	var nb [8]byte
	var eb [3]byte
	for i := range nb {
		nb[i] = ' '
	}
	for i := range eb {
		eb[i] = ' '
	}
	copy(nb[:], base)
	copy(eb[:], ext)
	return nb, eb
}

// InsertDirectoryEntry writes the raw short entry, preceded by VFAT long-name
// fragments if longName doesn't fit as a bare 8.3 name, into the first
// available run of slots in directoryDirent (growing it if necessary).
func (drv *FATDriver) InsertDirectoryEntry(
	directoryDirent *Dirent,
	existing []DirectoryEntry,
	longName string,
	raw RawDirent,
) (DirentLocation, error) {
	nameBytes, extBytes, needsLFN := GenerateShortName(existing, longName)
	raw.Name = nameBytes
	raw.Extension = extBytes

	var fragments []rawLongNameEntry
	if needsLFN {
		checksum := shortNameChecksum(nameBytes, extBytes)
		fragments = encodeLongNameFragments(longName, checksum)
	}

	slots, err := drv.findOrMakeFreeRun(directoryDirent, len(fragments)+1)
	if err != nil {
		return DirentLocation{}, err
	}

	for i, fragment := range fragments {
		if err := drv.writeDirectorySlot(directoryDirent, slots[i], bytesFromLongNameEntry(fragment)); err != nil {
			return DirentLocation{}, err
		}
	}

	shortSlot := slots[len(slots)-1]
	if err := drv.writeDirectorySlot(directoryDirent, shortSlot, rawDirentToBytes(raw)); err != nil {
		return DirentLocation{}, err
	}

	return DirentLocation{Directory: directoryDirent, Slot: shortSlot}, nil
}

// RemoveDirectoryEntry frees an entry's cluster chain and then marks the
// short entry (and any LFN fragments immediately preceding it) as deleted by
// writing the 0xE5 tombstone marker, so the parent's entry is the last thing
// written. The steps are not wrapped in a transaction.
func (drv *FATDriver) RemoveDirectoryEntry(location DirentLocation, firstCluster ClusterID) error {
	region, err := drv.readDirectoryRegion(location.Directory)
	if err != nil {
		return err
	}

	if err := drv.fs.FreeClusterChain(firstCluster); err != nil {
		return err
	}

	slot := location.Slot
	for {
		data := make([]byte, DirentSize)
		copy(data, region[slot*DirentSize:(slot+1)*DirentSize])
		data[0] = 0xE5
		if err := drv.writeDirectorySlot(location.Directory, slot, data); err != nil {
			return err
		}

		if slot == 0 {
			break
		}
		prevSlot := slot - 1
		prevRaw := region[prevSlot*DirentSize : (prevSlot+1)*DirentSize]
		if prevRaw[11] != AttrLongName {
			break
		}
		slot = prevSlot
	}

	return nil
}

// RenameDirectoryEntry updates the short entry at location to carry a new
// short name derived from newLongName, rewriting LFN fragments as needed.
// It does not move the entry's cluster chain or file size.
func (drv *FATDriver) RenameDirectoryEntry(
	location DirentLocation,
	existing []DirectoryEntry,
	newLongName string,
	raw RawDirent,
) (DirentLocation, error) {
	if err := drv.RemoveDirectoryEntry(location, 0); err != nil {
		return DirentLocation{}, err
	}
	return drv.InsertDirectoryEntry(location.Directory, existing, newLongName, raw)
}
