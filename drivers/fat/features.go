package fat

import (
	"math"
	"time"

	"github.com/latticeworks/multivol"
)

// fsFeatures is the FAT12/16/32 answer to multivol.FSFeatures: the feature
// set is fixed by the standard, not by what this engine happens to
// implement, per api.go's contract.
type fsFeatures struct {
	blockSize int
}

func (f fsFeatures) HasDirectories() bool    { return true }
func (f fsFeatures) HasSymbolicLinks() bool  { return false }
func (f fsFeatures) HasHardLinks() bool      { return false }
func (f fsFeatures) HasCreatedTime() bool    { return true }
func (f fsFeatures) HasAccessedTime() bool   { return true }
func (f fsFeatures) HasModifiedTime() bool   { return true }
func (f fsFeatures) HasChangedTime() bool    { return false }
func (f fsFeatures) HasDeletedTime() bool    { return false }
func (f fsFeatures) HasUnixPermissions() bool { return false }
func (f fsFeatures) HasUserID() bool          { return false }
func (f fsFeatures) HasGroupID() bool         { return false }
func (f fsFeatures) HasUserPermissions() bool { return false }
func (f fsFeatures) HasGroupPermissions() bool { return false }

func (f fsFeatures) TimestampEpoch() time.Time {
	return time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func (f fsFeatures) DefaultNameEncoding() string { return "ascii" }
func (f fsFeatures) SupportsBootCode() bool      { return true }
func (f fsFeatures) MaxBootCodeSize() int        { return 448 }
func (f fsFeatures) DefaultBlockSize() int       { return f.blockSize }

var _ multivol.FSFeatures = fsFeatures{}

// MaxNameLength is the longest name VFAT can encode: 255 UCS-2 units.
const MaxNameLength = 255

// maxFilesFree is used when a file system has no fixed cap on directory
// entry count (cluster-chain directories can always grow by one more
// cluster as long as there's free space).
const maxFilesFree = math.MaxUint64
