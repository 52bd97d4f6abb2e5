package ext2

import (
	"time"

	"github.com/latticeworks/multivol"
)

// fsFeatures is ext2's answer to multivol.FSFeatures. Unlike FAT, ext2 has
// full Unix semantics: permission bits, uid/gid, hard links, and ctime.
type fsFeatures struct {
	blockSize int
}

func (f fsFeatures) HasDirectories() bool     { return true }
func (f fsFeatures) HasSymbolicLinks() bool   { return true }
func (f fsFeatures) HasHardLinks() bool       { return true }
func (f fsFeatures) HasCreatedTime() bool     { return false }
func (f fsFeatures) HasAccessedTime() bool    { return true }
func (f fsFeatures) HasModifiedTime() bool    { return true }
func (f fsFeatures) HasChangedTime() bool     { return true }
func (f fsFeatures) HasDeletedTime() bool     { return true }
func (f fsFeatures) HasUnixPermissions() bool { return true }
func (f fsFeatures) HasUserID() bool          { return true }
func (f fsFeatures) HasGroupID() bool         { return true }
func (f fsFeatures) HasUserPermissions() bool { return true }
func (f fsFeatures) HasGroupPermissions() bool { return true }

// TimestampEpoch is the Unix epoch: every ext2 timestamp is a 32-bit count
// of seconds since 1970-01-01.
func (f fsFeatures) TimestampEpoch() time.Time {
	return time.Unix(0, 0).UTC()
}

func (f fsFeatures) DefaultNameEncoding() string { return "ascii" }
func (f fsFeatures) SupportsBootCode() bool      { return false }
func (f fsFeatures) MaxBootCodeSize() int        { return 0 }
func (f fsFeatures) DefaultBlockSize() int       { return f.blockSize }

var _ multivol.FSFeatures = fsFeatures{}
