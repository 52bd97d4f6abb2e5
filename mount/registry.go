// Package mount implements the cross-filesystem mount-point registry: two
// tables (device name to block device, mount-point path to filesystem
// instance) with longest-prefix path routing. It is grounded on
// drivers/common/basedriver's path-resolution style and disks.go's
// registry-by-string-key pattern.
package mount

import (
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	"github.com/latticeworks/multivol/errors"
	"github.com/latticeworks/multivol/transaction"
)

// FileSystem is the surface a filesystem engine (FAT, ext2) must provide to
// be mounted: the whole of multivol.DriverImplementation, with nothing added.
type FileSystem interface {
	multivol.DriverImplementation
}

// Entry is one mounted filesystem. MountPoint always ends with the path
// separator, per the data model's invariant.
type Entry struct {
	MountPoint string
	DeviceName string
	FS         FileSystem
	ReadOnly   bool
}

// Registry owns the device table and the mount table. It is not
// internally synchronized; callers must serialize access externally, per
// the single-threaded cooperative concurrency model.
type Registry struct {
	devices  map[string]*blockdev.Device
	overlays map[string]*transaction.Overlay
	mounts   []*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[string]*blockdev.Device),
		overlays: make(map[string]*transaction.Overlay),
	}
}

// RegisterDevice adds a block device under a unique name. It does not open
// the device; opening happens on Mount.
func (r *Registry) RegisterDevice(name string, device *blockdev.Device) errors.DriverError {
	if _, exists := r.devices[name]; exists {
		return errors.ErrExists.WithMessage("device `" + name + "` is already registered")
	}
	r.devices[name] = device
	r.overlays[name] = transaction.New(device)
	device.SetOverlay(r.overlays[name])
	return nil
}

// Device looks up a registered device by name.
func (r *Registry) Device(name string) (*blockdev.Device, bool) {
	dev, ok := r.devices[name]
	return dev, ok
}

// Overlay returns the transaction overlay bound to a device, per the
// per-device generalization of the single global transaction slot (see
// DESIGN.md open question 1).
func (r *Registry) Overlay(deviceName string) (*transaction.Overlay, bool) {
	o, ok := r.overlays[deviceName]
	return o, ok
}

const pathSeparator = "/"

func normalizeMountPoint(mountPoint string) string {
	if !strings.HasSuffix(mountPoint, pathSeparator) {
		return mountPoint + pathSeparator
	}
	return mountPoint
}

// Mount binds deviceName to mountPoint and initializes the device. fs is
// stored as given; Mount does not inspect or validate it. fs must already be
// constructed against the device's partitioned
// byte I/O; Mount does not construct filesystem engines itself (that is the
// caller's job, since the engine constructor differs per filesystem type).
func (r *Registry) Mount(
	mountPoint string,
	deviceName string,
	fs FileSystem,
	readOnly bool,
) errors.DriverError {
	mountPoint = normalizeMountPoint(mountPoint)

	for _, entry := range r.mounts {
		if entry.MountPoint == mountPoint {
			return errors.ErrExists.WithMessage("mount point `" + mountPoint + "` is already in use")
		}
	}

	device, ok := r.devices[deviceName]
	if !ok {
		return errors.ErrNoDevice.WithMessage("no device registered as `" + deviceName + "`")
	}

	if err := device.Init(); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}

	device.SetMountedFSName(mountPoint)

	r.mounts = append(r.mounts, &Entry{
		MountPoint: mountPoint,
		DeviceName: deviceName,
		FS:         fs,
		ReadOnly:   readOnly,
	})
	return nil
}

// Unmount releases the filesystem bound to mountPoint and fini's its device.
// Fails NODEV if no such mount exists.
func (r *Registry) Unmount(mountPoint string) errors.DriverError {
	mountPoint = normalizeMountPoint(mountPoint)

	for i, entry := range r.mounts {
		if entry.MountPoint != mountPoint {
			continue
		}

		device, ok := r.devices[entry.DeviceName]
		if !ok {
			return errors.ErrNoDevice.WithMessage("mount `" + mountPoint + "` references an unknown device")
		}
		device.SetMountedFSName("")
		if err := device.Fini(); err != nil {
			return errors.ErrIOFailed.WrapError(err)
		}

		r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
		return nil
	}

	return errors.ErrNoDevice.WithMessage("no mount at `" + mountPoint + "`")
}

// UnmountAll tears down every mount, aggregating failures with
// hashicorp/go-multierror rather than stopping at the first one -- every
// mount gets a chance to release its device even if an earlier one failed.
func (r *Registry) UnmountAll() error {
	var result *multierror.Error

	mountPoints := make([]string, 0, len(r.mounts))
	for _, entry := range r.mounts {
		mountPoints = append(mountPoints, entry.MountPoint)
	}

	for _, mp := range mountPoints {
		if err := r.Unmount(mp); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// Find returns the entry whose mount point is the longest recorded prefix of
// path, or nil if none matches. This is the longest-prefix variant the
// design notes flag as an acceptable upgrade from the source's
// insertion-order first match.
func (r *Registry) Find(path string) *Entry {
	var best *Entry
	bestLen := -1

	for _, entry := range r.mounts {
		if strings.HasPrefix(path, entry.MountPoint) && len(entry.MountPoint) > bestLen {
			best = entry
			bestLen = len(entry.MountPoint)
		}
	}

	return best
}

// Mounts returns a snapshot of all current mount entries.
func (r *Registry) Mounts() []*Entry {
	out := make([]*Entry, len(r.mounts))
	copy(out, r.mounts)
	return out
}
