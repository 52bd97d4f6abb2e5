package multivol

import (
	"fmt"
	"syscall"
)

// DriverError is the error type returned from every driver-facing operation
// in this module (DriverImplementation, ObjectHandle, and the engine
// packages beneath them). It wraps a POSIX errno code with an optional
// custom message.
type DriverError interface {
	error
	Errno() syscall.Errno
}

// driverError is DriverError's concrete implementation.
type driverError struct {
	errnoCode syscall.Errno
	message   string
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e *driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.errnoCode.Error()
}

// Errno returns the POSIX errno code backing this error.
func (e *driverError) Errno() syscall.Errno {
	return e.errnoCode
}

// Unwrap lets errors.Is/errors.As see through to the underlying errno.
func (e *driverError) Unwrap() error {
	return e.errnoCode
}

// NewDriverError creates a new DriverError with a default message derived from the
// system's error code.
func NewDriverError(errnoCode syscall.Errno) DriverError {
	return &driverError{
		errnoCode: errnoCode,
		message:   errnoCode.Error(),
	}
}

// NewDriverErrorWithMessage creates a new DriverError from a system error code with a
// custom message.
func NewDriverErrorWithMessage(errnoCode syscall.Errno, message string) DriverError {
	return &driverError{
		errnoCode: errnoCode,
		message:   fmt.Sprintf("%s: %s", errnoCode.Error(), message),
	}
}

// NewDriverErrorFromError wraps an arbitrary error under the given errno code,
// preserving the wrapped error's text in the message.
func NewDriverErrorFromError(errnoCode syscall.Errno, err error) DriverError {
	if err == nil {
		return NewDriverError(errnoCode)
	}
	return NewDriverErrorWithMessage(errnoCode, err.Error())
}

// ----------------------------------------------------------------------------
// errno aliases
//
// The engine packages (drivers/common, drivers/fat, drivers/ext2) refer to
// error conditions as multivol.EINVAL, multivol.ENOSPC, and so on. syscall.Errno
// already defines most of these directly.

const (
	EINVAL       = syscall.EINVAL
	ENOENT       = syscall.ENOENT
	EEXIST       = syscall.EEXIST
	ENOTEMPTY    = syscall.ENOTEMPTY
	ENOTSUP      = syscall.ENOTSUP
	EPERM        = syscall.EPERM
	EROFS        = syscall.EROFS
	ENOMEM       = syscall.ENOMEM
	ENOSPC       = syscall.ENOSPC
	ENXIO        = syscall.ENXIO
	EALREADY     = syscall.EALREADY
	EBUSY        = syscall.EBUSY
	EIO          = syscall.EIO
	EFAULT       = syscall.EFAULT
	ENODATA      = syscall.ENODATA
	ENODEV       = syscall.ENODEV
	EISDIR       = syscall.EISDIR
	ENOTDIR      = syscall.ENOTDIR
	ENAMETOOLONG = syscall.ENAMETOOLONG
	ELOOP        = syscall.ELOOP
	ENOSYS       = syscall.ENOSYS
	ERANGE       = syscall.ERANGE
)

// EUCLEAN ("structure needs cleaning") and EMEDIUMTYPE ("wrong medium type")
// aren't part of syscall's portable const set on every GOOS, so they're
// given their Linux numeric value directly.
const (
	EUCLEAN     = syscall.Errno(0x75)
	EMEDIUMTYPE = syscall.Errno(0x7c)
)
