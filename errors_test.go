package multivol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriverError(t *testing.T) {
	err := NewDriverError(ENOENT)
	assert.Equal(t, ENOENT, err.Errno())
	assert.Equal(t, ENOENT.Error(), err.Error())
}

func TestNewDriverErrorWithMessage(t *testing.T) {
	err := NewDriverErrorWithMessage(ENOSPC, "cluster chain exhausted")
	assert.Equal(t, ENOSPC, err.Errno())
	assert.Contains(t, err.Error(), "cluster chain exhausted")
	assert.Contains(t, err.Error(), ENOSPC.Error())
}

func TestNewDriverErrorFromError(t *testing.T) {
	wrapped := errors.New("short read from backend")
	err := NewDriverErrorFromError(EIO, wrapped)
	assert.Equal(t, EIO, err.Errno())
	assert.Contains(t, err.Error(), "short read from backend")
}

func TestNewDriverErrorFromNilError(t *testing.T) {
	err := NewDriverErrorFromError(EROFS, nil)
	assert.Equal(t, EROFS, err.Errno())
	assert.Equal(t, EROFS.Error(), err.Error())
}

func TestDriverErrorUnwrap(t *testing.T) {
	err := NewDriverError(ENOTEMPTY)
	require.True(t, errors.Is(err, ENOTEMPTY))
}

func TestErrnoAliasesAreDistinct(t *testing.T) {
	// Every alias must be its own errno value; a pair mapped to the same
	// underlying code would mean two distinct failure conditions become
	// indistinguishable to a caller matching on errno.
	codes := map[string]error{
		"EINVAL":    EINVAL,
		"ENOENT":    ENOENT,
		"EEXIST":    EEXIST,
		"ENOTEMPTY": ENOTEMPTY,
		"ENOTSUP":   ENOTSUP,
		"EPERM":     EPERM,
		"EROFS":     EROFS,
		"ENOMEM":    ENOMEM,
		"ENOSPC":    ENOSPC,
		"ENXIO":     ENXIO,
		"EALREADY":  EALREADY,
		"EBUSY":     EBUSY,
		"EIO":       EIO,
		"EFAULT":    EFAULT,
		"ENODATA":   ENODATA,
		"ENODEV":    ENODEV,
	}
	seen := make(map[error]string)
	for name, code := range codes {
		if other, exists := seen[code]; exists {
			t.Fatalf("%s and %s alias the same errno value %v", name, other, code)
		}
		seen[code] = name
	}
}
