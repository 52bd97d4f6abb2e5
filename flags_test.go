package multivol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIOFlagsString(t *testing.T) {
	cases := []struct {
		mode     string
		expected IOFlags
	}{
		{"r", O_RDONLY},
		{"rb", O_RDONLY},
		{"r+", O_RDWR},
		{"rb+", O_RDWR},
		{"r+b", O_RDWR},
		{"w", O_WRONLY | O_CREATE | O_TRUNC},
		{"wb", O_WRONLY | O_CREATE | O_TRUNC},
		{"w+", O_RDWR | O_CREATE | O_TRUNC},
		{"wb+", O_RDWR | O_CREATE | O_TRUNC},
		{"w+b", O_RDWR | O_CREATE | O_TRUNC},
		{"a", O_WRONLY | O_CREATE | O_APPEND},
		{"ab", O_WRONLY | O_CREATE | O_APPEND},
		{"a+", O_RDWR | O_CREATE | O_APPEND},
		{"ab+", O_RDWR | O_CREATE | O_APPEND},
		{"a+b", O_RDWR | O_CREATE | O_APPEND},
	}

	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			flags, err := ParseIOFlagsString(tc.mode)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, flags)
		})
	}
}

func TestParseIOFlagsStringRejectsUnknown(t *testing.T) {
	_, err := ParseIOFlagsString("x")
	require.Error(t, err)
}

func TestIOFlagsReadWrite(t *testing.T) {
	assert.True(t, O_RDONLY.Read())
	assert.False(t, O_RDONLY.Write())

	assert.True(t, O_WRONLY.Write())
	assert.False(t, O_WRONLY.Read())

	assert.True(t, O_RDWR.Read())
	assert.True(t, O_RDWR.Write())
}

func TestIOFlagsRequiresWritePerm(t *testing.T) {
	assert.False(t, O_RDONLY.RequiresWritePerm())
	assert.True(t, O_WRONLY.RequiresWritePerm())
	assert.True(t, (O_RDONLY | O_CREATE).RequiresWritePerm())
	assert.True(t, (O_RDONLY | O_TRUNC).RequiresWritePerm())
}

func TestIOFlagsModifierBits(t *testing.T) {
	flags := O_RDWR | O_CREATE | O_APPEND | O_TRUNC
	assert.True(t, flags.Create())
	assert.True(t, flags.Append())
	assert.True(t, flags.Truncate())
	assert.False(t, flags.Exclusive())
	assert.False(t, flags.Synchronous())
}

func TestMountFlagsPermissionChecks(t *testing.T) {
	flags := MountFlagsAllowRead | MountFlagsAllowWrite
	assert.True(t, flags.CanRead())
	assert.True(t, flags.CanWrite())
	assert.False(t, flags.CanDelete())

	all := MountFlagsAllowAll
	assert.True(t, all.CanRead())
	assert.True(t, all.CanWrite())
	assert.True(t, all.CanDelete())
}
