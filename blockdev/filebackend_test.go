package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendOpenMissingFile(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "does-not-exist.img"), 512)
	_, err := backend.Open()
	require.Error(t, err)
}

func TestFileBackendReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	backend := NewFileBackend(path, 512)
	totalBlocks, err := backend.Open()
	require.NoError(t, err)
	assert.EqualValues(t, 8, totalBlocks)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, backend.Write(payload, 2, 1))

	got := make([]byte, 512)
	require.NoError(t, backend.Read(got, 2, 1))
	assert.Equal(t, payload, got)

	require.NoError(t, backend.Close())
}

func TestFileBackendResizeUnsupported(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "disk.img"), 512)
	err := backend.Resize(1024)
	require.Error(t, err)
}
