package blockdev

import (
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal in-memory Backend used to exercise Device and
// the partitioned byte I/O on top of it without touching a real file.
type fakeBackend struct {
	data      []byte
	blockSize uint
	opened    bool
	closed    bool
}

func newFakeBackend(blockCount, blockSize uint) *fakeBackend {
	return &fakeBackend{data: make([]byte, blockCount*blockSize), blockSize: blockSize}
}

func (b *fakeBackend) Open() (uint, multivol.DriverError) {
	b.opened = true
	return uint(len(b.data)) / b.blockSize, nil
}

func (b *fakeBackend) Read(dst []byte, blockID uint, blockCount uint) multivol.DriverError {
	offset := blockID * b.blockSize
	length := blockCount * b.blockSize
	copy(dst[:length], b.data[offset:offset+length])
	return nil
}

func (b *fakeBackend) Write(src []byte, blockID uint, blockCount uint) multivol.DriverError {
	offset := blockID * b.blockSize
	length := blockCount * b.blockSize
	copy(b.data[offset:offset+length], src[:length])
	return nil
}

func (b *fakeBackend) Close() multivol.DriverError {
	b.closed = true
	return nil
}

func (b *fakeBackend) Lock()   {}
func (b *fakeBackend) Unlock() {}

func (b *fakeBackend) Resize(newBlockSize uint) multivol.DriverError {
	return multivol.NewDriverError(multivol.ENOTSUP)
}

func newTestDevice(t *testing.T, blockCount, blockSize uint) (*Device, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend(blockCount, blockSize)
	dev, err := New("test-device", blockSize, backend)
	require.NoError(t, err)
	require.NoError(t, dev.Init())
	return dev, backend
}

func TestNewRejectsBadBlockSize(t *testing.T) {
	_, err := New("bad", 511, newFakeBackend(4, 511))
	require.Error(t, err)

	_, err = New("bad2", 300, newFakeBackend(4, 300))
	require.Error(t, err)
}

func TestInitFiniRefCounting(t *testing.T) {
	backend := newFakeBackend(4, 512)
	dev, err := New("dev", 512, backend)
	require.NoError(t, err)

	require.NoError(t, dev.Init())
	require.NoError(t, dev.Init())
	assert.EqualValues(t, 2, dev.RefCount())
	assert.True(t, backend.opened)

	require.NoError(t, dev.Fini())
	assert.False(t, backend.closed, "backend must stay open while refcount > 0")

	require.NoError(t, dev.Fini())
	assert.True(t, backend.closed)
	assert.EqualValues(t, 0, dev.RefCount())
}

func TestFiniWithoutInitIsNoop(t *testing.T) {
	backend := newFakeBackend(4, 512)
	dev, err := New("dev", 512, backend)
	require.NoError(t, err)
	require.NoError(t, dev.Fini())
	assert.False(t, backend.closed)
}

func TestReadWriteBlocksRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, dev.WriteBlocks(1, payload))
	got, err := dev.ReadBlocks(1, 1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOperationsFailWhenNotOpen(t *testing.T) {
	backend := newFakeBackend(4, 512)
	dev, err := New("dev", 512, backend)
	require.NoError(t, err)

	_, readErr := dev.ReadBlocks(0, 1)
	require.Error(t, readErr)

	writeErr := dev.WriteBlocks(0, make([]byte, 512))
	require.Error(t, writeErr)
}

func TestMountedFSName(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	assert.Equal(t, "", dev.MountedFSName())
	dev.SetMountedFSName("/mnt/")
	assert.Equal(t, "/mnt/", dev.MountedFSName())
}
