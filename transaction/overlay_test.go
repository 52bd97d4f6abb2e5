package transaction

import (
	"bytes"
	"errors"
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/latticeworks/multivol/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	data      []byte
	blockSize uint
}

func (b *fakeBackend) Open() (uint, multivol.DriverError) {
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

func (b *fakeBackend) Close() multivol.DriverError { return nil }
func (b *fakeBackend) Lock()                       {}
func (b *fakeBackend) Unlock()                      {}
func (b *fakeBackend) Resize(uint) multivol.DriverError {
	return multivol.NewDriverError(multivol.ENOTSUP)
}

func newTestDevice(t *testing.T, blockCount, blockSize uint) (*blockdev.Device, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{data: make([]byte, blockCount*blockSize), blockSize: blockSize}
	dev, err := blockdev.New("dev", blockSize, backend)
	require.NoError(t, err)
	require.NoError(t, dev.Init())
	return dev, backend
}

func TestBeginRejectsDoubleOpen(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)

	require.NoError(t, overlay.Begin(DeviceWriter(dev)))
	err := overlay.Begin(DeviceWriter(dev))
	require.Error(t, err)
}

func TestBeginRejectsNilWriter(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)
	err := overlay.Begin(nil)
	require.Error(t, err)
}

func TestPushAndGetExactMatch(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)
	require.NoError(t, overlay.Begin(DeviceWriter(dev)))

	payload := bytes.Repeat([]byte{0x11}, 512)
	require.NoError(t, overlay.Push(1, 1, payload))

	got, found := overlay.Get(1, 1)
	require.True(t, found)
	assert.Equal(t, payload, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)
	require.NoError(t, overlay.Begin(DeviceWriter(dev)))

	_, found := overlay.Get(3, 1)
	assert.False(t, found)
}

func TestGetWhenNotOpenReturnsFalse(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)
	_, found := overlay.Get(0, 1)
	assert.False(t, found)
}

func TestGetLargerEntryReturnsPrefix(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)
	require.NoError(t, overlay.Begin(DeviceWriter(dev)))

	full := make([]byte, 1024)
	for i := range full {
		full[i] = byte(i % 256)
	}
	require.NoError(t, overlay.Push(0, 2, full))

	got, found := overlay.Get(0, 1)
	require.True(t, found)
	assert.Equal(t, full[:512], got)
}

func TestGetSmallerEntryExtendsAndMerges(t *testing.T) {
	dev, backend := newTestDevice(t, 4, 512)
	overlay := New(dev)

	// Seed the backend with a recognizable pattern for block 1 before
	// opening the transaction, so the merge path has real device bytes to
	// read for the remainder of the wider request.
	seedBlock1 := bytes.Repeat([]byte{0x22}, 512)
	copy(backend.data[512:1024], seedBlock1)

	require.NoError(t, overlay.Begin(DeviceWriter(dev)))

	entryData := bytes.Repeat([]byte{0x99}, 512)
	require.NoError(t, overlay.Push(0, 1, entryData))

	got, found := overlay.Get(0, 2)
	require.True(t, found)
	assert.Equal(t, entryData, got[:512])
	assert.Equal(t, seedBlock1, got[512:])

	// The entry should now have been widened in place: a subsequent exact
	// request for the merged range returns the same merged bytes.
	got2, found2 := overlay.Get(0, 2)
	require.True(t, found2)
	assert.Equal(t, got, got2)
}

func TestCommitFlushesToBackendAndCloses(t *testing.T) {
	dev, backend := newTestDevice(t, 4, 512)
	overlay := New(dev)
	require.NoError(t, overlay.Begin(DeviceWriter(dev)))

	payload := bytes.Repeat([]byte{0x77}, 512)
	require.NoError(t, overlay.Push(2, 1, payload))

	require.NoError(t, overlay.Commit())
	assert.False(t, overlay.IsOpen())
	assert.Equal(t, payload, backend.data[1024:1536])
}

func TestCommitStopsOnFirstFailureAndLeavesOverlayOpen(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)

	failing := func(entry Entry) error {
		return errors.New("simulated write failure")
	}
	require.NoError(t, overlay.Begin(failing))
	require.NoError(t, overlay.Push(0, 1, make([]byte, 512)))

	err := overlay.Commit()
	require.Error(t, err)
	assert.True(t, overlay.IsOpen(), "failed commit must leave the transaction open for retry or rollback")
}

func TestRollbackDiscardsEntries(t *testing.T) {
	dev, backend := newTestDevice(t, 4, 512)
	original := make([]byte, len(backend.data))
	copy(original, backend.data)

	overlay := New(dev)
	require.NoError(t, overlay.Begin(DeviceWriter(dev)))
	require.NoError(t, overlay.Push(0, 1, bytes.Repeat([]byte{0xEE}, 512)))

	require.NoError(t, overlay.Rollback())
	assert.False(t, overlay.IsOpen())
	assert.Equal(t, original, backend.data, "rollback must not touch the backend")
}

func TestReadYourOwnWritesDuringOpenTransaction(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)
	overlay := New(dev)
	dev.SetOverlay(overlay)

	require.NoError(t, overlay.Begin(DeviceWriter(dev)))

	payload := bytes.Repeat([]byte{0x42}, 512)
	require.NoError(t, dev.WriteBlocks(0, payload))

	got, err := dev.ReadBlocks(0, 1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
