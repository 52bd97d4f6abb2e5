package blockdev

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteIOAlignedRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)

	data := bytes.Repeat([]byte{0xAB}, 512)
	require.NoError(t, dev.WriteAt(data, 512))

	got := make([]byte, 512)
	require.NoError(t, dev.ReadAt(got, 512))
	assert.Equal(t, data, got)
}

func TestByteIOHeadTailMisalignment(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)

	// Seed two full blocks with a known pattern first.
	seed := make([]byte, 1024)
	for i := range seed {
		seed[i] = byte(i % 256)
	}
	require.NoError(t, dev.WriteAt(seed, 0))

	// Write a short, misaligned payload straddling the first block.
	payload := bytes.Repeat([]byte{0xFF}, 10)
	require.NoError(t, dev.WriteAt(payload, 100))

	got := make([]byte, 1024)
	require.NoError(t, dev.ReadAt(got, 0))

	// Bytes outside [100,110) are untouched; bytes inside are all 0xFF.
	assert.Equal(t, seed[:100], got[:100])
	assert.Equal(t, payload, got[100:110])
	assert.Equal(t, seed[110:], got[110:])
}

func TestByteIOSpanningMultipleBlocksWithMisalignment(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)

	payload := bytes.Repeat([]byte{0x5A}, 600)
	require.NoError(t, dev.WriteAt(payload, 300))

	got := make([]byte, 600)
	require.NoError(t, dev.ReadAt(got, 300))
	assert.Equal(t, payload, got)
}

func TestByteIOBoundsChecking(t *testing.T) {
	dev, _ := newTestDevice(t, 4, 512)

	err := dev.ReadAt(make([]byte, 10), dev.PartSize-5)
	require.Error(t, err)

	err = dev.WriteAt(make([]byte, 10), -1)
	require.Error(t, err)
}
