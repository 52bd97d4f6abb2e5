package common

import (
	"testing"

	"github.com/latticeworks/multivol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateBlockReturnsFirstFreeAndMarksItUsed(t *testing.T) {
	alloc := NewAllocator(8)

	first, err := alloc.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 0, first)

	second, err := alloc.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 1, second)
}

func TestAllocateBlockFailsWhenExhausted(t *testing.T) {
	alloc := NewAllocator(2)

	_, err := alloc.AllocateBlock()
	require.NoError(t, err)
	_, err = alloc.AllocateBlock()
	require.NoError(t, err)

	_, err = alloc.AllocateBlock()
	require.Error(t, err)
	assert.Equal(t, multivol.ENOSPC, err.(multivol.DriverError).Errno())
}

func TestFreeBlockReturnsItToTheFreePool(t *testing.T) {
	alloc := NewAllocator(4)

	block, err := alloc.AllocateBlock()
	require.NoError(t, err)

	require.NoError(t, alloc.FreeBlock(block))

	reallocated, err := alloc.AllocateBlock()
	require.NoError(t, err)
	assert.Equal(t, block, reallocated)
}

func TestFreeBlockRejectsOutOfRangeBlock(t *testing.T) {
	alloc := NewAllocator(4)
	err := alloc.FreeBlock(4)
	require.Error(t, err)
	assert.Equal(t, multivol.EINVAL, err.(multivol.DriverError).Errno())
}

func TestFreeBlockRejectsAlreadyFreeBlock(t *testing.T) {
	alloc := NewAllocator(4)
	err := alloc.FreeBlock(0)
	require.Error(t, err)
	assert.Equal(t, multivol.EALREADY, err.(multivol.DriverError).Errno())
}

func TestNewAllocatorFromBytesMutatesCallerBuffer(t *testing.T) {
	buf := make([]byte, 1)
	alloc := NewAllocatorFromBytes(buf, 8)

	block, err := alloc.AllocateBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 0, block)

	assert.NotEqual(t, byte(0), buf[0], "allocation must be visible in the caller's backing buffer")
}

func TestAllocateContiguousBlocksFindsFirstFit(t *testing.T) {
	alloc := NewAllocator(8)

	_, err := alloc.AllocateBlock()
	require.NoError(t, err)

	start, err := alloc.AllocateContiguousBlocks(3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, start)
}

func TestAllocateContiguousBlocksFailsWhenNoRunIsLongEnough(t *testing.T) {
	alloc := NewAllocator(4)

	_, err := alloc.AllocateContiguousBlocks(5)
	require.Error(t, err)
}
