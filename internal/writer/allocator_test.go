package writer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/utils"
)

func TestComputeLayoutReferenceOffsets(t *testing.T) {
	// Group B-tree node size for K=16 with 8-byte addressing: 24-byte
	// header, 33 keys, 32 children.
	btreeSize := uint64(24 + 33*8 + 32*8)
	layout := ComputeLayout(btreeSize, DefaultDatasetHeaderSize)

	require.Equal(t, uint64(0), layout.Superblock)
	require.Equal(t, uint64(96), layout.RootObjectHeader)
	require.Equal(t, uint64(136), layout.RootBTree)
	require.Equal(t, uint64(680), layout.RootHeapHeader)
	require.Equal(t, uint64(712), layout.RootHeapSegment)
	require.Equal(t, uint64(800), layout.FirstDatasetHeader)
}

func TestAllocatorMonotonicity(t *testing.T) {
	a := NewAllocator(800, 0)

	var prevEnd uint64
	for _, size := range []uint64{272, 24, 100, 1, 8, 4096} {
		addr, err := a.Allocate(size)
		require.NoError(t, err)
		require.GreaterOrEqual(t, addr, prevEnd, "allocations never move backward")
		require.Zero(t, addr%8, "offsets are 8-byte aligned")
		prevEnd = addr + size
	}
	require.Equal(t, utils.AlignUp(prevEnd, 1), a.EndOfFile())
	require.NoError(t, a.ValidateNoOverlaps())
}

func TestAllocatorZeroSize(t *testing.T) {
	a := NewAllocator(0, 0)
	_, err := a.Allocate(0)
	require.Error(t, err)
}

func TestAllocatorMaxSize(t *testing.T) {
	a := NewAllocator(0, 128)
	_, err := a.Allocate(100)
	require.NoError(t, err)
	_, err = a.Allocate(100)
	require.ErrorIs(t, err, utils.ErrAllocationExceeded)
}

func TestAllocatorRawDataBoundary(t *testing.T) {
	a := NewAllocator(800, 0)

	addr, err := a.AllocateRawData(24)
	require.NoError(t, err)
	require.Equal(t, uint64(RawDataBoundary), addr, "first raw allocation starts at the boundary")

	// Subsequent raw allocations stay sequential.
	next, err := a.AllocateRawData(24)
	require.NoError(t, err)
	require.Equal(t, addr+24, next)
}

func TestAllocatorIsAllocated(t *testing.T) {
	a := NewAllocator(0, 0)
	addr, err := a.Allocate(64)
	require.NoError(t, err)

	require.True(t, a.IsAllocated(addr, 1))
	require.True(t, a.IsAllocated(addr+63, 1))
	require.False(t, a.IsAllocated(addr+64, 1))
	require.False(t, a.IsAllocated(addr, 0))
}

func TestAllocateObjectHeaderAligns(t *testing.T) {
	a := NewAllocator(0, 0)
	addr, err := a.AllocateObjectHeader(20)
	require.NoError(t, err)
	require.Equal(t, uint64(0), addr)
	// 16-byte prefix plus a 24-byte aligned block.
	require.Equal(t, uint64(40), a.EndOfFile())
}
