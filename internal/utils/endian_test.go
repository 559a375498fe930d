package utils

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteUintWidths(t *testing.T) {
	for _, width := range []int{1, 2, 3, 4, 8} {
		buf := make([]byte, 8)
		mask := ^uint64(0)
		if width < 8 {
			mask = (uint64(1) << (8 * width)) - 1
		}
		value := uint64(0x0102030405060708) & mask

		require.NoError(t, WriteUint(buf, value, width, binary.LittleEndian))
		got, err := ReadUint(buf, width, binary.LittleEndian)
		require.NoError(t, err)
		require.Equal(t, value, got, "width %d", width)
	}
}

func TestReadUintTruncated(t *testing.T) {
	_, err := ReadUint([]byte{1, 2}, 4, binary.LittleEndian)
	require.ErrorIs(t, err, ErrTruncatedBuffer)
}

func TestReadNullTerminated(t *testing.T) {
	data := []byte("alpha\x00beta\x00")

	s, err := ReadNullTerminated(data, 0)
	require.NoError(t, err)
	require.Equal(t, "alpha", s)

	s, err = ReadNullTerminated(data, 6)
	require.NoError(t, err)
	require.Equal(t, "beta", s)

	_, err = ReadNullTerminated([]byte("no-nul"), 0)
	require.ErrorIs(t, err, ErrCorruptStructure)

	_, err = ReadNullTerminated(data, 100)
	require.ErrorIs(t, err, ErrTruncatedBuffer)
}

func TestAlignmentHelpers(t *testing.T) {
	require.Equal(t, uint64(0), AlignUp(0, 8))
	require.Equal(t, uint64(8), AlignUp(1, 8))
	require.Equal(t, uint64(8), AlignUp(8, 8))
	require.Equal(t, uint64(16), AlignUp(9, 8))

	require.Equal(t, 0, PadTo8(0))
	require.Equal(t, 7, PadTo8(1))
	require.Equal(t, 0, PadTo8(16))
	require.Equal(t, 3, PadTo8(21))
}

func TestIsUndefined(t *testing.T) {
	require.True(t, IsUndefined(0xFFFFFFFFFFFFFFFF, 8))
	require.True(t, IsUndefined(0xFFFF, 2))
	require.False(t, IsUndefined(0xFFFE, 2))
	require.False(t, IsUndefined(0, 8))
}
