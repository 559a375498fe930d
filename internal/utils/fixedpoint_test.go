package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedPointRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		value  uint64
		size   int
		signed bool
	}{
		{"u8", 0xAB, 1, false},
		{"u16", 0xBEEF, 2, false},
		{"u32", 0xDEADBEEF, 4, false},
		{"u64", 0x0123456789ABCDEF, 8, false},
		{"i32 negative", 0xFFFFFFFB, 4, true}, // -5
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := NewFixedPoint(tt.value, tt.size, tt.signed, false)

			buf := make([]byte, tt.size)
			require.NoError(t, fp.Write(buf))

			back, err := ReadFixedPoint(buf, tt.size, 0, uint16(tt.size*8), tt.signed, false)
			require.NoError(t, err)
			v, err := back.Uint64()
			require.NoError(t, err)
			require.Equal(t, tt.value&precisionMask(uint16(tt.size*8)), v)
		})
	}
}

func TestFixedPointSignExtension(t *testing.T) {
	// -5 as a 4-byte two's complement value.
	buf := []byte{0xFB, 0xFF, 0xFF, 0xFF}
	fp, err := ReadFixedPoint(buf, 4, 0, 32, true, false)
	require.NoError(t, err)

	v, err := fp.Int64()
	require.NoError(t, err)
	require.Equal(t, int64(-5), v)
}

func TestFixedPointBitOffset(t *testing.T) {
	// 12-bit value 0xABC stored with a 4-bit offset inside two bytes:
	// raw = 0xABC0 little-endian.
	buf := []byte{0xC0, 0xAB}
	fp, err := ReadFixedPoint(buf, 2, 4, 12, false, false)
	require.NoError(t, err)

	v, err := fp.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0xABC), v)
}

func TestFixedPointUndefined(t *testing.T) {
	fp, err := ReadFixedPoint([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, 8, 0, 64, false, false)
	require.NoError(t, err)
	require.True(t, fp.IsUndefined())

	fp = NewFixedPoint(42, 8, false, false)
	require.False(t, fp.IsUndefined())
}

func TestFixedPointBigEndian(t *testing.T) {
	buf := []byte{0x12, 0x34}
	fp, err := ReadFixedPoint(buf, 2, 0, 16, false, true)
	require.NoError(t, err)

	v, err := fp.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), v)
}

func TestFixedPointErrors(t *testing.T) {
	_, err := ReadFixedPoint([]byte{1}, 2, 0, 16, false, false)
	require.ErrorIs(t, err, ErrTruncatedBuffer)

	_, err = ReadFixedPoint([]byte{1, 2}, 2, 8, 16, false, false)
	require.ErrorIs(t, err, ErrInvalidEncoding)

	fp := NewFixedPoint(0x1FFFFFFFF, 8, false, false)
	_, err = fp.ToUint32()
	require.True(t, errors.Is(err, ErrOutOfRange))
}
