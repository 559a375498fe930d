package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/utils"
)

// memChannel is an in-memory positioned read/write channel for tests.
type memChannel struct {
	buf []byte
}

func (m *memChannel) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

func (m *memChannel) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m.buf).ReadAt(p, off)
}

func TestSuperblockV0RoundTrip(t *testing.T) {
	sb := NewSuperblockV0()
	sb.EndOfFileAddress = 4096
	sb.RootEntry = SymbolTableEntry{
		ObjectAddress:   96,
		CacheType:       CacheStab,
		CachedBTreeAddr: 136,
		CachedHeapAddr:  680,
	}

	ch := &memChannel{}
	require.NoError(t, sb.WriteTo(ch))
	require.Len(t, ch.buf, 96)

	back, err := ReadSuperblock(ch)
	require.NoError(t, err)
	require.Equal(t, uint8(Version0), back.Version)
	require.Equal(t, uint8(8), back.OffsetSize)
	require.Equal(t, uint8(8), back.LengthSize)
	require.Equal(t, uint16(DefaultGroupLeafK), back.GroupLeafK)
	require.Equal(t, uint16(DefaultGroupInternalK), back.GroupInternalK)
	require.Equal(t, uint64(4096), back.EndOfFileAddress)
	require.Equal(t, uint64(utils.UndefinedAddress), back.FreeSpaceAddress)
	require.Equal(t, uint64(utils.UndefinedAddress), back.DriverInfoAddress)
	require.Equal(t, uint64(96), back.RootEntry.ObjectAddress)
	require.Equal(t, uint32(CacheStab), back.RootEntry.CacheType)
	require.Equal(t, uint64(136), back.RootEntry.CachedBTreeAddr)
	require.Equal(t, uint64(680), back.RootEntry.CachedHeapAddr)
}

func TestReadSuperblockRejectsBadSignature(t *testing.T) {
	buf := make([]byte, 96)
	copy(buf, "NOTHDF55")
	_, err := ReadSuperblock(bytes.NewReader(buf))
	require.ErrorIs(t, err, utils.ErrBadSignature)
}

func TestReadSuperblockRejectsUnsupportedVersion(t *testing.T) {
	buf := make([]byte, 96)
	copy(buf, Signature)
	buf[8] = 2
	buf[13] = 8
	buf[14] = 8
	_, err := ReadSuperblock(bytes.NewReader(buf))
	require.ErrorIs(t, err, utils.ErrUnsupportedVersion)
}

func TestReadSuperblockTooSmall(t *testing.T) {
	_, err := ReadSuperblock(bytes.NewReader([]byte(Signature)))
	require.ErrorIs(t, err, utils.ErrTruncatedBuffer)
}

func TestSuperblockV1Read(t *testing.T) {
	// Build a v1 superblock by hand: v0 layout with the indexed-storage K
	// quad inserted before the base address.
	buf := make([]byte, 100)
	copy(buf, Signature)
	buf[8] = Version1
	buf[13] = 8
	buf[14] = 8
	buf[16] = 4  // leaf K
	buf[18] = 16 // internal K
	buf[24] = 32 // indexed storage K
	// Base address 0 at 28; EOF at 44.
	buf[44] = 0x00
	buf[45] = 0x10 // EOF = 4096
	// Root entry object header address at 60.
	buf[60+8] = 96

	sb, err := ReadSuperblock(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, uint8(Version1), sb.Version)
	require.Equal(t, uint16(32), sb.IndexedStorageK)
	require.Equal(t, uint64(4096), sb.EndOfFileAddress)
	require.Equal(t, uint64(96), sb.RootEntry.ObjectAddress)
}
