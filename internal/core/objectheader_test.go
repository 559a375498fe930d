package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/utils"
)

func testSuperblock() *Superblock {
	return NewSuperblockV0()
}

func TestWriteReadObjectHeaderV1(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}

	st := &SymbolTableMessage{BTreeAddress: 136, LocalHeapAddress: 680}
	msgs := []*HeaderMessage{
		{Type: MsgSymbolTable, Data: st.Encode(sb)},
	}

	size, err := WriteObjectHeaderV1(ch, 0, 64, msgs, 1, sb, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(16+64), size)

	oh, err := ParseObjectHeader(ch, 0, sb)
	require.NoError(t, err)
	require.Equal(t, uint8(1), oh.Version)
	require.Equal(t, uint32(1), oh.RefCount)

	found := oh.FindMessage(MsgSymbolTable)
	require.NotNil(t, found)
	back, err := ParseSymbolTableMessage(found.Data, sb)
	require.NoError(t, err)
	require.Equal(t, uint64(136), back.BTreeAddress)
	require.Equal(t, uint64(680), back.LocalHeapAddress)

	// The reserved block is completed by a trailing Nil message.
	require.NotNil(t, oh.FindMessage(MsgNil))
}

func TestObjectHeaderContinuationSpill(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}

	// Seven 40-byte messages cannot fit a 64-byte block; the remainder must
	// spill through a continuation.
	var msgs []*HeaderMessage
	for i := 0; i < 7; i++ {
		data := make([]byte, 32)
		data[0] = byte(i + 1)
		msgs = append(msgs, &HeaderMessage{Type: MsgModificationTime, Data: data})
	}

	alloc := func(size uint64) (uint64, error) { return 4096, nil }
	_, err := WriteObjectHeaderV1(ch, 0, 64, msgs, 1, sb, alloc)
	require.NoError(t, err)

	oh, err := ParseObjectHeader(ch, 0, sb)
	require.NoError(t, err)

	require.NotNil(t, oh.FindMessage(MsgContinuation))
	got := oh.FindMessages(MsgModificationTime)
	require.Len(t, got, 7)
	for i, msg := range got {
		require.Equal(t, byte(i+1), msg.Data[0], "message order across continuation")
	}
}

func TestObjectHeaderContinuationCycleDetected(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}

	// Continuation at offset 0 pointing back at the header's own block.
	contData := make([]byte, 16)
	binary.LittleEndian.PutUint64(contData[0:8], 16)  // address: the message area itself
	binary.LittleEndian.PutUint64(contData[8:16], 64) // size

	buf := make([]byte, 16+64)
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[2:4], 8) // claim more messages than stored
	binary.LittleEndian.PutUint32(buf[8:12], 64)
	// One continuation message pointing at offset 16 (inside this header).
	binary.LittleEndian.PutUint16(buf[16:18], uint16(MsgContinuation))
	binary.LittleEndian.PutUint16(buf[18:20], 16)
	copy(buf[24:40], contData)
	_, err := ch.WriteAt(buf, 0)
	require.NoError(t, err)

	_, err = ParseObjectHeader(ch, 0, sb)
	require.Error(t, err)
}

func TestUnknownMessageFlagPolicy(t *testing.T) {
	sb := testSuperblock()

	t.Run("bit 7 clear keeps opaque bytes", func(t *testing.T) {
		ch := &memChannel{}
		msgs := []*HeaderMessage{
			{Type: MessageType(0xFE), Data: make([]byte, 8)},
		}
		_, err := WriteObjectHeaderV1(ch, 0, 24, msgs, 1, sb, nil)
		require.NoError(t, err)

		oh, err := ParseObjectHeader(ch, 0, sb)
		require.NoError(t, err)
		require.True(t, oh.Messages[0].Unknown)
		require.Len(t, oh.Messages[0].Data, 8)
	})

	t.Run("bit 7 set fails the parse", func(t *testing.T) {
		ch := &memChannel{}
		msgs := []*HeaderMessage{
			{Type: MessageType(0xFE), Flags: FlagFailAlways, Data: make([]byte, 8)},
		}
		_, err := WriteObjectHeaderV1(ch, 0, 24, msgs, 1, sb, nil)
		require.NoError(t, err)

		_, err = ParseObjectHeader(ch, 0, sb)
		require.ErrorIs(t, err, utils.ErrUnknownMessage)
	})
}

func TestParseV2Header(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}

	// Minimal v2 header: OHDR, version 2, flags 0 (1-byte chunk size), one
	// modification time message, trailing checksum.
	var buf []byte
	buf = append(buf, []byte("OHDR")...)
	buf = append(buf, 2, 0)
	msg := (&ModificationTime{Seconds: 1234}).Encode(sb)
	buf = append(buf, byte(4+len(msg))) // chunk 0 size
	buf = append(buf, byte(MsgModificationTime), byte(len(msg)), 0, 0)
	buf = append(buf, msg...)
	buf = append(buf, 0, 0, 0, 0) // checksum, unchecked on read
	_, err := ch.WriteAt(buf, 0)
	require.NoError(t, err)

	oh, err := ParseObjectHeader(ch, 0, sb)
	require.NoError(t, err)
	require.Equal(t, uint8(2), oh.Version)

	found := oh.FindMessage(MsgModificationTime)
	require.NotNil(t, found)
	mt, err := ParseModificationTime(found.Data, sb)
	require.NoError(t, err)
	require.Equal(t, uint32(1234), mt.Seconds)
}
