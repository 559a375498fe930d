package hdf5

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/writer"
)

func TestOpenRejectsNonHDF5(t *testing.T) {
	_, err := OpenReader(bytes.NewReader(make([]byte, 256)))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestOpenRejectsTruncated(t *testing.T) {
	_, err := OpenReader(bytes.NewReader([]byte(core.Signature)))
	require.ErrorIs(t, err, ErrTruncatedBuffer)
}

// buildImageWithUnknownMessage hand-assembles a minimal file whose root
// object header carries a message of type 0xFE with the given flags.
func buildImageWithUnknownMessage(t *testing.T, flags uint8) []byte {
	t.Helper()

	sb := core.NewSuperblockV0()
	fw := writer.NewBufferWriter(96, 0)
	alloc := fw.Allocator()

	rootOH, err := alloc.AllocateObjectHeader(64)
	require.NoError(t, err)
	btreeAddr, err := alloc.Allocate(structures.GroupBTreeDiskSize(sb.GroupInternalK, sb))
	require.NoError(t, err)
	heapAddr, err := alloc.Allocate(32 + writer.RootHeapSegmentSize)
	require.NoError(t, err)

	heap := structures.NewLocalHeap(writer.RootHeapSegmentSize)
	heap.DataSegmentAddress = heapAddr + 32
	require.NoError(t, heap.WriteTo(fw, heapAddr))

	btree := structures.NewGroupBTree(btreeAddr, sb)
	require.NoError(t, btree.WriteTo(fw, alloc.Allocate))

	st := &core.SymbolTableMessage{BTreeAddress: btreeAddr, LocalHeapAddress: heapAddr}
	msgs := []*core.HeaderMessage{
		{Type: core.MsgSymbolTable, Data: st.Encode(sb)},
		{Type: core.MessageType(0xFE), Flags: flags, Data: make([]byte, 8)},
	}
	_, err = core.WriteObjectHeaderV1(fw, rootOH, 64, msgs, 1, sb, nil)
	require.NoError(t, err)

	sb.EndOfFileAddress = fw.EndOfFile()
	sb.RootEntry = core.SymbolTableEntry{
		ObjectAddress:   rootOH,
		CacheType:       core.CacheStab,
		CachedBTreeAddr: btreeAddr,
		CachedHeapAddr:  heapAddr,
	}
	require.NoError(t, sb.WriteTo(fw))

	img, ok := fw.Bytes()
	require.True(t, ok)
	return img
}

func TestUnknownMessageStrictAndLenient(t *testing.T) {
	img := buildImageWithUnknownMessage(t, 0)

	// Strict mode surfaces UnknownMessage.
	_, err := OpenReader(bytes.NewReader(img))
	require.ErrorIs(t, err, ErrUnknownMessage)

	// Lenient mode keeps the message as opaque bytes and records a warning.
	f, err := OpenReader(bytes.NewReader(img), WithLenient())
	require.NoError(t, err)
	require.NotEmpty(t, f.Warnings())

	var opaque *core.HeaderMessage
	for _, msg := range f.Root().Header().Messages {
		if msg.Unknown {
			opaque = msg
		}
	}
	require.NotNil(t, opaque)
	require.Equal(t, core.MessageType(0xFE), opaque.Type)
	require.Len(t, opaque.Data, 8)
}

func TestUnknownMessageFailAlwaysBeatsLenient(t *testing.T) {
	img := buildImageWithUnknownMessage(t, core.FlagFailAlways)

	// Flag bit 7 fails the parse even in lenient mode: the failure happens
	// at the message layer, before the orchestrator's policy applies.
	_, err := OpenReader(bytes.NewReader(img), WithLenient())
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestMaxFileSizeCap(t *testing.T) {
	f := CreateMemory(WithMaxFileSize(1024))
	defer f.Close()

	dt := core.NewFixed(8, true)
	_, err := f.Root().CreateDataset("big", dt, []uint64{1 << 20})
	require.ErrorIs(t, err, ErrAllocationExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := CreateMemory()
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}
