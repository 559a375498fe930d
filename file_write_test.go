package hdf5

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/core"
)

// reopen closes a memory-built file and opens the produced image.
func reopen(t *testing.T, f *File, opts ...Option) *File {
	t.Helper()
	require.NoError(t, f.Close())
	img, ok := f.Bytes()
	require.True(t, ok)

	back, err := OpenReader(bytes.NewReader(img), opts...)
	require.NoError(t, err)
	return back
}

func TestEmptyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1.h5")

	f, err := Create(path, CreateTruncate)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	back, err := Open(path)
	require.NoError(t, err)
	defer back.Close()

	// Reference layout: nothing allocated past the root heap segment.
	require.Equal(t, uint64(800), back.Superblock().EndOfFileAddress)

	// The root object header carries exactly one symbol table message
	// pointing at the reserved B-tree and heap addresses.
	var stMessages []*core.HeaderMessage
	for _, msg := range back.Root().Header().Messages {
		if msg.Type == core.MsgSymbolTable {
			stMessages = append(stMessages, msg)
		}
	}
	require.Len(t, stMessages, 1)
	st, err := core.ParseSymbolTableMessage(stMessages[0].Data, back.Superblock())
	require.NoError(t, err)
	require.Equal(t, uint64(136), st.BTreeAddress)
	require.Equal(t, uint64(680), st.LocalHeapAddress)

	require.Empty(t, back.Root().Children())
}

func TestEmptyMemoryFileMatchesDiskLayout(t *testing.T) {
	f := CreateMemory()
	back := reopen(t, f)
	require.Equal(t, uint64(800), back.Superblock().EndOfFileAddress)
	require.Empty(t, back.Root().Children())
}

func TestSuperblockRootEntryCachesGroupAddresses(t *testing.T) {
	back := reopen(t, CreateMemory())
	entry := back.Superblock().RootEntry
	require.Equal(t, uint32(core.CacheStab), entry.CacheType)
	require.Equal(t, uint64(96), entry.ObjectAddress)
	require.Equal(t, uint64(136), entry.CachedBTreeAddr)
	require.Equal(t, uint64(680), entry.CachedHeapAddr)
}

func TestCreateExclusiveRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.h5")

	f, err := Create(path, CreateTruncate)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Create(path, CreateExclusive)
	require.Error(t, err)
}

func TestAddressingInvariant(t *testing.T) {
	// Every address referenced from the tree is below end-of-file.
	f := CreateMemory()
	root := f.Root()
	ds, err := root.CreateDataset("v", core.NewFixed(4, true), []uint64{8})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]int32{1, 2, 3, 4, 5, 6, 7, 8}))
	_, err = root.CreateGroup("g")
	require.NoError(t, err)

	back := reopen(t, f)
	eof := back.Superblock().EndOfFileAddress

	entry := back.Superblock().RootEntry
	require.Less(t, entry.ObjectAddress, eof)
	require.Less(t, entry.CachedBTreeAddr, eof)
	require.Less(t, entry.CachedHeapAddr, eof)

	d, err := back.Root().Dataset("v")
	require.NoError(t, err)
	require.Less(t, d.Layout().DataAddress, eof)
}
