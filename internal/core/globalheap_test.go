package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/utils"
)

// testAlloc is a trivial monotonic allocator for heap tests.
func testAlloc(start uint64) AllocFunc {
	next := start
	return func(size uint64) (uint64, error) {
		addr := next
		next += size
		return addr, nil
	}
}

func TestGlobalHeapPutGetRoundTrip(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}

	gh := NewGlobalHeapWriter(sb, testAlloc(4096))

	addr1, idx1, err := gh.Put([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx1)

	addr2, idx2, err := gh.Put([]byte("a much longer variable-length payload"))
	require.NoError(t, err)
	require.Equal(t, addr1, addr2, "small blobs share one collection")
	require.Equal(t, uint32(2), idx2)

	require.NoError(t, gh.Flush(ch))

	// A fresh heap reads the flushed collections back.
	reader := NewGlobalHeap(sb)
	blob, err := reader.Get(ch, addr1, idx1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob)

	blob, err = reader.Get(ch, addr2, idx2)
	require.NoError(t, err)
	require.Equal(t, []byte("a much longer variable-length payload"), blob)
}

func TestGlobalHeapNewCollectionWhenFull(t *testing.T) {
	sb := testSuperblock()
	gh := NewGlobalHeapWriter(sb, testAlloc(4096))

	// Two 3000-byte blobs cannot share one 4096-byte collection.
	addr1, _, err := gh.Put(make([]byte, 3000))
	require.NoError(t, err)
	addr2, idx2, err := gh.Put(make([]byte, 3000))
	require.NoError(t, err)
	require.NotEqual(t, addr1, addr2)
	require.Equal(t, uint32(1), idx2)
}

func TestGlobalHeapOversizedBlob(t *testing.T) {
	sb := testSuperblock()
	gh := NewGlobalHeapWriter(sb, testAlloc(4096))

	// Larger than a default page: the collection grows to whole pages.
	big := make([]byte, 10000)
	ch := &memChannel{}
	addr, idx, err := gh.Put(big)
	require.NoError(t, err)
	require.NoError(t, gh.Flush(ch))

	reader := NewGlobalHeap(sb)
	blob, err := reader.Get(ch, addr, idx)
	require.NoError(t, err)
	require.Len(t, blob, 10000)
}

func TestGlobalHeapMissingObject(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}
	gh := NewGlobalHeapWriter(sb, testAlloc(4096))
	addr, _, err := gh.Put([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, gh.Flush(ch))

	reader := NewGlobalHeap(sb)
	_, err = reader.Get(ch, addr, 99)
	require.ErrorIs(t, err, utils.ErrOrphanedEntry)
}

func TestGlobalHeapBadSignature(t *testing.T) {
	sb := testSuperblock()
	ch := &memChannel{}
	_, _ = ch.WriteAt(make([]byte, 64), 0)

	reader := NewGlobalHeap(sb)
	_, err := reader.Get(ch, 0, 1)
	require.ErrorIs(t, err, utils.ErrBadSignature)
}

func TestGlobalHeapReadOnly(t *testing.T) {
	gh := NewGlobalHeap(testSuperblock())
	_, _, err := gh.Put([]byte("nope"))
	require.Error(t, err)
}
