package structures

import (
	"fmt"
	"io"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
)

// B-tree node types.
const (
	treeSignature  = "TREE"
	BTreeNodeGroup = 0
	BTreeNodeChunk = 1
)

// btreeNodeHeader is the fixed prefix of every v1 B-tree node:
//
//	Bytes 0-3: Signature "TREE"
//	Byte 4:    Node type (0 = group index, 1 = chunked raw data)
//	Byte 5:    Node level (0 = leaf)
//	Bytes 6-7: Entries used
//	Left sibling address (offsetSize, UNDEF at the edge)
//	Right sibling address (offsetSize, UNDEF at the edge)
//
// A node with N entries carries N+1 keys interleaved with N child pointers.
type btreeNodeHeader struct {
	NodeType     uint8
	Level        uint8
	EntriesUsed  uint16
	LeftSibling  uint64
	RightSibling uint64
}

func btreeHeaderSize(sb *core.Superblock) int {
	return 8 + 2*int(sb.OffsetSize)
}

func readBTreeNodeHeader(r io.ReaderAt, address uint64, sb *core.Superblock) (*btreeNodeHeader, error) {
	size := btreeHeaderSize(sb)
	buf := utils.GetBuffer(size)
	defer utils.ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, int64(address)); err != nil {
		return nil, utils.WrapError("B-tree node header read failed", err)
	}
	if string(buf[0:4]) != treeSignature {
		return nil, fmt.Errorf("%w: B-tree node at %d", utils.ErrBadSignature, address)
	}

	hdr := &btreeNodeHeader{
		NodeType:    buf[4],
		Level:       buf[5],
		EntriesUsed: sb.Endianness.Uint16(buf[6:8]),
	}
	pos := 8
	hdr.LeftSibling, _ = utils.ReadUint(buf[pos:], int(sb.OffsetSize), sb.Endianness)
	pos += int(sb.OffsetSize)
	hdr.RightSibling, _ = utils.ReadUint(buf[pos:], int(sb.OffsetSize), sb.Endianness)
	return hdr, nil
}

// visitedSet guards every descent against malformed cyclic trees: no node
// address may appear twice on any traversal.
type visitedSet map[uint64]bool

func (v visitedSet) enter(address uint64) error {
	if v[address] {
		return fmt.Errorf("%w: node at %d revisited", utils.ErrCyclicBTree, address)
	}
	v[address] = true
	return nil
}

// GroupBTreeDiskSize returns the fixed on-disk size of one group B-tree
// node: header plus 2K+1 keys and 2K child pointers.
func GroupBTreeDiskSize(internalK uint16, sb *core.Superblock) uint64 {
	return uint64(btreeHeaderSize(sb)) +
		uint64(2*internalK+1)*uint64(sb.LengthSize) +
		uint64(2*internalK)*uint64(sb.OffsetSize)
}

// chunkKeySize returns the on-disk size of one chunk-tree key: chunk byte
// size, filter mask, and rank+1 64-bit dimension offsets.
func chunkKeySize(rank int) int {
	return 8 + 8*(rank+1)
}

// ChunkBTreeDiskSize returns the fixed on-disk size of one chunk B-tree
// node for the given rank.
func ChunkBTreeDiskSize(internalK uint16, rank int, sb *core.Superblock) uint64 {
	return uint64(btreeHeaderSize(sb)) +
		uint64(2*internalK+1)*uint64(chunkKeySize(rank)) +
		uint64(2*internalK)*uint64(sb.OffsetSize)
}
