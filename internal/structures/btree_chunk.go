package structures

import (
	"fmt"
	"io"
	"sort"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
)

// ChunkKey is one chunk B-tree key: the chunk's stored byte size (after
// filters), the filter mask, and the chunk's origin in dataset coordinates.
// The on-disk key carries rank+1 offsets; the trailing element-dimension
// offset is always zero.
type ChunkKey struct {
	Size       uint32
	FilterMask uint32
	Offsets    []uint64
}

// Less orders keys lexicographically by dimension offsets.
func (k ChunkKey) Less(other ChunkKey) bool {
	for i := range k.Offsets {
		if i >= len(other.Offsets) {
			return false
		}
		if k.Offsets[i] != other.Offsets[i] {
			return k.Offsets[i] < other.Offsets[i]
		}
	}
	return false
}

// ChunkRef locates one stored chunk.
type ChunkRef struct {
	Key     ChunkKey
	Address uint64
}

// WalkChunks traverses the chunk B-tree rooted at address and calls visit
// for every stored chunk in key order. rank is the dataset rank (without
// the element dimension). The walk carries a visited-address set and fails
// with CyclicBTree on re-entry.
func WalkChunks(r io.ReaderAt, address uint64, rank int, sb *core.Superblock, visit func(ChunkRef) error) error {
	visited := visitedSet{}
	return walkChunkNode(r, address, rank, sb, visited, visit)
}

func walkChunkNode(r io.ReaderAt, address uint64, rank int, sb *core.Superblock, visited visitedSet, visit func(ChunkRef) error) error {
	if err := visited.enter(address); err != nil {
		return err
	}

	hdr, keys, children, err := readChunkNode(r, address, rank, sb)
	if err != nil {
		return err
	}

	for i, child := range children {
		if hdr.Level == 0 {
			if err := visit(ChunkRef{Key: keys[i], Address: child}); err != nil {
				return err
			}
			continue
		}
		if err := walkChunkNode(r, child, rank, sb, visited, visit); err != nil {
			return err
		}
	}
	return nil
}

// readChunkNode parses one chunk-flavor node. Keys hold {size u32, filter
// mask u32, rank+1 u64 offsets}; children are node or raw-chunk addresses.
func readChunkNode(r io.ReaderAt, address uint64, rank int, sb *core.Superblock) (*btreeNodeHeader, []ChunkKey, []uint64, error) {
	hdr, err := readBTreeNodeHeader(r, address, sb)
	if err != nil {
		return nil, nil, nil, err
	}
	if hdr.NodeType != BTreeNodeChunk {
		return nil, nil, nil, fmt.Errorf("%w: expected chunk B-tree node, got type %d",
			utils.ErrCorruptStructure, hdr.NodeType)
	}

	n := int(hdr.EntriesUsed)
	if n == 0 {
		return hdr, nil, nil, nil
	}

	keySize := chunkKeySize(rank)
	childWidth := int(sb.OffsetSize)
	data := make([]byte, (n+1)*keySize+n*childWidth)
	if _, err := r.ReadAt(data, int64(address)+int64(btreeHeaderSize(sb))); err != nil {
		return nil, nil, nil, utils.WrapError("chunk B-tree data read failed", err)
	}

	keys := make([]ChunkKey, 0, n+1)
	children := make([]uint64, 0, n)
	pos := 0
	for i := 0; i <= n; i++ {
		key := ChunkKey{
			Size:       sb.Endianness.Uint32(data[pos : pos+4]),
			FilterMask: sb.Endianness.Uint32(data[pos+4 : pos+8]),
		}
		kp := pos + 8
		for d := 0; d <= rank; d++ {
			key.Offsets = append(key.Offsets, sb.Endianness.Uint64(data[kp:kp+8]))
			kp += 8
		}
		// The trailing element-dimension offset is dropped from the key.
		key.Offsets = key.Offsets[:rank]
		keys = append(keys, key)
		pos += keySize

		if i < n {
			c, _ := utils.ReadUint(data[pos:], childWidth, sb.Endianness)
			children = append(children, c)
			pos += childWidth
		}
	}

	// Keys must ascend; a disordered node is corrupt.
	for i := 1; i < len(keys)-1; i++ {
		if !keys[i-1].Less(keys[i]) {
			return nil, nil, nil, fmt.Errorf("%w: chunk keys out of order at node %d",
				utils.ErrCorruptStructure, address)
		}
	}

	return hdr, keys, children, nil
}

// FindChunk descends the tree to the chunk whose origin matches offsets.
func FindChunk(r io.ReaderAt, address uint64, rank int, sb *core.Superblock, offsets []uint64) (*ChunkRef, error) {
	var found *ChunkRef
	target := ChunkKey{Offsets: offsets}
	err := WalkChunks(r, address, rank, sb, func(ref ChunkRef) error {
		if !ref.Key.Less(target) && !target.Less(ref.Key) {
			found = &ref
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no chunk at %v", utils.ErrOrphanedEntry, offsets)
	}
	return found, nil
}

// --- Write side ---

// ChunkBTree accumulates chunk records and bulk-loads the on-disk tree on
// close. The root address is reserved up front and never moves.
type ChunkBTree struct {
	RootAddress uint64

	rank   int
	dims   []uint64 // dataset dimensions, for the past-the-end key
	chunks []ChunkRef
	sb     *core.Superblock
}

// NewChunkBTree creates a builder for a dataset of the given dimensions.
func NewChunkBTree(rootAddr uint64, dims []uint64, sb *core.Superblock) *ChunkBTree {
	return &ChunkBTree{
		RootAddress: rootAddr,
		rank:        len(dims),
		dims:        dims,
		sb:          sb,
	}
}

// Insert records a stored chunk, keeping records in key order.
func (bt *ChunkBTree) Insert(key ChunkKey, address uint64) error {
	i := sort.Search(len(bt.chunks), func(i int) bool { return !bt.chunks[i].Key.Less(key) })
	if i < len(bt.chunks) && !bt.chunks[i].Key.Less(key) && !key.Less(bt.chunks[i].Key) {
		return fmt.Errorf("chunk at %v already present", key.Offsets)
	}
	bt.chunks = append(bt.chunks, ChunkRef{})
	copy(bt.chunks[i+1:], bt.chunks[i:])
	bt.chunks[i] = ChunkRef{Key: key, Address: address}
	return nil
}

// Len returns the number of recorded chunks.
func (bt *ChunkBTree) Len() int {
	return len(bt.chunks)
}

type chunkNodeSpec struct {
	address  uint64
	level    uint8
	keys     []ChunkKey
	children []uint64
}

// WriteTo bulk-loads the tree: leaves of up to 2*internalK chunks, internal
// levels above until one root remains, written at RootAddress.
func (bt *ChunkBTree) WriteTo(w io.WriterAt, alloc core.AllocFunc) error {
	sb := bt.sb
	nodeCap := int(2 * sb.GroupInternalK)

	endKey := ChunkKey{Offsets: append([]uint64(nil), bt.dims...)}

	var level []chunkNodeSpec
	for start := 0; start < len(bt.chunks); start += nodeCap {
		end := start + nodeCap
		if end > len(bt.chunks) {
			end = len(bt.chunks)
		}
		spec := chunkNodeSpec{level: 0}
		for _, c := range bt.chunks[start:end] {
			spec.keys = append(spec.keys, c.Key)
			spec.children = append(spec.children, c.Address)
		}
		// The final key of the rightmost node is the past-the-end key.
		if end == len(bt.chunks) {
			spec.keys = append(spec.keys, endKey)
		} else {
			spec.keys = append(spec.keys, bt.chunks[end].Key)
		}
		level = append(level, spec)
	}
	if len(level) == 0 {
		level = []chunkNodeSpec{{level: 0, keys: []ChunkKey{endKey}}}
	}

	for len(level) > 1 {
		for i := range level {
			addr, err := alloc(ChunkBTreeDiskSize(sb.GroupInternalK, bt.rank, sb))
			if err != nil {
				return utils.WrapError("chunk B-tree node allocation failed", err)
			}
			level[i].address = addr
		}
		var parents []chunkNodeSpec
		for start := 0; start < len(level); start += nodeCap {
			end := start + nodeCap
			if end > len(level) {
				end = len(level)
			}
			spec := chunkNodeSpec{level: level[start].level + 1}
			for _, child := range level[start:end] {
				spec.keys = append(spec.keys, child.keys[0])
				spec.children = append(spec.children, child.address)
			}
			spec.keys = append(spec.keys, level[end-1].keys[len(level[end-1].keys)-1])
			parents = append(parents, spec)
		}
		if err := bt.writeNodeLevel(w, level); err != nil {
			return err
		}
		level = parents
	}

	level[0].address = bt.RootAddress
	return bt.writeNodeLevel(w, level)
}

func (bt *ChunkBTree) writeNodeLevel(w io.WriterAt, nodes []chunkNodeSpec) error {
	for i := range nodes {
		left := uint64(utils.UndefinedAddress)
		right := uint64(utils.UndefinedAddress)
		if i > 0 {
			left = nodes[i-1].address
		}
		if i < len(nodes)-1 {
			right = nodes[i+1].address
		}
		if err := bt.writeChunkNode(w, &nodes[i], left, right); err != nil {
			return err
		}
	}
	return nil
}

func (bt *ChunkBTree) writeChunkNode(w io.WriterAt, spec *chunkNodeSpec, left, right uint64) error {
	sb := bt.sb
	size := ChunkBTreeDiskSize(sb.GroupInternalK, bt.rank, sb)
	buf := make([]byte, size)

	copy(buf[0:4], treeSignature)
	buf[4] = BTreeNodeChunk
	buf[5] = spec.level
	sb.Endianness.PutUint16(buf[6:8], uint16(len(spec.children)))
	pos := 8
	_ = utils.WriteUint(buf[pos:], left, int(sb.OffsetSize), sb.Endianness)
	pos += int(sb.OffsetSize)
	_ = utils.WriteUint(buf[pos:], right, int(sb.OffsetSize), sb.Endianness)
	pos += int(sb.OffsetSize)

	for i, key := range spec.keys {
		sb.Endianness.PutUint32(buf[pos:pos+4], key.Size)
		sb.Endianness.PutUint32(buf[pos+4:pos+8], key.FilterMask)
		kp := pos + 8
		for d := 0; d < bt.rank; d++ {
			off := uint64(0)
			if d < len(key.Offsets) {
				off = key.Offsets[d]
			}
			sb.Endianness.PutUint64(buf[kp:kp+8], off)
			kp += 8
		}
		// Trailing element-dimension offset stays zero.
		pos += chunkKeySize(bt.rank)

		if i < len(spec.children) {
			_ = utils.WriteUint(buf[pos:], spec.children[i], int(sb.OffsetSize), sb.Endianness)
			pos += int(sb.OffsetSize)
		}
	}

	if _, err := w.WriteAt(buf, int64(spec.address)); err != nil {
		return utils.WrapError("chunk B-tree node write failed", err)
	}
	return nil
}
