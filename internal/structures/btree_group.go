package structures

import (
	"fmt"
	"io"
	"sort"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
)

// ReadGroupBTreeEntries walks the group B-tree rooted at address and returns
// every symbol table entry, in key order. The walk is iterative, carries a
// visited-address set, and fails with CyclicBTree on re-entry. heapSize
// bounds link-name offsets for the SNOD closure check.
func ReadGroupBTreeEntries(r io.ReaderAt, address uint64, heapSize uint64, sb *core.Superblock) ([]core.SymbolTableEntry, error) {
	snods, err := collectSNODAddresses(r, address, sb)
	if err != nil {
		return nil, err
	}

	var entries []core.SymbolTableEntry
	for _, snodAddr := range snods {
		node, err := ParseSymbolTableNode(r, snodAddr, heapSize, sb)
		if err != nil {
			return nil, utils.WrapError("SNOD parse failed", err)
		}
		entries = append(entries, node.Entries...)
	}
	return entries, nil
}

// collectSNODAddresses descends the tree breadth-wise, returning leaf child
// addresses in left-to-right order.
func collectSNODAddresses(r io.ReaderAt, root uint64, sb *core.Superblock) ([]uint64, error) {
	visited := visitedSet{}
	level := []uint64{root}

	for {
		if len(level) == 0 {
			return nil, nil
		}
		var next []uint64
		var leaves []uint64
		isLeaf := false

		for _, addr := range level {
			if err := visited.enter(addr); err != nil {
				return nil, err
			}
			hdr, keys, children, err := readGroupNode(r, addr, sb)
			if err != nil {
				return nil, err
			}
			_ = keys
			if hdr.Level == 0 {
				isLeaf = true
				leaves = append(leaves, children...)
			} else {
				next = append(next, children...)
			}
		}

		if isLeaf {
			if len(next) > 0 {
				return nil, fmt.Errorf("%w: mixed node levels", utils.ErrCorruptStructure)
			}
			return leaves, nil
		}
		level = next
	}
}

// readGroupNode parses one group-flavor node: keys are local-heap offsets of
// lengthSize bytes, children are node or SNOD addresses.
func readGroupNode(r io.ReaderAt, address uint64, sb *core.Superblock) (*btreeNodeHeader, []uint64, []uint64, error) {
	hdr, err := readBTreeNodeHeader(r, address, sb)
	if err != nil {
		return nil, nil, nil, err
	}
	if hdr.NodeType != BTreeNodeGroup {
		return nil, nil, nil, fmt.Errorf("%w: expected group B-tree node, got type %d",
			utils.ErrCorruptStructure, hdr.NodeType)
	}

	n := int(hdr.EntriesUsed)
	if n == 0 {
		return hdr, nil, nil, nil
	}
	maxEntries := 2 * int(sb.GroupInternalK)
	if n > maxEntries {
		return nil, nil, nil, fmt.Errorf("%w: node at %d holds %d entries, max %d",
			utils.ErrCorruptStructure, address, n, maxEntries)
	}

	keyWidth := int(sb.LengthSize)
	childWidth := int(sb.OffsetSize)
	dataSize := (n+1)*keyWidth + n*childWidth
	data := make([]byte, dataSize)
	if _, err := r.ReadAt(data, int64(address)+int64(btreeHeaderSize(sb))); err != nil {
		return nil, nil, nil, utils.WrapError("B-tree node data read failed", err)
	}

	keys := make([]uint64, 0, n+1)
	children := make([]uint64, 0, n)
	pos := 0
	for i := 0; i <= n; i++ {
		k, _ := utils.ReadUint(data[pos:], keyWidth, sb.Endianness)
		keys = append(keys, k)
		pos += keyWidth
		if i < n {
			c, _ := utils.ReadUint(data[pos:], childWidth, sb.Endianness)
			children = append(children, c)
			pos += childWidth
		}
	}
	return hdr, keys, children, nil
}

// --- Write side ---

// namedEntry pairs an entry with its link name; the B-tree orders by name.
type namedEntry struct {
	name  string
	entry core.SymbolTableEntry
}

// GroupBTree accumulates a group's membership in memory and bulk-loads the
// on-disk tree when the file closes. The root node's address is reserved up
// front and never moves; SNODs and any extra nodes take dynamic space.
type GroupBTree struct {
	RootAddress uint64

	entries []namedEntry
	sb      *core.Superblock
}

// NewGroupBTree creates an empty builder whose root will live at rootAddr.
func NewGroupBTree(rootAddr uint64, sb *core.Superblock) *GroupBTree {
	return &GroupBTree{RootAddress: rootAddr, sb: sb}
}

// Insert links name to its symbol table entry, keeping the set ordered.
// Duplicate link names within one group are rejected.
func (bt *GroupBTree) Insert(name string, entry core.SymbolTableEntry) error {
	i := sort.Search(len(bt.entries), func(i int) bool { return bt.entries[i].name >= name })
	if i < len(bt.entries) && bt.entries[i].name == name {
		return fmt.Errorf("link %q already exists", name)
	}
	bt.entries = append(bt.entries, namedEntry{})
	copy(bt.entries[i+1:], bt.entries[i:])
	bt.entries[i] = namedEntry{name: name, entry: entry}
	return nil
}

// Find returns the entry linked under name, or nil.
func (bt *GroupBTree) Find(name string) *core.SymbolTableEntry {
	i := sort.Search(len(bt.entries), func(i int) bool { return bt.entries[i].name >= name })
	if i < len(bt.entries) && bt.entries[i].name == name {
		return &bt.entries[i].entry
	}
	return nil
}

// Remove unlinks name.
func (bt *GroupBTree) Remove(name string) bool {
	i := sort.Search(len(bt.entries), func(i int) bool { return bt.entries[i].name >= name })
	if i < len(bt.entries) && bt.entries[i].name == name {
		bt.entries = append(bt.entries[:i], bt.entries[i+1:]...)
		return true
	}
	return false
}

// Len returns the number of linked entries.
func (bt *GroupBTree) Len() int {
	return len(bt.entries)
}

// groupNodeSpec is one node of the bulk-loaded tree before serialization.
type groupNodeSpec struct {
	address  uint64
	level    uint8
	keys     []uint64 // heap offsets, len(children)+1
	children []uint64
}

// WriteTo bulk-loads the tree: entries are packed into SNODs of at most
// 2*leafK symbols, leaf nodes index the SNODs, and internal levels grow
// above them until one root remains. The root is written at RootAddress;
// every other block comes from alloc.
func (bt *GroupBTree) WriteTo(w io.WriterAt, alloc core.AllocFunc) error {
	sb := bt.sb

	// Pack sorted entries into SNODs.
	leafCap := int(2 * sb.GroupLeafK)
	type snodSpec struct {
		address uint64
		node    *SymbolTableNode
		lastKey uint64 // heap offset of the largest name inside
	}
	var snods []snodSpec
	for start := 0; start < len(bt.entries); start += leafCap {
		end := start + leafCap
		if end > len(bt.entries) {
			end = len(bt.entries)
		}
		node := NewSymbolTableNode(sb.GroupLeafK)
		for _, ne := range bt.entries[start:end] {
			if err := node.Add(ne.entry); err != nil {
				return err
			}
		}
		addr, err := alloc(SNODDiskSize(sb.GroupLeafK, sb.OffsetSize))
		if err != nil {
			return utils.WrapError("SNOD allocation failed", err)
		}
		snods = append(snods, snodSpec{
			address: addr,
			node:    node,
			lastKey: bt.entries[end-1].entry.LinkNameOffset,
		})
	}

	// Leaf level: nodes of up to 2*internalK SNOD children. Key 0 is the
	// empty string at heap offset 0; key i+1 is the largest name in child i.
	nodeCap := int(2 * sb.GroupInternalK)
	var level []groupNodeSpec
	for start := 0; start < len(snods); start += nodeCap {
		end := start + nodeCap
		if end > len(snods) {
			end = len(snods)
		}
		spec := groupNodeSpec{level: 0, keys: []uint64{0}}
		for _, s := range snods[start:end] {
			spec.children = append(spec.children, s.address)
			spec.keys = append(spec.keys, s.lastKey)
		}
		level = append(level, spec)
	}
	if len(level) == 0 {
		level = []groupNodeSpec{{level: 0, keys: []uint64{0}}}
	}

	// Grow internal levels until a single root remains.
	for len(level) > 1 {
		// Children of an internal node need their own addresses first.
		for i := range level {
			addr, err := alloc(GroupBTreeDiskSize(sb.GroupInternalK, sb))
			if err != nil {
				return utils.WrapError("B-tree node allocation failed", err)
			}
			level[i].address = addr
		}
		var parents []groupNodeSpec
		for start := 0; start < len(level); start += nodeCap {
			end := start + nodeCap
			if end > len(level) {
				end = len(level)
			}
			spec := groupNodeSpec{level: level[start].level + 1, keys: []uint64{0}}
			for _, child := range level[start:end] {
				spec.children = append(spec.children, child.address)
				spec.keys = append(spec.keys, child.keys[len(child.keys)-1])
			}
			parents = append(parents, spec)
		}
		if err := bt.writeNodeLevel(w, level); err != nil {
			return err
		}
		level = parents
	}

	level[0].address = bt.RootAddress
	if err := bt.writeNodeLevel(w, level); err != nil {
		return err
	}

	for _, s := range snods {
		if err := s.node.WriteAt(w, s.address, sb); err != nil {
			return err
		}
	}
	return nil
}

// writeNodeLevel serializes sibling nodes, linking their sibling pointers.
func (bt *GroupBTree) writeNodeLevel(w io.WriterAt, nodes []groupNodeSpec) error {
	sb := bt.sb
	for i := range nodes {
		left := uint64(utils.UndefinedAddress)
		right := uint64(utils.UndefinedAddress)
		if i > 0 {
			left = nodes[i-1].address
		}
		if i < len(nodes)-1 {
			right = nodes[i+1].address
		}
		if err := writeGroupNode(w, &nodes[i], left, right, sb); err != nil {
			return err
		}
	}
	return nil
}

func writeGroupNode(w io.WriterAt, spec *groupNodeSpec, left, right uint64, sb *core.Superblock) error {
	size := GroupBTreeDiskSize(sb.GroupInternalK, sb)
	buf := make([]byte, size)

	copy(buf[0:4], treeSignature)
	buf[4] = BTreeNodeGroup
	buf[5] = spec.level
	sb.Endianness.PutUint16(buf[6:8], uint16(len(spec.children)))
	pos := 8
	_ = utils.WriteUint(buf[pos:], left, int(sb.OffsetSize), sb.Endianness)
	pos += int(sb.OffsetSize)
	_ = utils.WriteUint(buf[pos:], right, int(sb.OffsetSize), sb.Endianness)
	pos += int(sb.OffsetSize)

	keyWidth := int(sb.LengthSize)
	childWidth := int(sb.OffsetSize)
	for i, key := range spec.keys {
		_ = utils.WriteUint(buf[pos:], key, keyWidth, sb.Endianness)
		pos += keyWidth
		if i < len(spec.children) {
			_ = utils.WriteUint(buf[pos:], spec.children[i], childWidth, sb.Endianness)
			pos += childWidth
		}
	}

	if _, err := w.WriteAt(buf, int64(spec.address)); err != nil {
		return utils.WrapError("B-tree node write failed", err)
	}
	return nil
}
