package structures

import (
	"fmt"
	"io"
	"sort"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
)

const snodSignature = "SNOD"

// SymbolTableNode is a SNOD: the leaf-level membership list of a group.
// Capacity is 2*GroupLeafK entries; the owning B-tree splits nodes that
// would exceed it.
//
// Layout:
//
//	Bytes 0-3: Signature "SNOD"
//	Byte 4:    Version (1)
//	Byte 5:    Reserved
//	Bytes 6-7: Number of symbols
//	Then symbol table entries.
type SymbolTableNode struct {
	Version    uint8
	NumSymbols uint16
	Entries    []core.SymbolTableEntry

	capacity uint16
}

// ParseSymbolTableNode reads a SNOD at address. heapSize bounds the
// link-name offsets; entries pointing past it are a closure violation.
func ParseSymbolTableNode(r io.ReaderAt, address uint64, heapSize uint64, sb *core.Superblock) (*SymbolTableNode, error) {
	header := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("SNOD header read failed", err)
	}
	if string(header[0:4]) != snodSignature {
		return nil, fmt.Errorf("%w: SNOD at %d", utils.ErrBadSignature, address)
	}
	if header[4] != 1 {
		return nil, fmt.Errorf("%w: SNOD version %d", utils.ErrUnsupportedVersion, header[4])
	}

	numSymbols := sb.Endianness.Uint16(header[6:8])
	node := &SymbolTableNode{
		Version:    1,
		NumSymbols: numSymbols,
		capacity:   2 * sb.GroupLeafK,
	}
	if numSymbols == 0 {
		return node, nil
	}

	entrySize := core.EntrySize(sb.OffsetSize)
	data := make([]byte, int(numSymbols)*entrySize)
	if _, err := r.ReadAt(data, int64(address)+8); err != nil {
		return nil, utils.WrapError("SNOD entries read failed", err)
	}

	pos := 0
	for i := uint16(0); i < numSymbols; i++ {
		entry, used, err := core.ParseSymbolTableEntry(data[pos:], sb)
		if err != nil {
			return nil, fmt.Errorf("SNOD entry %d: %w", i, err)
		}
		if entry.LinkNameOffset >= heapSize {
			return nil, fmt.Errorf("%w: SNOD entry %d link name offset %d beyond heap size %d",
				utils.ErrCorruptStructure, i, entry.LinkNameOffset, heapSize)
		}
		node.Entries = append(node.Entries, *entry)
		pos += used
	}
	return node, nil
}

// NewSymbolTableNode creates an empty SNOD with capacity 2*leafK entries.
func NewSymbolTableNode(leafK uint16) *SymbolTableNode {
	return &SymbolTableNode{
		Version:  1,
		capacity: 2 * leafK,
	}
}

// Add inserts an entry. Fails when the node is at capacity; the caller
// splits through the owning B-tree.
func (n *SymbolTableNode) Add(entry core.SymbolTableEntry) error {
	if n.NumSymbols >= n.capacity {
		return fmt.Errorf("symbol table node is full (%d/%d)", n.NumSymbols, n.capacity)
	}
	n.Entries = append(n.Entries, entry)
	n.NumSymbols++
	return nil
}

// Remove deletes the entry with the given link-name offset.
func (n *SymbolTableNode) Remove(nameOffset uint64) bool {
	for i := range n.Entries {
		if n.Entries[i].LinkNameOffset == nameOffset {
			n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
			n.NumSymbols--
			return true
		}
	}
	return false
}

// Lookup returns the entry with the given link-name offset, or nil.
func (n *SymbolTableNode) Lookup(nameOffset uint64) *core.SymbolTableEntry {
	for i := range n.Entries {
		if n.Entries[i].LinkNameOffset == nameOffset {
			return &n.Entries[i]
		}
	}
	return nil
}

// List returns the entries ordered by link-name offset.
func (n *SymbolTableNode) List() []core.SymbolTableEntry {
	out := make([]core.SymbolTableEntry, len(n.Entries))
	copy(out, n.Entries)
	sort.Slice(out, func(i, j int) bool { return out[i].LinkNameOffset < out[j].LinkNameOffset })
	return out
}

// Full reports whether the node is at capacity.
func (n *SymbolTableNode) Full() bool {
	return n.NumSymbols >= n.capacity
}

// SNODDiskSize returns the fixed on-disk size of a SNOD block: header plus
// capacity entries.
func SNODDiskSize(leafK uint16, offsetSize uint8) uint64 {
	return 8 + uint64(2*leafK)*uint64(core.EntrySize(offsetSize))
}

// WriteAt serializes the node padded to its full capacity.
func (n *SymbolTableNode) WriteAt(w io.WriterAt, address uint64, sb *core.Superblock) error {
	entrySize := core.EntrySize(sb.OffsetSize)
	buf := make([]byte, 8+int(n.capacity)*entrySize)

	copy(buf[0:4], snodSignature)
	buf[4] = n.Version
	sb.Endianness.PutUint16(buf[6:8], n.NumSymbols)

	pos := 8
	for i := range n.Entries {
		used, err := core.EncodeSymbolTableEntry(buf[pos:], &n.Entries[i], sb)
		if err != nil {
			return err
		}
		pos += used
	}

	if _, err := w.WriteAt(buf, int64(address)); err != nil {
		return utils.WrapError("SNOD write failed", err)
	}
	return nil
}
