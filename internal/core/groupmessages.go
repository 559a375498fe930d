package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// SymbolTableMessage (type 17) marks an object header as a group and points
// at its B-tree and local heap.
type SymbolTableMessage struct {
	BTreeAddress     uint64
	LocalHeapAddress uint64
}

// ParseSymbolTableMessage decodes a symbol table message.
func ParseSymbolTableMessage(data []byte, sb *Superblock) (*SymbolTableMessage, error) {
	need := int(sb.OffsetSize) * 2
	if len(data) < need {
		return nil, fmt.Errorf("%w: symbol table message needs %d bytes, have %d",
			utils.ErrTruncatedBuffer, need, len(data))
	}
	btree, err := utils.ReadUint(data, int(sb.OffsetSize), sb.Endianness)
	if err != nil {
		return nil, err
	}
	heap, err := utils.ReadUint(data[sb.OffsetSize:], int(sb.OffsetSize), sb.Endianness)
	if err != nil {
		return nil, err
	}
	return &SymbolTableMessage{BTreeAddress: btree, LocalHeapAddress: heap}, nil
}

// Encode serializes the symbol table message.
func (st *SymbolTableMessage) Encode(sb *Superblock) []byte {
	buf := make([]byte, int(sb.OffsetSize)*2)
	_ = utils.WriteUint(buf, st.BTreeAddress, int(sb.OffsetSize), sb.Endianness)
	_ = utils.WriteUint(buf[sb.OffsetSize:], st.LocalHeapAddress, int(sb.OffsetSize), sb.Endianness)
	return buf
}

// BTreeKValues (type 19) overrides the superblock's B-tree split ratios for
// one object.
type BTreeKValues struct {
	IndexedStorageK uint16
	GroupInternalK  uint16
	GroupLeafK      uint16
}

// ParseBTreeKValues decodes a B-tree K values message.
func ParseBTreeKValues(data []byte, sb *Superblock) (*BTreeKValues, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: b-tree K values message", utils.ErrTruncatedBuffer)
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: b-tree K values version %d", utils.ErrUnsupportedVersion, data[0])
	}
	return &BTreeKValues{
		IndexedStorageK: sb.Endianness.Uint16(data[2:4]),
		GroupInternalK:  sb.Endianness.Uint16(data[4:6]),
		GroupLeafK:      sb.Endianness.Uint16(data[6:8]),
	}, nil
}

// RefCountMessage (type 22) carries the object's hard reference count.
type RefCountMessage struct {
	Count uint32
}

// ParseRefCount decodes an object reference count message.
func ParseRefCount(data []byte, sb *Superblock) (*RefCountMessage, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: reference count message", utils.ErrTruncatedBuffer)
	}
	if data[0] != 0 {
		return nil, fmt.Errorf("%w: reference count version %d", utils.ErrUnsupportedVersion, data[0])
	}
	return &RefCountMessage{Count: sb.Endianness.Uint32(data[1:5])}, nil
}
