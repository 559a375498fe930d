package hdf5

import (
	"fmt"
	"strings"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/utils"
	"github.com/h5works/hdf5/internal/writer"
)

// Message-area budget for dynamically created group headers. The root
// group's budget is the reserved RootHeaderBlockSize.
const groupHeaderBlockSize = 240

// CreateGroup declares a subgroup. Its metadata blocks are allocated
// immediately so the parent can link it; contents are serialized on Close.
func (g *Group) CreateGroup(name string) (*Group, error) {
	f := g.file
	if !f.writeMode {
		return nil, fmt.Errorf("file is not open for writing")
	}
	if err := validateLinkName(name); err != nil {
		return nil, err
	}

	alloc := f.fw.Allocator()
	headerAddr, err := alloc.AllocateObjectHeader(groupHeaderBlockSize)
	if err != nil {
		return nil, err
	}
	btreeAddr, err := alloc.Allocate(structures.GroupBTreeDiskSize(f.sb.GroupInternalK, f.sb))
	if err != nil {
		return nil, err
	}
	heapAddr, err := alloc.Allocate(32 + writer.RootHeapSegmentSize)
	if err != nil {
		return nil, err
	}

	heap := structures.NewLocalHeap(writer.RootHeapSegmentSize)
	heap.HeaderAddress = heapAddr
	heap.DataSegmentAddress = heapAddr + 32

	child := &Group{
		file:            f,
		name:            name,
		headerAddr:      headerAddr,
		headerBlockSize: groupHeaderBlockSize,
		heap:            heap,
		btree:           structures.NewGroupBTree(btreeAddr, f.sb),
	}

	entry := core.SymbolTableEntry{
		ObjectAddress:   headerAddr,
		CacheType:       core.CacheStab,
		CachedBTreeAddr: btreeAddr,
		CachedHeapAddr:  heapAddr,
	}
	if err := g.link(name, entry); err != nil {
		return nil, err
	}

	f.groups = append(f.groups, child)
	g.children = append(g.children, child)
	return child, nil
}

// link reserves the name in the group's local heap and inserts the entry in
// the group B-tree. Heap growth relocates the data segment through the
// allocator; indexed offsets never move within the segment.
func (g *Group) link(name string, entry core.SymbolTableEntry) error {
	offset, err := g.heap.Reserve(name, g.file.fw.Allocator().ExpandLocalHeap)
	if err != nil {
		return utils.WrapError("link name reservation failed", err)
	}
	entry.LinkNameOffset = offset
	return g.btree.Insert(name, entry)
}

func validateLinkName(name string) error {
	if name == "" {
		return fmt.Errorf("link name must not be empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("link name %q must not contain '/'", name)
	}
	return nil
}

// SetAttribute attaches a named value to the group; the datatype is
// inferred from the value.
func (g *Group) SetAttribute(name string, value any) error {
	if !g.file.writeMode {
		return fmt.Errorf("file is not open for writing")
	}
	attr, err := buildAttribute(g.file, name, value)
	if err != nil {
		return err
	}
	g.pendingAttrs = append(g.pendingAttrs, attr)
	return nil
}

// headerMessages builds the group's object header stream: its symbol table
// message followed by any attributes.
func (g *Group) headerMessages() ([]*core.HeaderMessage, error) {
	st := &core.SymbolTableMessage{
		BTreeAddress:     g.btree.RootAddress,
		LocalHeapAddress: g.heap.HeaderAddress,
	}
	msgs := []*core.HeaderMessage{
		{Type: core.MsgSymbolTable, Data: st.Encode(g.file.sb)},
	}
	for _, attr := range g.pendingAttrs {
		data, err := attr.Encode(g.file.sb)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &core.HeaderMessage{Type: core.MsgAttribute, Data: data})
	}
	return msgs, nil
}

// buildAttribute infers a datatype from value and encodes a scalar (or
// string) attribute.
func buildAttribute(f *File, name string, value any) (*core.Attribute, error) {
	var dt *core.Datatype
	switch v := value.(type) {
	case string:
		dt = core.NewFixedString(uint32(len(v)+1), core.PadNullTerminate)
	case float64:
		var err error
		dt, err = core.NewFloat(8)
		if err != nil {
			return nil, err
		}
	case float32:
		var err error
		dt, err = core.NewFloat(4)
		if err != nil {
			return nil, err
		}
	case int, int64:
		dt = core.NewFixed(8, true)
	case int32:
		dt = core.NewFixed(4, true)
	case uint64:
		dt = core.NewFixed(8, false)
	case uint32:
		dt = core.NewFixed(4, false)
	default:
		return nil, fmt.Errorf("%w: attribute from %T", utils.ErrTypeMismatch, value)
	}

	raw := make([]byte, dt.Size)
	if err := f.registry.EncodeElement(dt, value, raw, f.gheap); err != nil {
		return nil, err
	}

	return &core.Attribute{
		Version:   1,
		Name:      name,
		Datatype:  dt,
		Dataspace: &core.Dataspace{Version: 1, Dimensions: []uint64{1}},
		Value:     raw,
	}, nil
}
