package hdf5

import (
	"errors"
	"fmt"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/utils"
)

// Group is one group of the hierarchy. A group exclusively owns its local
// heap, its group B-tree, and its symbol table nodes.
type Group struct {
	file       *File
	name       string
	headerAddr uint64
	header     *core.ObjectHeader
	children   []Object
	attrs      []*Attribute

	// Write-mode state.
	heap            *structures.LocalHeap
	btree           *structures.GroupBTree
	headerBlockSize uint32
	pendingAttrs    []*core.Attribute
}

// Name returns the group's link name; the root group is "/".
func (g *Group) Name() string {
	return g.name
}

// Attributes returns the group's attributes.
func (g *Group) Attributes() []*Attribute {
	return g.attrs
}

// Header returns the group's parsed object header (read mode only).
func (g *Group) Header() *core.ObjectHeader {
	return g.header
}

// Children returns the group's members in link order.
func (g *Group) Children() []Object {
	return g.children
}

// Child returns the named member, or nil.
func (g *Group) Child(name string) Object {
	for _, c := range g.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Group returns the named member group.
func (g *Group) Group(name string) (*Group, error) {
	c := g.Child(name)
	if c == nil {
		return nil, fmt.Errorf("group %q not found", name)
	}
	sub, ok := c.(*Group)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a group", utils.ErrTypeMismatch, name)
	}
	return sub, nil
}

// Dataset returns the named member dataset.
func (g *Group) Dataset(name string) (*Dataset, error) {
	c := g.Child(name)
	if c == nil {
		return nil, fmt.Errorf("dataset %q not found", name)
	}
	ds, ok := c.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a dataset", utils.ErrTypeMismatch, name)
	}
	return ds, nil
}

// loadGroup reads the object header at addr and materializes the group and
// its members. visited guards against cyclic hierarchies: an object header
// address is entered at most once per descent.
func loadGroup(f *File, name string, addr uint64, visited map[uint64]bool) (*Group, error) {
	if visited[addr] {
		return nil, fmt.Errorf("%w: object header at %d revisited", utils.ErrCorruptStructure, addr)
	}
	visited[addr] = true

	oh, err := core.ParseObjectHeader(f.reader, addr, f.sb)
	if err != nil {
		return nil, err
	}
	if err := checkUnknownMessages(f, name, oh); err != nil {
		return nil, err
	}

	g := &Group{file: f, name: name, headerAddr: addr, header: oh}
	g.attrs = loadAttributes(f, name, oh)

	stMsg := oh.FindMessage(core.MsgSymbolTable)
	if stMsg == nil {
		// A group without a symbol table message has no old-style members
		// (new-style link storage is surfaced as an empty group).
		return g, nil
	}
	st, err := core.ParseSymbolTableMessage(stMsg.Data, f.sb)
	if err != nil {
		return nil, utils.WrapError("symbol table message parse failed", err)
	}

	heap, err := structures.LoadLocalHeap(f.reader, st.LocalHeapAddress, f.sb)
	if err != nil {
		return nil, utils.WrapError("local heap load failed", err)
	}

	entries, err := structures.ReadGroupBTreeEntries(f.reader, st.BTreeAddress,
		heap.DataSegmentSize, f.sb)
	if err != nil {
		return nil, utils.WrapError("group B-tree read failed", err)
	}

	for _, entry := range entries {
		childName, err := heap.GetString(entry.LinkNameOffset)
		if err != nil {
			if f.opts.Lenient {
				f.warn(name, err)
				continue
			}
			return nil, err
		}
		child, err := loadChild(f, childName, entry.ObjectAddress, visited)
		if err != nil {
			if f.opts.Lenient && downgradable(err) {
				f.warn(name+"/"+childName, err)
				continue
			}
			return nil, fmt.Errorf("child %q: %w", childName, err)
		}
		g.children = append(g.children, child)
	}

	return g, nil
}

// loadChild classifies the object at addr: a Data Layout message makes it a
// dataset, a Symbol Table message a group.
func loadChild(f *File, name string, addr uint64, visited map[uint64]bool) (Object, error) {
	oh, err := core.ParseObjectHeader(f.reader, addr, f.sb)
	if err != nil {
		return nil, err
	}
	if oh.FindMessage(core.MsgDataLayout) != nil {
		if err := checkUnknownMessages(f, name, oh); err != nil {
			return nil, err
		}
		return loadDataset(f, name, addr, oh)
	}
	return loadGroup(f, name, addr, visited)
}

// checkUnknownMessages applies the strict-mode policy to messages whose
// type was outside the supported set: flag bit 7 already failed the parse;
// the rest fail a strict open and are retained as opaque bytes in lenient
// mode.
func checkUnknownMessages(f *File, path string, oh *core.ObjectHeader) error {
	for _, msg := range oh.Messages {
		if !msg.Unknown {
			continue
		}
		err := fmt.Errorf("%w: type 0x%04X of %d bytes", utils.ErrUnknownMessage,
			uint16(msg.Type), len(msg.Data))
		if !f.opts.Lenient {
			return err
		}
		f.warn(path, err)
	}
	return nil
}

// downgradable reports whether lenient mode may keep going past err.
func downgradable(err error) bool {
	return errors.Is(err, utils.ErrUnknownMessage) ||
		errors.Is(err, utils.ErrCorruptStructure) ||
		errors.Is(err, utils.ErrUnsupportedVersion)
}

// loadAttributes decodes every attribute message on an object header.
func loadAttributes(f *File, path string, oh *core.ObjectHeader) []*Attribute {
	var attrs []*Attribute
	for _, msg := range oh.FindMessages(core.MsgAttribute) {
		attr, err := core.ParseAttribute(msg.Data, f.sb)
		if err != nil {
			if f.opts.Lenient {
				f.warn(path, err)
				continue
			}
			// Strict mode still keeps the object; a bad attribute is not a
			// structural failure of the tree.
			f.opts.Logger.WithField("path", path).WithError(err).Warn("attribute parse failed")
			continue
		}
		attrs = append(attrs, &Attribute{file: f, attr: attr})
	}
	return attrs
}

// Attribute is a named value attached to a group or dataset.
type Attribute struct {
	file *File
	attr *core.Attribute
}

// Name returns the attribute name.
func (a *Attribute) Name() string {
	return a.attr.Name
}

// Datatype returns the attribute's embedded datatype.
func (a *Attribute) Datatype() *core.Datatype {
	return a.attr.Datatype
}

// Value decodes the attribute's raw bytes: one value for single-element
// spaces, a slice otherwise.
func (a *Attribute) Value() (any, error) {
	var heap core.HeapResolver
	if a.file.reader != nil {
		heap = a.file.gheap.Resolver(a.file.reader)
	}
	return a.attr.DecodeValue(a.file.registry, heap)
}
