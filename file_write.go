package hdf5

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/writer"
)

// CreateMode specifies how to create a new file.
type CreateMode int

const (
	// CreateTruncate creates a new file, overwriting an existing one.
	CreateTruncate CreateMode = iota

	// CreateExclusive creates a new file, failing if it already exists.
	CreateExclusive
)

// Create creates a new HDF5 file for writing. Datasets and groups are
// declared through the returned File; Close serializes all metadata and
// finalizes the superblock. Nothing is final until Close returns nil.
func Create(filename string, mode CreateMode, opts ...Option) (*File, error) {
	o := buildOptions(opts)

	var writerMode writer.CreateMode
	switch mode {
	case CreateTruncate:
		writerMode = writer.ModeTruncate
	case CreateExclusive:
		writerMode = writer.ModeExclusive
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}

	sb := core.NewSuperblockV0()
	layout := writer.ComputeLayout(
		structures.GroupBTreeDiskSize(sb.GroupInternalK, sb),
		uint64(o.DatasetHeaderSize),
	)

	fw, err := writer.NewFileWriter(filename, writerMode, layout.FirstDatasetHeader, o.MaxFileSize)
	if err != nil {
		return nil, errors.Wrap(err, "create writer")
	}
	return newWriteFile(sb, layout, fw, o), nil
}

// CreateMemory builds a file image in memory. Bytes returns the image after
// Close.
func CreateMemory(opts ...Option) *File {
	o := buildOptions(opts)
	sb := core.NewSuperblockV0()
	layout := writer.ComputeLayout(
		structures.GroupBTreeDiskSize(sb.GroupInternalK, sb),
		uint64(o.DatasetHeaderSize),
	)
	fw := writer.NewBufferWriter(layout.FirstDatasetHeader, o.MaxFileSize)
	return newWriteFile(sb, layout, fw, o)
}

func newWriteFile(sb *core.Superblock, layout writer.Layout, fw *writer.FileWriter, o *Options) *File {
	f := &File{
		sb:        sb,
		fw:        fw,
		layout:    layout,
		writeMode: true,
		registry:  core.NewRegistry(),
		opts:      o,
		datasets:  map[uint64]*Dataset{},
	}
	f.gheap = core.NewGlobalHeapWriter(sb, fw.Allocator().AllocateGlobalHeapCollection)

	rootHeap := structures.NewLocalHeap(writer.RootHeapSegmentSize)
	rootHeap.DataSegmentAddress = layout.RootHeapSegment
	f.root = &Group{
		file:            f,
		name:            "/",
		headerAddr:      layout.RootObjectHeader,
		headerBlockSize: writer.RootHeaderBlockSize,
		heap:            rootHeap,
		btree:           structures.NewGroupBTree(layout.RootBTree, sb),
	}
	f.groups = []*Group{f.root}
	return f
}

// Bytes returns the in-memory image after Close when the file was built
// with CreateMemory.
func (f *File) Bytes() ([]byte, bool) {
	if f.fw == nil {
		return nil, false
	}
	return f.fw.Bytes()
}

// commit serializes all metadata in order: dataset object headers and chunk
// trees, group heaps, B-trees and headers, global heap collections, and
// finally the superblock, followed by a flush of the channel. Any failure
// other than that last flush aborts before the superblock is written,
// leaving the partial file unreadable rather than inconsistent.
func (f *File) commit() error {
	f.writeMode = false
	alloc := f.fw.Allocator().Allocate

	// Phase 1: dataset object headers; continuations are promoted as
	// message streams outgrow their reserved blocks.
	for _, d := range f.ordered {
		if d.chunkTree != nil {
			if err := d.chunkTree.WriteTo(f.fw, alloc); err != nil {
				return errors.Wrapf(err, "dataset %q chunk tree", d.name)
			}
		}
		msgs, err := d.headerMessages()
		if err != nil {
			return errors.Wrapf(err, "dataset %q messages", d.name)
		}
		if _, err := core.WriteObjectHeaderV1(f.fw, d.headerAddr, d.headerBlockSize, msgs, 1, f.sb, alloc); err != nil {
			return errors.Wrapf(err, "dataset %q header", d.name)
		}
	}

	// Phase 2: pack each group's local heap and bulk-load its B-tree; the
	// heap data segment keeps any relocated address it acquired while
	// growing.
	for _, g := range f.groups {
		heapAddr := g.heap.HeaderAddress
		if heapAddr == 0 {
			if g == f.root {
				heapAddr = f.layout.RootHeapHeader
			} else {
				return errors.Errorf("group %q heap has no reserved address", g.name)
			}
		}
		if err := g.heap.WriteTo(f.fw, heapAddr); err != nil {
			return errors.Wrapf(err, "group %q heap", g.name)
		}
		if err := g.btree.WriteTo(f.fw, alloc); err != nil {
			return errors.Wrapf(err, "group %q B-tree", g.name)
		}

		msgs, err := g.headerMessages()
		if err != nil {
			return errors.Wrapf(err, "group %q messages", g.name)
		}
		if _, err := core.WriteObjectHeaderV1(f.fw, g.headerAddr, g.headerBlockSize, msgs, 1, f.sb, alloc); err != nil {
			return errors.Wrapf(err, "group %q header", g.name)
		}
	}

	// Phase 3: flush dirty global heap collections.
	if err := f.gheap.Flush(f.fw); err != nil {
		return errors.Wrap(err, "global heap flush")
	}

	// Phase 4: finalize the superblock with the allocator's end of file.
	f.sb.EndOfFileAddress = f.fw.EndOfFile()
	f.sb.RootEntry = core.SymbolTableEntry{
		ObjectAddress:   f.layout.RootObjectHeader,
		CacheType:       core.CacheStab,
		CachedBTreeAddr: f.layout.RootBTree,
		CachedHeapAddr:  f.layout.RootHeapHeader,
	}
	if err := f.fw.ValidateLayout(); err != nil {
		return errors.Wrap(err, "allocator validation")
	}
	if err := f.sb.WriteTo(f.fw); err != nil {
		return errors.Wrap(err, "superblock write")
	}

	return errors.Wrap(f.fw.Flush(), "flush")
}
