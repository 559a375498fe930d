// Package hdf5 reads and writes HDF5 files in pure Go. It covers the
// version 0/1 superblock family with v1 object headers (plus v2 header
// reading), the full datatype system, local and global heaps, v1 B-trees,
// and a deterministic write path whose output external HDF5 tooling reads.
package hdf5

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
	"github.com/h5works/hdf5/internal/writer"
)

// Object is one node of the file hierarchy: a Group or a Dataset.
type Object interface {
	Name() string
	Attributes() []*Attribute
}

// Warning is a downgraded per-object failure collected in lenient mode.
type Warning struct {
	Path string
	Err  error
}

// File is an open HDF5 file. It exclusively owns the superblock, the root
// group descriptor, the file-space allocator (write mode), the global heap
// cache, and the converter registry.
type File struct {
	reader   io.ReaderAt
	closer   io.Closer
	sb       *core.Superblock
	root     *Group
	registry *core.Registry
	gheap    *core.GlobalHeap
	opts     *Options
	warnings []Warning

	// Write-mode state.
	fw        *writer.FileWriter
	layout    writer.Layout
	writeMode bool
	datasets  map[uint64]*Dataset // open datasets indexed by header address
	ordered   []*Dataset          // creation order, for deterministic commits
	groups    []*Group
	closed    bool
}

// Open opens an existing HDF5 file for reading and materializes its
// hierarchy of groups and datasets.
func Open(filename string, opts ...Option) (*File, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}

	file, err := OpenReader(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	file.closer = f
	return file, nil
}

// OpenReader opens an HDF5 image from any positioned reader. The caller
// keeps ownership of r's lifetime unless it was opened through Open.
func OpenReader(r io.ReaderAt, opts ...Option) (*File, error) {
	sb, err := core.ReadSuperblock(r)
	if err != nil {
		return nil, utils.WrapError("superblock read failed", err)
	}

	file := &File{
		reader:   r,
		sb:       sb,
		registry: core.NewRegistry(),
		gheap:    core.NewGlobalHeap(sb),
		opts:     buildOptions(opts),
		datasets: map[uint64]*Dataset{},
	}

	rootAddr := sb.RootEntry.ObjectAddress
	if rootAddr != 0 && !utils.IsUndefined(rootAddr, int(sb.OffsetSize)) &&
		sb.EndOfFileAddress > 0 && rootAddr >= sb.EndOfFileAddress {
		return nil, fmt.Errorf("%w: root object header at %d beyond end of file %d",
			utils.ErrCorruptStructure, rootAddr, sb.EndOfFileAddress)
	}

	visited := map[uint64]bool{}
	root, err := loadGroup(file, "/", rootAddr, visited)
	if err != nil {
		return nil, utils.WrapError("root group load failed", err)
	}
	root.name = "/"
	file.root = root
	return file, nil
}

// Root returns the root group.
func (f *File) Root() *Group {
	return f.root
}

// Superblock returns the file's superblock metadata.
func (f *File) Superblock() *core.Superblock {
	return f.sb
}

// Registry returns the file's converter registry. Callers may register
// additional element converters before reading.
func (f *File) Registry() *core.Registry {
	return f.registry
}

// Warnings returns the per-object failures downgraded in lenient mode.
func (f *File) Warnings() []Warning {
	return f.warnings
}

// Reader returns the underlying positioned reader.
func (f *File) Reader() io.ReaderAt {
	return f.reader
}

// Walk traverses the hierarchy depth-first, calling fn for every object.
func (f *File) Walk(fn func(path string, obj Object)) {
	walkGroup(f.root, "/", fn)
}

func walkGroup(g *Group, path string, fn func(string, Object)) {
	fn(path, g)
	for _, child := range g.Children() {
		childPath := path + child.Name()
		if childGroup, ok := child.(*Group); ok {
			walkGroup(childGroup, childPath+"/", fn)
		} else {
			fn(childPath, child)
		}
	}
}

// Close releases the file. In write mode it first serializes all metadata;
// a failure there aborts before the superblock is finalized and is
// returned, never silently dropped. Safe to call more than once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}

	var commitErr error
	if f.writeMode {
		commitErr = f.commit()
	}

	f.closed = true
	if f.closer != nil {
		if err := f.closer.Close(); err != nil && commitErr == nil {
			commitErr = err
		}
		f.closer = nil
	} else if f.fw != nil && !f.writeMode {
		_ = f.fw.Close()
	}
	return commitErr
}

// warn records a downgraded failure and logs it.
func (f *File) warn(path string, err error) {
	f.warnings = append(f.warnings, Warning{Path: path, Err: err})
	f.opts.Logger.WithFields(logrus.Fields{
		"path":  path,
		"error": err,
	}).Warn("object downgraded in lenient mode")
}
