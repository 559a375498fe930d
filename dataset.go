package hdf5

import (
	"fmt"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/utils"
	"github.com/h5works/hdf5/internal/writer"
)

// Dataset is one dataset of the hierarchy. Its datatype and dataspace live
// inside its object header; the dataset owns its raw-data region.
type Dataset struct {
	file       *File
	name       string
	headerAddr uint64
	header     *core.ObjectHeader
	dtype      *core.Datatype
	dspace     *core.Dataspace
	layout     *core.DataLayout
	pipeline   *core.FilterPipeline
	fill       *core.FillValue
	modTime    *core.ModificationTime
	attrs      []*Attribute

	// Write-mode state.
	headerBlockSize uint32
	chunkTree       *structures.ChunkBTree
	pendingAttrs    []*core.Attribute
	written         uint64
}

// Name returns the dataset's link name.
func (d *Dataset) Name() string {
	return d.name
}

// Attributes returns the dataset's attributes.
func (d *Dataset) Attributes() []*Attribute {
	return d.attrs
}

// Datatype returns the dataset's element datatype.
func (d *Dataset) Datatype() *core.Datatype {
	return d.dtype
}

// Dataspace returns the dataset's shape.
func (d *Dataset) Dataspace() *core.Dataspace {
	return d.dspace
}

// Layout returns the dataset's data layout message.
func (d *Dataset) Layout() *core.DataLayout {
	return d.layout
}

// Header returns the dataset's parsed object header (read mode only).
func (d *Dataset) Header() *core.ObjectHeader {
	return d.header
}

// loadDataset materializes a dataset from its parsed object header.
func loadDataset(f *File, name string, addr uint64, oh *core.ObjectHeader) (*Dataset, error) {
	d := &Dataset{file: f, name: name, headerAddr: addr, header: oh}
	d.attrs = loadAttributes(f, name, oh)

	if msg := oh.FindMessage(core.MsgDatatype); msg != nil {
		dt, _, err := core.ParseDatatype(msg.Data)
		if err != nil {
			return nil, utils.WrapError("datatype parse failed", err)
		}
		d.dtype = dt
	}
	if msg := oh.FindMessage(core.MsgDataspace); msg != nil {
		ds, err := core.ParseDataspace(msg.Data, f.sb)
		if err != nil {
			return nil, utils.WrapError("dataspace parse failed", err)
		}
		d.dspace = ds
	}
	if msg := oh.FindMessage(core.MsgDataLayout); msg != nil {
		layout, err := core.ParseDataLayout(msg.Data, f.sb)
		if err != nil {
			return nil, utils.WrapError("data layout parse failed", err)
		}
		d.layout = layout
	}
	if msg := oh.FindMessage(core.MsgFilterPipeline); msg != nil {
		fp, err := core.ParseFilterPipeline(msg.Data, f.sb)
		if err != nil {
			return nil, utils.WrapError("filter pipeline parse failed", err)
		}
		d.pipeline = fp
	}
	if msg := oh.FindMessage(core.MsgFillValue); msg != nil {
		fv, err := core.ParseFillValue(msg.Data, f.sb)
		if err == nil {
			d.fill = fv
		}
	} else if msg := oh.FindMessage(core.MsgFillValueOld); msg != nil {
		fv, err := core.ParseFillValueOld(msg.Data, f.sb)
		if err == nil {
			d.fill = fv
		}
	}
	if msg := oh.FindMessage(core.MsgModificationTime); msg != nil {
		mt, err := core.ParseModificationTime(msg.Data, f.sb)
		if err == nil {
			d.modTime = mt
		}
	}

	if d.dtype == nil || d.dspace == nil || d.layout == nil {
		return nil, utils.Corruptf("dataset %q lacks datatype, dataspace or layout", name)
	}
	f.datasets[addr] = d
	return d, nil
}

// Read returns a lazy, finite iterator over the dataset's elements in the
// dataspace's row-major order. The iterator is not restartable; Clone the
// cursor to read again.
func (d *Dataset) Read() (*Iterator, error) {
	if d.file.reader == nil {
		return nil, fmt.Errorf("dataset %q is not readable before the file is written", d.name)
	}
	if d.layout.Class == core.LayoutVirtual {
		// Virtual layouts are recognized but not resolved.
		return nil, fmt.Errorf("%w: virtual dataset layout", utils.ErrUnsupportedVersion)
	}

	it := &Iterator{
		ds:    d,
		total: d.dspace.ElementCount(),
	}
	if d.layout.Class == core.LayoutChunked {
		pipeline, err := writer.NewPipeline(d.pipeline, int(d.dtype.Size))
		if err != nil {
			return nil, err
		}
		it.pipeline = pipeline

		it.chunkRefs = map[string]structures.ChunkRef{}
		rank := len(d.dspace.Dimensions)
		err = structures.WalkChunks(d.file.reader, d.layout.ChunkBTreeAddress, rank,
			d.file.sb, func(ref structures.ChunkRef) error {
				it.chunkRefs[originKey(ref.Key.Offsets)] = ref
				return nil
			})
		if err != nil {
			return nil, err
		}
	}
	return it, nil
}

// Iterator yields decoded elements one at a time. Dropping the cursor
// cancels the read; nothing on disk changes on the read path.
type Iterator struct {
	ds    *Dataset
	total uint64
	index uint64

	// Contiguous and compact layouts: the raw region, loaded on first use.
	data   []byte
	loaded bool

	// Chunked layouts.
	pipeline    *writer.Pipeline
	chunkRefs   map[string]structures.ChunkRef
	cacheOrigin string
	cacheData   []byte
}

// Clone returns an independent cursor positioned at the same element.
func (it *Iterator) Clone() *Iterator {
	dup := *it
	return &dup
}

// Remaining returns how many elements are left.
func (it *Iterator) Remaining() uint64 {
	return it.total - it.index
}

// Next yields the next element. ok is false once the sequence is exhausted.
func (it *Iterator) Next() (value any, ok bool, err error) {
	if it.index >= it.total {
		return nil, false, nil
	}

	raw, err := it.elementBytes(it.index)
	if err != nil {
		return nil, false, err
	}

	f := it.ds.file
	value, err = f.registry.DecodeElement(it.ds.dtype, raw, f.gheap.Resolver(f.reader))
	if err != nil {
		return nil, false, err
	}
	it.index++
	return value, true, nil
}

func (it *Iterator) elementBytes(index uint64) ([]byte, error) {
	d := it.ds
	size := uint64(d.dtype.Size)

	switch d.layout.Class {
	case core.LayoutCompact:
		if (index+1)*size > uint64(len(d.layout.CompactData)) {
			return nil, fmt.Errorf("%w: compact data holds %d bytes", utils.ErrTruncatedBuffer, len(d.layout.CompactData))
		}
		return d.layout.CompactData[index*size : (index+1)*size], nil

	case core.LayoutContiguous:
		if !it.loaded {
			it.data = make([]byte, d.layout.DataSize)
			if _, err := d.file.reader.ReadAt(it.data, int64(d.layout.DataAddress)); err != nil {
				return nil, utils.WrapError("raw data read failed", err)
			}
			it.loaded = true
		}
		if (index+1)*size > uint64(len(it.data)) {
			return nil, fmt.Errorf("%w: raw region holds %d bytes", utils.ErrTruncatedBuffer, len(it.data))
		}
		return it.data[index*size : (index+1)*size], nil

	case core.LayoutChunked:
		return it.chunkedElementBytes(index)

	default:
		return nil, fmt.Errorf("%w: layout class %d", utils.ErrUnsupportedVersion, d.layout.Class)
	}
}

// chunkedElementBytes maps a flat row-major element index to its chunk and
// intra-chunk position, decoding the chunk through the filter pipeline on
// first touch.
func (it *Iterator) chunkedElementBytes(index uint64) ([]byte, error) {
	d := it.ds
	dims := d.dspace.Dimensions
	chunkDims := d.layout.ChunkDims
	size := uint64(d.dtype.Size)

	coords := unflattenIndex(index, dims)
	origin := make([]uint64, len(coords))
	intra := make([]uint64, len(coords))
	for i := range coords {
		cd := uint64(chunkDims[i])
		origin[i] = coords[i] / cd * cd
		intra[i] = coords[i] - origin[i]
	}

	key := originKey(origin)
	if it.cacheOrigin != key {
		ref, ok := it.chunkRefs[key]
		if !ok {
			return nil, fmt.Errorf("%w: no chunk at %v", utils.ErrOrphanedEntry, origin)
		}
		stored := make([]byte, ref.Key.Size)
		if _, err := d.file.reader.ReadAt(stored, int64(ref.Address)); err != nil {
			return nil, utils.WrapError("chunk read failed", err)
		}
		decoded, err := it.pipeline.Decode(stored, ref.Key.FilterMask)
		if err != nil {
			return nil, err
		}
		it.cacheData = decoded
		it.cacheOrigin = key
	}

	// Row-major offset within the chunk.
	var offset uint64
	for i := range intra {
		offset = offset*uint64(chunkDims[i]) + intra[i]
	}
	start := offset * size
	if start+size > uint64(len(it.cacheData)) {
		return nil, fmt.Errorf("%w: chunk holds %d bytes, element needs [%d,%d)",
			utils.ErrTruncatedBuffer, len(it.cacheData), start, start+size)
	}
	return it.cacheData[start : start+size], nil
}

// unflattenIndex converts a flat row-major index to per-dimension
// coordinates.
func unflattenIndex(index uint64, dims []uint64) []uint64 {
	coords := make([]uint64, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		coords[i] = index % dims[i]
		index /= dims[i]
	}
	return coords
}

func originKey(origin []uint64) string {
	return fmt.Sprint(origin)
}

// ReadFloat64s drains a fresh iterator into a float64 slice.
func (d *Dataset) ReadFloat64s() ([]float64, error) {
	it, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, it.Remaining())
	for {
		v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		f, isFloat := v.(float64)
		if !isFloat {
			return nil, fmt.Errorf("%w: element %T is not float64", utils.ErrTypeMismatch, v)
		}
		out = append(out, f)
	}
}

// ReadInt64s drains a fresh iterator into an int64 slice, accepting any
// fixed-point signedness that fits.
func (d *Dataset) ReadInt64s() ([]int64, error) {
	it, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, it.Remaining())
	for {
		v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		switch n := v.(type) {
		case int64:
			out = append(out, n)
		case uint64:
			if n > 1<<63-1 {
				return nil, fmt.Errorf("%w: %d does not fit int64", utils.ErrOutOfRange, n)
			}
			out = append(out, int64(n))
		default:
			return nil, fmt.Errorf("%w: element %T is not an integer", utils.ErrTypeMismatch, v)
		}
	}
}

// ReadStrings drains a fresh iterator into a string slice.
func (d *Dataset) ReadStrings() ([]string, error) {
	it, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, it.Remaining())
	for {
		v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("%w: element %T is not a string", utils.ErrTypeMismatch, v)
		}
		out = append(out, s)
	}
}

// ReadRecords drains a fresh iterator over a compound dataset.
func (d *Dataset) ReadRecords() ([]*core.DynamicRecord, error) {
	it, err := d.Read()
	if err != nil {
		return nil, err
	}
	out := make([]*core.DynamicRecord, 0, it.Remaining())
	for {
		v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		rec, isRec := v.(*core.DynamicRecord)
		if !isRec {
			return nil, fmt.Errorf("%w: element %T is not a record", utils.ErrTypeMismatch, v)
		}
		out = append(out, rec)
	}
}
