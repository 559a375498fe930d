package hdf5

import (
	"fmt"
	"time"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/utils"
)

// DatasetOption tunes a dataset declaration.
type DatasetOption func(*datasetSpec)

type datasetSpec struct {
	layoutClass core.DataLayoutClass
	chunkDims   []uint32
	filters     []core.FilterEntry
	fill        []byte
}

// WithChunking stores the dataset as fixed-shape tiles indexed by a chunk
// B-tree.
func WithChunking(chunkDims []uint32) DatasetOption {
	return func(s *datasetSpec) {
		s.layoutClass = core.LayoutChunked
		s.chunkDims = chunkDims
	}
}

// WithCompact stores the raw data inline in the object header.
func WithCompact() DatasetOption {
	return func(s *datasetSpec) { s.layoutClass = core.LayoutCompact }
}

// WithDeflate appends the deflate filter at the given level (0-9).
func WithDeflate(level int) DatasetOption {
	return func(s *datasetSpec) {
		s.filters = append(s.filters, core.FilterEntry{
			ID:         core.FilterDeflate,
			Flags:      1, // optional
			ClientData: []uint32{uint32(level)},
		})
	}
}

// WithShuffle prepends byte shuffling ahead of compression.
func WithShuffle() DatasetOption {
	return func(s *datasetSpec) { s.filters = append([]core.FilterEntry{{ID: core.FilterShuffle}}, s.filters...) }
}

// WithFletcher32 appends a fletcher32 checksum stage.
func WithFletcher32() DatasetOption {
	return func(s *datasetSpec) { s.filters = append(s.filters, core.FilterEntry{ID: core.FilterFletcher32}) }
}

// WithFillValue declares a defined fill value in the dataset's element
// encoding.
func WithFillValue(raw []byte) DatasetOption {
	return func(s *datasetSpec) { s.fill = append([]byte(nil), raw...) }
}

// CreateDataset declares a dataset under the group with the given element
// datatype and dataspace dimensions. The default layout is contiguous with
// raw storage allocated up front; WriteElements fills it before Close.
func (g *Group) CreateDataset(name string, dt *core.Datatype, dims []uint64, opts ...DatasetOption) (*Dataset, error) {
	f := g.file
	if !f.writeMode {
		return nil, fmt.Errorf("file is not open for writing")
	}
	if err := validateLinkName(name); err != nil {
		return nil, err
	}
	if dt == nil {
		return nil, fmt.Errorf("dataset %q needs a datatype", name)
	}
	if len(dims) == 0 || len(dims) > core.MaxRank {
		return nil, fmt.Errorf("dataset %q rank %d out of range", name, len(dims))
	}

	spec := &datasetSpec{layoutClass: core.LayoutContiguous}
	for _, opt := range opts {
		opt(spec)
	}
	if len(spec.filters) > 0 && spec.layoutClass != core.LayoutChunked {
		return nil, fmt.Errorf("dataset %q: filters require a chunked layout", name)
	}

	alloc := f.fw.Allocator()
	headerAddr, err := alloc.AllocateObjectHeader(uint64(f.opts.DatasetHeaderSize))
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		file:            f,
		name:            name,
		headerAddr:      headerAddr,
		headerBlockSize: f.opts.DatasetHeaderSize,
		dtype:           dt,
		dspace:          &core.Dataspace{Version: 1, Dimensions: append([]uint64(nil), dims...)},
		modTime:         &core.ModificationTime{Seconds: uint32(time.Now().Unix())},
	}
	if spec.fill != nil {
		d.fill = &core.FillValue{Version: 2, Defined: true, Value: spec.fill}
	}

	total := d.dspace.ElementCount() * uint64(dt.Size)

	switch spec.layoutClass {
	case core.LayoutContiguous:
		d.layout = &core.DataLayout{Version: 3, Class: core.LayoutContiguous, DataSize: total}
		d.layout.DataAddress = utils.UndefinedAddress
		if total > 0 {
			addr, err := alloc.AllocateRawData(total)
			if err != nil {
				return nil, err
			}
			d.layout.DataAddress = addr
		}

	case core.LayoutCompact:
		d.layout = &core.DataLayout{Version: 3, Class: core.LayoutCompact}

	case core.LayoutChunked:
		if len(spec.chunkDims) != len(dims) {
			return nil, fmt.Errorf("dataset %q: chunk rank %d does not match rank %d",
				name, len(spec.chunkDims), len(dims))
		}
		for i, cd := range spec.chunkDims {
			if cd == 0 {
				return nil, fmt.Errorf("dataset %q: chunk dimension %d is zero", name, i)
			}
		}
		rootAddr, err := alloc.Allocate(structures.ChunkBTreeDiskSize(f.sb.GroupInternalK, len(dims), f.sb))
		if err != nil {
			return nil, err
		}
		d.chunkTree = structures.NewChunkBTree(rootAddr, dims, f.sb)
		d.layout = &core.DataLayout{
			Version:           3,
			Class:             core.LayoutChunked,
			ChunkBTreeAddress: rootAddr,
			ChunkDims:         append([]uint32(nil), spec.chunkDims...),
			ElementSize:       dt.Size,
		}
		if len(spec.filters) > 0 {
			d.pipeline = &core.FilterPipeline{Version: 1, Filters: spec.filters}
		}

	default:
		return nil, fmt.Errorf("%w: layout class %d is not written", utils.ErrUnsupportedVersion, spec.layoutClass)
	}

	entry := core.SymbolTableEntry{ObjectAddress: headerAddr, CacheType: core.CacheNone}
	if err := g.link(name, entry); err != nil {
		return nil, err
	}

	f.datasets[headerAddr] = d
	f.ordered = append(f.ordered, d)
	g.children = append(g.children, d)
	return d, nil
}

// WriteElements streams native values into the dataset's raw storage in
// row-major order. Accepts typed slices ([]float64, []int64, []string, ...)
// or []any; elements are encoded through the file's converter registry.
func (d *Dataset) WriteElements(values any) error {
	f := d.file
	if !f.writeMode {
		return fmt.Errorf("file is not open for writing")
	}

	elems, err := normalizeValues(values)
	if err != nil {
		return err
	}
	total := d.dspace.ElementCount()
	if uint64(len(elems)) != total {
		return fmt.Errorf("%w: %d values for a dataspace of %d elements",
			utils.ErrTypeMismatch, len(elems), total)
	}

	size := uint64(d.dtype.Size)
	buf := make([]byte, total*size)
	for i, v := range elems {
		if err := f.registry.EncodeElement(d.dtype, v, buf[uint64(i)*size:], f.gheap); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return d.WriteRaw(buf)
}

// WriteRaw stores pre-encoded element bytes for the whole dataspace.
func (d *Dataset) WriteRaw(data []byte) error {
	f := d.file
	if !f.writeMode {
		return fmt.Errorf("file is not open for writing")
	}

	switch d.layout.Class {
	case core.LayoutContiguous:
		if uint64(len(data)) != d.layout.DataSize {
			return fmt.Errorf("%w: %d raw bytes for a %d-byte region",
				utils.ErrTypeMismatch, len(data), d.layout.DataSize)
		}
		if len(data) == 0 {
			return nil
		}
		if _, err := f.fw.WriteAt(data, int64(d.layout.DataAddress)); err != nil {
			return utils.WrapError("raw data write failed", err)
		}
		d.written = uint64(len(data))
		return nil

	case core.LayoutCompact:
		d.layout.CompactData = append([]byte(nil), data...)
		d.layout.DataSize = uint64(len(data))
		d.written = uint64(len(data))
		return nil

	case core.LayoutChunked:
		return d.writeChunkedRaw(data)

	default:
		return fmt.Errorf("%w: layout class %d", utils.ErrUnsupportedVersion, d.layout.Class)
	}
}

// headerMessages assembles the dataset's object header stream.
func (d *Dataset) headerMessages() ([]*core.HeaderMessage, error) {
	sb := d.file.sb

	dtBytes, err := d.dtype.Encode()
	if err != nil {
		return nil, err
	}
	dsBytes, err := d.dspace.Encode(sb)
	if err != nil {
		return nil, err
	}
	layoutBytes, err := d.layout.Encode(sb)
	if err != nil {
		return nil, err
	}

	fill := d.fill
	if fill == nil {
		fill = &core.FillValue{Version: 2, SpaceAllocTime: 2, WriteTime: 0}
	}

	msgs := []*core.HeaderMessage{
		{Type: core.MsgDatatype, Flags: core.FlagConstant, Data: dtBytes},
		{Type: core.MsgDataspace, Data: dsBytes},
		{Type: core.MsgFillValue, Flags: core.FlagConstant, Data: fill.Encode(sb)},
		{Type: core.MsgDataLayout, Data: layoutBytes},
	}
	if d.pipeline != nil {
		fpBytes, err := d.pipeline.Encode(sb)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &core.HeaderMessage{Type: core.MsgFilterPipeline, Flags: core.FlagConstant, Data: fpBytes})
	}
	if d.modTime != nil {
		msgs = append(msgs, &core.HeaderMessage{Type: core.MsgModificationTime, Data: d.modTime.Encode(sb)})
	}
	for _, attr := range d.pendingAttrs {
		data, err := attr.Encode(sb)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &core.HeaderMessage{Type: core.MsgAttribute, Data: data})
	}
	return msgs, nil
}

// SetAttribute attaches a named value to the dataset.
func (d *Dataset) SetAttribute(name string, value any) error {
	if !d.file.writeMode {
		return fmt.Errorf("file is not open for writing")
	}
	attr, err := buildAttribute(d.file, name, value)
	if err != nil {
		return err
	}
	d.pendingAttrs = append(d.pendingAttrs, attr)
	return nil
}

// normalizeValues widens a typed slice into []any for registry encoding.
func normalizeValues(values any) ([]any, error) {
	switch v := values.(type) {
	case []any:
		return v, nil
	case []float64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []float32:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []int64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []int32:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []uint64:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []uint16:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []int:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []*core.DynamicRecord:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: element slice from %T", utils.ErrTypeMismatch, values)
	}
}
