package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// DataLayoutClass identifies how raw dataset data is stored.
type DataLayoutClass uint8

// Data layout storage classes.
const (
	LayoutCompact    DataLayoutClass = 0
	LayoutContiguous DataLayoutClass = 1
	LayoutChunked    DataLayoutClass = 2
	LayoutVirtual    DataLayoutClass = 3
)

// DataLayout is the decoded Data Layout message (versions 1-4).
type DataLayout struct {
	Version uint8
	Class   DataLayoutClass

	// Contiguous.
	DataAddress uint64
	DataSize    uint64

	// Chunked: address of the chunk B-tree root plus the per-chunk shape.
	// ChunkDims excludes the trailing element-size dimension; ElementSize
	// carries it.
	ChunkBTreeAddress uint64
	ChunkDims         []uint32
	ElementSize       uint32

	// Compact.
	CompactData []byte

	// Virtual: global heap location of the source mapping records.
	VirtualHeapAddress uint64
	VirtualIndex       uint32
}

// ParseDataLayout decodes a Data Layout message.
func ParseDataLayout(data []byte, sb *Superblock) (*DataLayout, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: data layout message", utils.ErrTruncatedBuffer)
	}

	version := data[0]
	switch version {
	case 1, 2:
		return parseLayoutV1V2(data, sb)
	case 3:
		return parseLayoutV3(data, sb)
	case 4:
		return parseLayoutV4(data, sb)
	default:
		return nil, fmt.Errorf("%w: data layout version %d", utils.ErrUnsupportedVersion, version)
	}
}

// parseLayoutV1V2 handles the old layout with the dimensionality byte before
// the class byte and a 5-byte reserved block.
func parseLayoutV1V2(data []byte, sb *Superblock) (*DataLayout, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: v1/v2 layout header", utils.ErrTruncatedBuffer)
	}
	layout := &DataLayout{Version: data[0], Class: DataLayoutClass(data[2])}
	ndims := int(data[1])
	pos := 8

	if layout.Class == LayoutContiguous || layout.Class == LayoutChunked {
		addr, err := utils.ReadUint(data[pos:], int(sb.OffsetSize), sb.Endianness)
		if err != nil {
			return nil, err
		}
		pos += int(sb.OffsetSize)
		if layout.Class == LayoutContiguous {
			layout.DataAddress = addr
		} else {
			layout.ChunkBTreeAddress = addr
		}
	}

	dims := make([]uint32, 0, ndims)
	for i := 0; i < ndims; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: layout dimension %d", utils.ErrTruncatedBuffer, i)
		}
		dims = append(dims, sb.Endianness.Uint32(data[pos:pos+4]))
		pos += 4
	}

	switch layout.Class {
	case LayoutContiguous:
		size := uint64(1)
		for _, d := range dims {
			size *= uint64(d)
		}
		layout.DataSize = size
	case LayoutChunked:
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: chunked element size", utils.ErrTruncatedBuffer)
		}
		layout.ChunkDims = dims
		layout.ElementSize = sb.Endianness.Uint32(data[pos : pos+4])
		pos += 4
	case LayoutCompact:
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: compact data size", utils.ErrTruncatedBuffer)
		}
		n := int(sb.Endianness.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+n > len(data) {
			return nil, fmt.Errorf("%w: compact data", utils.ErrTruncatedBuffer)
		}
		layout.CompactData = append([]byte(nil), data[pos:pos+n]...)
		layout.DataSize = uint64(n)
	}

	return layout, nil
}

func parseLayoutV3(data []byte, sb *Superblock) (*DataLayout, error) {
	layout := &DataLayout{Version: 3, Class: DataLayoutClass(data[1])}
	pos := 2

	switch layout.Class {
	case LayoutCompact:
		if pos+2 > len(data) {
			return nil, fmt.Errorf("%w: compact size", utils.ErrTruncatedBuffer)
		}
		n := int(sb.Endianness.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+n > len(data) {
			return nil, fmt.Errorf("%w: compact data of %d bytes", utils.ErrTruncatedBuffer, n)
		}
		layout.CompactData = append([]byte(nil), data[pos:pos+n]...)
		layout.DataSize = uint64(n)

	case LayoutContiguous:
		addr, err := utils.ReadUint(data[pos:], int(sb.OffsetSize), sb.Endianness)
		if err != nil {
			return nil, err
		}
		pos += int(sb.OffsetSize)
		size, err := utils.ReadUint(data[pos:], int(sb.LengthSize), sb.Endianness)
		if err != nil {
			return nil, err
		}
		layout.DataAddress = addr
		layout.DataSize = size

	case LayoutChunked:
		if pos+1 > len(data) {
			return nil, fmt.Errorf("%w: chunked dimensionality", utils.ErrTruncatedBuffer)
		}
		// Dimensionality counts the trailing element-size dimension.
		ndims := int(data[pos])
		pos++
		addr, err := utils.ReadUint(data[pos:], int(sb.OffsetSize), sb.Endianness)
		if err != nil {
			return nil, err
		}
		layout.ChunkBTreeAddress = addr
		pos += int(sb.OffsetSize)

		if ndims < 1 {
			return nil, utils.Corruptf("chunked layout with dimensionality %d", ndims)
		}
		for i := 0; i < ndims-1; i++ {
			if pos+4 > len(data) {
				return nil, fmt.Errorf("%w: chunk dimension %d", utils.ErrTruncatedBuffer, i)
			}
			layout.ChunkDims = append(layout.ChunkDims, sb.Endianness.Uint32(data[pos:pos+4]))
			pos += 4
		}
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: chunk element size", utils.ErrTruncatedBuffer)
		}
		layout.ElementSize = sb.Endianness.Uint32(data[pos : pos+4])

	case LayoutVirtual:
		return nil, fmt.Errorf("%w: virtual layout requires version 4", utils.ErrUnsupportedVersion)

	default:
		return nil, fmt.Errorf("%w: layout class %d", utils.ErrUnsupportedVersion, layout.Class)
	}

	return layout, nil
}

func parseLayoutV4(data []byte, sb *Superblock) (*DataLayout, error) {
	layout := &DataLayout{Version: 4, Class: DataLayoutClass(data[1])}
	pos := 2

	switch layout.Class {
	case LayoutCompact, LayoutContiguous:
		// Identical to v3.
		v3, err := parseLayoutV3(append([]byte{3}, data[1:]...), sb)
		if err != nil {
			return nil, err
		}
		v3.Version = 4
		return v3, nil

	case LayoutChunked:
		if pos+2 > len(data) {
			return nil, fmt.Errorf("%w: v4 chunked header", utils.ErrTruncatedBuffer)
		}
		pos++ // flags
		ndims := int(data[pos])
		pos++
		if pos+1 > len(data) {
			return nil, fmt.Errorf("%w: v4 chunk dim encoding", utils.ErrTruncatedBuffer)
		}
		encWidth := int(data[pos])
		pos++
		for i := 0; i < ndims; i++ {
			v, err := utils.ReadUint(data[pos:], encWidth, sb.Endianness)
			if err != nil {
				return nil, fmt.Errorf("v4 chunk dimension %d: %w", i, err)
			}
			layout.ChunkDims = append(layout.ChunkDims, uint32(v))
			pos += encWidth
		}
		if pos+1 > len(data) {
			return nil, fmt.Errorf("%w: v4 chunk index type", utils.ErrTruncatedBuffer)
		}
		indexType := data[pos]
		pos++
		if indexType != 1 { // 1 = single chunk; B-tree v2 and friends unsupported
			return nil, fmt.Errorf("%w: v4 chunk index type %d", utils.ErrUnsupportedVersion, indexType)
		}
		addr, err := utils.ReadUint(data[pos:], int(sb.OffsetSize), sb.Endianness)
		if err != nil {
			return nil, err
		}
		layout.ChunkBTreeAddress = addr
		return layout, nil

	case LayoutVirtual:
		addr, err := utils.ReadUint(data[pos:], int(sb.OffsetSize), sb.Endianness)
		if err != nil {
			return nil, err
		}
		pos += int(sb.OffsetSize)
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: virtual layout index", utils.ErrTruncatedBuffer)
		}
		layout.VirtualHeapAddress = addr
		layout.VirtualIndex = sb.Endianness.Uint32(data[pos : pos+4])
		return layout, nil

	default:
		return nil, fmt.Errorf("%w: layout class %d", utils.ErrUnsupportedVersion, layout.Class)
	}
}

// Encode serializes the layout as a version 3 message. Contiguous and
// chunked classes are written; compact layouts embed their data inline.
func (layout *DataLayout) Encode(sb *Superblock) ([]byte, error) {
	switch layout.Class {
	case LayoutContiguous:
		buf := make([]byte, 2+int(sb.OffsetSize)+int(sb.LengthSize))
		buf[0] = 3
		buf[1] = byte(LayoutContiguous)
		_ = utils.WriteUint(buf[2:], layout.DataAddress, int(sb.OffsetSize), sb.Endianness)
		_ = utils.WriteUint(buf[2+int(sb.OffsetSize):], layout.DataSize, int(sb.LengthSize), sb.Endianness)
		return buf, nil

	case LayoutChunked:
		ndims := len(layout.ChunkDims) + 1 // trailing element-size dimension
		buf := make([]byte, 3+int(sb.OffsetSize)+4*ndims)
		buf[0] = 3
		buf[1] = byte(LayoutChunked)
		buf[2] = byte(ndims)
		pos := 3
		_ = utils.WriteUint(buf[pos:], layout.ChunkBTreeAddress, int(sb.OffsetSize), sb.Endianness)
		pos += int(sb.OffsetSize)
		for _, d := range layout.ChunkDims {
			sb.Endianness.PutUint32(buf[pos:pos+4], d)
			pos += 4
		}
		sb.Endianness.PutUint32(buf[pos:pos+4], layout.ElementSize)
		return buf, nil

	case LayoutCompact:
		if len(layout.CompactData) > 0xFFFF {
			return nil, fmt.Errorf("%w: compact data of %d bytes", utils.ErrOutOfRange, len(layout.CompactData))
		}
		buf := make([]byte, 4+len(layout.CompactData))
		buf[0] = 3
		buf[1] = byte(LayoutCompact)
		sb.Endianness.PutUint16(buf[2:4], uint16(len(layout.CompactData)))
		copy(buf[4:], layout.CompactData)
		return buf, nil

	default:
		return nil, fmt.Errorf("%w: layout class %d is not written", utils.ErrUnsupportedVersion, layout.Class)
	}
}
