package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// Maximum dataspace rank permitted by the format.
const MaxRank = 32

// Dataspace flag bits.
const (
	DataspaceMaxDims     = 0x01
	DataspacePermutation = 0x02
)

// Dataspace describes the dimensionality and shape of a dataset or
// attribute.
//
// V1 message layout:
//
//	Byte 0:    Version (1)
//	Byte 1:    Dimensionality (0-32)
//	Byte 2:    Flags (bit 0: max dims present, bit 1: permutation present)
//	Bytes 3-7: Reserved
//	Then dimensionality u64 sizes, then optional max sizes.
//
// V2 drops the reserved block to one type byte and has no permutation
// indices.
type Dataspace struct {
	Version    uint8
	Flags      uint8
	Dimensions []uint64
	MaxDims    []uint64
}

// ParseDataspace decodes a dataspace message.
func ParseDataspace(data []byte, sb *Superblock) (*Dataspace, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: dataspace message", utils.ErrTruncatedBuffer)
	}

	version := data[0]
	rank := int(data[1])
	if rank > MaxRank {
		return nil, utils.Corruptf("dataspace rank %d exceeds %d", rank, MaxRank)
	}

	ds := &Dataspace{Version: version}
	var pos int
	switch version {
	case 1:
		if len(data) < 8 {
			return nil, fmt.Errorf("%w: v1 dataspace header", utils.ErrTruncatedBuffer)
		}
		ds.Flags = data[2]
		pos = 8
	case 2:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: v2 dataspace header", utils.ErrTruncatedBuffer)
		}
		ds.Flags = data[2]
		pos = 4
	default:
		return nil, fmt.Errorf("%w: dataspace version %d", utils.ErrUnsupportedVersion, version)
	}

	width := int(sb.LengthSize)
	for i := 0; i < rank; i++ {
		v, err := utils.ReadUint(data[pos:], width, sb.Endianness)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}
		ds.Dimensions = append(ds.Dimensions, v)
		pos += width
	}
	if ds.Flags&DataspaceMaxDims != 0 {
		for i := 0; i < rank; i++ {
			v, err := utils.ReadUint(data[pos:], width, sb.Endianness)
			if err != nil {
				return nil, fmt.Errorf("max dimension %d: %w", i, err)
			}
			ds.MaxDims = append(ds.MaxDims, v)
			pos += width
		}
	}

	return ds, nil
}

// Encode serializes the dataspace as a version 1 message. The message size
// is computed from the actual rank, never assumed constant.
func (ds *Dataspace) Encode(sb *Superblock) ([]byte, error) {
	rank := len(ds.Dimensions)
	if rank > MaxRank {
		return nil, utils.Corruptf("dataspace rank %d exceeds %d", rank, MaxRank)
	}
	if len(ds.MaxDims) > 0 && len(ds.MaxDims) != rank {
		return nil, fmt.Errorf("max dims rank %d does not match rank %d", len(ds.MaxDims), rank)
	}

	flags := uint8(0)
	if len(ds.MaxDims) > 0 {
		flags |= DataspaceMaxDims
	}

	width := int(sb.LengthSize)
	size := 8 + rank*width
	if len(ds.MaxDims) > 0 {
		size += rank * width
	}

	buf := make([]byte, size)
	buf[0] = 1
	buf[1] = uint8(rank)
	buf[2] = flags
	pos := 8
	for _, d := range ds.Dimensions {
		_ = utils.WriteUint(buf[pos:], d, width, sb.Endianness)
		pos += width
	}
	for _, d := range ds.MaxDims {
		_ = utils.WriteUint(buf[pos:], d, width, sb.Endianness)
		pos += width
	}
	return buf, nil
}

// ElementCount returns the total number of elements, 1 for scalar spaces.
func (ds *Dataspace) ElementCount() uint64 {
	count := uint64(1)
	for _, d := range ds.Dimensions {
		count *= d
	}
	return count
}
