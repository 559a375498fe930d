package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// FillValue is the decoded Fill Value message (type 5) or old fill value
// message (type 4).
type FillValue struct {
	Version        uint8
	SpaceAllocTime uint8
	WriteTime      uint8
	Defined        bool
	Value          []byte
}

// ParseFillValue decodes a new-style fill value message, versions 1-3.
//
//	V1/V2: version, space alloc time, write time, defined flag,
//	       [size u32 + value when defined (always present in v1)]
//	V3:    version, flags byte packing the three fields,
//	       [size u32 + value when flag bit 5 set]
func ParseFillValue(data []byte, sb *Superblock) (*FillValue, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: fill value message", utils.ErrTruncatedBuffer)
	}

	fv := &FillValue{Version: data[0]}
	switch fv.Version {
	case 1, 2:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: fill value header", utils.ErrTruncatedBuffer)
		}
		fv.SpaceAllocTime = data[1]
		fv.WriteTime = data[2]
		fv.Defined = data[3] != 0
		if fv.Version == 1 || fv.Defined {
			if len(data) < 8 {
				return nil, fmt.Errorf("%w: fill value size", utils.ErrTruncatedBuffer)
			}
			n := int(sb.Endianness.Uint32(data[4:8]))
			if 8+n > len(data) {
				return nil, fmt.Errorf("%w: fill value of %d bytes", utils.ErrTruncatedBuffer, n)
			}
			fv.Value = append([]byte(nil), data[8:8+n]...)
		}
	case 3:
		// Flag layout per the format specification: bits 0-1 space alloc
		// time, bits 2-3 write time, bit 4 undefined, bit 5 defined.
		flags := data[1]
		fv.SpaceAllocTime = flags & 0x03
		fv.WriteTime = (flags >> 2) & 0x03
		undefined := flags&0x10 != 0
		fv.Defined = flags&0x20 != 0
		if undefined && fv.Defined {
			return nil, utils.Corruptf("fill value marked both defined and undefined")
		}
		if fv.Defined {
			if len(data) < 6 {
				return nil, fmt.Errorf("%w: fill value size", utils.ErrTruncatedBuffer)
			}
			n := int(sb.Endianness.Uint32(data[2:6]))
			if 6+n > len(data) {
				return nil, fmt.Errorf("%w: fill value of %d bytes", utils.ErrTruncatedBuffer, n)
			}
			fv.Value = append([]byte(nil), data[6:6+n]...)
		}
	default:
		return nil, fmt.Errorf("%w: fill value version %d", utils.ErrUnsupportedVersion, fv.Version)
	}

	return fv, nil
}

// ParseFillValueOld decodes the deprecated type 4 message: size u32 + bytes.
func ParseFillValueOld(data []byte, sb *Superblock) (*FillValue, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: old fill value message", utils.ErrTruncatedBuffer)
	}
	n := int(sb.Endianness.Uint32(data[0:4]))
	if 4+n > len(data) {
		return nil, fmt.Errorf("%w: old fill value of %d bytes", utils.ErrTruncatedBuffer, n)
	}
	return &FillValue{
		Defined: n > 0,
		Value:   append([]byte(nil), data[4:4+n]...),
	}, nil
}

// Encode serializes a version 2 fill value message.
func (fv *FillValue) Encode(sb *Superblock) []byte {
	defined := byte(0)
	if fv.Defined {
		defined = 1
	}
	if !fv.Defined {
		return []byte{2, fv.SpaceAllocTime, fv.WriteTime, defined}
	}
	buf := make([]byte, 8+len(fv.Value))
	buf[0] = 2
	buf[1] = fv.SpaceAllocTime
	buf[2] = fv.WriteTime
	buf[3] = defined
	sb.Endianness.PutUint32(buf[4:8], uint32(len(fv.Value)))
	copy(buf[8:], fv.Value)
	return buf
}

// ModificationTime is the decoded Object Modification Time message (type
// 18): version byte, 3 reserved, seconds since the Unix epoch.
type ModificationTime struct {
	Seconds uint32
}

// ParseModificationTime decodes a type 18 message.
func ParseModificationTime(data []byte, sb *Superblock) (*ModificationTime, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: modification time message", utils.ErrTruncatedBuffer)
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("%w: modification time version %d", utils.ErrUnsupportedVersion, data[0])
	}
	return &ModificationTime{Seconds: sb.Endianness.Uint32(data[4:8])}, nil
}

// Encode serializes the message.
func (mt *ModificationTime) Encode(sb *Superblock) []byte {
	buf := make([]byte, 8)
	buf[0] = 1
	sb.Endianness.PutUint32(buf[4:8], mt.Seconds)
	return buf
}
