package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// Attribute is a decoded Attribute message (type 12): a named value with its
// own embedded datatype and dataspace.
type Attribute struct {
	Version   uint8
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Value     []byte
}

// ParseAttribute decodes an attribute message, versions 1-3.
//
// V1 layout:
//
//	Byte 0:    Version (1)
//	Byte 1:    Reserved
//	Bytes 2-3: Name size (including NUL)
//	Bytes 4-5: Datatype message size
//	Bytes 6-7: Dataspace message size
//	Name, datatype and dataspace each padded to 8 bytes; value follows.
//
// V2 drops the padding; v3 inserts a name character-set byte.
func ParseAttribute(data []byte, sb *Superblock) (*Attribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: attribute message", utils.ErrTruncatedBuffer)
	}

	attr := &Attribute{Version: data[0]}
	if attr.Version < 1 || attr.Version > 3 {
		return nil, fmt.Errorf("%w: attribute version %d", utils.ErrUnsupportedVersion, attr.Version)
	}

	nameSize := int(sb.Endianness.Uint16(data[2:4]))
	dtSize := int(sb.Endianness.Uint16(data[4:6]))
	dsSize := int(sb.Endianness.Uint16(data[6:8]))

	pos := 8
	if attr.Version == 3 {
		pos++ // name character set
	}
	padded := attr.Version == 1

	sectionLen := func(n int) int {
		if padded {
			return n + utils.PadTo8(n)
		}
		return n
	}

	if pos+sectionLen(nameSize) > len(data) {
		return nil, fmt.Errorf("%w: attribute name", utils.ErrTruncatedBuffer)
	}
	name, err := utils.ReadNullTerminated(data[pos:pos+nameSize], 0)
	if err != nil {
		return nil, utils.WrapError("attribute name parse failed", err)
	}
	attr.Name = name
	pos += sectionLen(nameSize)

	if pos+sectionLen(dtSize) > len(data) {
		return nil, fmt.Errorf("%w: attribute datatype", utils.ErrTruncatedBuffer)
	}
	dt, _, err := ParseDatatype(data[pos : pos+dtSize])
	if err != nil {
		return nil, utils.WrapError("attribute datatype parse failed", err)
	}
	attr.Datatype = dt
	pos += sectionLen(dtSize)

	if pos+sectionLen(dsSize) > len(data) {
		return nil, fmt.Errorf("%w: attribute dataspace", utils.ErrTruncatedBuffer)
	}
	ds, err := ParseDataspace(data[pos:pos+dsSize], sb)
	if err != nil {
		return nil, utils.WrapError("attribute dataspace parse failed", err)
	}
	attr.Dataspace = ds
	pos += sectionLen(dsSize)

	attr.Value = append([]byte(nil), data[pos:]...)
	return attr, nil
}

// Encode serializes a version 1 attribute message. The embedded datatype
// and dataspace sizes are computed from the encoded sections, never assumed
// constant.
func (attr *Attribute) Encode(sb *Superblock) ([]byte, error) {
	dtBytes, err := attr.Datatype.Encode()
	if err != nil {
		return nil, utils.WrapError("attribute datatype encode failed", err)
	}
	dsBytes, err := attr.Dataspace.Encode(sb)
	if err != nil {
		return nil, utils.WrapError("attribute dataspace encode failed", err)
	}

	nameSize := len(attr.Name) + 1
	if nameSize > 0xFFFF || len(dtBytes) > 0xFFFF || len(dsBytes) > 0xFFFF {
		return nil, fmt.Errorf("%w: attribute sections too large", utils.ErrOutOfRange)
	}

	buf := make([]byte, 8)
	buf[0] = 1
	sb.Endianness.PutUint16(buf[2:4], uint16(nameSize))
	sb.Endianness.PutUint16(buf[4:6], uint16(len(dtBytes)))
	sb.Endianness.PutUint16(buf[6:8], uint16(len(dsBytes)))

	appendPadded := func(b []byte) {
		buf = append(buf, b...)
		buf = append(buf, make([]byte, utils.PadTo8(len(b)))...)
	}
	nameBytes := make([]byte, nameSize)
	copy(nameBytes, attr.Name)
	appendPadded(nameBytes)
	appendPadded(dtBytes)
	appendPadded(dsBytes)

	buf = append(buf, attr.Value...)
	return buf, nil
}

// DecodeValue decodes the attribute's raw value through the registry,
// returning one value when the space holds a single element and a slice
// otherwise.
func (attr *Attribute) DecodeValue(reg *Registry, heap HeapResolver) (any, error) {
	count := attr.Dataspace.ElementCount()
	size := attr.Datatype.Size
	if uint64(len(attr.Value)) < count*uint64(size) {
		return nil, fmt.Errorf("%w: attribute value holds %d bytes, needs %d",
			utils.ErrTruncatedBuffer, len(attr.Value), count*uint64(size))
	}
	if count == 1 {
		return reg.DecodeElement(attr.Datatype, attr.Value, heap)
	}
	out := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := reg.DecodeElement(attr.Datatype, attr.Value[i*uint64(size):], heap)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
