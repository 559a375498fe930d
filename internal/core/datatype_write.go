package core

import (
	"encoding/binary"
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// Encode serializes the datatype message, the byte-for-byte inverse of
// ParseDatatype for every supported class and member-layout version.
func (dt *Datatype) Encode() ([]byte, error) {
	props, err := dt.encodeProps()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 8+len(props))
	classAndVersion := uint32(dt.Class) | uint32(dt.Version)<<4 | dt.BitField<<8
	binary.LittleEndian.PutUint32(buf[0:4], classAndVersion)
	binary.LittleEndian.PutUint32(buf[4:8], dt.Size)
	copy(buf[8:], props)
	return buf, nil
}

func (dt *Datatype) encodeProps() ([]byte, error) {
	switch dt.Class {
	case DatatypeFixed:
		if dt.Fixed == nil {
			return nil, fmt.Errorf("fixed-point datatype without properties")
		}
		props := make([]byte, 4)
		binary.LittleEndian.PutUint16(props[0:2], dt.Fixed.BitOffset)
		binary.LittleEndian.PutUint16(props[2:4], dt.Fixed.BitPrecision)
		return props, nil

	case DatatypeFloat:
		if dt.Float == nil {
			return nil, fmt.Errorf("floating-point datatype without properties")
		}
		props := make([]byte, 12)
		binary.LittleEndian.PutUint16(props[0:2], dt.Float.BitOffset)
		binary.LittleEndian.PutUint16(props[2:4], dt.Float.BitPrecision)
		props[4] = dt.Float.ExponentLocation
		props[5] = dt.Float.ExponentSize
		props[6] = dt.Float.MantissaLocation
		props[7] = dt.Float.MantissaSize
		binary.LittleEndian.PutUint32(props[8:12], dt.Float.ExponentBias)
		return props, nil

	case DatatypeTime:
		if dt.Time == nil {
			return nil, fmt.Errorf("time datatype without properties")
		}
		props := make([]byte, 2)
		binary.LittleEndian.PutUint16(props, dt.Time.BitPrecision)
		return props, nil

	case DatatypeString, DatatypeReference:
		return nil, nil

	case DatatypeBitfield:
		if dt.Bits == nil {
			return nil, fmt.Errorf("bitfield datatype without properties")
		}
		props := make([]byte, 4)
		binary.LittleEndian.PutUint16(props[0:2], dt.Bits.BitOffset)
		binary.LittleEndian.PutUint16(props[2:4], dt.Bits.BitPrecision)
		return props, nil

	case DatatypeOpaque:
		if dt.Opaque == nil {
			return nil, fmt.Errorf("opaque datatype without tag")
		}
		tagLen := len(dt.Opaque.Tag) + 1
		if tagLen > 256 {
			return nil, fmt.Errorf("%w: opaque tag of %d bytes", utils.ErrOutOfRange, tagLen)
		}
		props := make([]byte, tagLen+utils.PadTo8(tagLen))
		copy(props, dt.Opaque.Tag)
		return props, nil

	case DatatypeCompound:
		return dt.encodeCompoundProps()

	case DatatypeEnum:
		return dt.encodeEnumProps()

	case DatatypeVarLen:
		if dt.VarLen == nil || dt.VarLen.Base == nil {
			return nil, fmt.Errorf("vlen datatype without base type")
		}
		return dt.VarLen.Base.Encode()

	case DatatypeArray:
		return dt.encodeArrayProps()

	default:
		return nil, fmt.Errorf("%w: datatype class %d", utils.ErrUnsupportedVersion, dt.Class)
	}
}

func (dt *Datatype) encodeCompoundProps() ([]byte, error) {
	if dt.Compound == nil {
		return nil, fmt.Errorf("compound datatype without members")
	}
	var props []byte
	for i := range dt.Compound.Members {
		m := &dt.Compound.Members[i]
		encoded, err := encodeCompoundMember(m, dt.Version, dt.Size)
		if err != nil {
			return nil, fmt.Errorf("compound member %q: %w", m.Name, err)
		}
		props = append(props, encoded...)
	}
	return props, nil
}

func encodeCompoundMember(m *CompoundMember, version uint8, compoundSize uint32) ([]byte, error) {
	name := encodeMemberName(m.Name, version < 3)

	nested, err := m.Type.Encode()
	if err != nil {
		return nil, err
	}

	switch version {
	case 1:
		fields := make([]byte, 40)
		binary.LittleEndian.PutUint32(fields[0:4], m.Offset)
		fields[4] = m.Dimensionality
		for d := 0; d < 4; d++ {
			binary.LittleEndian.PutUint32(fields[16+4*d:20+4*d], m.DimSizes[d])
		}
		out := append(name, fields[:32]...)
		return append(out, nested...), nil
	case 2:
		fields := make([]byte, 4)
		binary.LittleEndian.PutUint32(fields, m.Offset)
		out := append(name, fields...)
		return append(out, nested...), nil
	case 3:
		width := offsetWidth(compoundSize)
		fields := make([]byte, width)
		_ = utils.WriteUint(fields, uint64(m.Offset), width, binary.LittleEndian)
		out := append(name, fields...)
		return append(out, nested...), nil
	default:
		return nil, fmt.Errorf("%w: compound member version %d", utils.ErrUnsupportedVersion, version)
	}
}

func (dt *Datatype) encodeEnumProps() ([]byte, error) {
	if dt.Enum == nil || dt.Enum.Base == nil {
		return nil, fmt.Errorf("enum datatype without base type")
	}
	if len(dt.Enum.Names) != len(dt.Enum.Values) {
		return nil, fmt.Errorf("enum has %d names but %d values", len(dt.Enum.Names), len(dt.Enum.Values))
	}

	props, err := dt.Enum.Base.Encode()
	if err != nil {
		return nil, err
	}
	for _, name := range dt.Enum.Names {
		props = append(props, encodeMemberName(name, dt.Version < 3)...)
	}
	for i, v := range dt.Enum.Values {
		if uint32(len(v)) != dt.Enum.Base.Size {
			return nil, fmt.Errorf("enum value %d is %d bytes, base size is %d", i, len(v), dt.Enum.Base.Size)
		}
		props = append(props, v...)
	}
	return props, nil
}

func (dt *Datatype) encodeArrayProps() ([]byte, error) {
	if dt.Array == nil || dt.Array.Base == nil {
		return nil, fmt.Errorf("array datatype without base type")
	}

	var props []byte
	props = append(props, uint8(len(dt.Array.Dims)))
	if dt.Version == 2 {
		props = append(props, 0, 0, 0)
	}
	for _, d := range dt.Array.Dims {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], d)
		props = append(props, b[:]...)
	}
	if dt.Version == 2 {
		// Permutation indices, identity order.
		for i := range dt.Array.Dims {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(i))
			props = append(props, b[:]...)
		}
	}
	nested, err := dt.Array.Base.Encode()
	if err != nil {
		return nil, err
	}
	return append(props, nested...), nil
}

func encodeMemberName(name string, padded bool) []byte {
	n := len(name) + 1
	if padded {
		n += utils.PadTo8(n)
	}
	buf := make([]byte, n)
	copy(buf, name)
	return buf
}

// --- Constructors for the datatypes the writer emits ---

// NewFixed builds a fixed-point datatype of size bytes.
func NewFixed(size uint32, signed bool) *Datatype {
	bitField := uint32(0) // little-endian
	if signed {
		bitField |= 0x08
	}
	return &Datatype{
		Class:    DatatypeFixed,
		Version:  1,
		BitField: bitField,
		Size:     size,
		Fixed:    &FixedPointInfo{BitPrecision: uint16(size * 8)},
	}
}

// NewFloat builds an IEEE 754 floating-point datatype of size 2, 4 or 8.
func NewFloat(size uint32) (*Datatype, error) {
	info := &FloatInfo{BitPrecision: uint16(size * 8)}
	switch size {
	case 2:
		info.ExponentLocation = 10
		info.ExponentSize = 5
		info.MantissaSize = 10
		info.ExponentBias = 15
	case 4:
		info.ExponentLocation = 23
		info.ExponentSize = 8
		info.MantissaSize = 23
		info.ExponentBias = 127
	case 8:
		info.ExponentLocation = 52
		info.ExponentSize = 11
		info.MantissaSize = 52
		info.ExponentBias = 1023
	default:
		return nil, fmt.Errorf("unsupported float size: %d", size)
	}
	return &Datatype{
		Class:    DatatypeFloat,
		Version:  1,
		BitField: 0x20 | (size*8-1)<<8, // implied mantissa MSB; sign bit location (bits 8-15) at the MSB
		Size:     size,
		Float:    info,
	}, nil
}

// NewFixedString builds a fixed-length string datatype with the given
// padding mode and size.
func NewFixedString(size uint32, padding uint8) *Datatype {
	return &Datatype{
		Class:    DatatypeString,
		Version:  1,
		BitField: uint32(padding) & 0x0F,
		Size:     size,
	}
}

// NewVarLenString builds a variable-length string datatype. Elements are
// 16-byte global heap pointers.
func NewVarLenString() *Datatype {
	base := NewFixedString(1, PadNullTerminate)
	return &Datatype{
		Class:    DatatypeVarLen,
		Version:  1,
		BitField: 0x01, // vlen type = string
		Size:     16,
		VarLen:   &VarLenInfo{Base: base, IsString: true},
	}
}

// NewEnum builds an enum datatype over base with the given names and native
// integer values.
func NewEnum(base *Datatype, names []string, values []uint64) (*Datatype, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("enum has %d names but %d values", len(names), len(values))
	}
	info := &EnumInfo{Base: base, Names: names}
	for _, v := range values {
		raw := make([]byte, base.Size)
		_ = utils.WriteUint(raw, v, int(base.Size), base.ByteOrder())
		info.Values = append(info.Values, raw)
	}
	return &Datatype{
		Class:    DatatypeEnum,
		Version:  1,
		BitField: uint32(len(names)) & 0xFFFF,
		Size:     base.Size,
		Enum:     info,
	}, nil
}
