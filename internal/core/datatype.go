package core

import (
	"encoding/binary"
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// DatatypeClass represents an HDF5 datatype class.
type DatatypeClass uint8

// Datatype class constants from the format specification.
const (
	DatatypeFixed     DatatypeClass = 0  // Fixed-point (integers).
	DatatypeFloat     DatatypeClass = 1  // Floating-point.
	DatatypeTime      DatatypeClass = 2  // Time.
	DatatypeString    DatatypeClass = 3  // String.
	DatatypeBitfield  DatatypeClass = 4  // Bitfield.
	DatatypeOpaque    DatatypeClass = 5  // Opaque.
	DatatypeCompound  DatatypeClass = 6  // Compound.
	DatatypeReference DatatypeClass = 7  // Reference.
	DatatypeEnum      DatatypeClass = 8  // Enumerated.
	DatatypeVarLen    DatatypeClass = 9  // Variable-length.
	DatatypeArray     DatatypeClass = 10 // Array.
)

// String padding modes (string class bit field, bits 0-3).
const (
	PadNullTerminate = 0
	PadNull          = 1
	PadSpace         = 2
)

// Character sets (string class bit field, bits 4-7).
const (
	CharsetASCII = 0
	CharsetUTF8  = 1
)

// Reference types (reference class bit field, bits 0-3).
const (
	RefObject    = 0
	RefRegion    = 1
	RefAttribute = 2
)

// Datatype is the tagged description of one on-disk element's encoding.
// Exactly one class-specific pointer is non-nil for classes that carry
// properties; String and Reference are fully described by the bit field.
type Datatype struct {
	Class    DatatypeClass
	Version  uint8
	BitField uint32
	Size     uint32

	Fixed    *FixedPointInfo
	Float    *FloatInfo
	Time     *TimeInfo
	Bits     *BitfieldInfo
	Opaque   *OpaqueInfo
	Compound *CompoundInfo
	Enum     *EnumInfo
	VarLen   *VarLenInfo
	Array    *ArrayInfo
}

// FixedPointInfo holds fixed-point class properties.
type FixedPointInfo struct {
	BitOffset    uint16
	BitPrecision uint16
}

// FloatInfo holds floating-point class properties.
type FloatInfo struct {
	BitOffset        uint16
	BitPrecision     uint16
	ExponentLocation uint8
	ExponentSize     uint8
	MantissaLocation uint8
	MantissaSize     uint8
	ExponentBias     uint32
}

// TimeInfo holds time class properties.
type TimeInfo struct {
	BitPrecision uint16
}

// BitfieldInfo holds bitfield class properties.
type BitfieldInfo struct {
	BitOffset    uint16
	BitPrecision uint16
}

// OpaqueInfo holds the opaque class ASCII tag.
type OpaqueInfo struct {
	Tag string
}

// CompoundInfo owns the ordered member list of a compound datatype.
type CompoundInfo struct {
	Members []CompoundMember
}

// EnumInfo holds the enum base type and its named values. Values are raw
// base-type-sized byte strings in declaration order.
type EnumInfo struct {
	Base   *Datatype
	Names  []string
	Values [][]byte
}

// VarLenInfo holds the variable-length base type. IsString distinguishes
// vlen strings (bit field type 1) from vlen sequences.
type VarLenInfo struct {
	Base     *Datatype
	IsString bool
	Padding  uint8
	Charset  uint8
}

// ArrayInfo holds the array class dimensions and base type.
type ArrayInfo struct {
	Dims []uint32
	Base *Datatype
}

// ParseDatatype decodes a datatype message from data, returning the datatype
// and the number of bytes consumed (needed when datatypes nest inside
// compound, enum, vlen and array properties).
func ParseDatatype(data []byte) (*Datatype, int, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("%w: datatype message needs 8 bytes, have %d", utils.ErrTruncatedBuffer, len(data))
	}

	// Bytes 0-3: class (low nibble), version (high nibble), 24-bit bit field.
	classAndVersion := binary.LittleEndian.Uint32(data[0:4])
	class := DatatypeClass(classAndVersion & 0x0F)
	version := uint8((classAndVersion >> 4) & 0x0F)
	bitField := (classAndVersion >> 8) & 0x00FFFFFF
	size := binary.LittleEndian.Uint32(data[4:8])

	if version == 0 || version > 3 {
		return nil, 0, fmt.Errorf("%w: datatype version %d", utils.ErrUnsupportedVersion, version)
	}

	dt := &Datatype{
		Class:    class,
		Version:  version,
		BitField: bitField,
		Size:     size,
	}

	props := data[8:]
	var used int
	var err error

	switch class {
	case DatatypeFixed:
		used, err = dt.parseFixedProps(props)
	case DatatypeFloat:
		used, err = dt.parseFloatProps(props)
	case DatatypeTime:
		used, err = dt.parseTimeProps(props)
	case DatatypeString:
		// Padding and charset live in the bit field; no properties.
	case DatatypeBitfield:
		used, err = dt.parseBitfieldProps(props)
	case DatatypeOpaque:
		used, err = dt.parseOpaqueProps(props)
	case DatatypeCompound:
		used, err = dt.parseCompoundProps(props)
	case DatatypeReference:
		// Reference type lives in the bit field; size is fixed by type.
	case DatatypeEnum:
		used, err = dt.parseEnumProps(props)
	case DatatypeVarLen:
		used, err = dt.parseVarLenProps(props)
	case DatatypeArray:
		used, err = dt.parseArrayProps(props)
	default:
		return nil, 0, fmt.Errorf("%w: datatype class %d", utils.ErrUnsupportedVersion, class)
	}
	if err != nil {
		return nil, 0, err
	}

	return dt, 8 + used, nil
}

func (dt *Datatype) parseFixedProps(props []byte) (int, error) {
	if len(props) < 4 {
		return 0, fmt.Errorf("%w: fixed-point properties", utils.ErrTruncatedBuffer)
	}
	dt.Fixed = &FixedPointInfo{
		BitOffset:    binary.LittleEndian.Uint16(props[0:2]),
		BitPrecision: binary.LittleEndian.Uint16(props[2:4]),
	}
	return 4, nil
}

func (dt *Datatype) parseFloatProps(props []byte) (int, error) {
	if len(props) < 12 {
		return 0, fmt.Errorf("%w: floating-point properties", utils.ErrTruncatedBuffer)
	}
	dt.Float = &FloatInfo{
		BitOffset:        binary.LittleEndian.Uint16(props[0:2]),
		BitPrecision:     binary.LittleEndian.Uint16(props[2:4]),
		ExponentLocation: props[4],
		ExponentSize:     props[5],
		MantissaLocation: props[6],
		MantissaSize:     props[7],
		ExponentBias:     binary.LittleEndian.Uint32(props[8:12]),
	}
	return 12, nil
}

func (dt *Datatype) parseTimeProps(props []byte) (int, error) {
	if len(props) < 2 {
		return 0, fmt.Errorf("%w: time properties", utils.ErrTruncatedBuffer)
	}
	dt.Time = &TimeInfo{BitPrecision: binary.LittleEndian.Uint16(props[0:2])}
	return 2, nil
}

func (dt *Datatype) parseBitfieldProps(props []byte) (int, error) {
	if len(props) < 4 {
		return 0, fmt.Errorf("%w: bitfield properties", utils.ErrTruncatedBuffer)
	}
	dt.Bits = &BitfieldInfo{
		BitOffset:    binary.LittleEndian.Uint16(props[0:2]),
		BitPrecision: binary.LittleEndian.Uint16(props[2:4]),
	}
	return 4, nil
}

func (dt *Datatype) parseOpaqueProps(props []byte) (int, error) {
	// Bit field bits 0-7: tag length including the terminating NUL, max 256.
	// The tag itself is stored padded to an 8-byte boundary.
	tagLen := int(dt.BitField & 0xFF)
	padded := tagLen + utils.PadTo8(tagLen)
	if tagLen == 0 || padded > len(props) {
		return 0, fmt.Errorf("%w: opaque tag of length %d", utils.ErrInvalidEncoding, tagLen)
	}
	tag, err := utils.ReadNullTerminated(props[:padded], 0)
	if err != nil {
		return 0, fmt.Errorf("%w: opaque tag not terminated", utils.ErrInvalidEncoding)
	}
	dt.Opaque = &OpaqueInfo{Tag: tag}
	return padded, nil
}

func (dt *Datatype) parseEnumProps(props []byte) (int, error) {
	base, used, err := ParseDatatype(props)
	if err != nil {
		return 0, utils.WrapError("enum base type parse failed", err)
	}

	count := int(dt.BitField & 0xFFFF)
	info := &EnumInfo{Base: base}
	pos := used

	for i := 0; i < count; i++ {
		name, n, err := readMemberName(props[pos:], dt.Version < 3)
		if err != nil {
			return 0, fmt.Errorf("enum member %d name: %w", i, err)
		}
		info.Names = append(info.Names, name)
		pos += n
	}
	for i := 0; i < count; i++ {
		if pos+int(base.Size) > len(props) {
			return 0, fmt.Errorf("%w: enum value %d", utils.ErrTruncatedBuffer, i)
		}
		v := make([]byte, base.Size)
		copy(v, props[pos:pos+int(base.Size)])
		info.Values = append(info.Values, v)
		pos += int(base.Size)
	}

	dt.Enum = info
	return pos, nil
}

func (dt *Datatype) parseVarLenProps(props []byte) (int, error) {
	base, used, err := ParseDatatype(props)
	if err != nil {
		return 0, utils.WrapError("vlen base type parse failed", err)
	}
	dt.VarLen = &VarLenInfo{
		Base:     base,
		IsString: dt.BitField&0x0F == 1,
		Padding:  uint8((dt.BitField >> 4) & 0x0F),
		Charset:  uint8((dt.BitField >> 8) & 0x0F),
	}
	return used, nil
}

func (dt *Datatype) parseArrayProps(props []byte) (int, error) {
	if len(props) < 1 {
		return 0, fmt.Errorf("%w: array properties", utils.ErrTruncatedBuffer)
	}
	ndims := int(props[0])
	pos := 1
	if dt.Version == 2 {
		pos += 3 // reserved
	}

	info := &ArrayInfo{}
	for i := 0; i < ndims; i++ {
		if pos+4 > len(props) {
			return 0, fmt.Errorf("%w: array dimension %d", utils.ErrTruncatedBuffer, i)
		}
		info.Dims = append(info.Dims, binary.LittleEndian.Uint32(props[pos:pos+4]))
		pos += 4
	}
	if dt.Version == 2 {
		pos += 4 * ndims // permutation indices, unused
	}

	base, used, err := ParseDatatype(props[pos:])
	if err != nil {
		return 0, utils.WrapError("array base type parse failed", err)
	}
	info.Base = base
	dt.Array = info
	return pos + used, nil
}

// ByteOrder returns the byte order encoded in bit 0 of the class bit field
// for numeric classes.
func (dt *Datatype) ByteOrder() binary.ByteOrder {
	if dt.BitField&0x01 == 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Signed reports the signedness of a fixed-point datatype (bit 3).
func (dt *Datatype) Signed() bool {
	return dt.Class == DatatypeFixed && dt.BitField&0x08 != 0
}

// StringPadding returns the padding mode for string datatypes (bits 0-3).
func (dt *Datatype) StringPadding() uint8 {
	return uint8(dt.BitField & 0x0F)
}

// Charset returns the character set for string datatypes (bits 4-7).
func (dt *Datatype) Charset() uint8 {
	return uint8((dt.BitField >> 4) & 0x0F)
}

// ReferenceType returns the reference flavor (bits 0-3).
func (dt *Datatype) ReferenceType() uint8 {
	return uint8(dt.BitField & 0x0F)
}

// SizeInBytes returns the on-disk element size.
func (dt *Datatype) SizeInBytes() uint32 {
	return dt.Size
}

// RequiresGlobalHeap reports whether element data indirects into the global
// heap: variable-length payloads, and region or attribute references.
func (dt *Datatype) RequiresGlobalHeap() bool {
	switch dt.Class {
	case DatatypeVarLen:
		return true
	case DatatypeReference:
		return dt.ReferenceType() != RefObject
	case DatatypeCompound:
		for _, m := range dt.Compound.Members {
			if m.Type.RequiresGlobalHeap() {
				return true
			}
		}
	}
	return false
}

// String returns a human-readable datatype description.
func (dt *Datatype) String() string {
	var name string
	switch dt.Class {
	case DatatypeFixed:
		if dt.Signed() {
			name = "integer"
		} else {
			name = "unsigned integer"
		}
	case DatatypeFloat:
		name = "float"
	case DatatypeTime:
		name = "time"
	case DatatypeString:
		name = "string"
	case DatatypeBitfield:
		name = "bitfield"
	case DatatypeOpaque:
		name = fmt.Sprintf("opaque(%q)", dt.Opaque.Tag)
	case DatatypeCompound:
		name = fmt.Sprintf("compound[%d]", len(dt.Compound.Members))
	case DatatypeReference:
		name = "reference"
	case DatatypeEnum:
		name = "enum"
	case DatatypeVarLen:
		name = "vlen"
	case DatatypeArray:
		name = "array"
	default:
		name = fmt.Sprintf("class_%d", dt.Class)
	}
	return fmt.Sprintf("%s (size=%d bytes)", name, dt.Size)
}
