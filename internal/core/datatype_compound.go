package core

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/h5works/hdf5/internal/utils"
)

// CompoundMember is one named sub-field of a compound datatype at a fixed
// byte offset.
type CompoundMember struct {
	Name   string
	Offset uint32
	Type   *Datatype

	// V1 array metadata. Later member versions drop these; member arrays
	// become a nested Array datatype instead.
	Dimensionality uint8
	DimSizes       [4]uint32
}

// parseCompoundProps decodes the member list. The three member layouts:
//
//	v1: name NUL-padded to 8 bytes, offset u32, dimensionality u8,
//	    3 reserved, permutation u32, 4 reserved, dim sizes [4]u32, type
//	v2: name NUL-padded to 8 bytes, offset u32, type
//	v3: name unpadded NUL, offset sized to the minimum bytes that hold the
//	    compound's total size, type
func (dt *Datatype) parseCompoundProps(props []byte) (int, error) {
	count := int(dt.BitField & 0xFFFF)
	info := &CompoundInfo{}
	pos := 0

	for i := 0; i < count; i++ {
		m, used, err := parseCompoundMember(props[pos:], dt.Version, dt.Size)
		if err != nil {
			return 0, fmt.Errorf("compound member %d: %w", i, err)
		}
		info.Members = append(info.Members, *m)
		pos += used
	}

	dt.Compound = info
	if err := info.validate(dt.Size); err != nil {
		return 0, err
	}
	return pos, nil
}

func parseCompoundMember(data []byte, version uint8, compoundSize uint32) (*CompoundMember, int, error) {
	name, pos, err := readMemberName(data, version < 3)
	if err != nil {
		return nil, 0, err
	}
	m := &CompoundMember{Name: name}

	switch version {
	case 1:
		if pos+40 > len(data) {
			return nil, 0, fmt.Errorf("%w: v1 member fields", utils.ErrTruncatedBuffer)
		}
		m.Offset = binary.LittleEndian.Uint32(data[pos : pos+4])
		m.Dimensionality = data[pos+4]
		// 3 reserved, permutation u32, 4 reserved.
		for d := 0; d < 4; d++ {
			m.DimSizes[d] = binary.LittleEndian.Uint32(data[pos+16+4*d : pos+20+4*d])
		}
		pos += 32
	case 2:
		if pos+4 > len(data) {
			return nil, 0, fmt.Errorf("%w: v2 member offset", utils.ErrTruncatedBuffer)
		}
		m.Offset = binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
	case 3:
		// Offset width is a function of the compound's total size, per the
		// format specification: the minimum byte count that can express it.
		width := offsetWidth(compoundSize)
		v, err := utils.ReadUint(data[pos:], width, binary.LittleEndian)
		if err != nil {
			return nil, 0, err
		}
		m.Offset = uint32(v)
		pos += width
	default:
		return nil, 0, fmt.Errorf("%w: compound member version %d", utils.ErrUnsupportedVersion, version)
	}

	nested, used, err := ParseDatatype(data[pos:])
	if err != nil {
		return nil, 0, utils.WrapError("member datatype parse failed", err)
	}
	m.Type = nested
	return m, pos + used, nil
}

// readMemberName reads a NUL-terminated member name, consuming 8-byte-padded
// storage for v1/v2 member layouts and exact storage for v3.
func readMemberName(data []byte, padded bool) (string, int, error) {
	name, err := utils.ReadNullTerminated(data, 0)
	if err != nil {
		return "", 0, err
	}
	n := len(name) + 1
	if padded {
		n += utils.PadTo8(n)
	}
	return name, n, nil
}

// offsetWidth returns the v3 member-offset byte width for a compound of the
// given total size: the smallest width whose range covers it.
func offsetWidth(size uint32) int {
	switch {
	case size <= 0xFF:
		return 1
	case size <= 0xFFFF:
		return 2
	case size <= 0xFFFFFF:
		return 3
	default:
		return 4
	}
}

// validate enforces the compound closure invariants: every member fits
// inside the compound's declared size, and no two members overlap.
func (c *CompoundInfo) validate(compoundSize uint32) error {
	type span struct {
		name  string
		start uint64
		end   uint64
	}
	spans := make([]span, 0, len(c.Members))
	for _, m := range c.Members {
		memberSize := m.storageSize()
		end := uint64(m.Offset) + memberSize
		if end > uint64(compoundSize) {
			return utils.Corruptf("member %q at offset %d (size %d) exceeds compound size %d",
				m.Name, m.Offset, memberSize, compoundSize)
		}
		spans = append(spans, span{m.Name, uint64(m.Offset), end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return utils.Corruptf("members %q and %q overlap", spans[i-1].name, spans[i].name)
		}
	}
	return nil
}

// storageSize returns the member's total element storage, multiplying the
// base size through v1 member array dimensions.
func (m *CompoundMember) storageSize() uint64 {
	size := uint64(m.Type.Size)
	for d := 0; d < int(m.Dimensionality); d++ {
		if m.DimSizes[d] > 0 {
			size *= uint64(m.DimSizes[d])
		}
	}
	return size
}

// MemberByName returns the named member, or nil.
func (c *CompoundInfo) MemberByName(name string) *CompoundMember {
	for i := range c.Members {
		if c.Members[i].Name == name {
			return &c.Members[i]
		}
	}
	return nil
}

// NewCompound builds a compound datatype from members, validating the
// closure invariants. Members keep their declaration order.
func NewCompound(size uint32, members []CompoundMember) (*Datatype, error) {
	dt := &Datatype{
		Class:    DatatypeCompound,
		Version:  1,
		BitField: uint32(len(members)) & 0xFFFF,
		Size:     size,
		Compound: &CompoundInfo{Members: members},
	}
	if err := dt.Compound.validate(size); err != nil {
		return nil, err
	}
	return dt, nil
}
