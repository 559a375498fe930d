package core

import (
	"fmt"
	"math"

	"github.com/h5works/hdf5/internal/utils"
)

// HeapResolver resolves (collection address, object index) pairs into raw
// bytes. The global heap implements it on the read path.
type HeapResolver interface {
	Get(address uint64, index uint32) ([]byte, error)
}

// HeapAppender stores a blob and returns where it landed. The write-side
// global heap implements it.
type HeapAppender interface {
	Put(data []byte) (address uint64, index uint32, err error)
}

// DynamicRecord is the generic decoding of one compound element: member
// values in declaration order, addressable by name.
type DynamicRecord struct {
	Names  []string
	Values []any
}

// Get returns the value of the named member.
func (r *DynamicRecord) Get(name string) (any, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// EnumValue is a decoded enum element: the symbolic name when the raw value
// matched a declared member, plus the underlying integer.
type EnumValue struct {
	Name  string
	Value uint64
}

// DecodeFunc converts one element's raw bytes to a native value.
type DecodeFunc func(reg *Registry, dt *Datatype, raw []byte, heap HeapResolver) (any, error)

// EncodeFunc converts a native value into the element's raw bytes.
type EncodeFunc func(reg *Registry, dt *Datatype, value any, buf []byte, heap HeapAppender) error

type converter struct {
	decode DecodeFunc
	encode EncodeFunc
}

// Registry maps datatype classes to element converters. Each File owns one;
// there is no process-wide converter state.
type Registry struct {
	converters map[DatatypeClass]converter
}

// NewRegistry builds a registry with converters for all eleven classes.
func NewRegistry() *Registry {
	reg := &Registry{converters: map[DatatypeClass]converter{}}
	reg.Register(DatatypeFixed, decodeFixed, encodeFixed)
	reg.Register(DatatypeFloat, decodeFloat, encodeFloat)
	reg.Register(DatatypeTime, decodeTime, encodeTime)
	reg.Register(DatatypeString, decodeString, encodeString)
	reg.Register(DatatypeBitfield, decodeBitfield, encodeBitfield)
	reg.Register(DatatypeOpaque, decodeOpaque, encodeOpaque)
	reg.Register(DatatypeCompound, decodeCompound, encodeCompound)
	reg.Register(DatatypeReference, decodeReference, encodeReference)
	reg.Register(DatatypeEnum, decodeEnum, encodeEnum)
	reg.Register(DatatypeVarLen, decodeVarLen, encodeVarLen)
	reg.Register(DatatypeArray, decodeArray, encodeArray)
	return reg
}

// Register installs or replaces the converter pair for a class.
func (reg *Registry) Register(class DatatypeClass, dec DecodeFunc, enc EncodeFunc) {
	reg.converters[class] = converter{decode: dec, encode: enc}
}

// DecodeElement converts raw element bytes to a native value, dispatching on
// the datatype class. heap may be nil for datatypes that never touch the
// global heap.
func (reg *Registry) DecodeElement(dt *Datatype, raw []byte, heap HeapResolver) (any, error) {
	conv, ok := reg.converters[dt.Class]
	if !ok || conv.decode == nil {
		return nil, fmt.Errorf("%w: no decoder for class %d", utils.ErrTypeMismatch, dt.Class)
	}
	if len(raw) < int(dt.Size) {
		return nil, fmt.Errorf("%w: element needs %d bytes, have %d", utils.ErrTruncatedBuffer, dt.Size, len(raw))
	}
	return conv.decode(reg, dt, raw[:dt.Size], heap)
}

// EncodeElement converts a native value to the element's on-disk bytes.
func (reg *Registry) EncodeElement(dt *Datatype, value any, buf []byte, heap HeapAppender) error {
	conv, ok := reg.converters[dt.Class]
	if !ok || conv.encode == nil {
		return fmt.Errorf("%w: no encoder for class %d", utils.ErrTypeMismatch, dt.Class)
	}
	if len(buf) < int(dt.Size) {
		return fmt.Errorf("%w: element needs %d bytes, have %d", utils.ErrTruncatedBuffer, dt.Size, len(buf))
	}
	return conv.encode(reg, dt, value, buf[:dt.Size], heap)
}

// --- Fixed-point ---

func decodeFixed(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	bitOffset, bitPrecision := uint16(0), uint16(dt.Size*8)
	if dt.Fixed != nil {
		bitOffset, bitPrecision = dt.Fixed.BitOffset, dt.Fixed.BitPrecision
	}
	fp, err := utils.ReadFixedPoint(raw, int(dt.Size), bitOffset, bitPrecision,
		dt.Signed(), dt.BitField&0x01 != 0)
	if err != nil {
		return nil, err
	}
	if dt.Signed() {
		return fp.Int64()
	}
	return fp.Uint64()
}

func encodeFixed(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	v, err := toUint64(value)
	if err != nil {
		return err
	}
	return utils.WriteUint(buf, v, int(dt.Size), dt.ByteOrder())
}

// --- Floating-point ---

func decodeFloat(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	bits, err := utils.ReadUint(raw, int(dt.Size), dt.ByteOrder())
	if err != nil {
		return nil, err
	}
	switch dt.Size {
	case 2:
		return float16ToFloat64(uint16(bits)), nil
	case 4:
		return float64(math.Float32frombits(uint32(bits))), nil
	case 8:
		return math.Float64frombits(bits), nil
	default:
		return nil, fmt.Errorf("%w: float size %d", utils.ErrTypeMismatch, dt.Size)
	}
}

func encodeFloat(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	f, err := toFloat64(value)
	if err != nil {
		return err
	}
	switch dt.Size {
	case 4:
		return utils.WriteUint(buf, uint64(math.Float32bits(float32(f))), 4, dt.ByteOrder())
	case 8:
		return utils.WriteUint(buf, math.Float64bits(f), 8, dt.ByteOrder())
	default:
		return fmt.Errorf("%w: float size %d", utils.ErrTypeMismatch, dt.Size)
	}
}

// float16ToFloat64 expands an IEEE 754 half-precision value.
func float16ToFloat64(h uint16) float64 {
	sign := uint64(h>>15) & 1
	exp := uint64(h>>10) & 0x1F
	frac := uint64(h) & 0x3FF

	var bits uint64
	switch {
	case exp == 0 && frac == 0:
		bits = sign << 63
	case exp == 0:
		// Subnormal: renormalize into double range.
		e := uint64(0)
		for frac&0x400 == 0 {
			frac <<= 1
			e++
		}
		frac &= 0x3FF
		bits = sign<<63 | (1023-15+1-e)<<52 | frac<<42
	case exp == 0x1F:
		bits = sign<<63 | 0x7FF<<52 | frac<<42
	default:
		bits = sign<<63 | (exp-15+1023)<<52 | frac<<42
	}
	return math.Float64frombits(bits)
}

// --- Time ---

func decodeTime(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	v, err := utils.ReadUint(raw, int(dt.Size), dt.ByteOrder())
	if err != nil {
		return nil, err
	}
	return int64(v), nil
}

func encodeTime(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	v, err := toUint64(value)
	if err != nil {
		return err
	}
	return utils.WriteUint(buf, v, int(dt.Size), dt.ByteOrder())
}

// --- String ---

func decodeString(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	switch dt.StringPadding() {
	case PadNullTerminate, PadNull:
		for i, b := range raw {
			if b == 0 {
				return string(raw[:i]), nil
			}
		}
		return string(raw), nil
	case PadSpace:
		end := len(raw)
		for end > 0 && raw[end-1] == ' ' {
			end--
		}
		return string(raw[:end]), nil
	default:
		return nil, fmt.Errorf("%w: string padding %d", utils.ErrInvalidEncoding, dt.StringPadding())
	}
}

func encodeString(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: string element from %T", utils.ErrTypeMismatch, value)
	}
	if len(s) > int(dt.Size) {
		return fmt.Errorf("%w: %d-byte string into %d-byte element", utils.ErrOutOfRange, len(s), dt.Size)
	}
	fill := byte(0)
	if dt.StringPadding() == PadSpace {
		fill = ' '
	}
	n := copy(buf, s)
	for i := n; i < int(dt.Size); i++ {
		buf[i] = fill
	}
	return nil
}

// --- Bitfield ---

func decodeBitfield(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	return utils.ReadUint(raw, int(dt.Size), dt.ByteOrder())
}

func encodeBitfield(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	v, err := toUint64(value)
	if err != nil {
		return err
	}
	return utils.WriteUint(buf, v, int(dt.Size), dt.ByteOrder())
}

// --- Opaque ---

func decodeOpaque(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	out := make([]byte, dt.Size)
	copy(out, raw)
	return out, nil
}

func encodeOpaque(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("%w: opaque element from %T", utils.ErrTypeMismatch, value)
	}
	if len(b) != int(dt.Size) {
		return fmt.Errorf("%w: opaque element of %d bytes, declared %d", utils.ErrTypeMismatch, len(b), dt.Size)
	}
	copy(buf, b)
	return nil
}

// --- Compound ---

func decodeCompound(reg *Registry, dt *Datatype, raw []byte, heap HeapResolver) (any, error) {
	rec := &DynamicRecord{}
	for i := range dt.Compound.Members {
		m := &dt.Compound.Members[i]
		v, err := reg.DecodeElement(m.Type, raw[m.Offset:], heap)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", m.Name, err)
		}
		rec.Names = append(rec.Names, m.Name)
		rec.Values = append(rec.Values, v)
	}
	return rec, nil
}

func encodeCompound(reg *Registry, dt *Datatype, value any, buf []byte, heap HeapAppender) error {
	lookup, err := compoundValues(value)
	if err != nil {
		return err
	}
	for i := range dt.Compound.Members {
		m := &dt.Compound.Members[i]
		v, ok := lookup(m.Name)
		if !ok {
			return fmt.Errorf("%w: missing compound member %q", utils.ErrTypeMismatch, m.Name)
		}
		if err := reg.EncodeElement(m.Type, v, buf[m.Offset:], heap); err != nil {
			return fmt.Errorf("member %q: %w", m.Name, err)
		}
	}
	return nil
}

func compoundValues(value any) (func(string) (any, bool), error) {
	switch v := value.(type) {
	case *DynamicRecord:
		return v.Get, nil
	case map[string]any:
		return func(name string) (any, bool) {
			val, ok := v[name]
			return val, ok
		}, nil
	default:
		return nil, fmt.Errorf("%w: compound element from %T", utils.ErrTypeMismatch, value)
	}
}

// --- Reference ---

// ObjectReference is a decoded object reference: the referent's object
// header address.
type ObjectReference struct {
	Address uint64
}

func decodeReference(_ *Registry, dt *Datatype, raw []byte, heap HeapResolver) (any, error) {
	switch dt.ReferenceType() {
	case RefObject:
		addr, err := utils.ReadUint(raw, int(dt.Size), dt.ByteOrder())
		if err != nil {
			return nil, err
		}
		return ObjectReference{Address: addr}, nil
	case RefRegion, RefAttribute:
		// Region and attribute references indirect through the global heap.
		id, err := parseHeapID(raw)
		if err != nil {
			return nil, err
		}
		if heap == nil {
			return nil, fmt.Errorf("%w: reference needs a global heap", utils.ErrUnreachableHeap)
		}
		return heap.Get(id.Address, id.Index)
	default:
		return nil, fmt.Errorf("%w: reference type %d", utils.ErrInvalidEncoding, dt.ReferenceType())
	}
}

func encodeReference(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	ref, ok := value.(ObjectReference)
	if !ok || dt.ReferenceType() != RefObject {
		return fmt.Errorf("%w: only object references are written", utils.ErrTypeMismatch)
	}
	return utils.WriteUint(buf, ref.Address, int(dt.Size), dt.ByteOrder())
}

// --- Enum ---

func decodeEnum(_ *Registry, dt *Datatype, raw []byte, _ HeapResolver) (any, error) {
	v, err := utils.ReadUint(raw, int(dt.Enum.Base.Size), dt.Enum.Base.ByteOrder())
	if err != nil {
		return nil, err
	}
	for i, ev := range dt.Enum.Values {
		m, _ := utils.ReadUint(ev, len(ev), dt.Enum.Base.ByteOrder())
		if m == v {
			return EnumValue{Name: dt.Enum.Names[i], Value: v}, nil
		}
	}
	return EnumValue{Value: v}, nil
}

func encodeEnum(_ *Registry, dt *Datatype, value any, buf []byte, _ HeapAppender) error {
	name, ok := value.(string)
	if !ok {
		if ev, isEV := value.(EnumValue); isEV {
			name = ev.Name
		} else {
			return fmt.Errorf("%w: enum element from %T", utils.ErrTypeMismatch, value)
		}
	}
	for i, n := range dt.Enum.Names {
		if n == name {
			copy(buf, dt.Enum.Values[i])
			return nil
		}
	}
	return fmt.Errorf("%w: enum member %q", utils.ErrTypeMismatch, name)
}

// --- Variable-length ---

// heapID is the on-disk (length, collection address, object index) triple
// that vlen elements store.
type heapID struct {
	Length  uint32
	Address uint64
	Index   uint32
}

func parseHeapID(raw []byte) (heapID, error) {
	if len(raw) < 16 {
		return heapID{}, fmt.Errorf("%w: vlen element needs 16 bytes, have %d", utils.ErrTruncatedBuffer, len(raw))
	}
	return heapID{
		Length:  leUint32(raw[0:4]),
		Address: leUint64(raw[4:12]),
		Index:   leUint32(raw[12:16]),
	}, nil
}

func decodeVarLen(reg *Registry, dt *Datatype, raw []byte, heap HeapResolver) (any, error) {
	id, err := parseHeapID(raw)
	if err != nil {
		return nil, err
	}
	if id.Length == 0 && id.Address == 0 {
		if dt.VarLen.IsString {
			return "", nil
		}
		return []any{}, nil
	}
	if heap == nil {
		return nil, fmt.Errorf("%w: vlen element needs a global heap", utils.ErrUnreachableHeap)
	}
	blob, err := heap.Get(id.Address, id.Index)
	if err != nil {
		return nil, err
	}

	if dt.VarLen.IsString {
		if uint32(len(blob)) > id.Length {
			blob = blob[:id.Length]
		}
		return string(blob), nil
	}

	base := dt.VarLen.Base
	out := make([]any, 0, id.Length)
	for i := uint32(0); i < id.Length; i++ {
		start := i * base.Size
		if int(start+base.Size) > len(blob) {
			return nil, fmt.Errorf("%w: vlen blob holds %d bytes, element %d needs %d",
				utils.ErrTruncatedBuffer, len(blob), i, base.Size)
		}
		v, err := reg.DecodeElement(base, blob[start:start+base.Size], heap)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeVarLen(reg *Registry, dt *Datatype, value any, buf []byte, heap HeapAppender) error {
	if heap == nil {
		return fmt.Errorf("%w: vlen element needs a global heap", utils.ErrUnreachableHeap)
	}

	var blob []byte
	var count uint32
	switch v := value.(type) {
	case string:
		if !dt.VarLen.IsString {
			return fmt.Errorf("%w: string into vlen sequence", utils.ErrTypeMismatch)
		}
		blob = []byte(v)
		count = uint32(len(v))
	case []any:
		base := dt.VarLen.Base
		blob = make([]byte, len(v)*int(base.Size))
		for i, elem := range v {
			if err := reg.EncodeElement(base, elem, blob[i*int(base.Size):], heap); err != nil {
				return err
			}
		}
		count = uint32(len(v))
	default:
		return fmt.Errorf("%w: vlen element from %T", utils.ErrTypeMismatch, value)
	}

	addr, index, err := heap.Put(blob)
	if err != nil {
		return err
	}
	putLEUint32(buf[0:4], count)
	putLEUint64(buf[4:12], addr)
	putLEUint32(buf[12:16], index)
	return nil
}

// --- Array ---

func decodeArray(reg *Registry, dt *Datatype, raw []byte, heap HeapResolver) (any, error) {
	base := dt.Array.Base
	count := uint64(1)
	for _, d := range dt.Array.Dims {
		count *= uint64(d)
	}
	out := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		start := i * uint64(base.Size)
		v, err := reg.DecodeElement(base, raw[start:], heap)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeArray(reg *Registry, dt *Datatype, value any, buf []byte, heap HeapAppender) error {
	elems, ok := value.([]any)
	if !ok {
		return fmt.Errorf("%w: array element from %T", utils.ErrTypeMismatch, value)
	}
	base := dt.Array.Base
	count := uint64(1)
	for _, d := range dt.Array.Dims {
		count *= uint64(d)
	}
	if uint64(len(elems)) != count {
		return fmt.Errorf("%w: array element of %d values, declared %d", utils.ErrTypeMismatch, len(elems), count)
	}
	for i, elem := range elems {
		if err := reg.EncodeElement(base, elem, buf[uint64(i)*uint64(base.Size):], heap); err != nil {
			return err
		}
	}
	return nil
}

// --- native value coercion ---

func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case int64:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case int32:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case int16:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case int8:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("%w: integer element from %T", utils.ErrTypeMismatch, value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: float element from %T", utils.ErrTypeMismatch, value)
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b[0:4])) | uint64(leUint32(b[4:8]))<<32
}

func putLEUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func putLEUint64(b []byte, v uint64) {
	putLEUint32(b[0:4], uint32(v))
	putLEUint32(b[4:8], uint32(v>>32))
}
