// Package structures implements the HDF5 group-index structures: the local
// heap that stores link names, symbol table nodes, and the version 1 B-tree
// in its group and chunk flavors.
package structures

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
)

// Local heap constants. The free-list offset 1 is the H5HL "no free list"
// marker used while the heap is append-only.
const (
	heapSignature      = "HEAP"
	heapHeaderSize     = 32 // for 8-byte offsets and lengths
	FreeListNone       = 1
	DefaultHeapSegment = 88
)

// LocalHeap is a group's append-only store of null-terminated link names.
// B-tree keys and symbol table entries reference names by their offset into
// the data segment. The segment may relocate when it doubles, but offsets
// within it never change.
//
// Header layout (32 bytes with 8-byte addressing):
//
//	Bytes 0-3:  Signature "HEAP"
//	Byte 4:     Version (0)
//	Bytes 5-7:  Reserved
//	Bytes 8-15: Data segment size
//	Bytes 16-23: Free list head offset
//	Bytes 24-31: Data segment address
type LocalHeap struct {
	HeaderAddress      uint64
	DataSegmentSize    uint64
	FreeListOffset     uint64
	DataSegmentAddress uint64
	Data               []byte

	cursor  uint64 // next append offset, 8-byte aligned
	relocs  int    // times the segment moved, for tests and diagnostics
	dirty   bool
	writing bool
}

// LoadLocalHeap reads the heap header and its data segment.
func LoadLocalHeap(r io.ReaderAt, address uint64, sb *core.Superblock) (*LocalHeap, error) {
	headerSize := 8 + int(sb.LengthSize)*2 + int(sb.OffsetSize)
	header := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("local heap header read failed", err)
	}
	if string(header[0:4]) != heapSignature {
		return nil, fmt.Errorf("%w: local heap at %d", utils.ErrBadSignature, address)
	}

	pos := 8
	segmentSize, err := utils.ReadUint(header[pos:], int(sb.LengthSize), sb.Endianness)
	if err != nil {
		return nil, err
	}
	pos += int(sb.LengthSize)
	freeList, err := utils.ReadUint(header[pos:], int(sb.LengthSize), sb.Endianness)
	if err != nil {
		return nil, err
	}
	pos += int(sb.LengthSize)
	segmentAddr, err := utils.ReadUint(header[pos:], int(sb.OffsetSize), sb.Endianness)
	if err != nil {
		return nil, err
	}

	if segmentSize > 1<<30 {
		return nil, utils.Corruptf("local heap segment of %d bytes", segmentSize)
	}

	heap := &LocalHeap{
		HeaderAddress:      address,
		DataSegmentSize:    segmentSize,
		FreeListOffset:     freeList,
		DataSegmentAddress: segmentAddr,
		Data:               make([]byte, segmentSize),
	}
	if segmentSize > 0 {
		if _, err := r.ReadAt(heap.Data, int64(segmentAddr)); err != nil {
			return nil, utils.WrapError("local heap data read failed", err)
		}
	}
	return heap, nil
}

// GetString retrieves the null-terminated string at offset in the data
// segment. Offsets past the segment are a heap-closure violation.
func (h *LocalHeap) GetString(offset uint64) (string, error) {
	if offset >= uint64(len(h.Data)) {
		return "", fmt.Errorf("%w: link name offset %d beyond heap segment of %d bytes",
			utils.ErrOrphanedEntry, offset, len(h.Data))
	}
	return utils.ReadNullTerminated(h.Data, int(offset))
}

// NewLocalHeap creates a write-mode heap with an initial segment size.
// Offset 0 holds a NUL so that no link name lands on the root entry's
// zero offset.
func NewLocalHeap(initialSize uint64) *LocalHeap {
	if initialSize < 16 {
		initialSize = 16
	}
	initialSize = utils.AlignUp(initialSize, 8)
	return &LocalHeap{
		DataSegmentSize: initialSize,
		FreeListOffset:  FreeListNone,
		Data:            make([]byte, initialSize),
		cursor:          8, // offset 0 reserved for the empty name
		writing:         true,
		dirty:           true,
	}
}

// Reserve appends name null-terminated at the cursor, 8-byte-aligns the
// cursor, and returns the name's offset. The segment doubles through grow
// when the name does not fit; alloc supplies the relocated segment's file
// space and may be nil until the heap outgrows its reservation.
func (h *LocalHeap) Reserve(name string, alloc core.AllocFunc) (uint64, error) {
	if !h.writing {
		return 0, fmt.Errorf("local heap is read-only")
	}
	need := uint64(len(name)) + 1
	for h.cursor+need > h.DataSegmentSize {
		if err := h.grow(alloc); err != nil {
			return 0, err
		}
	}

	offset := h.cursor
	copy(h.Data[offset:], name)
	h.Data[offset+uint64(len(name))] = 0
	h.cursor = utils.AlignUp(offset+need, 8)
	h.dirty = true
	return offset, nil
}

// grow doubles the data segment. Existing names keep their offsets; only
// the segment's own file address changes.
func (h *LocalHeap) grow(alloc core.AllocFunc) error {
	newSize := h.DataSegmentSize * 2
	if newSize == 0 {
		newSize = 16
	}

	if alloc != nil {
		addr, err := alloc(newSize)
		if err != nil {
			return utils.WrapError("local heap relocation failed", err)
		}
		h.DataSegmentAddress = addr
		h.relocs++
	}

	grown := make([]byte, newSize)
	copy(grown, h.Data)
	h.Data = grown
	h.DataSegmentSize = newSize
	h.dirty = true
	return nil
}

// Relocations returns how many times the data segment moved.
func (h *LocalHeap) Relocations() int {
	return h.relocs
}

// WriteTo writes the heap header at headerAddr and the data segment at its
// own address. When the segment was never relocated, it is placed directly
// after the header.
func (h *LocalHeap) WriteTo(w io.WriterAt, headerAddr uint64) error {
	h.HeaderAddress = headerAddr
	if h.DataSegmentAddress == 0 {
		h.DataSegmentAddress = headerAddr + heapHeaderSize
	}

	header := make([]byte, heapHeaderSize)
	copy(header[0:4], heapSignature)
	binary.LittleEndian.PutUint64(header[8:16], h.DataSegmentSize)
	binary.LittleEndian.PutUint64(header[16:24], h.FreeListOffset)
	binary.LittleEndian.PutUint64(header[24:32], h.DataSegmentAddress)

	if _, err := w.WriteAt(header, int64(headerAddr)); err != nil {
		return utils.WrapError("local heap header write failed", err)
	}
	if _, err := w.WriteAt(h.Data, int64(h.DataSegmentAddress)); err != nil {
		return utils.WrapError("local heap data write failed", err)
	}
	h.dirty = false
	return nil
}

// Size returns header plus current segment size.
func (h *LocalHeap) Size() uint64 {
	return heapHeaderSize + h.DataSegmentSize
}
