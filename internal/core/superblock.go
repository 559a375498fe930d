// Package core provides low-level HDF5 file format parsing and generation:
// superblocks, object headers and their messages, the datatype engine, and
// the global heap. It has no CGo dependencies.
package core

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/h5works/hdf5/internal/utils"
)

// HDF5 file signature and supported superblock versions.
const (
	Signature = "\x89HDF\r\n\x1a\n"
	Version0  = 0
	Version1  = 1
)

// Default B-tree K values written into new superblocks.
const (
	DefaultGroupLeafK     = 4
	DefaultGroupInternalK = 16
)

// Superblock represents the HDF5 file superblock for the version 0/1 family.
//
// V0 layout (96 bytes with 8-byte addressing):
//
//	Bytes 0-7:   Signature (\x89HDF\r\n\x1a\n)
//	Byte 8:      Superblock version (0)
//	Byte 9:      Free-space storage version (0)
//	Byte 10:     Root group symbol table entry version (0)
//	Byte 11:     Reserved
//	Byte 12:     Shared header message format version (0)
//	Byte 13:     Size of offsets
//	Byte 14:     Size of lengths
//	Byte 15:     Reserved
//	Bytes 16-17: Group leaf node K
//	Bytes 18-19: Group internal node K
//	Bytes 20-23: File consistency flags
//	Bytes 24-31: Base address
//	Bytes 32-39: Free-space info address (UNDEF when absent)
//	Bytes 40-47: End-of-file address
//	Bytes 48-55: Driver information address (UNDEF when absent)
//	Bytes 56-95: Root group symbol table entry (40 bytes)
//
// V1 inserts "Indexed storage internal node K" (2 bytes) plus 2 reserved
// bytes after the consistency flags; everything else shifts by 4.
type Superblock struct {
	Version           uint8
	FreeSpaceVersion  uint8
	RootEntryVersion  uint8
	SharedHdrVersion  uint8
	OffsetSize        uint8
	LengthSize        uint8
	GroupLeafK        uint16
	GroupInternalK    uint16
	IndexedStorageK   uint16 // v1 only
	ConsistencyFlags  uint32
	BaseAddress       uint64
	FreeSpaceAddress  uint64 // UndefinedAddress when absent
	EndOfFileAddress  uint64
	DriverInfoAddress uint64 // UndefinedAddress when absent
	RootEntry         SymbolTableEntry
	Endianness        binary.ByteOrder
}

// SymbolTableEntry is one named child of a group, pointing at an object
// header by file offset. Cache type 1 carries the group's B-tree and local
// heap addresses in the scratch area.
type SymbolTableEntry struct {
	LinkNameOffset  uint64
	ObjectAddress   uint64
	CacheType       uint32
	CachedBTreeAddr uint64 // scratch bytes 0-7 when CacheType == 1
	CachedHeapAddr  uint64 // scratch bytes 8-15 when CacheType == 1
}

// Cache type values for symbol table entries.
const (
	CacheNone   = 0
	CacheStab   = 1 // cached symbol table: B-tree + heap addresses
	CacheSymlnk = 2 // cached symbolic link offset
)

// EntrySize returns the on-disk size of a symbol table entry for the given
// offset width: two addresses, cache type, reserved, 16-byte scratch.
func EntrySize(offsetSize uint8) int {
	return int(offsetSize)*2 + 4 + 4 + 16
}

// ReadSuperblock reads and parses the HDF5 superblock at base address 0.
// It supports versions 0 and 1 of the superblock format.
func ReadSuperblock(r io.ReaderAt) (*Superblock, error) {
	buf := utils.GetBuffer(128)
	defer utils.ReleaseBuffer(buf)

	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, utils.WrapError("superblock read failed", err)
	}
	if n < 96 {
		return nil, fmt.Errorf("%w: file too small for a superblock (%d bytes)", utils.ErrTruncatedBuffer, n)
	}

	if string(buf[:8]) != Signature {
		return nil, fmt.Errorf("%w: not an HDF5 file", utils.ErrBadSignature)
	}

	version := buf[8]
	if version != Version0 && version != Version1 {
		return nil, fmt.Errorf("%w: superblock version %d", utils.ErrUnsupportedVersion, version)
	}

	offsetSize := buf[13]
	lengthSize := buf[14]
	validSizes := map[uint8]bool{2: true, 4: true, 8: true}
	if !validSizes[offsetSize] || !validSizes[lengthSize] {
		return nil, utils.Corruptf("invalid offset/length sizes: %d/%d", offsetSize, lengthSize)
	}

	// The v0/v1 family is written little-endian; the fields themselves are
	// self-describing enough that big-endian files read through the same path.
	order := binary.ByteOrder(binary.LittleEndian)

	sb := &Superblock{
		Version:          version,
		FreeSpaceVersion: buf[9],
		RootEntryVersion: buf[10],
		SharedHdrVersion: buf[12],
		OffsetSize:       offsetSize,
		LengthSize:       lengthSize,
		GroupLeafK:       order.Uint16(buf[16:18]),
		GroupInternalK:   order.Uint16(buf[18:20]),
		ConsistencyFlags: order.Uint32(buf[20:24]),
		Endianness:       order,
	}
	if sb.GroupLeafK == 0 || sb.GroupInternalK == 0 {
		return nil, utils.Corruptf("zero B-tree K values: leaf=%d internal=%d", sb.GroupLeafK, sb.GroupInternalK)
	}

	pos := 24
	if version == Version1 {
		sb.IndexedStorageK = order.Uint16(buf[24:26])
		pos = 28 // 2 bytes K + 2 reserved
	}

	readAddr := func() (uint64, error) {
		v, err := utils.ReadUint(buf[pos:], int(offsetSize), order)
		pos += int(offsetSize)
		return v, err
	}

	if sb.BaseAddress, err = readAddr(); err != nil {
		return nil, utils.WrapError("base address read failed", err)
	}
	if sb.FreeSpaceAddress, err = readAddr(); err != nil {
		return nil, utils.WrapError("free-space address read failed", err)
	}
	if sb.EndOfFileAddress, err = readAddr(); err != nil {
		return nil, utils.WrapError("end-of-file address read failed", err)
	}
	if sb.DriverInfoAddress, err = readAddr(); err != nil {
		return nil, utils.WrapError("driver info address read failed", err)
	}

	entry, _, err := ParseSymbolTableEntry(buf[pos:], sb)
	if err != nil {
		return nil, utils.WrapError("root symbol table entry parse failed", err)
	}
	sb.RootEntry = *entry

	return sb, nil
}

// ParseSymbolTableEntry decodes one symbol table entry from data, returning
// the entry and the number of bytes consumed.
func ParseSymbolTableEntry(data []byte, sb *Superblock) (*SymbolTableEntry, int, error) {
	need := EntrySize(sb.OffsetSize)
	if len(data) < need {
		return nil, 0, fmt.Errorf("%w: symbol table entry needs %d bytes, have %d",
			utils.ErrTruncatedBuffer, need, len(data))
	}

	pos := 0
	width := int(sb.OffsetSize)
	linkOffset, _ := utils.ReadUint(data[pos:], width, sb.Endianness)
	pos += width
	objAddr, _ := utils.ReadUint(data[pos:], width, sb.Endianness)
	pos += width
	cacheType := sb.Endianness.Uint32(data[pos : pos+4])
	pos += 8 // cache type + reserved

	entry := &SymbolTableEntry{
		LinkNameOffset: linkOffset,
		ObjectAddress:  objAddr,
		CacheType:      cacheType,
	}
	if cacheType == CacheStab {
		entry.CachedBTreeAddr = sb.Endianness.Uint64(data[pos : pos+8])
		entry.CachedHeapAddr = sb.Endianness.Uint64(data[pos+8 : pos+16])
	}
	pos += 16

	return entry, pos, nil
}

// EncodeSymbolTableEntry writes entry into buf and returns bytes written.
func EncodeSymbolTableEntry(buf []byte, entry *SymbolTableEntry, sb *Superblock) (int, error) {
	need := EntrySize(sb.OffsetSize)
	if len(buf) < need {
		return 0, fmt.Errorf("%w: symbol table entry needs %d bytes, have %d",
			utils.ErrTruncatedBuffer, need, len(buf))
	}

	pos := 0
	width := int(sb.OffsetSize)
	_ = utils.WriteUint(buf[pos:], entry.LinkNameOffset, width, sb.Endianness)
	pos += width
	_ = utils.WriteUint(buf[pos:], entry.ObjectAddress, width, sb.Endianness)
	pos += width
	sb.Endianness.PutUint32(buf[pos:pos+4], entry.CacheType)
	pos += 8
	if entry.CacheType == CacheStab {
		sb.Endianness.PutUint64(buf[pos:pos+8], entry.CachedBTreeAddr)
		sb.Endianness.PutUint64(buf[pos+8:pos+16], entry.CachedHeapAddr)
	}
	pos += 16

	return pos, nil
}

// Size returns the on-disk superblock size for this version.
func (sb *Superblock) Size() uint64 {
	base := uint64(24) + 4*uint64(sb.OffsetSize) + uint64(EntrySize(sb.OffsetSize))
	if sb.Version == Version1 {
		base += 4
	}
	return base
}

// WriteTo writes the superblock at offset 0. Only version 0 with 8-byte
// offsets and lengths is written; readers accept both v0 and v1.
func (sb *Superblock) WriteTo(w io.WriterAt) error {
	if sb.Version != Version0 {
		return fmt.Errorf("%w: only superblock version 0 is written, got %d",
			utils.ErrUnsupportedVersion, sb.Version)
	}
	if sb.OffsetSize != 8 || sb.LengthSize != 8 {
		return fmt.Errorf("only 8-byte offsets and lengths are supported for writing, got offset=%d, length=%d",
			sb.OffsetSize, sb.LengthSize)
	}

	buf := make([]byte, 96)
	copy(buf[0:8], Signature)
	buf[8] = Version0
	buf[9] = sb.FreeSpaceVersion
	buf[10] = sb.RootEntryVersion
	buf[12] = sb.SharedHdrVersion
	buf[13] = sb.OffsetSize
	buf[14] = sb.LengthSize
	binary.LittleEndian.PutUint16(buf[16:18], sb.GroupLeafK)
	binary.LittleEndian.PutUint16(buf[18:20], sb.GroupInternalK)
	binary.LittleEndian.PutUint32(buf[20:24], sb.ConsistencyFlags)
	binary.LittleEndian.PutUint64(buf[24:32], sb.BaseAddress)
	binary.LittleEndian.PutUint64(buf[32:40], sb.FreeSpaceAddress)
	binary.LittleEndian.PutUint64(buf[40:48], sb.EndOfFileAddress)
	binary.LittleEndian.PutUint64(buf[48:56], sb.DriverInfoAddress)

	if _, err := EncodeSymbolTableEntry(buf[56:], &sb.RootEntry, sb); err != nil {
		return err
	}

	n, err := w.WriteAt(buf, 0)
	if err != nil {
		return fmt.Errorf("failed to write superblock: %w", err)
	}
	if n != 96 {
		return fmt.Errorf("incomplete superblock write: wrote %d bytes, expected 96", n)
	}
	return nil
}

// NewSuperblockV0 builds a version 0 superblock with default K values and
// undefined free-space and driver-info addresses.
func NewSuperblockV0() *Superblock {
	return &Superblock{
		Version:           Version0,
		OffsetSize:        8,
		LengthSize:        8,
		GroupLeafK:        DefaultGroupLeafK,
		GroupInternalK:    DefaultGroupInternalK,
		FreeSpaceAddress:  utils.UndefinedAddress,
		DriverInfoAddress: utils.UndefinedAddress,
		Endianness:        binary.LittleEndian,
	}
}
