// Package utils provides the byte codec shared by every format structure:
// variable-width integer reads and writes, null-terminated strings, 8-byte
// alignment, and a pooled scratch-buffer allocator.
package utils

import (
	"encoding/binary"
	"fmt"
)

// ReaderAt is a simplified interface for io.ReaderAt.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// UndefinedAddress is the HDF5 "no address" sentinel for 8-byte offsets.
// Narrower offset widths truncate it to the same all-0xFF pattern.
const UndefinedAddress = 0xFFFFFFFFFFFFFFFF

// ReadUint reads an integer of width 1, 2, 3, 4 or 8 bytes from data.
// Widths 3 and the padded default exist because superblock offset/length
// sizes drive every address field width in the file.
func ReadUint(data []byte, width int, order binary.ByteOrder) (uint64, error) {
	if width > len(data) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedBuffer, width, len(data))
	}
	switch width {
	case 1:
		return uint64(data[0]), nil
	case 2:
		return uint64(order.Uint16(data[:2])), nil
	case 4:
		return uint64(order.Uint32(data[:4])), nil
	case 8:
		return order.Uint64(data[:8]), nil
	default:
		var buf [8]byte
		if order == binary.LittleEndian {
			copy(buf[:], data[:width])
		} else {
			copy(buf[8-width:], data[:width])
		}
		return order.Uint64(buf[:]), nil
	}
}

// WriteUint writes value into data at the given width.
func WriteUint(data []byte, value uint64, width int, order binary.ByteOrder) error {
	if width > len(data) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedBuffer, width, len(data))
	}
	switch width {
	case 1:
		data[0] = byte(value)
	case 2:
		order.PutUint16(data[:2], uint16(value))
	case 4:
		order.PutUint32(data[:4], uint32(value))
	case 8:
		order.PutUint64(data[:8], value)
	default:
		var buf [8]byte
		order.PutUint64(buf[:], value)
		if order == binary.LittleEndian {
			copy(data[:width], buf[:width])
		} else {
			copy(data[:width], buf[8-width:])
		}
	}
	return nil
}

// ReadUint64At reads a 64-bit value at the specified offset.
func ReadUint64At(r ReaderAt, offset int64, order binary.ByteOrder) (uint64, error) {
	buf := GetBuffer(8)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint64(buf), nil
}

// ReadNullTerminated returns the string starting at offset in data, up to but
// not including the first NUL. Fails when no terminator exists in the slice.
func ReadNullTerminated(data []byte, offset int) (string, error) {
	if offset < 0 || offset >= len(data) {
		return "", fmt.Errorf("%w: string offset %d beyond %d bytes", ErrTruncatedBuffer, offset, len(data))
	}
	end := offset
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end == len(data) {
		return "", Corruptf("string at offset %d is not null-terminated", offset)
	}
	return string(data[offset:end]), nil
}

// AlignUp rounds n up to the next multiple of boundary (a power of two).
func AlignUp(n uint64, boundary uint64) uint64 {
	return (n + boundary - 1) &^ (boundary - 1)
}

// PadTo8 returns the number of padding bytes needed to 8-byte-align n.
func PadTo8(n int) int {
	if n%8 == 0 {
		return 0
	}
	return 8 - n%8
}

// IsUndefined reports whether an address of the given byte width is the
// all-0xFF undefined sentinel.
func IsUndefined(addr uint64, width int) bool {
	if width >= 8 {
		return addr == UndefinedAddress
	}
	return addr == (uint64(1)<<(8*width))-1
}
