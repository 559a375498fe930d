package writer

import (
	"encoding/binary"
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// Fletcher32Filter implements the registered fletcher32 checksum filter
// (ID 3): a 4-byte checksum appended to the chunk on encode, verified and
// stripped on decode.
type Fletcher32Filter struct{}

// Encode appends the checksum.
func (f *Fletcher32Filter) Encode(data []byte) ([]byte, error) {
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], fletcher32(data))
	return out, nil
}

// Decode verifies and strips the checksum.
func (f *Fletcher32Filter) Decode(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: fletcher32 chunk of %d bytes", utils.ErrTruncatedBuffer, len(data))
	}
	payload := data[:len(data)-4]
	stored := binary.LittleEndian.Uint32(data[len(data)-4:])
	if computed := fletcher32(payload); computed != stored {
		return nil, fmt.Errorf("%w: fletcher32 mismatch: stored 0x%08x, computed 0x%08x",
			utils.ErrCorruptStructure, stored, computed)
	}
	return payload, nil
}

// fletcher32 computes the checksum over 16-bit little-endian words, the odd
// trailing byte zero-extended.
func fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	for i := 0; i < len(data); i += 2 {
		var word uint32
		if i+1 < len(data) {
			word = uint32(binary.LittleEndian.Uint16(data[i : i+2]))
		} else {
			word = uint32(data[i])
		}
		sum1 = (sum1 + word) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	return sum2<<16 | sum1
}
