package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// Filter identification numbers registered in the format specification.
const (
	FilterDeflate    = 1
	FilterShuffle    = 2
	FilterFletcher32 = 3
	FilterSzip       = 4
	FilterNbit       = 5
	FilterScaleOff   = 6
)

// FilterEntry is one stage of a dataset's filter pipeline.
type FilterEntry struct {
	ID         uint16
	Name       string
	Flags      uint16
	ClientData []uint32
}

// FilterPipeline is the decoded Filter Pipeline message (type 11). Filters
// apply in declaration order on write and reverse order on read.
type FilterPipeline struct {
	Version uint8
	Filters []FilterEntry
}

// ParseFilterPipeline decodes a filter pipeline message, versions 1 and 2.
func ParseFilterPipeline(data []byte, sb *Superblock) (*FilterPipeline, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: filter pipeline message", utils.ErrTruncatedBuffer)
	}

	fp := &FilterPipeline{Version: data[0]}
	count := int(data[1])
	var pos int
	switch fp.Version {
	case 1:
		pos = 8 // 2 reserved + 4 reserved
	case 2:
		pos = 2
	default:
		return nil, fmt.Errorf("%w: filter pipeline version %d", utils.ErrUnsupportedVersion, fp.Version)
	}

	for i := 0; i < count; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: filter %d header", utils.ErrTruncatedBuffer, i)
		}
		entry := FilterEntry{ID: sb.Endianness.Uint16(data[pos : pos+2])}
		pos += 2

		// V2 omits the name length for pre-registered filters (ID < 256).
		nameLen := 0
		if fp.Version == 1 || entry.ID >= 256 {
			nameLen = int(sb.Endianness.Uint16(data[pos : pos+2]))
			pos += 2
		}

		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: filter %d flags", utils.ErrTruncatedBuffer, i)
		}
		entry.Flags = sb.Endianness.Uint16(data[pos : pos+2])
		cdCount := int(sb.Endianness.Uint16(data[pos+2 : pos+4]))
		pos += 4

		if nameLen > 0 {
			if pos+nameLen > len(data) {
				return nil, fmt.Errorf("%w: filter %d name", utils.ErrTruncatedBuffer, i)
			}
			name, err := utils.ReadNullTerminated(data[pos:pos+nameLen], 0)
			if err == nil {
				entry.Name = name
			}
			pos += nameLen
		}

		for c := 0; c < cdCount; c++ {
			if pos+4 > len(data) {
				return nil, fmt.Errorf("%w: filter %d client data", utils.ErrTruncatedBuffer, i)
			}
			entry.ClientData = append(entry.ClientData, sb.Endianness.Uint32(data[pos:pos+4]))
			pos += 4
		}
		// V1 pads client data to an even count of 4-byte words.
		if fp.Version == 1 && cdCount%2 == 1 {
			pos += 4
		}

		fp.Filters = append(fp.Filters, entry)
	}

	return fp, nil
}

// Encode serializes a version 1 filter pipeline message.
func (fp *FilterPipeline) Encode(sb *Superblock) ([]byte, error) {
	if len(fp.Filters) > 32 {
		return nil, fmt.Errorf("%w: %d pipeline filters", utils.ErrOutOfRange, len(fp.Filters))
	}

	buf := make([]byte, 8)
	buf[0] = 1
	buf[1] = byte(len(fp.Filters))

	for _, f := range fp.Filters {
		nameBytes := []byte{}
		if f.Name != "" {
			n := len(f.Name) + 1
			nameBytes = make([]byte, n+utils.PadTo8(n))
			copy(nameBytes, f.Name)
		}

		entry := make([]byte, 8)
		sb.Endianness.PutUint16(entry[0:2], f.ID)
		sb.Endianness.PutUint16(entry[2:4], uint16(len(nameBytes)))
		sb.Endianness.PutUint16(entry[4:6], f.Flags)
		sb.Endianness.PutUint16(entry[6:8], uint16(len(f.ClientData)))
		buf = append(buf, entry...)
		buf = append(buf, nameBytes...)
		for _, cd := range f.ClientData {
			var b [4]byte
			sb.Endianness.PutUint32(b[:], cd)
			buf = append(buf, b[:]...)
		}
		if len(f.ClientData)%2 == 1 {
			buf = append(buf, 0, 0, 0, 0)
		}
	}
	return buf, nil
}
