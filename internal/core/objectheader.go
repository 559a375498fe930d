package core

import (
	"fmt"
	"io"

	"github.com/h5works/hdf5/internal/utils"
)

// ObjectHeader holds the parsed metadata of one HDF5 object: a versioned
// prefix plus the flattened message stream, with continuation blocks already
// followed.
type ObjectHeader struct {
	Version     uint8
	RefCount    uint32
	HeaderSize  uint32 // bytes available in the primary block
	Messages    []*HeaderMessage
	Address     uint64
}

// V2 object header signature.
const ohdrSignature = "OHDR"

// ParseObjectHeader reads the object header at headerAddr, dispatching on the
// version byte. V1 headers have no signature; v2 headers open with "OHDR".
func ParseObjectHeader(r io.ReaderAt, headerAddr uint64, sb *Superblock) (*ObjectHeader, error) {
	probe := utils.GetBuffer(4)
	defer utils.ReleaseBuffer(probe)

	if _, err := r.ReadAt(probe, int64(headerAddr)); err != nil {
		return nil, utils.WrapError("object header probe failed", err)
	}

	if string(probe) == ohdrSignature {
		return parseV2Header(r, headerAddr, sb)
	}

	switch probe[0] {
	case 1:
		return parseV1Header(r, headerAddr, sb)
	default:
		return nil, fmt.Errorf("%w: object header version %d", utils.ErrUnsupportedVersion, probe[0])
	}
}

// FindMessage returns the first message of the given type, or nil.
func (oh *ObjectHeader) FindMessage(t MessageType) *HeaderMessage {
	for _, msg := range oh.Messages {
		if msg.Type == t {
			return msg
		}
	}
	return nil
}

// FindMessages returns every message of the given type in header order.
func (oh *ObjectHeader) FindMessages(t MessageType) []*HeaderMessage {
	var out []*HeaderMessage
	for _, msg := range oh.Messages {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// continuationInfo locates a continuation block.
type continuationInfo struct {
	Address uint64
	Size    uint64
}

// parseContinuationMessage extracts the continuation block address and size:
// address (OffsetSize bytes) then size (LengthSize bytes).
func parseContinuationMessage(data []byte, sb *Superblock) (continuationInfo, error) {
	minSize := int(sb.OffsetSize) + int(sb.LengthSize)
	if len(data) < minSize {
		return continuationInfo{}, fmt.Errorf("%w: continuation message needs %d bytes, got %d",
			utils.ErrTruncatedBuffer, minSize, len(data))
	}

	address, err := utils.ReadUint(data, int(sb.OffsetSize), sb.Endianness)
	if err != nil {
		return continuationInfo{}, err
	}
	size, err := utils.ReadUint(data[sb.OffsetSize:], int(sb.LengthSize), sb.Endianness)
	if err != nil {
		return continuationInfo{}, err
	}
	if size == 0 {
		return continuationInfo{}, utils.Corruptf("continuation block with zero size")
	}
	return continuationInfo{Address: address, Size: size}, nil
}

// parseV1Header parses a version 1 object header.
//
// Prefix (16 bytes):
//
//	Byte 0:      Version (1)
//	Byte 1:      Reserved
//	Bytes 2-3:   Total header messages (uint16)
//	Bytes 4-7:   Object reference count (uint32)
//	Bytes 8-11:  Object header size (uint32)
//	Bytes 12-15: Padding to 8-byte boundary
//
// Messages follow, each with an 8-byte envelope and 8-byte-aligned data.
// Continuation messages chain further blocks; a visited-address set guards
// against malformed cyclic chains.
func parseV1Header(r io.ReaderAt, headerAddr uint64, sb *Superblock) (*ObjectHeader, error) {
	headerBuf := utils.GetBuffer(16)
	defer utils.ReleaseBuffer(headerBuf)

	if _, err := r.ReadAt(headerBuf, int64(headerAddr)); err != nil {
		return nil, utils.WrapError("v1 header read failed", err)
	}

	if headerBuf[0] != 1 {
		return nil, fmt.Errorf("%w: v1 object header version %d", utils.ErrUnsupportedVersion, headerBuf[0])
	}

	totalMessages := sb.Endianness.Uint16(headerBuf[2:4])
	refCount := sb.Endianness.Uint32(headerBuf[4:8])
	headerSize := sb.Endianness.Uint32(headerBuf[8:12])

	oh := &ObjectHeader{
		Version:    1,
		RefCount:   refCount,
		HeaderSize: headerSize,
		Address:    headerAddr,
	}

	start := headerAddr + 16
	messages, err := parseV1MessagesInBlock(r, start, start+uint64(headerSize), totalMessages, sb)
	if err != nil {
		return nil, err
	}
	oh.Messages = messages

	// Follow continuation chains breadth-first with a visited set: malformed
	// files can point a continuation back at an earlier block.
	visited := map[uint64]bool{headerAddr: true}
	pending := findContinuations(oh.Messages, sb)
	for len(pending) > 0 {
		cont := pending[0]
		pending = pending[1:]

		if visited[cont.Address] {
			return nil, fmt.Errorf("%w: continuation block at %d revisited", utils.ErrCorruptStructure, cont.Address)
		}
		visited[cont.Address] = true

		remaining := int(totalMessages) - len(oh.Messages)
		if remaining <= 0 {
			break
		}
		contMessages, err := parseV1MessagesInBlock(r, cont.Address, cont.Address+cont.Size, uint16(remaining), sb)
		if err != nil {
			return nil, utils.WrapError("continuation block parse failed", err)
		}
		oh.Messages = append(oh.Messages, contMessages...)
		pending = append(pending, findContinuations(contMessages, sb)...)
	}

	return oh, nil
}

// findContinuations extracts continuation block locations from messages.
func findContinuations(messages []*HeaderMessage, sb *Superblock) []continuationInfo {
	var out []continuationInfo
	for _, msg := range messages {
		if msg.Type != MsgContinuation || len(msg.Data) == 0 {
			continue
		}
		cont, err := parseContinuationMessage(msg.Data, sb)
		if err != nil {
			continue
		}
		out = append(out, cont)
	}
	return out
}

// parseV1MessagesInBlock parses up to maxMessages envelopes between start and
// end.
func parseV1MessagesInBlock(r io.ReaderAt, start, end uint64, maxMessages uint16, sb *Superblock) ([]*HeaderMessage, error) {
	var messages []*HeaderMessage
	current := start
	count := uint16(0)

	for current+8 <= end && count < maxMessages {
		envBuf := utils.GetBuffer(8)
		if _, err := r.ReadAt(envBuf, int64(current)); err != nil {
			utils.ReleaseBuffer(envBuf)
			if err == io.EOF {
				break
			}
			return nil, utils.WrapError("message envelope read failed", err)
		}

		msgType := MessageType(sb.Endianness.Uint16(envBuf[0:2]))
		msgSize := sb.Endianness.Uint16(envBuf[2:4])
		msgFlags := envBuf[4]
		utils.ReleaseBuffer(envBuf)

		if current+8+uint64(msgSize) > end {
			return nil, fmt.Errorf("%w: message of size %d exceeds block at %d",
				utils.ErrTruncatedBuffer, msgSize, current)
		}

		data := make([]byte, msgSize)
		if msgSize > 0 {
			if _, err := r.ReadAt(data, int64(current+8)); err != nil {
				return nil, utils.WrapError("message data read failed", err)
			}
		}

		msg := &HeaderMessage{
			Type:   msgType,
			Flags:  msgFlags,
			Offset: current,
			Data:   data,
		}
		if err := classifyUnknown(msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
		count++

		// Messages are 8-byte aligned in v1.
		step := 8 + uint64(msgSize)
		step += uint64(utils.PadTo8(int(step)))
		current += step
	}

	return messages, nil
}

// parseV2Header parses a version 2 object header (read-only support).
//
// Prefix:
//
//	Bytes 0-3: Signature "OHDR"
//	Byte 4:    Version (2)
//	Byte 5:    Flags (bits 0-1: chunk-0 size width, bit 2: attribute creation
//	           order tracked, bit 4: attribute phase-change stored,
//	           bit 5: timestamps stored)
//	[4 x u32 timestamps when flag bit 5]
//	[2 x u16 attribute phase-change thresholds when flag bit 4]
//	Chunk-0 size (1/2/4/8 bytes per flag bits 0-1)
//
// Messages carry a 1-byte type, 2-byte size, 1-byte flags, and an optional
// 2-byte creation order when flag bit 2 is set. The block ends with a 4-byte
// checksum.
func parseV2Header(r io.ReaderAt, headerAddr uint64, sb *Superblock) (*ObjectHeader, error) {
	prefix := utils.GetBuffer(64)
	defer utils.ReleaseBuffer(prefix)

	if _, err := r.ReadAt(prefix, int64(headerAddr)); err != nil {
		return nil, utils.WrapError("v2 header read failed", err)
	}
	if string(prefix[0:4]) != ohdrSignature {
		return nil, fmt.Errorf("%w: missing OHDR signature", utils.ErrBadSignature)
	}
	if prefix[4] != 2 {
		return nil, fmt.Errorf("%w: v2 object header version %d", utils.ErrUnsupportedVersion, prefix[4])
	}

	flags := prefix[5]
	pos := 6
	if flags&0x20 != 0 {
		pos += 16 // access, modification, change, birth times
	}
	if flags&0x10 != 0 {
		pos += 4 // max compact / min dense
	}

	sizeWidth := 1 << (flags & 0x03)
	chunkSize, err := utils.ReadUint(prefix[pos:], sizeWidth, sb.Endianness)
	if err != nil {
		return nil, utils.WrapError("chunk 0 size read failed", err)
	}
	pos += sizeWidth

	oh := &ObjectHeader{
		Version:    2,
		RefCount:   1,
		HeaderSize: uint32(chunkSize),
		Address:    headerAddr,
	}

	trackOrder := flags&0x04 != 0
	start := headerAddr + uint64(pos)
	end := start + chunkSize

	current := start
	for current+4 <= end {
		envSize := 4
		if trackOrder {
			envSize += 2
		}
		envBuf := utils.GetBuffer(envSize)
		if _, err := r.ReadAt(envBuf, int64(current)); err != nil {
			utils.ReleaseBuffer(envBuf)
			return nil, utils.WrapError("v2 message envelope read failed", err)
		}
		msgType := MessageType(envBuf[0])
		msgSize := sb.Endianness.Uint16(envBuf[1:3])
		msgFlags := envBuf[3]
		utils.ReleaseBuffer(envBuf)

		if current+uint64(envSize)+uint64(msgSize) > end {
			break
		}
		data := make([]byte, msgSize)
		if msgSize > 0 {
			if _, err := r.ReadAt(data, int64(current)+int64(envSize)); err != nil {
				return nil, utils.WrapError("v2 message data read failed", err)
			}
		}

		msg := &HeaderMessage{Type: msgType, Flags: msgFlags, Offset: current, Data: data}
		if err := classifyUnknown(msg); err != nil {
			return nil, err
		}
		oh.Messages = append(oh.Messages, msg)
		current += uint64(envSize) + uint64(msgSize)
	}

	return oh, nil
}
