package core

import (
	"fmt"
	"io"

	"github.com/h5works/hdf5/internal/utils"
)

// AllocFunc reserves size bytes of file space and returns its offset. The
// object header writer calls it when messages spill into a continuation
// block.
type AllocFunc func(size uint64) (uint64, error)

// encodedMessageSize returns the envelope-plus-padded-data size of one
// message as laid out in a v1 header block.
func encodedMessageSize(msg *HeaderMessage) int {
	return 8 + len(msg.Data) + utils.PadTo8(len(msg.Data))
}

// MessagesSize returns the aggregate v1 block size of messages, each with
// its 8-byte envelope and data padded to an 8-byte boundary.
func MessagesSize(messages []*HeaderMessage) int {
	total := 0
	for _, msg := range messages {
		total += encodedMessageSize(msg)
	}
	return total
}

// continuationDataSize is the payload of a continuation message: one file
// address plus one length, padded to 8 bytes.
func continuationDataSize(sb *Superblock) int {
	n := int(sb.OffsetSize) + int(sb.LengthSize)
	return n + utils.PadTo8(n)
}

// WriteObjectHeaderV1 lays out messages into the reserved header block at
// headerAddr and writes them. blockSize is the message-area budget of the
// primary block (the 16-byte prefix is not counted). When the messages do
// not fit, a continuation message is placed inline and the overflow is
// written to a block obtained from alloc. Leftover space in the primary
// block is covered by a trailing Nil message.
//
// Returns the total size consumed at headerAddr (prefix + block).
func WriteObjectHeaderV1(w io.WriterAt, headerAddr uint64, blockSize uint32, messages []*HeaderMessage, refCount uint32, sb *Superblock, alloc AllocFunc) (uint64, error) {
	if blockSize%8 != 0 {
		return 0, fmt.Errorf("object header block size %d is not 8-byte aligned", blockSize)
	}

	inline, overflow := splitForBlock(messages, int(blockSize), sb)

	var contBlock []byte
	var contAddr uint64
	if len(overflow) > 0 {
		if alloc == nil {
			return 0, fmt.Errorf("%d header messages overflow a %d-byte block and no allocator was provided",
				len(overflow), blockSize)
		}
		contSize := MessagesSize(overflow)
		var err error
		contAddr, err = alloc(uint64(contSize))
		if err != nil {
			return 0, utils.WrapError("continuation block allocation failed", err)
		}
		contBlock = make([]byte, contSize)
		if err := packMessages(contBlock, overflow, sb); err != nil {
			return 0, err
		}

		// The continuation message goes first so readers can begin chasing the
		// chain before decoding the rest of the inline stream.
		contData := make([]byte, continuationDataSize(sb))
		_ = utils.WriteUint(contData, contAddr, int(sb.OffsetSize), sb.Endianness)
		_ = utils.WriteUint(contData[sb.OffsetSize:], uint64(contSize), int(sb.LengthSize), sb.Endianness)
		inline = append([]*HeaderMessage{{Type: MsgContinuation, Data: contData}}, inline...)
	}

	used := MessagesSize(inline)
	if used > int(blockSize) {
		return 0, fmt.Errorf("internal: inline messages (%d bytes) exceed block budget (%d)", used, blockSize)
	}

	// Cover the remaining reserved space with a Nil message so the block
	// parses cleanly end to end.
	if gap := int(blockSize) - used; gap >= 8 {
		inline = append(inline, &HeaderMessage{Type: MsgNil, Data: make([]byte, gap-8)})
		used = int(blockSize)
	} else if gap != 0 {
		return 0, fmt.Errorf("internal: unfillable %d-byte gap in header block", gap)
	}

	totalMessages := len(inline) + len(overflow)
	if totalMessages > 0xFFFF {
		return 0, fmt.Errorf("%w: %d header messages", utils.ErrOutOfRange, totalMessages)
	}

	buf := make([]byte, 16+blockSize)
	buf[0] = 1 // version
	sb.Endianness.PutUint16(buf[2:4], uint16(totalMessages))
	sb.Endianness.PutUint32(buf[4:8], refCount)
	sb.Endianness.PutUint32(buf[8:12], blockSize)
	if err := packMessages(buf[16:], inline, sb); err != nil {
		return 0, err
	}

	if _, err := w.WriteAt(buf, int64(headerAddr)); err != nil {
		return 0, utils.WrapError("object header write failed", err)
	}
	if contBlock != nil {
		if _, err := w.WriteAt(contBlock, int64(contAddr)); err != nil {
			return 0, utils.WrapError("continuation block write failed", err)
		}
	}

	return 16 + uint64(blockSize), nil
}

// splitForBlock partitions messages into the prefix that fits blockSize and
// the overflow that must continue elsewhere. When everything fits, overflow
// is empty and no continuation space is reserved.
func splitForBlock(messages []*HeaderMessage, blockSize int, sb *Superblock) (inline, overflow []*HeaderMessage) {
	if MessagesSize(messages) <= blockSize {
		return messages, nil
	}

	// Reserve room for the continuation envelope up front.
	budget := blockSize - (8 + continuationDataSize(sb))
	used := 0
	split := 0
	for i, msg := range messages {
		sz := encodedMessageSize(msg)
		if used+sz > budget {
			break
		}
		used += sz
		split = i + 1
	}
	return messages[:split], messages[split:]
}

// packMessages serializes envelopes and padded data into buf.
func packMessages(buf []byte, messages []*HeaderMessage, sb *Superblock) error {
	pos := 0
	for _, msg := range messages {
		padded := len(msg.Data) + utils.PadTo8(len(msg.Data))
		if pos+8+padded > len(buf) {
			return fmt.Errorf("%w: message stream exceeds block", utils.ErrTruncatedBuffer)
		}
		sb.Endianness.PutUint16(buf[pos:pos+2], uint16(msg.Type))
		sb.Endianness.PutUint16(buf[pos+2:pos+4], uint16(padded))
		buf[pos+4] = msg.Flags
		copy(buf[pos+8:], msg.Data)
		pos += 8 + padded
	}
	return nil
}
