package core

import (
	"fmt"

	"github.com/h5works/hdf5/internal/utils"
)

// MessageType identifies an object header message kind.
type MessageType uint16

// Object header message types from the HDF5 format specification.
const (
	MsgNil             MessageType = 0x0000
	MsgDataspace       MessageType = 0x0001
	MsgLinkInfo        MessageType = 0x0002
	MsgDatatype        MessageType = 0x0003
	MsgFillValueOld    MessageType = 0x0004
	MsgFillValue       MessageType = 0x0005
	MsgLink            MessageType = 0x0006
	MsgExternalFiles   MessageType = 0x0007
	MsgDataLayout      MessageType = 0x0008
	MsgGroupInfo       MessageType = 0x000A
	MsgFilterPipeline  MessageType = 0x000B
	MsgAttribute       MessageType = 0x000C
	MsgContinuation    MessageType = 0x0010
	MsgSymbolTable     MessageType = 0x0011
	MsgModificationTime MessageType = 0x0012
	MsgBTreeKValues    MessageType = 0x0013
	MsgAttributeInfo   MessageType = 0x0015
	MsgRefCount        MessageType = 0x0016
)

// Message flag bits from the message envelope.
const (
	FlagConstant        = 0x01
	FlagShared          = 0x02
	FlagDontShare       = 0x04
	FlagFailIfWritable  = 0x08 // fail if unknown and file is writable
	FlagModTrackA       = 0x10
	FlagModTrackB       = 0x20
	FlagShareable       = 0x40
	FlagFailAlways      = 0x80 // fail if unknown, always
)

// HeaderMessage is one decoded message envelope from an object header:
// {type:u16, size:u16, flags:u8, reserved:[3]u8, data:[size]u8} in v1, with
// data padded so the next message starts on an 8-byte boundary.
type HeaderMessage struct {
	Type   MessageType
	Flags  uint8
	Offset uint64 // file offset of the envelope, for diagnostics
	Data   []byte

	// Unknown is set when the type was not recognized and flag bit 7
	// permitted keeping it as opaque bytes.
	Unknown bool
}

// knownMessageTypes lists every type this implementation decodes. Anything
// else is handled per the envelope flags: bit 7 set fails the parse, clear
// keeps the message as opaque bytes.
var knownMessageTypes = map[MessageType]bool{
	MsgNil: true, MsgDataspace: true, MsgLinkInfo: true, MsgDatatype: true,
	MsgFillValueOld: true, MsgFillValue: true, MsgLink: true,
	MsgExternalFiles: true, MsgDataLayout: true, MsgGroupInfo: true,
	MsgFilterPipeline: true, MsgAttribute: true, MsgContinuation: true,
	MsgSymbolTable: true, MsgModificationTime: true, MsgBTreeKValues: true,
	MsgAttributeInfo: true, MsgRefCount: true,
}

// classifyUnknown applies the unknown-message policy to a freshly parsed
// envelope. It returns an error when the flags demand failure.
func classifyUnknown(msg *HeaderMessage) error {
	if knownMessageTypes[msg.Type] {
		return nil
	}
	if msg.Flags&FlagFailAlways != 0 {
		return fmt.Errorf("%w: type 0x%04X with fail-always flag", utils.ErrUnknownMessage, uint16(msg.Type))
	}
	msg.Unknown = true
	return nil
}

// String names the message type for diagnostics.
func (t MessageType) String() string {
	switch t {
	case MsgNil:
		return "Nil"
	case MsgDataspace:
		return "Dataspace"
	case MsgLinkInfo:
		return "LinkInfo"
	case MsgDatatype:
		return "Datatype"
	case MsgFillValueOld:
		return "FillValueOld"
	case MsgFillValue:
		return "FillValue"
	case MsgLink:
		return "Link"
	case MsgExternalFiles:
		return "ExternalDataFiles"
	case MsgDataLayout:
		return "DataLayout"
	case MsgGroupInfo:
		return "GroupInfo"
	case MsgFilterPipeline:
		return "FilterPipeline"
	case MsgAttribute:
		return "Attribute"
	case MsgContinuation:
		return "Continuation"
	case MsgSymbolTable:
		return "SymbolTable"
	case MsgModificationTime:
		return "ObjectModificationTime"
	case MsgBTreeKValues:
		return "BTreeKValues"
	case MsgAttributeInfo:
		return "AttributeInfo"
	case MsgRefCount:
		return "ObjectReferenceCount"
	default:
		return fmt.Sprintf("Unknown(0x%04X)", uint16(t))
	}
}
