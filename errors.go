package hdf5

import "github.com/h5works/hdf5/internal/utils"

// Failure taxonomy of the format engine. Parsers wrap these sentinels with
// context; match them with errors.Is.
var (
	// ErrBadSignature: wrong magic at an expected structure (superblock,
	// B-tree, local heap, SNOD, OHDR). Fatal for that open.
	ErrBadSignature = utils.ErrBadSignature

	// ErrUnsupportedVersion: superblock or object header version outside
	// the supported set.
	ErrUnsupportedVersion = utils.ErrUnsupportedVersion

	// ErrCorruptStructure: an invariant violation was detected. Fatal for
	// that object, not necessarily the file.
	ErrCorruptStructure = utils.ErrCorruptStructure

	// ErrTruncatedBuffer: a structure declared a size exceeding the
	// remaining bytes.
	ErrTruncatedBuffer = utils.ErrTruncatedBuffer

	// ErrUnknownMessage: a message type outside the supported set whose
	// flags demand failure.
	ErrUnknownMessage = utils.ErrUnknownMessage

	// ErrTypeMismatch: the caller requested a decoding the stored datatype
	// does not support.
	ErrTypeMismatch = utils.ErrTypeMismatch

	// ErrOutOfRange: a numeric conversion to a narrower type would lose
	// information.
	ErrOutOfRange = utils.ErrOutOfRange

	// ErrAllocationExceeded: the writer exceeded its configured maximum
	// file size.
	ErrAllocationExceeded = utils.ErrAllocationExceeded

	// ErrCyclicBTree: a B-tree node address appeared twice on one
	// traversal path.
	ErrCyclicBTree = utils.ErrCyclicBTree

	// ErrUnreachableHeap: element data references a heap that is not
	// available.
	ErrUnreachableHeap = utils.ErrUnreachableHeap

	// ErrOrphanedEntry: an entry references storage that does not resolve.
	ErrOrphanedEntry = utils.ErrOrphanedEntry
)
