// Package writer provides the HDF5 write-path infrastructure: the
// file-space allocator, the write channel, and the chunk filter
// implementations.
package writer

import (
	"fmt"
	"sort"

	"github.com/h5works/hdf5/internal/utils"
)

// Reserved-region defaults. The first dataset's header budget is tuned so
// that raw data begins at or after the 2048-byte boundary.
const (
	SuperblockSize           = 96
	RootHeaderBlockSize      = 24 // one symbol table message
	RootHeapSegmentSize      = 88
	DefaultDatasetHeaderSize = 256
	RawDataBoundary          = 2048
)

// AllocatedBlock tracks one allocated region of the file.
type AllocatedBlock struct {
	Offset uint64
	Size   uint64
}

// Layout holds the reserved offsets computed before any dataset is added.
// These blocks never move; dynamic growth appends to end of file.
type Layout struct {
	Superblock         uint64
	RootObjectHeader   uint64
	RootBTree          uint64
	RootHeapHeader     uint64
	RootHeapSegment    uint64
	FirstDatasetHeader uint64
	EndOfReserved      uint64
}

// Allocator lays out every structure written to the file. It is a monotonic
// byte-offset allocator: allocation is append-only, offsets are 8-byte
// aligned, and existing blocks never move. End of file equals the highest
// allocated byte.
//
// Not thread-safe; the owning File serializes access.
type Allocator struct {
	blocks     []AllocatedBlock
	nextOffset uint64
	maxSize    uint64 // 0 = unlimited
	rawTouched bool
}

// NewAllocator creates an allocator whose cursor starts at initialOffset
// (just past the reserved region). maxSize of 0 disables the cap.
func NewAllocator(initialOffset, maxSize uint64) *Allocator {
	return &Allocator{
		blocks:     make([]AllocatedBlock, 0, 16),
		nextOffset: utils.AlignUp(initialOffset, 8),
		maxSize:    maxSize,
	}
}

// ComputeLayout lays out the reserved region: superblock, root object
// header, root B-tree node, root local heap, and the first dataset's header
// block. btreeSize is the fixed group B-tree node size for the superblock's
// K; datasetHeaderSize is the message-area budget of the first dataset.
func ComputeLayout(btreeSize, datasetHeaderSize uint64) Layout {
	l := Layout{Superblock: 0}
	l.RootObjectHeader = SuperblockSize
	l.RootBTree = l.RootObjectHeader + 16 + RootHeaderBlockSize
	l.RootHeapHeader = l.RootBTree + btreeSize
	l.RootHeapSegment = l.RootHeapHeader + 32
	l.FirstDatasetHeader = l.RootHeapSegment + RootHeapSegmentSize
	l.EndOfReserved = l.FirstDatasetHeader + 16 + datasetHeaderSize
	return l
}

// Allocate reserves size bytes at the end of the file, 8-byte aligned.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot allocate zero bytes")
	}

	addr := utils.AlignUp(a.nextOffset, 8)
	if a.maxSize > 0 && addr+size > a.maxSize {
		return 0, fmt.Errorf("%w: %d + %d bytes exceeds cap %d",
			utils.ErrAllocationExceeded, addr, size, a.maxSize)
	}

	a.blocks = append(a.blocks, AllocatedBlock{Offset: addr, Size: size})
	a.nextOffset = addr + size
	return addr, nil
}

// AllocateObjectHeader reserves a v1 object header block: 16-byte prefix
// plus the 8-byte-aligned message area.
func (a *Allocator) AllocateObjectHeader(blockSize uint64) (uint64, error) {
	return a.Allocate(16 + utils.AlignUp(blockSize, 8))
}

// AllocateRawData reserves dataset raw storage. The first raw allocation is
// pushed to the RawDataBoundary so metadata and data regions stay separate.
func (a *Allocator) AllocateRawData(size uint64) (uint64, error) {
	if !a.rawTouched && a.nextOffset < RawDataBoundary {
		a.nextOffset = RawDataBoundary
	}
	a.rawTouched = true
	return a.Allocate(size)
}

// ExpandLocalHeap reserves a relocated, doubled heap data segment.
func (a *Allocator) ExpandLocalHeap(newSize uint64) (uint64, error) {
	return a.Allocate(newSize)
}

// AllocateGlobalHeapCollection reserves one global heap collection page.
func (a *Allocator) AllocateGlobalHeapCollection(size uint64) (uint64, error) {
	return a.Allocate(size)
}

// EndOfFile returns the current end-of-file address: where the next
// allocation would land.
func (a *Allocator) EndOfFile() uint64 {
	return a.nextOffset
}

// IsAllocated reports whether [offset, offset+size) overlaps any block.
func (a *Allocator) IsAllocated(offset, size uint64) bool {
	if size == 0 {
		return false
	}
	end := offset + size
	for _, b := range a.blocks {
		if offset < b.Offset+b.Size && b.Offset < end {
			return true
		}
	}
	return false
}

// Blocks returns a copy of all allocated blocks sorted by offset.
func (a *Allocator) Blocks() []AllocatedBlock {
	blocks := make([]AllocatedBlock, len(a.blocks))
	copy(blocks, a.blocks)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Offset < blocks[j].Offset })
	return blocks
}

// ValidateNoOverlaps checks allocator integrity; overlaps indicate a bug.
func (a *Allocator) ValidateNoOverlaps() error {
	blocks := a.Blocks()
	for i := 0; i < len(blocks)-1; i++ {
		if blocks[i].Offset+blocks[i].Size > blocks[i+1].Offset {
			return fmt.Errorf("overlap: block at %d (size %d) overlaps block at %d",
				blocks[i].Offset, blocks[i].Size, blocks[i+1].Offset)
		}
	}
	return nil
}
