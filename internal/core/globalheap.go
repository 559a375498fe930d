package core

import (
	"fmt"
	"io"

	"github.com/h5works/hdf5/internal/utils"
)

// Global heap collection signature and defaults.
const (
	gcolSignature             = "GCOL"
	DefaultGlobalHeapCollSize = 4096
)

// globalHeapObject is one stored blob inside a collection.
type globalHeapObject struct {
	Index    uint16
	RefCount uint16
	Data     []byte
}

// globalHeapCollection is one on-disk collection of length-tagged blobs.
//
// Layout:
//
//	Bytes 0-3: Signature "GCOL"
//	Byte 4:    Version (1)
//	Bytes 5-7: Reserved
//	Collection size including header (lengthSize bytes)
//	Objects: {index u16, refcount u16, reserved u32, size lengthSize,
//	          data padded to 8}. Object index 0 terminates the collection
//	          and spans the free space.
type globalHeapCollection struct {
	Address uint64
	Size    uint64
	Objects map[uint16]*globalHeapObject

	nextIndex uint16
	used      uint64
	dirty     bool
}

// GlobalHeap is the file-wide store of variable-length payloads. One value
// lives on each File; collections are cached on read and flushed on write.
type GlobalHeap struct {
	sb          *Superblock
	collections map[uint64]*globalHeapCollection

	// Write-side state.
	current  *globalHeapCollection
	collSize uint64
	alloc    AllocFunc
}

// NewGlobalHeap builds an empty heap cache for reading.
func NewGlobalHeap(sb *Superblock) *GlobalHeap {
	return &GlobalHeap{
		sb:          sb,
		collections: map[uint64]*globalHeapCollection{},
		collSize:    DefaultGlobalHeapCollSize,
	}
}

// NewGlobalHeapWriter builds a heap that appends new collections through
// alloc. Collections grow by whole pages of collSize bytes.
func NewGlobalHeapWriter(sb *Superblock, alloc AllocFunc) *GlobalHeap {
	gh := NewGlobalHeap(sb)
	gh.alloc = alloc
	return gh
}

// Get resolves (collection address, object index) to the object's bytes,
// loading and caching the collection on first touch.
func (gh *GlobalHeap) Get(r io.ReaderAt, address uint64, index uint32) ([]byte, error) {
	coll, ok := gh.collections[address]
	if !ok {
		var err error
		coll, err = gh.loadCollection(r, address)
		if err != nil {
			return nil, err
		}
		gh.collections[address] = coll
	}

	if index > 0xFFFF {
		return nil, fmt.Errorf("%w: global heap index %d", utils.ErrOutOfRange, index)
	}
	obj, ok := coll.Objects[uint16(index)]
	if !ok {
		return nil, fmt.Errorf("%w: global heap object %d at address %d", utils.ErrOrphanedEntry, index, address)
	}
	return obj.Data, nil
}

func (gh *GlobalHeap) loadCollection(r io.ReaderAt, address uint64) (*globalHeapCollection, error) {
	headerSize := 8 + int(gh.sb.LengthSize)
	header := utils.GetBuffer(headerSize)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, int64(address)); err != nil {
		return nil, utils.WrapError("global heap header read failed", err)
	}
	if string(header[0:4]) != gcolSignature {
		return nil, fmt.Errorf("%w: global heap collection at %d", utils.ErrBadSignature, address)
	}
	if header[4] != 1 {
		return nil, fmt.Errorf("%w: global heap version %d", utils.ErrUnsupportedVersion, header[4])
	}

	collSize, err := utils.ReadUint(header[8:], int(gh.sb.LengthSize), gh.sb.Endianness)
	if err != nil {
		return nil, err
	}
	if collSize < uint64(headerSize) || collSize > 1<<30 {
		return nil, utils.Corruptf("global heap collection size %d", collSize)
	}

	body := make([]byte, collSize-uint64(headerSize))
	if _, err := r.ReadAt(body, int64(address)+int64(headerSize)); err != nil {
		return nil, utils.WrapError("global heap body read failed", err)
	}

	coll := &globalHeapCollection{
		Address: address,
		Size:    collSize,
		Objects: map[uint16]*globalHeapObject{},
	}

	objHeader := 8 + int(gh.sb.LengthSize)
	pos := 0
	for pos+objHeader <= len(body) {
		index := gh.sb.Endianness.Uint16(body[pos : pos+2])
		refCount := gh.sb.Endianness.Uint16(body[pos+2 : pos+4])
		objSize, err := utils.ReadUint(body[pos+8:], int(gh.sb.LengthSize), gh.sb.Endianness)
		if err != nil {
			return nil, err
		}
		pos += objHeader

		if index == 0 {
			break // free-space terminator
		}
		if pos+int(objSize) > len(body) {
			return nil, utils.Corruptf("global heap object %d of %d bytes exceeds collection", index, objSize)
		}
		coll.Objects[index] = &globalHeapObject{
			Index:    index,
			RefCount: refCount,
			Data:     append([]byte(nil), body[pos:pos+int(objSize)]...),
		}
		if index >= coll.nextIndex {
			coll.nextIndex = index + 1
		}
		pos += int(objSize) + utils.PadTo8(int(objSize))
	}

	return coll, nil
}

// Put appends a blob, starting a new collection when the current one cannot
// hold it. Returns the collection address and 1-based object index.
func (gh *GlobalHeap) Put(data []byte) (uint64, uint32, error) {
	if gh.alloc == nil {
		return 0, 0, fmt.Errorf("global heap is read-only")
	}

	objHeader := uint64(8 + int(gh.sb.LengthSize))
	need := objHeader + uint64(len(data)) + uint64(utils.PadTo8(len(data)))
	headerSize := uint64(8 + int(gh.sb.LengthSize))

	// A collection must retain room for the free-space terminator object.
	if gh.current == nil || gh.current.used+need+objHeader > gh.current.Size {
		collSize := gh.collSize
		if headerSize+need+objHeader > collSize {
			collSize = utils.AlignUp(headerSize+need+objHeader, DefaultGlobalHeapCollSize)
		}
		addr, err := gh.alloc(collSize)
		if err != nil {
			return 0, 0, utils.WrapError("global heap collection allocation failed", err)
		}
		gh.current = &globalHeapCollection{
			Address:   addr,
			Size:      collSize,
			Objects:   map[uint16]*globalHeapObject{},
			nextIndex: 1,
			used:      headerSize,
			dirty:     true,
		}
		gh.collections[addr] = gh.current
	}

	coll := gh.current
	index := coll.nextIndex
	if index == 0 {
		return 0, 0, fmt.Errorf("%w: global heap collection object indices exhausted", utils.ErrOutOfRange)
	}
	coll.Objects[index] = &globalHeapObject{
		Index:    index,
		RefCount: 1,
		Data:     append([]byte(nil), data...),
	}
	coll.nextIndex++
	coll.used += need
	coll.dirty = true

	return coll.Address, uint32(index), nil
}

// Flush writes every dirty collection.
func (gh *GlobalHeap) Flush(w io.WriterAt) error {
	for _, coll := range gh.collections {
		if !coll.dirty {
			continue
		}
		if err := gh.writeCollection(w, coll); err != nil {
			return err
		}
		coll.dirty = false
	}
	return nil
}

func (gh *GlobalHeap) writeCollection(w io.WriterAt, coll *globalHeapCollection) error {
	buf := make([]byte, coll.Size)
	copy(buf[0:4], gcolSignature)
	buf[4] = 1
	_ = utils.WriteUint(buf[8:], coll.Size, int(gh.sb.LengthSize), gh.sb.Endianness)

	objHeader := 8 + int(gh.sb.LengthSize)
	pos := 8 + int(gh.sb.LengthSize)
	for index := uint16(1); index < coll.nextIndex; index++ {
		obj, ok := coll.Objects[index]
		if !ok {
			continue
		}
		gh.sb.Endianness.PutUint16(buf[pos:pos+2], obj.Index)
		gh.sb.Endianness.PutUint16(buf[pos+2:pos+4], obj.RefCount)
		_ = utils.WriteUint(buf[pos+8:], uint64(len(obj.Data)), int(gh.sb.LengthSize), gh.sb.Endianness)
		pos += objHeader
		copy(buf[pos:], obj.Data)
		pos += len(obj.Data) + utils.PadTo8(len(obj.Data))
	}

	// Free-space object: index 0 with the remaining bytes.
	if pos+objHeader <= len(buf) {
		free := uint64(len(buf) - pos)
		_ = utils.WriteUint(buf[pos+8:], free, int(gh.sb.LengthSize), gh.sb.Endianness)
	}

	if _, err := w.WriteAt(buf, int64(coll.Address)); err != nil {
		return utils.WrapError("global heap collection write failed", err)
	}
	return nil
}

// Resolver adapts the heap to the element-converter HeapResolver interface
// for a given reader.
func (gh *GlobalHeap) Resolver(r io.ReaderAt) HeapResolver {
	return &heapResolver{gh: gh, r: r}
}

type heapResolver struct {
	gh *GlobalHeap
	r  io.ReaderAt
}

func (hr *heapResolver) Get(address uint64, index uint32) ([]byte, error) {
	return hr.gh.Get(hr.r, address, index)
}
