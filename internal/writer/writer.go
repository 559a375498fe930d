package writer

import (
	"fmt"
	"io"
	"os"

	"github.com/orcaman/writerseeker"
)

// Channel is the seekable byte channel the writer targets: positioned reads
// and writes over a file or an in-memory buffer.
type Channel interface {
	io.ReaderAt
	io.WriterAt
}

// CreateMode specifies the file creation behavior.
type CreateMode int

const (
	// ModeTruncate creates a new file, truncating if it exists.
	ModeTruncate CreateMode = iota

	// ModeExclusive creates a new file, failing if it exists.
	ModeExclusive
)

// FileWriter binds a channel to the space allocator. All metadata and raw
// data writes on the build path go through one FileWriter.
//
// Not thread-safe; the owning File serializes access.
type FileWriter struct {
	channel   Channel
	closer    io.Closer
	syncer    interface{ Sync() error }
	allocator *Allocator
	mem       *memoryChannel
}

// NewFileWriter creates a writer over a new file on disk. initialOffset is
// the allocator's starting cursor (end of the reserved region).
func NewFileWriter(filename string, mode CreateMode, initialOffset, maxSize uint64) (*FileWriter, error) {
	var osFile *os.File
	var err error

	switch mode {
	case ModeTruncate:
		osFile, err = os.Create(filename)
	case ModeExclusive:
		osFile, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &FileWriter{
		channel:   osFile,
		closer:    osFile,
		syncer:    osFile,
		allocator: NewAllocator(initialOffset, maxSize),
	}, nil
}

// NewBufferWriter creates a writer over an in-memory channel. Used by the
// round-trip verifier and tests that never touch disk.
func NewBufferWriter(initialOffset, maxSize uint64) *FileWriter {
	mem := newMemoryChannel()
	return &FileWriter{
		channel:   mem,
		mem:       mem,
		allocator: NewAllocator(initialOffset, maxSize),
	}
}

// NewChannelWriter wraps an existing channel.
func NewChannelWriter(ch Channel, initialOffset, maxSize uint64) *FileWriter {
	return &FileWriter{
		channel:   ch,
		allocator: NewAllocator(initialOffset, maxSize),
	}
}

// Allocate reserves file space through the allocator.
func (w *FileWriter) Allocate(size uint64) (uint64, error) {
	if w.channel == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.allocator.Allocate(size)
}

// WriteAt writes data at a file address. Implements io.WriterAt.
func (w *FileWriter) WriteAt(data []byte, offset int64) (int, error) {
	if w.channel == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := w.channel.WriteAt(data, offset)
	if err != nil {
		return n, fmt.Errorf("write at address %d failed: %w", offset, err)
	}
	if n != len(data) {
		return n, fmt.Errorf("incomplete write at address %d: wrote %d of %d bytes", offset, n, len(data))
	}
	return n, nil
}

// ReadAt reads back previously written bytes. Implements io.ReaderAt.
func (w *FileWriter) ReadAt(buf []byte, addr int64) (int, error) {
	if w.channel == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.channel.ReadAt(buf, addr)
}

// EndOfFile returns the allocator's current end-of-file address.
func (w *FileWriter) EndOfFile() uint64 {
	return w.allocator.EndOfFile()
}

// Allocator exposes the space allocator.
func (w *FileWriter) Allocator() *Allocator {
	return w.allocator
}

// ValidateLayout checks allocator integrity before the superblock commits.
func (w *FileWriter) ValidateLayout() error {
	return w.allocator.ValidateNoOverlaps()
}

// Flush commits buffered writes when the channel supports it.
func (w *FileWriter) Flush() error {
	if w.channel == nil {
		return fmt.Errorf("writer is closed")
	}
	if w.syncer != nil {
		return w.syncer.Sync()
	}
	return nil
}

// Close releases the channel. Safe to call more than once.
func (w *FileWriter) Close() error {
	if w.channel == nil {
		return nil
	}
	var err error
	if w.closer != nil {
		err = w.closer.Close()
	}
	w.channel = nil
	return err
}

// memoryChannel adapts writerseeker's in-memory WriteSeeker into a
// positioned read/write channel.
type memoryChannel struct {
	ws *writerseeker.WriterSeeker
}

func newMemoryChannel() *memoryChannel {
	return &memoryChannel{ws: &writerseeker.WriterSeeker{}}
}

func (m *memoryChannel) WriteAt(p []byte, off int64) (int, error) {
	if _, err := m.ws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return m.ws.Write(p)
}

func (m *memoryChannel) ReadAt(p []byte, off int64) (int, error) {
	return m.ws.BytesReader().ReadAt(p, off)
}

// Bytes returns the accumulated image.
func (m *memoryChannel) Bytes() []byte {
	br := m.ws.BytesReader()
	out := make([]byte, br.Size())
	if len(out) > 0 {
		_, _ = br.ReadAt(out, 0)
	}
	return out
}

// Bytes returns the in-memory image when the writer targets a buffer. The
// image stays readable after Close.
func (w *FileWriter) Bytes() ([]byte, bool) {
	if w.mem != nil {
		return w.mem.Bytes(), true
	}
	return nil, false
}

var (
	_ io.ReaderAt = (*FileWriter)(nil)
	_ io.WriterAt = (*FileWriter)(nil)
)
