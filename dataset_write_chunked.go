package hdf5

import (
	"fmt"

	"github.com/h5works/hdf5/internal/structures"
	"github.com/h5works/hdf5/internal/utils"
	"github.com/h5works/hdf5/internal/writer"
)

// writeChunkedRaw splits the dataset's row-major element bytes into
// fixed-shape chunks, pushes each through the filter pipeline, stores it,
// and records it in the chunk B-tree. Edge chunks keep the full chunk shape
// with zero padding past the dataspace bounds.
func (d *Dataset) writeChunkedRaw(data []byte) error {
	f := d.file
	dims := d.dspace.Dimensions
	chunkDims := d.layout.ChunkDims
	size := uint64(d.dtype.Size)

	if uint64(len(data)) != d.dspace.ElementCount()*size {
		return fmt.Errorf("%w: %d raw bytes for %d elements of %d bytes",
			utils.ErrTypeMismatch, len(data), d.dspace.ElementCount(), size)
	}

	pipeline, err := writer.NewPipeline(d.pipeline, int(d.dtype.Size))
	if err != nil {
		return err
	}

	chunkElems := uint64(1)
	for _, cd := range chunkDims {
		chunkElems *= uint64(cd)
	}

	// Chunk grid: per-dimension chunk counts.
	counts := make([]uint64, len(dims))
	for i := range dims {
		counts[i] = (dims[i] + uint64(chunkDims[i]) - 1) / uint64(chunkDims[i])
	}
	totalChunks := uint64(1)
	for _, c := range counts {
		totalChunks *= c
	}

	for ci := uint64(0); ci < totalChunks; ci++ {
		gridCoords := unflattenIndex(ci, counts)
		origin := make([]uint64, len(dims))
		for i := range origin {
			origin[i] = gridCoords[i] * uint64(chunkDims[i])
		}

		chunk := make([]byte, chunkElems*size)
		fillChunk(chunk, data, dims, chunkDims, origin, size)

		stored, err := pipeline.Encode(chunk)
		if err != nil {
			return fmt.Errorf("chunk %v: %w", origin, err)
		}

		addr, err := f.fw.Allocator().AllocateRawData(uint64(len(stored)))
		if err != nil {
			return err
		}
		if _, err := f.fw.WriteAt(stored, int64(addr)); err != nil {
			return utils.WrapError("chunk write failed", err)
		}

		key := structures.ChunkKey{
			Size:    uint32(len(stored)),
			Offsets: origin,
		}
		if err := d.chunkTree.Insert(key, addr); err != nil {
			return err
		}
	}

	d.written = uint64(len(data))
	return nil
}

// fillChunk copies the chunk's elements out of the dataset's row-major
// buffer, leaving positions past the dataspace bounds zeroed.
func fillChunk(chunk, data []byte, dims []uint64, chunkDims []uint32, origin []uint64, size uint64) {
	chunkElems := uint64(len(chunk)) / size
	cdims := make([]uint64, len(chunkDims))
	for i, cd := range chunkDims {
		cdims[i] = uint64(cd)
	}

	for ei := uint64(0); ei < chunkElems; ei++ {
		intra := unflattenIndex(ei, cdims)
		inside := true
		coords := make([]uint64, len(dims))
		for i := range coords {
			coords[i] = origin[i] + intra[i]
			if coords[i] >= dims[i] {
				inside = false
				break
			}
		}
		if !inside {
			continue
		}

		var flat uint64
		for i := range coords {
			flat = flat*dims[i] + coords[i]
		}
		copy(chunk[ei*size:(ei+1)*size], data[flat*size:(flat+1)*size])
	}
}
