package writer

import (
	"fmt"

	"github.com/h5works/hdf5/internal/core"
)

// Filter transforms one raw chunk. Encode runs on the write path in
// pipeline order; Decode runs on the read path in reverse order.
type Filter interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Pipeline binds a dataset's filter pipeline message to runnable filters.
type Pipeline struct {
	stages []Filter
	ids    []uint16
}

// NewPipeline resolves a filter pipeline message. elementSize feeds the
// shuffle filter. Unknown filter IDs fail here rather than at chunk time.
func NewPipeline(fp *core.FilterPipeline, elementSize int) (*Pipeline, error) {
	p := &Pipeline{}
	if fp == nil {
		return p, nil
	}
	for _, entry := range fp.Filters {
		var stage Filter
		switch entry.ID {
		case core.FilterDeflate:
			level := -1
			if len(entry.ClientData) > 0 {
				level = int(entry.ClientData[0])
			}
			stage = NewDeflateFilter(level)
		case core.FilterShuffle:
			size := elementSize
			if len(entry.ClientData) > 0 {
				size = int(entry.ClientData[0])
			}
			stage = &ShuffleFilter{ElementSize: size}
		case core.FilterFletcher32:
			stage = &Fletcher32Filter{}
		default:
			return nil, fmt.Errorf("unsupported filter id %d (%s)", entry.ID, entry.Name)
		}
		p.stages = append(p.stages, stage)
		p.ids = append(p.ids, entry.ID)
	}
	return p, nil
}

// Empty reports whether the pipeline has no stages.
func (p *Pipeline) Empty() bool {
	return len(p.stages) == 0
}

// Encode runs the filters in declared order.
func (p *Pipeline) Encode(data []byte) ([]byte, error) {
	var err error
	for i, stage := range p.stages {
		if data, err = stage.Encode(data); err != nil {
			return nil, fmt.Errorf("filter %d encode: %w", p.ids[i], err)
		}
	}
	return data, nil
}

// Decode runs the filters in reverse order, skipping stages masked out by
// the chunk's filter mask (bit i set = filter i skipped at write time).
func (p *Pipeline) Decode(data []byte, filterMask uint32) ([]byte, error) {
	var err error
	for i := len(p.stages) - 1; i >= 0; i-- {
		if filterMask&(1<<uint(i)) != 0 {
			continue
		}
		if data, err = p.stages[i].Decode(data); err != nil {
			return nil, fmt.Errorf("filter %d decode: %w", p.ids[i], err)
		}
	}
	return data, nil
}
