package writer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/core"
	"github.com/h5works/hdf5/internal/utils"
)

func TestDeflateRoundTrip(t *testing.T) {
	f := NewDeflateFilter(6)
	payload := bytes.Repeat([]byte("hdf5 chunk payload "), 100)

	compressed, err := f.Encode(payload)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(payload))

	back, err := f.Decode(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestShuffleRoundTrip(t *testing.T) {
	f := &ShuffleFilter{ElementSize: 4}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	shuffled, err := f.Encode(payload)
	require.NoError(t, err)
	// Byte planes: all first bytes, then all second bytes, and so on.
	require.Equal(t, []byte{1, 5, 9, 2, 6, 10, 3, 7, 11, 4, 8, 12}, shuffled)

	back, err := f.Decode(shuffled)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestShuffleRejectsPartialElements(t *testing.T) {
	f := &ShuffleFilter{ElementSize: 4}
	_, err := f.Encode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestFletcher32RoundTrip(t *testing.T) {
	f := &Fletcher32Filter{}
	payload := []byte("checksummed chunk")

	stored, err := f.Encode(payload)
	require.NoError(t, err)
	require.Len(t, stored, len(payload)+4)

	back, err := f.Decode(stored)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestFletcher32DetectsCorruption(t *testing.T) {
	f := &Fletcher32Filter{}
	stored, err := f.Encode([]byte("checksummed chunk"))
	require.NoError(t, err)

	stored[0] ^= 0xFF
	_, err = f.Decode(stored)
	require.ErrorIs(t, err, utils.ErrCorruptStructure)
}

func TestPipelineDeclaredOrder(t *testing.T) {
	fp := &core.FilterPipeline{
		Version: 1,
		Filters: []core.FilterEntry{
			{ID: core.FilterShuffle, ClientData: []uint32{8}},
			{ID: core.FilterDeflate, ClientData: []uint32{6}},
			{ID: core.FilterFletcher32},
		},
	}
	p, err := NewPipeline(fp, 8)
	require.NoError(t, err)
	require.False(t, p.Empty())

	payload := bytes.Repeat([]byte{9, 8, 7, 6, 5, 4, 3, 2}, 64)
	stored, err := p.Encode(payload)
	require.NoError(t, err)

	back, err := p.Decode(stored, 0)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestPipelineFilterMaskSkipsStage(t *testing.T) {
	fp := &core.FilterPipeline{
		Version: 1,
		Filters: []core.FilterEntry{
			{ID: core.FilterDeflate, ClientData: []uint32{6}},
		},
	}
	p, err := NewPipeline(fp, 1)
	require.NoError(t, err)

	payload := []byte("stored without the masked filter applied")
	// Mask bit 0: the chunk skipped deflate at write time.
	back, err := p.Decode(payload, 0x1)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestPipelineUnknownFilter(t *testing.T) {
	fp := &core.FilterPipeline{
		Version: 1,
		Filters: []core.FilterEntry{{ID: 999}},
	}
	_, err := NewPipeline(fp, 1)
	require.Error(t, err)
}

func TestEmptyPipelinePassThrough(t *testing.T) {
	p, err := NewPipeline(nil, 8)
	require.NoError(t, err)
	require.True(t, p.Empty())

	payload := []byte{1, 2, 3}
	out, err := p.Encode(payload)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}
