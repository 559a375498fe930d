package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/utils"
)

func TestDataspaceRoundTrip(t *testing.T) {
	sb := testSuperblock()

	tests := []struct {
		name    string
		dims    []uint64
		maxDims []uint64
	}{
		{"1d", []uint64{3}, nil},
		{"2d", []uint64{4, 5}, nil},
		{"resizable", []uint64{2, 2}, []uint64{10, utils.UndefinedAddress}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &Dataspace{Version: 1, Dimensions: tt.dims, MaxDims: tt.maxDims}
			encoded, err := ds.Encode(sb)
			require.NoError(t, err)

			back, err := ParseDataspace(encoded, sb)
			require.NoError(t, err)
			require.Equal(t, tt.dims, back.Dimensions)
			if tt.maxDims != nil {
				require.Equal(t, tt.maxDims, back.MaxDims)
			}
		})
	}
}

func TestDataspaceRankLimit(t *testing.T) {
	ds := &Dataspace{Version: 1, Dimensions: make([]uint64, 33)}
	_, err := ds.Encode(testSuperblock())
	require.ErrorIs(t, err, utils.ErrCorruptStructure)
}

func TestDataspaceElementCount(t *testing.T) {
	ds := &Dataspace{Dimensions: []uint64{3, 4, 5}}
	require.Equal(t, uint64(60), ds.ElementCount())

	scalar := &Dataspace{}
	require.Equal(t, uint64(1), scalar.ElementCount())
}

func TestDataLayoutContiguousRoundTrip(t *testing.T) {
	sb := testSuperblock()
	layout := &DataLayout{Version: 3, Class: LayoutContiguous, DataAddress: 2048, DataSize: 24}

	encoded, err := layout.Encode(sb)
	require.NoError(t, err)
	back, err := ParseDataLayout(encoded, sb)
	require.NoError(t, err)
	require.Equal(t, LayoutContiguous, back.Class)
	require.Equal(t, uint64(2048), back.DataAddress)
	require.Equal(t, uint64(24), back.DataSize)
}

func TestDataLayoutChunkedRoundTrip(t *testing.T) {
	sb := testSuperblock()
	layout := &DataLayout{
		Version:           3,
		Class:             LayoutChunked,
		ChunkBTreeAddress: 4096,
		ChunkDims:         []uint32{16, 32},
		ElementSize:       8,
	}

	encoded, err := layout.Encode(sb)
	require.NoError(t, err)
	back, err := ParseDataLayout(encoded, sb)
	require.NoError(t, err)
	require.Equal(t, LayoutChunked, back.Class)
	require.Equal(t, uint64(4096), back.ChunkBTreeAddress)
	require.Equal(t, []uint32{16, 32}, back.ChunkDims)
	require.Equal(t, uint32(8), back.ElementSize)
}

func TestDataLayoutCompactRoundTrip(t *testing.T) {
	sb := testSuperblock()
	layout := &DataLayout{Version: 3, Class: LayoutCompact, CompactData: []byte{1, 2, 3, 4}}

	encoded, err := layout.Encode(sb)
	require.NoError(t, err)
	back, err := ParseDataLayout(encoded, sb)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, back.CompactData)
	require.Equal(t, uint64(4), back.DataSize)
}

func TestFillValueRoundTrip(t *testing.T) {
	sb := testSuperblock()

	fv := &FillValue{Version: 2, SpaceAllocTime: 2, WriteTime: 0, Defined: true, Value: []byte{0, 0, 0x80, 0x3F}}
	back, err := ParseFillValue(fv.Encode(sb), sb)
	require.NoError(t, err)
	require.True(t, back.Defined)
	require.Equal(t, fv.Value, back.Value)

	undef := &FillValue{Version: 2, SpaceAllocTime: 2}
	back, err = ParseFillValue(undef.Encode(sb), sb)
	require.NoError(t, err)
	require.False(t, back.Defined)
	require.Empty(t, back.Value)
}

func TestFillValueV3Flags(t *testing.T) {
	sb := testSuperblock()

	// Version 3, defined flag set, 2-byte value.
	data := []byte{3, 0x20 | 0x02, 2, 0, 0, 0, 0xAB, 0xCD}
	fv, err := ParseFillValue(data, sb)
	require.NoError(t, err)
	require.True(t, fv.Defined)
	require.Equal(t, []byte{0xAB, 0xCD}, fv.Value)

	// Both defined and undefined set is contradictory.
	bad := []byte{3, 0x30, 0, 0, 0, 0}
	_, err = ParseFillValue(bad, sb)
	require.ErrorIs(t, err, utils.ErrCorruptStructure)
}

func TestFilterPipelineRoundTrip(t *testing.T) {
	sb := testSuperblock()
	fp := &FilterPipeline{
		Version: 1,
		Filters: []FilterEntry{
			{ID: FilterShuffle, ClientData: []uint32{8}},
			{ID: FilterDeflate, Flags: 1, ClientData: []uint32{6}},
		},
	}

	encoded, err := fp.Encode(sb)
	require.NoError(t, err)
	back, err := ParseFilterPipeline(encoded, sb)
	require.NoError(t, err)
	require.Len(t, back.Filters, 2)
	require.Equal(t, uint16(FilterShuffle), back.Filters[0].ID)
	require.Equal(t, []uint32{8}, back.Filters[0].ClientData)
	require.Equal(t, uint16(FilterDeflate), back.Filters[1].ID)
	require.Equal(t, uint16(1), back.Filters[1].Flags)
	require.Equal(t, []uint32{6}, back.Filters[1].ClientData)
}

func TestAttributeRoundTrip(t *testing.T) {
	sb := testSuperblock()
	dt, err := NewFloat(8)
	require.NoError(t, err)

	attr := &Attribute{
		Version:   1,
		Name:      "units",
		Datatype:  dt,
		Dataspace: &Dataspace{Version: 1, Dimensions: []uint64{1}},
		Value:     []byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}, // 1.0
	}

	encoded, err := attr.Encode(sb)
	require.NoError(t, err)
	back, err := ParseAttribute(encoded, sb)
	require.NoError(t, err)
	require.Equal(t, "units", back.Name)
	require.Equal(t, DatatypeFloat, back.Datatype.Class)
	require.Equal(t, []uint64{1}, back.Dataspace.Dimensions)

	v, err := back.DecodeValue(NewRegistry(), nil)
	require.NoError(t, err)
	require.Equal(t, 1.0, v)
}

func TestAttributeDataspaceSizeComputed(t *testing.T) {
	// A rank-3 dataspace must not be encoded with an assumed fixed size.
	sb := testSuperblock()
	attr := &Attribute{
		Version:   1,
		Name:      "grid",
		Datatype:  NewFixed(4, true),
		Dataspace: &Dataspace{Version: 1, Dimensions: []uint64{2, 2, 2}},
		Value:     make([]byte, 32),
	}

	encoded, err := attr.Encode(sb)
	require.NoError(t, err)
	back, err := ParseAttribute(encoded, sb)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 2, 2}, back.Dataspace.Dimensions)

	vals, err := back.DecodeValue(NewRegistry(), nil)
	require.NoError(t, err)
	require.Len(t, vals.([]any), 8)
}
