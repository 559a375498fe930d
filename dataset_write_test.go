package hdf5

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/core"
)

func TestContiguousFloat64Dataset(t *testing.T) {
	f := CreateMemory()

	dt, err := core.NewFloat(8)
	require.NoError(t, err)
	ds, err := f.Root().CreateDataset("Demand", dt, []uint64{3})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]float64{1.5, 2.25, 3.125}))

	back := reopen(t, f)
	d, err := back.Root().Dataset("Demand")
	require.NoError(t, err)

	require.Equal(t, core.LayoutContiguous, d.Layout().Class)
	require.Equal(t, uint64(24), d.Layout().DataSize)
	require.Equal(t, []uint64{3}, d.Dataspace().Dimensions)

	values, err := d.ReadFloat64s()
	require.NoError(t, err)
	require.Equal(t, []float64{1.5, 2.25, 3.125}, values)
}

func TestContiguousIntAndStringDatasets(t *testing.T) {
	f := CreateMemory()
	root := f.Root()

	ints, err := root.CreateDataset("ints", core.NewFixed(8, true), []uint64{4})
	require.NoError(t, err)
	require.NoError(t, ints.WriteElements([]int64{-2, -1, 0, 7}))

	strs, err := root.CreateDataset("names", core.NewFixedString(8, core.PadNullTerminate), []uint64{2})
	require.NoError(t, err)
	require.NoError(t, strs.WriteElements([]string{"alpha", "beta"}))

	back := reopen(t, f)

	d, err := back.Root().Dataset("ints")
	require.NoError(t, err)
	got, err := d.ReadInt64s()
	require.NoError(t, err)
	require.Equal(t, []int64{-2, -1, 0, 7}, got)

	d, err = back.Root().Dataset("names")
	require.NoError(t, err)
	names, err := d.ReadStrings()
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, names)
}

func TestChunkedDatasetRoundTrip(t *testing.T) {
	f := CreateMemory()

	dt, err := core.NewFloat(8)
	require.NoError(t, err)
	values := make([]float64, 10)
	for i := range values {
		values[i] = float64(i) * 0.5
	}

	ds, err := f.Root().CreateDataset("series", dt, []uint64{10}, WithChunking([]uint32{4}))
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements(values))

	back := reopen(t, f)
	d, err := back.Root().Dataset("series")
	require.NoError(t, err)
	require.Equal(t, core.LayoutChunked, d.Layout().Class)
	require.Equal(t, []uint32{4}, d.Layout().ChunkDims)

	got, err := d.ReadFloat64s()
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestChunkedDatasetWithFilters(t *testing.T) {
	f := CreateMemory()

	dt, err := core.NewFloat(8)
	require.NoError(t, err)
	values := make([]float64, 64)
	for i := range values {
		values[i] = float64(i % 8)
	}

	ds, err := f.Root().CreateDataset("packed", dt, []uint64{64},
		WithChunking([]uint32{16}), WithShuffle(), WithDeflate(6))
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements(values))

	back := reopen(t, f)
	d, err := back.Root().Dataset("packed")
	require.NoError(t, err)

	got, err := d.ReadFloat64s()
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestChunked2DDataset(t *testing.T) {
	f := CreateMemory()

	values := make([]int64, 30) // 5x6 grid
	for i := range values {
		values[i] = int64(i)
	}

	ds, err := f.Root().CreateDataset("grid", core.NewFixed(8, true), []uint64{5, 6},
		WithChunking([]uint32{2, 4}))
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements(values))

	back := reopen(t, f)
	d, err := back.Root().Dataset("grid")
	require.NoError(t, err)

	got, err := d.ReadInt64s()
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestCompactDataset(t *testing.T) {
	f := CreateMemory()

	ds, err := f.Root().CreateDataset("tiny", core.NewFixed(2, false), []uint64{3}, WithCompact())
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]uint16{10, 20, 30}))

	back := reopen(t, f)
	d, err := back.Root().Dataset("tiny")
	require.NoError(t, err)
	require.Equal(t, core.LayoutCompact, d.Layout().Class)

	got, err := d.ReadInt64s()
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20, 30}, got)
}

func TestVarLenStringDataset(t *testing.T) {
	f := CreateMemory()

	ds, err := f.Root().CreateDataset("notes", core.NewVarLenString(), []uint64{3})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]string{"short", "a considerably longer note", ""}))

	back := reopen(t, f)
	d, err := back.Root().Dataset("notes")
	require.NoError(t, err)

	got, err := d.ReadStrings()
	require.NoError(t, err)
	require.Equal(t, []string{"short", "a considerably longer note", ""}, got)
}

func TestDatasetFillValueSurvives(t *testing.T) {
	f := CreateMemory()

	fill := []byte{0, 0, 0, 0}
	ds, err := f.Root().CreateDataset("filled", core.NewFixed(4, true), []uint64{2}, WithFillValue(fill))
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]int32{1, 2}))

	back := reopen(t, f)
	d, err := back.Root().Dataset("filled")
	require.NoError(t, err)
	require.NotNil(t, d.fill)
	require.True(t, d.fill.Defined)
	require.Equal(t, fill, d.fill.Value)
}

func TestIteratorCloneRestarts(t *testing.T) {
	f := CreateMemory()
	ds, err := f.Root().CreateDataset("v", core.NewFixed(4, true), []uint64{3})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]int32{5, 6, 7}))

	back := reopen(t, f)
	d, err := back.Root().Dataset("v")
	require.NoError(t, err)

	it, err := d.Read()
	require.NoError(t, err)
	snapshot := it.Clone()

	v, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), v)

	// The clone is an independent cursor.
	v, ok, err = snapshot.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), v)

	require.Equal(t, uint64(2), it.Remaining())
	require.Equal(t, uint64(2), snapshot.Remaining())
}

func TestWriteElementsCountMismatch(t *testing.T) {
	f := CreateMemory()
	defer f.Close()

	ds, err := f.Root().CreateDataset("v", core.NewFixed(4, true), []uint64{3})
	require.NoError(t, err)
	require.ErrorIs(t, ds.WriteElements([]int32{1, 2}), ErrTypeMismatch)
}

func TestFiltersRequireChunkedLayout(t *testing.T) {
	f := CreateMemory()
	defer f.Close()

	_, err := f.Root().CreateDataset("v", core.NewFixed(4, true), []uint64{3}, WithDeflate(6))
	require.Error(t, err)
}

func TestDatasetAttributes(t *testing.T) {
	f := CreateMemory()

	dt, err := core.NewFloat(8)
	require.NoError(t, err)
	ds, err := f.Root().CreateDataset("Demand", dt, []uint64{1})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]float64{42.0}))
	require.NoError(t, ds.SetAttribute("units", "kWh"))
	require.NoError(t, ds.SetAttribute("scale", 0.25))

	back := reopen(t, f)
	d, err := back.Root().Dataset("Demand")
	require.NoError(t, err)

	attrs := map[string]any{}
	for _, attr := range d.Attributes() {
		v, err := attr.Value()
		require.NoError(t, err)
		attrs[attr.Name()] = v
	}
	require.Equal(t, "kWh", attrs["units"])
	require.Equal(t, 0.25, attrs["scale"])
}
