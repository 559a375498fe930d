package hdf5

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/core"
)

func shipmentType(t *testing.T) *core.Datatype {
	t.Helper()
	dt, err := core.NewCompound(16, []core.CompoundMember{
		{Name: "id", Offset: 0, Type: core.NewFixed(8, false)},
		{Name: "orig", Offset: 8, Type: core.NewFixedString(2, core.PadNullTerminate)},
		{Name: "dest", Offset: 10, Type: core.NewFixedString(2, core.PadNullTerminate)},
		{Name: "weight", Offset: 12, Type: core.NewFixed(2, false)},
	})
	require.NoError(t, err)
	return dt
}

func TestCompoundDatasetRoundTrip(t *testing.T) {
	f := CreateMemory()

	ds, err := f.Root().CreateDataset("shipments", shipmentType(t), []uint64{2})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]map[string]any{
		{"id": uint64(7), "orig": "US", "dest": "CA", "weight": uint64(500)},
		{"id": uint64(9), "orig": "US", "dest": "MX", "weight": uint64(1200)},
	}))

	back := reopen(t, f)
	d, err := back.Root().Dataset("shipments")
	require.NoError(t, err)

	// Member offsets survive the round trip exactly.
	dt := d.Datatype()
	require.Equal(t, core.DatatypeCompound, dt.Class)
	offsets := make([]uint32, 0, 4)
	names := make([]string, 0, 4)
	for _, m := range dt.Compound.Members {
		offsets = append(offsets, m.Offset)
		names = append(names, m.Name)
	}
	require.Equal(t, []uint32{0, 8, 10, 12}, offsets)
	require.Equal(t, []string{"id", "orig", "dest", "weight"}, names)

	records, err := d.ReadRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)

	id, _ := records[0].Get("id")
	require.Equal(t, uint64(7), id)
	orig, _ := records[0].Get("orig")
	require.Equal(t, "US", orig)
	dest, _ := records[0].Get("dest")
	require.Equal(t, "CA", dest)
	weight, _ := records[0].Get("weight")
	require.Equal(t, uint64(500), weight)

	id, _ = records[1].Get("id")
	require.Equal(t, uint64(9), id)
	dest, _ = records[1].Get("dest")
	require.Equal(t, "MX", dest)
	weight, _ = records[1].Get("weight")
	require.Equal(t, uint64(1200), weight)
}

func TestCompoundMissingMemberRejected(t *testing.T) {
	f := CreateMemory()
	defer f.Close()

	ds, err := f.Root().CreateDataset("shipments", shipmentType(t), []uint64{1})
	require.NoError(t, err)

	err = ds.WriteElements([]map[string]any{{"id": uint64(1)}})
	require.ErrorIs(t, err, ErrTypeMismatch)
}
