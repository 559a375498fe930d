package hdf5

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5/internal/core"
)

func TestNestedGroups(t *testing.T) {
	f := CreateMemory()

	experiments, err := f.Root().CreateGroup("experiments")
	require.NoError(t, err)
	run, err := experiments.CreateGroup("run-01")
	require.NoError(t, err)

	ds, err := run.CreateDataset("samples", core.NewFixed(4, true), []uint64{2})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]int32{11, 22}))

	back := reopen(t, f)

	g, err := back.Root().Group("experiments")
	require.NoError(t, err)
	sub, err := g.Group("run-01")
	require.NoError(t, err)
	d, err := sub.Dataset("samples")
	require.NoError(t, err)

	got, err := d.ReadInt64s()
	require.NoError(t, err)
	require.Equal(t, []int64{11, 22}, got)
}

// TestLocalHeapOverflowInGroup links twenty 40-byte names into one group:
// the heap data segment must relocate and every name must still resolve.
func TestLocalHeapOverflowInGroup(t *testing.T) {
	f := CreateMemory()
	root := f.Root()

	names := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("dataset-%02d-", i) + strings.Repeat("x", 29)
		require.Len(t, name, 40)
		names = append(names, name)

		ds, err := root.CreateDataset(name, core.NewFixed(8, true), []uint64{1})
		require.NoError(t, err)
		require.NoError(t, ds.WriteElements([]int64{int64(i)}))
	}

	require.GreaterOrEqual(t, root.heap.Relocations(), 1, "heap segment must relocate")

	back := reopen(t, f)
	require.Len(t, back.Root().Children(), 20)
	for i, name := range names {
		d, err := back.Root().Dataset(name)
		require.NoError(t, err, "name %q must resolve after relocation", name)
		got, err := d.ReadInt64s()
		require.NoError(t, err)
		require.Equal(t, []int64{int64(i)}, got)
	}
}

func TestGroupAttributes(t *testing.T) {
	f := CreateMemory()

	g, err := f.Root().CreateGroup("metadata")
	require.NoError(t, err)
	require.NoError(t, g.SetAttribute("origin", "sensor-array-7"))
	require.NoError(t, g.SetAttribute("revision", int64(12)))

	back := reopen(t, f)
	got, err := back.Root().Group("metadata")
	require.NoError(t, err)

	attrs := map[string]any{}
	for _, attr := range got.Attributes() {
		v, err := attr.Value()
		require.NoError(t, err)
		attrs[attr.Name()] = v
	}
	require.Equal(t, "sensor-array-7", attrs["origin"])
	require.Equal(t, int64(12), attrs["revision"])
}

func TestDuplicateLinkRejected(t *testing.T) {
	f := CreateMemory()
	defer f.Close()

	_, err := f.Root().CreateGroup("twin")
	require.NoError(t, err)
	_, err = f.Root().CreateGroup("twin")
	require.Error(t, err)
}

func TestInvalidLinkNames(t *testing.T) {
	f := CreateMemory()
	defer f.Close()

	_, err := f.Root().CreateGroup("")
	require.Error(t, err)
	_, err = f.Root().CreateGroup("a/b")
	require.Error(t, err)
}

func TestWalkVisitsEverything(t *testing.T) {
	f := CreateMemory()

	g, err := f.Root().CreateGroup("g")
	require.NoError(t, err)
	ds, err := g.CreateDataset("d", core.NewFixed(4, true), []uint64{1})
	require.NoError(t, err)
	require.NoError(t, ds.WriteElements([]int32{1}))

	back := reopen(t, f)
	var paths []string
	back.Walk(func(path string, obj Object) {
		paths = append(paths, path)
	})
	require.Equal(t, []string{"/", "/g/", "/g/d"}, paths)
}
