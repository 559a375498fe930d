package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/h5works/hdf5"
)

const sampleSchema = `{
  "attributes": {"producer": "h5cli"},
  "datasets": [
    {"name": "Demand", "type": "float64", "dims": [3], "values": [1.5, 2.25, 3.125]},
    {"name": "codes", "type": "string(4)", "dims": [2], "values": ["ab", "cd"]}
  ],
  "groups": [
    {
      "name": "nested",
      "datasets": [
        {"name": "counts", "type": "int32", "dims": [4], "values": [1, 2, 3, 4],
         "chunks": [2], "deflate": 6}
      ]
    }
  ]
}`

func TestSchemaBuildAndReopen(t *testing.T) {
	var schema Schema
	require.NoError(t, json.Unmarshal([]byte(sampleSchema), &schema))

	f := hdf5.CreateMemory(hdf5.WithLogger(logrus.New()))
	require.NoError(t, buildGroup(f.Root(), schema.Groups, schema.Datasets, schema.Attributes))
	require.NoError(t, f.Close())

	img, ok := f.Bytes()
	require.True(t, ok)
	require.NoError(t, checkImage(img))

	back, err := hdf5.OpenReader(bytes.NewReader(img))
	require.NoError(t, err)

	d, err := back.Root().Dataset("Demand")
	require.NoError(t, err)
	values, err := d.ReadFloat64s()
	require.NoError(t, err)
	require.Equal(t, []float64{1.5, 2.25, 3.125}, values)

	d, err = back.Root().Dataset("codes")
	require.NoError(t, err)
	codes, err := d.ReadStrings()
	require.NoError(t, err)
	require.Equal(t, []string{"ab", "cd"}, codes)

	g, err := back.Root().Group("nested")
	require.NoError(t, err)
	d, err = g.Dataset("counts")
	require.NoError(t, err)
	counts, err := d.ReadInt64s()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4}, counts)
}

func TestSchemaUnknownType(t *testing.T) {
	_, _, err := schemaDatatype("decimal128")
	require.Error(t, err)
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, exitUnsupportedVersion, exitCode(hdf5.ErrUnsupportedVersion))
	require.Equal(t, exitCorruptFile, exitCode(hdf5.ErrCorruptStructure))
	require.Equal(t, exitCorruptFile, exitCode(hdf5.ErrCyclicBTree))
	require.Equal(t, exitSchemaError, exitCode(&cliError{code: exitSchemaError, err: hdf5.ErrTypeMismatch}))
}
