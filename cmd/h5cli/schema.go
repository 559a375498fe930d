package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/h5works/hdf5"
	"github.com/h5works/hdf5/internal/core"
)

// Schema is the JSON description the create mode consumes.
type Schema struct {
	Groups     []GroupSchema     `json:"groups,omitempty"`
	Datasets   []DatasetSchema   `json:"datasets,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

// GroupSchema declares one group and its contents.
type GroupSchema struct {
	Name       string          `json:"name"`
	Groups     []GroupSchema   `json:"groups,omitempty"`
	Datasets   []DatasetSchema `json:"datasets,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// DatasetSchema declares one dataset.
type DatasetSchema struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Dims    []uint64 `json:"dims"`
	Values  []any    `json:"values"`
	Chunks  []uint32 `json:"chunks,omitempty"`
	Deflate *int     `json:"deflate,omitempty"`
	Shuffle bool     `json:"shuffle,omitempty"`
}

func runCreate(log *logrus.Logger, outputPath, schemaPath string, verify bool) error {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return &cliError{code: exitIOError, err: errors.Wrap(err, "read schema")}
	}
	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &cliError{code: exitSchemaError, err: errors.Wrap(err, "parse schema")}
	}

	// Build in memory, then place the output atomically.
	f := hdf5.CreateMemory(hdf5.WithLogger(log))
	if err := buildGroup(f.Root(), schema.Groups, schema.Datasets, schema.Attributes); err != nil {
		return &cliError{code: exitSchemaError, err: err}
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "serialize")
	}
	img, ok := f.Bytes()
	if !ok {
		return errors.New("no image produced")
	}

	if verify {
		if err := checkImage(img); err != nil {
			return err
		}
		log.Debug("round-trip verified")
	}

	if err := renameio.WriteFile(outputPath, img, 0o644); err != nil {
		return &cliError{code: exitIOError, err: errors.Wrap(err, "place output")}
	}
	log.WithField("bytes", len(img)).Debug("wrote output")
	return nil
}

func buildGroup(g *hdf5.Group, groups []GroupSchema, datasets []DatasetSchema, attrs map[string]any) error {
	for name, value := range attrs {
		if err := g.SetAttribute(name, value); err != nil {
			return errors.Wrapf(err, "attribute %q", name)
		}
	}
	for _, ds := range datasets {
		if err := buildDataset(g, ds); err != nil {
			return errors.Wrapf(err, "dataset %q", ds.Name)
		}
	}
	for _, sub := range groups {
		child, err := g.CreateGroup(sub.Name)
		if err != nil {
			return errors.Wrapf(err, "group %q", sub.Name)
		}
		if err := buildGroup(child, sub.Groups, sub.Datasets, sub.Attributes); err != nil {
			return err
		}
	}
	return nil
}

func buildDataset(g *hdf5.Group, ds DatasetSchema) error {
	dt, convert, err := schemaDatatype(ds.Type)
	if err != nil {
		return err
	}

	var opts []hdf5.DatasetOption
	if len(ds.Chunks) > 0 {
		opts = append(opts, hdf5.WithChunking(ds.Chunks))
		if ds.Shuffle {
			opts = append(opts, hdf5.WithShuffle())
		}
		if ds.Deflate != nil {
			opts = append(opts, hdf5.WithDeflate(*ds.Deflate))
		}
	} else if ds.Deflate != nil || ds.Shuffle {
		return errors.New("filters require chunks")
	}

	dset, err := g.CreateDataset(ds.Name, dt, ds.Dims, opts...)
	if err != nil {
		return err
	}

	values := make([]any, len(ds.Values))
	for i, v := range ds.Values {
		converted, err := convert(v)
		if err != nil {
			return errors.Wrapf(err, "value %d", i)
		}
		values[i] = converted
	}
	return dset.WriteElements(values)
}

// schemaDatatype maps a schema type name to a datatype plus a JSON-value
// coercion (JSON numbers arrive as float64).
func schemaDatatype(name string) (*core.Datatype, func(any) (any, error), error) {
	asFloat := func(v any) (any, error) {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return f, nil
	}
	asInt := func(v any) (any, error) {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return int64(f), nil
	}
	asString := func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	}

	switch name {
	case "float32":
		dt, err := core.NewFloat(4)
		return dt, asFloat, err
	case "float64":
		dt, err := core.NewFloat(8)
		return dt, asFloat, err
	case "int8":
		return core.NewFixed(1, true), asInt, nil
	case "int16":
		return core.NewFixed(2, true), asInt, nil
	case "int32":
		return core.NewFixed(4, true), asInt, nil
	case "int64":
		return core.NewFixed(8, true), asInt, nil
	case "uint8":
		return core.NewFixed(1, false), asInt, nil
	case "uint16":
		return core.NewFixed(2, false), asInt, nil
	case "uint32":
		return core.NewFixed(4, false), asInt, nil
	case "uint64":
		return core.NewFixed(8, false), asInt, nil
	default:
		var n uint32
		if _, err := fmt.Sscanf(name, "string(%d)", &n); err == nil && n > 0 {
			return core.NewFixedString(n, core.PadNullTerminate), asString, nil
		}
		return nil, nil, fmt.Errorf("unknown type %q", name)
	}
}
