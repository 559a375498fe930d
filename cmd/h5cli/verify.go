package main

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/h5works/hdf5"
)

// runVerify reopens the input, rebuilds an equivalent image in memory, and
// cross-checks the rebuilt hierarchy against the original.
func runVerify(log *logrus.Logger, path string, lenient bool) error {
	original, err := openFile(path, lenient, log)
	if err != nil {
		return err
	}
	defer original.Close()

	rebuilt := hdf5.CreateMemory(hdf5.WithLogger(log))
	if err := copyGroup(original.Root(), rebuilt.Root()); err != nil {
		return errors.Wrap(err, "rebuild")
	}
	if err := rebuilt.Close(); err != nil {
		return errors.Wrap(err, "serialize rebuild")
	}
	img, _ := rebuilt.Bytes()

	reopened, err := hdf5.OpenReader(bytes.NewReader(img))
	if err != nil {
		return errors.Wrap(err, "reopen rebuild")
	}

	if err := compareGroups(original.Root(), reopened.Root(), "/"); err != nil {
		return &cliError{code: exitCorruptFile, err: err}
	}
	fmt.Println("round trip OK")
	return nil
}

// checkImage reopens a freshly built image and walks it end to end.
func checkImage(img []byte) error {
	f, err := hdf5.OpenReader(bytes.NewReader(img))
	if err != nil {
		return errors.Wrap(err, "reopen")
	}
	var walkErr error
	f.Walk(func(p string, obj hdf5.Object) {
		if d, ok := obj.(*hdf5.Dataset); ok && walkErr == nil {
			it, err := d.Read()
			if err != nil {
				walkErr = errors.Wrapf(err, "read %s", p)
				return
			}
			for {
				_, ok, err := it.Next()
				if err != nil {
					walkErr = errors.Wrapf(err, "read %s", p)
					return
				}
				if !ok {
					break
				}
			}
		}
	})
	return walkErr
}

// copyGroup replays a read hierarchy into a write-mode group.
func copyGroup(src *hdf5.Group, dst *hdf5.Group) error {
	for _, child := range src.Children() {
		switch obj := child.(type) {
		case *hdf5.Group:
			sub, err := dst.CreateGroup(obj.Name())
			if err != nil {
				return err
			}
			if err := copyGroup(obj, sub); err != nil {
				return err
			}
		case *hdf5.Dataset:
			if err := copyDataset(obj, dst); err != nil {
				return errors.Wrapf(err, "dataset %q", obj.Name())
			}
		}
	}
	return nil
}

func copyDataset(src *hdf5.Dataset, dst *hdf5.Group) error {
	it, err := src.Read()
	if err != nil {
		return err
	}
	values := make([]any, 0, it.Remaining())
	for {
		v, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		values = append(values, v)
	}

	out, err := dst.CreateDataset(src.Name(), src.Datatype(), src.Dataspace().Dimensions)
	if err != nil {
		return err
	}
	return out.WriteElements(values)
}

// compareGroups checks names, shapes and element values recursively.
func compareGroups(a, b *hdf5.Group, path string) error {
	if len(a.Children()) != len(b.Children()) {
		return fmt.Errorf("%s: %d children vs %d", path, len(a.Children()), len(b.Children()))
	}
	for _, childA := range a.Children() {
		childB := b.Child(childA.Name())
		if childB == nil {
			return fmt.Errorf("%s: missing %q", path, childA.Name())
		}
		switch objA := childA.(type) {
		case *hdf5.Group:
			objB, ok := childB.(*hdf5.Group)
			if !ok {
				return fmt.Errorf("%s/%s: group became %T", path, childA.Name(), childB)
			}
			if err := compareGroups(objA, objB, path+childA.Name()); err != nil {
				return err
			}
		case *hdf5.Dataset:
			objB, ok := childB.(*hdf5.Dataset)
			if !ok {
				return fmt.Errorf("%s/%s: dataset became %T", path, childA.Name(), childB)
			}
			if err := compareDatasets(objA, objB, path+childA.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareDatasets(a, b *hdf5.Dataset, path string) error {
	if !reflect.DeepEqual(a.Dataspace().Dimensions, b.Dataspace().Dimensions) {
		return fmt.Errorf("%s: dims %v vs %v", path, a.Dataspace().Dimensions, b.Dataspace().Dimensions)
	}

	itA, err := a.Read()
	if err != nil {
		return err
	}
	itB, err := b.Read()
	if err != nil {
		return err
	}
	for i := 0; ; i++ {
		va, okA, err := itA.Next()
		if err != nil {
			return err
		}
		vb, okB, err := itB.Next()
		if err != nil {
			return err
		}
		if okA != okB {
			return fmt.Errorf("%s: element count mismatch", path)
		}
		if !okA {
			return nil
		}
		if !reflect.DeepEqual(va, vb) {
			return fmt.Errorf("%s: element %d: %v vs %v", path, i, va, vb)
		}
	}
}
