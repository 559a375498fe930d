// Command h5cli dumps, creates and verifies HDF5 files.
//
//	h5cli --input data.h5                      dump the hierarchy
//	h5cli --output out.h5 --schema spec.json   build a file from a schema
//	h5cli --input data.h5 --verify             round-trip cross-check
//
// Exit codes: 0 success, 1 corrupt file, 2 unsupported version, 3 I/O
// error, 4 schema error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/h5works/hdf5"
)

// Exit codes of the CLI surface.
const (
	exitOK                 = 0
	exitCorruptFile        = 1
	exitUnsupportedVersion = 2
	exitIOError            = 3
	exitSchemaError        = 4
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	var (
		inputPath  string
		outputPath string
		schemaPath string
		verify     bool
		lenient    bool
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "h5cli",
		Short:         "Dump, create and verify HDF5 files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.WarnLevel)
			}

			inputPath = viper.GetString("input")
			outputPath = viper.GetString("output")
			schemaPath = viper.GetString("schema")

			switch {
			case outputPath != "" && schemaPath != "":
				if err := runCreate(log, outputPath, schemaPath, verify); err != nil {
					return err
				}
				return nil
			case inputPath != "" && verify:
				return runVerify(log, inputPath, lenient)
			case inputPath != "":
				return runDump(log, inputPath, lenient)
			default:
				return &cliError{code: exitSchemaError, err: errors.New("need --input, or --output with --schema")}
			}
		},
	}

	flags := root.Flags()
	flags.StringVar(&inputPath, "input", "", "HDF5 file to read")
	flags.StringVar(&outputPath, "output", "", "HDF5 file to write")
	flags.StringVar(&schemaPath, "schema", "", "JSON schema describing the file to build")
	flags.BoolVar(&verify, "verify", false, "cross-check a round trip")
	flags.BoolVar(&lenient, "lenient", false, "downgrade per-object failures to warnings")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	viper.SetEnvPrefix("H5CLI")
	viper.AutomaticEnv()
	bindFlags(flags)

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func bindFlags(flags *pflag.FlagSet) {
	for _, name := range []string{"input", "output", "schema"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// cliError pins an exit code to an error.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitCode maps the library's failure taxonomy onto the CLI exit codes.
func exitCode(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	switch {
	case errors.Is(err, hdf5.ErrUnsupportedVersion):
		return exitUnsupportedVersion
	case errors.Is(err, hdf5.ErrBadSignature),
		errors.Is(err, hdf5.ErrCorruptStructure),
		errors.Is(err, hdf5.ErrTruncatedBuffer),
		errors.Is(err, hdf5.ErrUnknownMessage),
		errors.Is(err, hdf5.ErrCyclicBTree),
		errors.Is(err, hdf5.ErrUnreachableHeap),
		errors.Is(err, hdf5.ErrOrphanedEntry):
		return exitCorruptFile
	default:
		return exitIOError
	}
}

func openFile(path string, lenient bool, log *logrus.Logger) (*hdf5.File, error) {
	opts := []hdf5.Option{hdf5.WithLogger(log)}
	if lenient {
		opts = append(opts, hdf5.WithLenient())
	}
	return hdf5.Open(path, opts...)
}

func runDump(log *logrus.Logger, path string, lenient bool) error {
	f, err := openFile(path, lenient, log)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Printf("superblock v%d, end of file %d\n", f.Superblock().Version, f.Superblock().EndOfFileAddress)
	f.Walk(func(p string, obj hdf5.Object) {
		switch o := obj.(type) {
		case *hdf5.Dataset:
			fmt.Printf("dataset %s  %s  dims=%v  layout=%d\n",
				p, o.Datatype(), o.Dataspace().Dimensions, o.Layout().Class)
		default:
			fmt.Printf("group   %s\n", p)
		}
		for _, attr := range obj.Attributes() {
			if v, err := attr.Value(); err == nil {
				fmt.Printf("  @%s = %v\n", attr.Name(), v)
			}
		}
	})
	for _, w := range f.Warnings() {
		log.WithField("path", w.Path).Warn(w.Err)
	}
	return nil
}
