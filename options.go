package hdf5

import (
	"github.com/sirupsen/logrus"

	"github.com/h5works/hdf5/internal/writer"
)

// Options configure an open or a build. The zero value is strict mode with
// a quiet standard logger and no file-size cap.
type Options struct {
	// Lenient downgrades per-object UnknownMessage and CorruptStructure
	// failures on the read path into warnings attached to the tree. The
	// write path never downgrades.
	Lenient bool

	// Logger receives structured warnings from the orchestrators. Defaults
	// to the logrus standard logger.
	Logger logrus.FieldLogger

	// MaxFileSize caps the writer's allocations; 0 means unlimited.
	MaxFileSize uint64

	// DatasetHeaderSize is the message-area budget reserved for each
	// dataset's object header block. Messages beyond it spill into a
	// continuation block.
	DatasetHeaderSize uint32
}

// Option mutates Options.
type Option func(*Options)

// WithLenient enables lenient read mode.
func WithLenient() Option {
	return func(o *Options) { o.Lenient = true }
}

// WithLogger routes orchestrator warnings to the given logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMaxFileSize caps the build at size bytes.
func WithMaxFileSize(size uint64) Option {
	return func(o *Options) { o.MaxFileSize = size }
}

// WithDatasetHeaderSize tunes the per-dataset object header budget.
func WithDatasetHeaderSize(size uint32) Option {
	return func(o *Options) { o.DatasetHeaderSize = size }
}

func buildOptions(opts []Option) *Options {
	o := &Options{
		Logger:            logrus.StandardLogger(),
		DatasetHeaderSize: writer.DefaultDatasetHeaderSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
