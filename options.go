package tuckdb

import (
	"github.com/tuckdb/tuckdb/crypt"
	"github.com/tuckdb/tuckdb/fio"

	"go.uber.org/zap"
)

// DefaultWALCapacity is the fixed size of the WAL segment reserved
// between the headers and the region space. It is recorded in the
// header at create time and immutable for the life of the file.
const DefaultWALCapacity = 4 << 20

type options struct {
	password       string
	level          crypt.Level
	walCapacity    int64
	lazyLoad       bool
	noFlushOnClose bool
	logger         *zap.Logger

	ioManagerCreator func(path string) (fio.IOManager, error)
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		walCapacity: DefaultWALCapacity,
		logger:      zap.NewNop(),
		ioManagerCreator: func(path string) (fio.IOManager, error) {
			return fio.NewFileIO(path)
		},
	}
}

// WithPassword sets the password used to derive the file key. On
// Create, a password with no explicit level selects LevelHigh.
func WithPassword(password string) Option {
	return func(o *options) {
		o.password = password
	}
}

// WithEncryptionLevel selects the cipher for the index and data
// regions. Only meaningful on Create; Open reads the level from the
// header.
func WithEncryptionLevel(level crypt.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithWALCapacity sets the reserved WAL segment size at create time.
// Ignored on Open, which uses the capacity persisted in the header.
func WithWALCapacity(capacity int64) Option {
	return func(o *options) {
		if capacity > 0 {
			o.walCapacity = capacity
		}
	}
}

// WithLazyLoad defers record decoding until a table is first read or
// written. The data region is still checksum-verified and decrypted in
// full at open.
func WithLazyLoad(lazy bool) Option {
	return func(o *options) {
		o.lazyLoad = lazy
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIOManagerCreator overrides how the database file is opened,
// mainly for fault injection in tests.
func WithIOManagerCreator(creator func(path string) (fio.IOManager, error)) Option {
	return func(o *options) {
		if creator != nil {
			o.ioManagerCreator = creator
		}
	}
}

// WithNoFlushOnClose disables the implicit checkpoint in Close, leaving
// durability to the WAL alone. Used to exercise replay paths.
func WithNoFlushOnClose() Option {
	return func(o *options) {
		o.noFlushOnClose = true
	}
}

type tableConfig struct {
	comment string
}

type TableOption func(*tableConfig)

// WithTableComment attaches a human-readable comment to a new table.
func WithTableComment(comment string) TableOption {
	return func(c *tableConfig) {
		c.comment = comment
	}
}
