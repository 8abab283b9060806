package tuckdb

import "errors"

var (
	// ErrCorruptDatabase reports a checksum failure on a header or a
	// schema/index/data region. Fatal: the file is unopenable.
	ErrCorruptDatabase = errors.New("tuckdb: corrupt database")

	// ErrUnsupportedFormat reports a format version newer than this
	// engine understands.
	ErrUnsupportedFormat = errors.New("tuckdb: unsupported format version")

	// ErrEncryption reports a wrong or missing password for an
	// encrypted file, detected before any region is parsed.
	ErrEncryption = errors.New("tuckdb: wrong or missing password")

	// ErrCheckpoint reports an I/O failure mid-flush. The in-memory
	// state and the un-truncated WAL stay valid; the caller decides
	// whether to retry.
	ErrCheckpoint = errors.New("tuckdb: checkpoint failed")

	ErrDuplicateKey   = errors.New("tuckdb: duplicate primary key")
	ErrRecordNotFound = errors.New("tuckdb: record not found")
	ErrTableNotFound  = errors.New("tuckdb: table not found")
	ErrTableExists    = errors.New("tuckdb: table already exists")
	ErrColumnNotFound = errors.New("tuckdb: column not found")
	ErrColumnExists   = errors.New("tuckdb: column already exists")

	// ErrValidation reports a record rejected against the schema
	// before any WAL write; the operation has no effect.
	ErrValidation = errors.New("tuckdb: validation failed")

	ErrDatabaseInUse  = errors.New("tuckdb: database file is in use")
	ErrDatabaseExists = errors.New("tuckdb: database file already exists")
	ErrClosed         = errors.New("tuckdb: database is closed")

	// ErrTooLarge reports a record that cannot be logged: it does not
	// fit the WAL segment even right after a checkpoint, or its key or
	// table name exceeds the log frame limits.
	ErrTooLarge = errors.New("tuckdb: record too large for wal segment")
)
