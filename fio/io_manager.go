package fio

// IOManager abstracts positional I/O on the database file. It can be
// customized in the engine options, e.g. for fault-injecting tests.
type IOManager interface {
	// ReadAt reads len(buf) bytes starting at offset.
	ReadAt(buf []byte, offset int64) (int, error)
	// WriteAt writes data starting at offset.
	WriteAt(data []byte, offset int64) (int, error)
	// Sync flushes written data to stable storage.
	Sync() error
	// Size returns the current file size.
	Size() (int64, error)
	// Truncate resizes the file.
	Truncate(size int64) error
	Close() error
}
