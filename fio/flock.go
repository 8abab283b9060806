package fio

import "github.com/gofrs/flock"

// FileLocker guards the database file against a second engine
// instance. The file is single-writer, single-process.
type FileLocker interface {
	TryLock() (bool, error)
	Unlock() error
}

const lockSuffix = ".lock"

// NewFlock returns an advisory lock next to the database file.
func NewFlock(dbPath string) *flock.Flock {
	return flock.New(dbPath + lockSuffix)
}
