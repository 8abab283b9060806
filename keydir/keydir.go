package keydir

import "github.com/tuckdb/tuckdb/model"

// Keydir maps canonical primary-key bytes to record positions inside
// the data region. Another data structure can be swapped in once it
// implements this interface.
type Keydir interface {
	Put(key []byte, pos *model.RecordPos) bool
	Get(key []byte) *model.RecordPos
	Delete(key []byte) bool
	Size() int
	Iterator() Iterator
}

// Iterator walks the directory in ascending key order.
type Iterator interface {
	Rewind()
	Next()
	Valid() bool
	Key() []byte
	Value() *model.RecordPos
}
