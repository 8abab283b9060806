package tuckdb

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tuckdb/tuckdb/codec"
	"github.com/tuckdb/tuckdb/model"
	"github.com/tuckdb/tuckdb/region"
)

// Get returns the record at key, or ok=false when absent. On a lazy
// table the record is decoded straight out of the raw data payload
// without materializing the table.
func (db *DB) Get(table string, key any) (model.Record, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	kb, _, err := encodeKeyFor(img.schema, key)
	if err != nil {
		return nil, false, err
	}
	if rec, ok := img.records[string(kb)]; ok {
		return rec.Clone(), true, nil
	}
	if img.lazy {
		pos := img.dir.Get(kb)
		if pos == nil {
			return nil, false, nil
		}
		_, body, err := region.FrameAt(db.dataRaw, *pos)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
		}
		rec, _, err := codec.DecodeRecord(img.schema, body)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
		}
		return rec, true, nil
	}
	return nil, false, nil
}

// Iterator walks a point-in-time snapshot of one table in insertion
// order. Later mutations do not affect an iterator already obtained.
type Iterator struct {
	keys    []any
	records []model.Record
	curIdx  int
}

// Rewind moves back to the first record.
func (it *Iterator) Rewind() { it.curIdx = 0 }

// Valid reports whether the iterator points at a record.
func (it *Iterator) Valid() bool { return it.curIdx < len(it.records) }

// Next advances to the following record.
func (it *Iterator) Next() { it.curIdx++ }

// Key returns the primary key at the current position.
func (it *Iterator) Key() any { return it.keys[it.curIdx] }

// Record returns a copy of the record at the current position.
func (it *Iterator) Record() model.Record { return it.records[it.curIdx].Clone() }

// Len returns the number of records in the snapshot.
func (it *Iterator) Len() int { return len(it.records) }

// Scan returns an iterator over the table's records in insertion
// order. A lazy table is materialized first.
func (db *DB) Scan(table string) (*Iterator, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err := db.materializeLocked(img); err != nil {
		return nil, err
	}
	it := &Iterator{
		keys:    make([]any, 0, len(img.order)),
		records: make([]model.Record, 0, len(img.order)),
	}
	for _, keyStr := range img.order {
		it.keys = append(it.keys, img.keys[keyStr])
		it.records = append(it.records, img.records[keyStr])
	}
	return it, nil
}

// FindBy returns every record whose column equals value, using the
// column's hash index when it has one and a linear scan otherwise.
// Results follow insertion order.
func (db *DB) FindBy(table, column string, value any) ([]model.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	col := img.schema.Column(column)
	if col == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	norm, err := codec.Normalize(value, col.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: column %s.%s: %v", ErrValidation, table, column, err)
	}
	vb, err := codec.EncodeKey(norm, col.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: column %s.%s: %v", ErrValidation, table, column, err)
	}

	if img.lazy {
		if byValue, ok := img.indexes[column]; ok {
			return db.lazyIndexLookup(img, byValue[string(vb)])
		}
		if err := db.materializeLocked(img); err != nil {
			return nil, err
		}
	}

	var out []model.Record
	if byValue, ok := img.indexes[column]; ok {
		refs := byValue[string(vb)]
		for _, keyStr := range img.order {
			if _, hit := refs[keyStr]; hit {
				out = append(out, img.records[keyStr].Clone())
			}
		}
		return out, nil
	}
	for _, keyStr := range img.order {
		rec := img.records[keyStr]
		v, ok := rec[column]
		if !ok || v == nil {
			continue
		}
		evb, err := codec.EncodeKey(v, col.Type)
		if err != nil {
			continue
		}
		if bytes.Equal(evb, vb) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// lazyIndexLookup resolves index hits against the raw data payload so
// an indexed equality query never forces a full materialization.
// Results come back in key order.
func (db *DB) lazyIndexLookup(img *tableImage, refs map[string]struct{}) ([]model.Record, error) {
	keys := make([]string, 0, len(refs))
	for keyStr := range refs {
		keys = append(keys, keyStr)
	}
	sort.Strings(keys)
	var out []model.Record
	for _, keyStr := range keys {
		pos := img.dir.Get([]byte(keyStr))
		if pos == nil {
			continue
		}
		_, body, err := region.FrameAt(db.dataRaw, *pos)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
		}
		rec, _, err := codec.DecodeRecord(img.schema, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of records in the table without
// materializing it.
func (db *DB) Count(table string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if img.lazy {
		return img.dir.Size(), nil
	}
	return len(img.order), nil
}

// SupportsLazyLoading reports whether this handle may hold
// unmaterialized tables. Migration tools pair it with
// PopulateTablesWithData to bound memory explicitly.
func (db *DB) SupportsLazyLoading() bool {
	return db.opts.lazyLoad
}

// PopulateTablesWithData materializes every lazy table.
func (db *DB) PopulateTablesWithData() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	for _, img := range db.tables {
		if err := db.materializeLocked(img); err != nil {
			return err
		}
	}
	db.dataRaw = nil
	return nil
}
