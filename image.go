package tuckdb

import (
	"fmt"

	"github.com/tuckdb/tuckdb/codec"
	"github.com/tuckdb/tuckdb/keydir"
	"github.com/tuckdb/tuckdb/model"
	"github.com/tuckdb/tuckdb/region"
)

// tableImage is the in-memory state of one table. A lazy image keeps
// records undecoded and answers point lookups through the keydir
// against the raw data payload; any mutation or scan materializes it
// first.
//
// records maps canonical key bytes to the record; keys maps the same
// bytes back to the decoded key value; order preserves insertion order
// for scans and checkpoints. Stored record maps are replaced, never
// mutated, so scan snapshots stay stable.
type tableImage struct {
	schema  *model.Schema
	records map[string]model.Record
	keys    map[string]any
	order   []string
	dir     keydir.Keydir
	indexes map[string]map[string]map[string]struct{}
	lazy    bool
}

func newTableImage(schema *model.Schema) *tableImage {
	img := &tableImage{
		schema:  schema,
		records: make(map[string]model.Record),
		keys:    make(map[string]any),
		dir:     keydir.NewBTree(0),
		indexes: make(map[string]map[string]map[string]struct{}),
	}
	for i := range schema.Columns {
		if schema.Columns[i].Indexed {
			img.indexes[schema.Columns[i].Name] = make(map[string]map[string]struct{})
		}
	}
	return img
}

// applyPut stores a record under its canonical key, inserting or
// overwriting, and keeps the secondary indexes in step.
func (img *tableImage) applyPut(keyStr string, keyVal any, rec model.Record) {
	if old, ok := img.records[keyStr]; ok {
		img.indexRemove(keyStr, old)
	} else {
		img.keys[keyStr] = keyVal
		img.order = append(img.order, keyStr)
	}
	img.records[keyStr] = rec
	img.indexAdd(keyStr, rec)
}

// applyDelete removes a record if present, reporting whether it was.
func (img *tableImage) applyDelete(keyStr string) bool {
	rec, ok := img.records[keyStr]
	if !ok {
		return false
	}
	img.indexRemove(keyStr, rec)
	delete(img.records, keyStr)
	delete(img.keys, keyStr)
	for i, k := range img.order {
		if k == keyStr {
			img.order = append(img.order[:i], img.order[i+1:]...)
			break
		}
	}
	img.dir.Delete([]byte(keyStr))
	return true
}

func (img *tableImage) indexAdd(keyStr string, rec model.Record) {
	for col, byValue := range img.indexes {
		c := img.schema.Column(col)
		if c == nil {
			continue
		}
		v, ok := rec[col]
		if !ok || v == nil {
			continue
		}
		vb, err := codec.EncodeKey(v, c.Type)
		if err != nil {
			continue
		}
		refs, ok := byValue[string(vb)]
		if !ok {
			refs = make(map[string]struct{})
			byValue[string(vb)] = refs
		}
		refs[keyStr] = struct{}{}
	}
}

func (img *tableImage) indexRemove(keyStr string, rec model.Record) {
	for col, byValue := range img.indexes {
		c := img.schema.Column(col)
		if c == nil {
			continue
		}
		v, ok := rec[col]
		if !ok || v == nil {
			continue
		}
		vb, err := codec.EncodeKey(v, c.Type)
		if err != nil {
			continue
		}
		if refs, ok := byValue[string(vb)]; ok {
			delete(refs, keyStr)
			if len(refs) == 0 {
				delete(byValue, string(vb))
			}
		}
	}
}

// rebuildIndexes recomputes every secondary index from the decoded
// records. Only the columns currently flagged Indexed get one.
func (img *tableImage) rebuildIndexes() {
	img.indexes = make(map[string]map[string]map[string]struct{})
	for i := range img.schema.Columns {
		if img.schema.Columns[i].Indexed {
			img.indexes[img.schema.Columns[i].Name] = make(map[string]map[string]struct{})
		}
	}
	for _, keyStr := range img.order {
		img.indexAdd(keyStr, img.records[keyStr])
	}
}

// materializeLocked decodes a lazy table's section of the data payload
// into the image. Caller holds the write lock.
func (db *DB) materializeLocked(img *tableImage) error {
	if !img.lazy {
		return nil
	}
	r := region.NewDataReader(db.dataRaw)
	for r.More() {
		name, count, err := r.NextTable()
		if err != nil {
			return fmt.Errorf("%w: data region: %v", ErrCorruptDatabase, err)
		}
		decode := name == img.schema.Table
		for i := 0; i < count; i++ {
			key, body, _, err := r.NextFrame()
			if err != nil {
				return fmt.Errorf("%w: data region: %v", ErrCorruptDatabase, err)
			}
			if !decode {
				continue
			}
			keyVal, err := codec.DecodeKey(key)
			if err != nil {
				return fmt.Errorf("%w: record key: %v", ErrCorruptDatabase, err)
			}
			rec, _, err := codec.DecodeRecord(img.schema, body)
			if err != nil {
				return fmt.Errorf("%w: record body: %v", ErrCorruptDatabase, err)
			}
			keyStr := string(key)
			img.records[keyStr] = rec
			img.keys[keyStr] = keyVal
			img.order = append(img.order, keyStr)
		}
		if decode {
			break
		}
	}
	img.lazy = false
	return nil
}
