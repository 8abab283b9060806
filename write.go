package tuckdb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tuckdb/tuckdb/codec"
	"github.com/tuckdb/tuckdb/model"
	"github.com/tuckdb/tuckdb/wal"

	"go.uber.org/zap"
)

// Insert adds a record and returns its primary key. When the table has
// an integer primary key and the record carries none, the key is
// assigned from the table's monotonic counter; explicit keys never
// cause the counter to hand out a duplicate later.
func (db *DB) Insert(table string, rec model.Record) (any, error) {
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

	norm, err := validateRecord(img.schema, rec, false)
	if err != nil {
		return nil, err
	}

	var keyVal any
	if pk := img.schema.PKColumn(); pk != nil {
		if v, ok := norm[pk.Name]; ok && v != nil {
			keyVal = v
			if pk.Type == model.TagInt {
				if id := v.(int64); id >= 0 && uint64(id) >= img.schema.NextRowID {
					img.schema.NextRowID = uint64(id) + 1
				}
			}
		} else {
			if pk.Type != model.TagInt {
				return nil, fmt.Errorf("%w: column %s.%s requires a value",
					ErrValidation, table, pk.Name)
			}
			keyVal = int64(img.schema.NextRowID)
			img.schema.NextRowID++
			norm[pk.Name] = keyVal
		}
	} else {
		keyVal = int64(img.schema.NextRowID)
		img.schema.NextRowID++
	}

	kb, err := codec.EncodeKey(keyVal, img.schema.KeyTag())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	keyStr := string(kb)
	if _, exists := img.records[keyStr]; exists {
		return nil, fmt.Errorf("%w: table %s key %v", ErrDuplicateKey, table, keyVal)
	}

	payload, err := codec.EncodeRecord(img.schema, norm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := db.walAppend(&wal.Entry{
		Kind:    wal.KindInsert,
		Table:   table,
		Key:     kb,
		Payload: payload,
	}); err != nil {
		return nil, err
	}

	img.applyPut(keyStr, keyVal, norm)
	db.dirty = true
	return keyVal, nil
}

// Update merges partial into the record at key. The primary key column
// cannot change.
func (db *DB) Update(table string, key any, partial model.Record) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err := db.materializeLocked(img); err != nil {
		return err
	}

	kb, _, err := encodeKeyFor(img.schema, key)
	if err != nil {
		return err
	}
	keyStr := string(kb)
	existing, ok := img.records[keyStr]
	if !ok {
		return fmt.Errorf("%w: table %s key %v", ErrRecordNotFound, table, key)
	}

	norm, err := validateRecord(img.schema, partial, true)
	if err != nil {
		return err
	}
	if pk := img.schema.PKColumn(); pk != nil {
		if v, ok := norm[pk.Name]; ok {
			vb, err := codec.EncodeKey(v, pk.Type)
			if err != nil || !bytes.Equal(vb, kb) {
				return fmt.Errorf("%w: primary key %s.%s is immutable",
					ErrValidation, table, pk.Name)
			}
		}
	}

	merged := existing.Clone()
	for name, v := range norm {
		merged[name] = v
	}
	payload, err := codec.EncodeRecord(img.schema, merged)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := db.walAppend(&wal.Entry{
		Kind:    wal.KindUpdate,
		Table:   table,
		Key:     kb,
		Payload: payload,
	}); err != nil {
		return err
	}

	img.applyPut(keyStr, img.keys[keyStr], merged)
	db.dirty = true
	return nil
}

// Delete removes the record at key.
func (db *DB) Delete(table string, key any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err := db.materializeLocked(img); err != nil {
		return err
	}

	kb, _, err := encodeKeyFor(img.schema, key)
	if err != nil {
		return err
	}
	keyStr := string(kb)
	if _, ok := img.records[keyStr]; !ok {
		return fmt.Errorf("%w: table %s key %v", ErrRecordNotFound, table, key)
	}

	if err := db.walAppend(&wal.Entry{
		Kind:  wal.KindDelete,
		Table: table,
		Key:   kb,
	}); err != nil {
		return err
	}
	img.applyDelete(keyStr)
	db.dirty = true
	return nil
}

// walAppend stamps the entry with the current generation and appends
// it. A full segment triggers a checkpoint and one retry; an entry that
// still does not fit, or whose fields exceed the frame limits, is
// rejected as too large.
func (db *DB) walAppend(e *wal.Entry) error {
	e.Generation = db.hdr.Generation
	_, err := db.wal.Append(e)
	if errors.Is(err, wal.ErrEntryTooLarge) {
		return fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	if !errors.Is(err, wal.ErrSegmentFull) {
		return err
	}
	db.logger.Info("wal segment full, checkpointing",
		zap.String("table", e.Table))
	if err := db.flushLocked(); err != nil {
		return err
	}
	e.Generation = db.hdr.Generation
	if _, err := db.wal.Append(e); err != nil {
		if errors.Is(err, wal.ErrSegmentFull) {
			return fmt.Errorf("%w: table %s, segment capacity %d",
				ErrTooLarge, e.Table, db.hdr.WALCapacity)
		}
		return err
	}
	return nil
}
