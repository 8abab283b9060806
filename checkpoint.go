package tuckdb

import (
	"fmt"
	"sort"
	"time"

	"github.com/tuckdb/tuckdb/codec"
	"github.com/tuckdb/tuckdb/crypt"
	"github.com/tuckdb/tuckdb/header"
	"github.com/tuckdb/tuckdb/keydir"
	"github.com/tuckdb/tuckdb/model"
	"github.com/tuckdb/tuckdb/region"

	"go.uber.org/zap"
)

// Region nonce ordinals. Each checkpoint generation gets a fresh nonce
// per encrypted region so identical plaintext never repeats a
// keystream.
const (
	nonceIndex = 1
	nonceData  = 2
)

func nonceFor(generation uint64, ordinal uint64) uint64 {
	return generation<<2 | ordinal
}

// Flush checkpoints the in-memory state: serializes fresh regions,
// flips the active header, and truncates the WAL. A no-op when nothing
// changed since the last checkpoint.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.flushLocked()
}

// flushLocked runs the checkpoint protocol under the write lock:
//
//  1. write new schema/index/data regions to free space
//  2. write the next-generation header into the inactive slot
//  3. fsync
//  4. truncate the WAL and reclaim the old extent
//
// A crash before step 3 completes leaves the old header active and the
// WAL intact; replay on the next open reproduces this state. An I/O
// failure after the inactive slot was written zeroes that slot again,
// so a later open cannot select a generation the engine never
// acknowledged.
func (db *DB) flushLocked() error {
	if !db.dirty && db.wal.Empty() {
		return nil
	}
	start := time.Now()

	for _, img := range db.tables {
		if err := db.materializeLocked(img); err != nil {
			return err
		}
	}

	newGen := db.hdr.Generation + 1
	schemas := make(map[string]*model.Schema, len(db.tables))
	indexes := make(map[string]*region.TableIndex, len(db.tables))
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder region.DataBuilder
	for _, name := range names {
		img := db.tables[name]
		schemas[name] = img.schema
		ti := region.NewTableIndex()
		builder.BeginTable(name, len(img.order))
		for _, keyStr := range img.order {
			body, err := codec.EncodeRecord(img.schema, img.records[keyStr])
			if err != nil {
				return fmt.Errorf("%w: encode %s: %v", ErrCheckpoint, name, err)
			}
			ti.Offsets[keyStr] = builder.AddFrame([]byte(keyStr), body)
		}
		ti.Secondary = img.indexes
		indexes[name] = ti
	}

	schemaStored := region.Seal(region.MarshalSchemas(schemas))
	indexComp, err := region.MarshalIndex(indexes)
	if err != nil {
		return fmt.Errorf("%w: index region: %v", ErrCheckpoint, err)
	}
	indexEnc, err := crypt.Transform(indexComp, db.key, db.hdr.Level, nonceFor(newGen, nonceIndex))
	if err != nil {
		return fmt.Errorf("%w: index region: %v", ErrCheckpoint, err)
	}
	indexStored := region.Seal(indexEnc)
	dataPlain := builder.Bytes()
	dataEnc, err := crypt.Transform(dataPlain, db.key, db.hdr.Level, nonceFor(newGen, nonceData))
	if err != nil {
		return fmt.Errorf("%w: data region: %v", ErrCheckpoint, err)
	}
	dataStored := region.Seal(dataEnc)

	total := uint64(len(schemaStored) + len(indexStored) + len(dataStored))
	newOff := db.chooseExtent(total)

	newHdr := *db.hdr
	newHdr.Generation = newGen
	newHdr.Schema = header.Region{Offset: newOff, Length: uint64(len(schemaStored))}
	newHdr.Index = header.Region{Offset: newHdr.Schema.End(), Length: uint64(len(indexStored))}
	newHdr.Data = header.Region{Offset: newHdr.Index.End(), Length: uint64(len(dataStored))}

	if _, err := db.io.WriteAt(schemaStored, int64(newHdr.Schema.Offset)); err != nil {
		return fmt.Errorf("%w: write schema region: %v", ErrCheckpoint, err)
	}
	if _, err := db.io.WriteAt(indexStored, int64(newHdr.Index.Offset)); err != nil {
		return fmt.Errorf("%w: write index region: %v", ErrCheckpoint, err)
	}
	if _, err := db.io.WriteAt(dataStored, int64(newHdr.Data.Offset)); err != nil {
		return fmt.Errorf("%w: write data region: %v", ErrCheckpoint, err)
	}
	inactive := 1 - db.activeSlot
	if err := header.WriteSlot(db.io, inactive, &newHdr); err != nil {
		db.discardSlot(inactive)
		return fmt.Errorf("%w: write header: %v", ErrCheckpoint, err)
	}
	if err := db.io.Sync(); err != nil {
		db.discardSlot(inactive)
		return fmt.Errorf("%w: sync: %v", ErrCheckpoint, err)
	}

	// The new header is durable; from here the checkpoint has happened.
	db.hdr = &newHdr
	db.activeSlot = inactive

	if err := db.wal.Truncate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	if err := db.io.Truncate(int64(newHdr.Data.End())); err != nil {
		// Stale bytes past the extent are unreferenced; only space is lost.
		db.logger.Warn("could not reclaim old extent", zap.Error(err))
	}

	for name, img := range db.tables {
		img.dir = keydir.NewBTree(0)
		for keyStr, pos := range indexes[name].Offsets {
			p := pos
			img.dir.Put([]byte(keyStr), &p)
		}
	}
	db.dataRaw = nil
	db.dirty = false

	db.logger.Info("checkpoint complete",
		zap.Uint64("generation", newGen),
		zap.Uint64("extent_offset", newOff),
		zap.Uint64("extent_bytes", total),
		zap.Duration("took", time.Since(start)))
	return nil
}

// discardSlot zeroes a header slot touched by an aborted checkpoint.
// Without this, a crash could recover against a generation the engine
// never acknowledged, and replay would then skip WAL entries stamped
// with the still-current generation. Best effort: if the zeroing
// itself fails the slot may survive, so it is logged loudly.
func (db *DB) discardSlot(slot int) {
	if _, err := db.io.WriteAt(make([]byte, header.Size), header.SlotOffset(slot)); err != nil {
		db.logger.Error("could not discard aborted checkpoint header",
			zap.Int("slot", slot), zap.Error(err))
		return
	}
	if err := db.io.Sync(); err != nil {
		db.logger.Error("could not sync discarded checkpoint header",
			zap.Int("slot", slot), zap.Error(err))
	}
}

// chooseExtent picks where the next checkpoint's regions go: at the
// base of the region space when the new extent fits entirely before the
// active one, otherwise right after the active extent. The two extents
// ping-pong, so the file never holds more than the two newest
// checkpoints.
func (db *DB) chooseExtent(total uint64) uint64 {
	base := uint64(walStart) + db.hdr.WALCapacity
	activeStart := db.hdr.Schema.Offset
	activeEnd := db.hdr.Data.End()
	if base+total <= activeStart {
		return base
	}
	return activeEnd
}
