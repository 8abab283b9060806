// Package tuckdb implements an embedded record store held in one
// binary file. All tables live in a single file laid out as two fixed
// header slots, a fixed-capacity WAL segment, and three checksummed
// regions (schema, index, data). Mutations are durable through the WAL
// as soon as they return; a checkpoint folds them into fresh regions
// and flips the active header atomically.
package tuckdb

import (
	"fmt"
	"os"
	"sync"

	"github.com/tuckdb/tuckdb/codec"
	"github.com/tuckdb/tuckdb/crypt"
	"github.com/tuckdb/tuckdb/fio"
	"github.com/tuckdb/tuckdb/header"
	"github.com/tuckdb/tuckdb/model"
	"github.com/tuckdb/tuckdb/region"
	"github.com/tuckdb/tuckdb/wal"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// walStart is the file offset of the WAL segment, right after the two
// header slots.
const walStart = 2 * header.Size

// DB is a handle on one database file. All methods are safe for
// concurrent use; mutations serialize behind a write lock.
type DB struct {
	mu       sync.RWMutex
	path     string
	io       fio.IOManager
	fileLock *flock.Flock
	logger   *zap.Logger
	opts     *options

	hdr        *header.Header
	activeSlot int
	key        []byte
	wal        *wal.Manager

	tables  map[string]*tableImage
	dataRaw []byte
	dirty   bool
	closed  bool
}

// Create initializes a new database file at path and returns an open
// handle on it. Fails if the file already exists.
func Create(path string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, path)
	}

	level := o.level
	if o.password != "" && level == crypt.LevelNone {
		level = crypt.LevelHigh
	}
	if level != crypt.LevelNone && o.password == "" {
		return nil, fmt.Errorf("%w: level %s needs a password", ErrEncryption, level)
	}

	ioMgr, err := o.ioManagerCreator(path)
	if err != nil {
		return nil, err
	}
	db := &DB{
		path:     path,
		io:       ioMgr,
		fileLock: fio.NewFlock(path),
		logger:   o.logger,
		opts:     o,
		tables:   make(map[string]*tableImage),
	}
	if err := db.acquireLock(); err != nil {
		_ = ioMgr.Close()
		_ = os.Remove(path)
		return nil, err
	}

	hdr := &header.Header{
		Version:     header.Version,
		Generation:  0,
		WALCapacity: uint64(o.walCapacity),
		Level:       level,
	}
	base := uint64(walStart + o.walCapacity)
	hdr.Schema = header.Region{Offset: base}
	hdr.Index = header.Region{Offset: base}
	hdr.Data = header.Region{Offset: base}
	if level != crypt.LevelNone {
		salt, err := crypt.NewSalt()
		if err != nil {
			return nil, db.abandonNew(err)
		}
		copy(hdr.Salt[:], salt)
		db.key = crypt.DeriveKey(o.password, salt, level)
		token, err := crypt.CheckToken(db.key, level)
		if err != nil {
			return nil, db.abandonNew(err)
		}
		hdr.KeyCheck = token
	}
	db.hdr = hdr
	// Generation 1 goes into slot A; slot B stays zeroed until the
	// first checkpoint after open.
	db.activeSlot = 1
	db.wal = wal.NewManager(ioMgr, walStart, o.walCapacity, o.logger)

	db.dirty = true
	if err := db.flushLocked(); err != nil {
		return nil, db.abandonNew(err)
	}
	db.logger.Info("created database",
		zap.String("path", path),
		zap.String("level", level.String()))
	return db, nil
}

// Open opens an existing database file.
func Open(path string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tuckdb: open: %w", err)
	}
	ioMgr, err := o.ioManagerCreator(path)
	if err != nil {
		return nil, err
	}
	db := &DB{
		path:     path,
		io:       ioMgr,
		fileLock: fio.NewFlock(path),
		logger:   o.logger,
		opts:     o,
		tables:   make(map[string]*tableImage),
	}
	if err := db.acquireLock(); err != nil {
		_ = ioMgr.Close()
		return nil, err
	}

	slotA, _ := header.ReadSlot(ioMgr, 0)
	slotB, _ := header.ReadSlot(ioMgr, 1)
	active, slot := header.SelectActive(slotA, slotB)
	if active == nil {
		return nil, db.abandon(fmt.Errorf("%w: no valid header slot", ErrCorruptDatabase))
	}
	if active.Version > header.Version {
		return nil, db.abandon(fmt.Errorf("%w: file version %d, engine version %d",
			ErrUnsupportedFormat, active.Version, header.Version))
	}
	if !active.Level.Valid() {
		return nil, db.abandon(fmt.Errorf("%w: bad encryption level", ErrCorruptDatabase))
	}
	db.hdr = active
	db.activeSlot = slot

	if active.Level != crypt.LevelNone {
		if o.password == "" {
			return nil, db.abandon(fmt.Errorf("%w: file is encrypted", ErrEncryption))
		}
		key := crypt.DeriveKey(o.password, active.Salt[:], active.Level)
		token, err := crypt.CheckToken(key, active.Level)
		if err != nil {
			return nil, db.abandon(err)
		}
		if token != active.KeyCheck {
			return nil, db.abandon(ErrEncryption)
		}
		db.key = key
	}

	db.wal = wal.NewManager(ioMgr, walStart, int64(active.WALCapacity), o.logger)
	if err := db.load(); err != nil {
		return nil, db.abandon(err)
	}
	if err := db.replayWAL(); err != nil {
		return nil, db.abandon(err)
	}
	db.logger.Info("opened database",
		zap.String("path", path),
		zap.Uint64("generation", active.Generation),
		zap.Int("tables", len(db.tables)),
		zap.Bool("lazy", o.lazyLoad))
	return db, nil
}

func (db *DB) acquireLock() error {
	ok, err := db.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("tuckdb: file lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDatabaseInUse, db.path)
	}
	return nil
}

// abandon tears down a half-opened handle, keeping the original error.
func (db *DB) abandon(err error) error {
	_ = db.io.Close()
	_ = db.fileLock.Unlock()
	return err
}

// abandonNew additionally removes the half-created file.
func (db *DB) abandonNew(err error) error {
	err = db.abandon(err)
	_ = os.Remove(db.path)
	return err
}

func (db *DB) readRegion(r header.Region) ([]byte, error) {
	buf := make([]byte, r.Length)
	if _, err := db.io.ReadAt(buf, int64(r.Offset)); err != nil {
		return nil, fmt.Errorf("%w: region read: %v", ErrCorruptDatabase, err)
	}
	payload, err := region.Unseal(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDatabase, err)
	}
	return payload, nil
}

// load parses the three regions of the active checkpoint into table
// images.
func (db *DB) load() error {
	schemaPayload, err := db.readRegion(db.hdr.Schema)
	if err != nil {
		return err
	}
	schemas, err := region.UnmarshalSchemas(schemaPayload)
	if err != nil {
		return fmt.Errorf("%w: schema region: %v", ErrCorruptDatabase, err)
	}

	indexStored, err := db.readRegion(db.hdr.Index)
	if err != nil {
		return err
	}
	indexComp, err := crypt.Transform(indexStored, db.key, db.hdr.Level, nonceFor(db.hdr.Generation, nonceIndex))
	if err != nil {
		return fmt.Errorf("%w: index region: %v", ErrCorruptDatabase, err)
	}
	indexes, err := region.UnmarshalIndex(indexComp)
	if err != nil {
		return fmt.Errorf("%w: index region: %v", ErrCorruptDatabase, err)
	}

	dataStored, err := db.readRegion(db.hdr.Data)
	if err != nil {
		return err
	}
	dataPayload, err := crypt.Transform(dataStored, db.key, db.hdr.Level, nonceFor(db.hdr.Generation, nonceData))
	if err != nil {
		return fmt.Errorf("%w: data region: %v", ErrCorruptDatabase, err)
	}

	for name, schema := range schemas {
		img := newTableImage(schema)
		img.lazy = db.opts.lazyLoad
		if ti := indexes[name]; ti != nil {
			for keyStr, pos := range ti.Offsets {
				p := pos
				img.dir.Put([]byte(keyStr), &p)
			}
			for col, byValue := range ti.Secondary {
				if c := schema.Column(col); c != nil && c.Indexed {
					img.indexes[col] = byValue
				}
			}
		}
		db.tables[name] = img
	}

	r := region.NewDataReader(dataPayload)
	for r.More() {
		name, count, err := r.NextTable()
		if err != nil {
			return fmt.Errorf("%w: data region: %v", ErrCorruptDatabase, err)
		}
		img := db.tables[name]
		if img == nil {
			return fmt.Errorf("%w: data for unknown table %q", ErrCorruptDatabase, name)
		}
		for i := 0; i < count; i++ {
			key, body, pos, err := r.NextFrame()
			if err != nil {
				return fmt.Errorf("%w: data region: %v", ErrCorruptDatabase, err)
			}
			if img.lazy {
				p := pos
				img.dir.Put(key, &p)
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
	}

	if db.opts.lazyLoad {
		db.dataRaw = dataPayload
	} else {
		// Older files may lack persisted secondary indexes.
		for _, img := range db.tables {
			if len(img.indexes) > 0 && indexEmpty(img.indexes) && len(img.order) > 0 {
				img.rebuildIndexes()
			}
		}
	}
	return nil
}

func indexEmpty(indexes map[string]map[string]map[string]struct{}) bool {
	for _, byValue := range indexes {
		if len(byValue) > 0 {
			return false
		}
	}
	return true
}

// replayWAL re-applies intact WAL entries stamped with the current
// generation or later. Entries from before the active checkpoint are
// already folded into the regions and are skipped.
func (db *DB) replayWAL() error {
	entries, err := db.wal.Replay()
	if err != nil {
		return err
	}
	applied := 0
	for _, e := range entries {
		if e.Generation < db.hdr.Generation {
			continue
		}
		img := db.tables[e.Table]
		if img == nil {
			db.logger.Warn("wal entry for unknown table, skipping",
				zap.String("table", e.Table),
				zap.Uint64("lsn", e.LSN))
			continue
		}
		if err := db.materializeLocked(img); err != nil {
			return err
		}
		keyStr := string(e.Key)
		switch e.Kind {
		case wal.KindInsert, wal.KindUpdate:
			keyVal, err := codec.DecodeKey(e.Key)
			if err != nil {
				return fmt.Errorf("%w: wal key: %v", ErrCorruptDatabase, err)
			}
			rec, _, err := codec.DecodeRecord(img.schema, e.Payload)
			if err != nil {
				return fmt.Errorf("%w: wal payload: %v", ErrCorruptDatabase, err)
			}
			img.applyPut(keyStr, keyVal, rec)
			if img.schema.KeyTag() == model.TagInt {
				if id, ok := keyVal.(int64); ok && id >= 0 && uint64(id) >= img.schema.NextRowID {
					img.schema.NextRowID = uint64(id) + 1
				}
			}
		case wal.KindDelete:
			img.applyDelete(keyStr)
		}
		applied++
	}
	if applied > 0 {
		db.dirty = true
		db.logger.Info("applied wal entries", zap.Int("count", applied))
	}
	return nil
}

// Close checkpoints pending mutations (unless disabled) and releases
// the file.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	var err error
	if !db.opts.noFlushOnClose {
		err = db.flushLocked()
	}
	db.closed = true
	err = multierr.Append(err, db.io.Close())
	err = multierr.Append(err, db.fileLock.Unlock())
	return err
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
