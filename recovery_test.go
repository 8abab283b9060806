package tuckdb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tuckdb/tuckdb/fio"
	"github.com/tuckdb/tuckdb/header"
	"github.com/tuckdb/tuckdb/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corruptAt flips one byte of the file at offset.
func corruptAt(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, offset)
	require.NoError(t, err)
	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, offset)
	require.NoError(t, err)
}

func readSlot(t *testing.T, path string, slot int) *header.Header {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, header.Size)
	if _, err := f.ReadAt(buf, header.SlotOffset(slot)); err != nil {
		return nil
	}
	h, _ := header.Unmarshal(buf)
	return h
}

func activeHeader(t *testing.T, path string) *header.Header {
	t.Helper()
	active, _ := header.SelectActive(readSlot(t, path, 0), readSlot(t, path, 1))
	require.NotNil(t, active)
	return active
}

// faultIO injects I/O failures into an otherwise real file.
type faultIO struct {
	fio.IOManager
	failSyncs    int   // fail this many upcoming Sync calls
	failWriteOff int64 // fail one WriteAt at this offset; -1 disarms
}

func (f *faultIO) Sync() error {
	if f.failSyncs > 0 {
		f.failSyncs--
		return errors.New("injected sync failure")
	}
	return f.IOManager.Sync()
}

func (f *faultIO) WriteAt(data []byte, offset int64) (int, error) {
	if f.failWriteOff >= 0 && offset == f.failWriteOff {
		f.failWriteOff = -1
		return 0, errors.New("injected write failure")
	}
	return f.IOManager.WriteAt(data, offset)
}

func newFaultyUsersDB(t *testing.T) (*DB, *faultIO, string) {
	t.Helper()
	fault := &faultIO{failWriteOff: -1}
	path := filepath.Join(t.TempDir(), "fault.tuck")
	db, err := Create(path, WithIOManagerCreator(func(p string) (fio.IOManager, error) {
		inner, err := fio.NewFileIO(p)
		if err != nil {
			return nil, err
		}
		fault.IOManager = inner
		return fault, nil
	}))
	require.NoError(t, err)
	require.NoError(t, db.CreateTable("users", userColumns()))
	return db, fault, path
}

func TestFailedCheckpointKeepsOldHeaderAuthoritative(t *testing.T) {
	db, fault, path := newFaultyUsersDB(t)
	_, err := db.Insert("users", model.Record{"name": "r1"})
	require.NoError(t, err)
	_, err = db.Insert("users", model.Record{"name": "r2"})
	require.NoError(t, err)
	genBefore := activeHeader(t, path).Generation

	fault.failSyncs = 1
	require.ErrorIs(t, db.Flush(), ErrCheckpoint)

	// The aborted checkpoint left no selectable next-generation header
	// behind: the slot it touched is zeroed, the old header stays
	// active.
	assert.Nil(t, readSlot(t, path, 0))
	assert.Equal(t, genBefore, activeHeader(t, path).Generation)

	// Mutations keep accumulating durably against the old generation.
	_, err = db.Insert("users", model.Record{"name": "r3"})
	require.NoError(t, err)

	db.opts.noFlushOnClose = true
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	for key, name := range map[int64]string{1: "r1", 2: "r2", 3: "r3"} {
		rec, ok, err := db.Get("users", key)
		require.NoError(t, err)
		require.True(t, ok, "key %d", key)
		assert.Equal(t, name, rec["name"])
	}
}

func TestCheckpointRetriesAfterFailure(t *testing.T) {
	db, fault, path := newFaultyUsersDB(t)
	defer db.Close()
	_, err := db.Insert("users", model.Record{"name": "a"})
	require.NoError(t, err)
	genBefore := activeHeader(t, path).Generation

	fault.failSyncs = 1
	require.ErrorIs(t, db.Flush(), ErrCheckpoint)
	require.NoError(t, db.Flush())
	assert.Equal(t, genBefore+1, activeHeader(t, path).Generation)

	rec, ok, err := db.Get("users", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", rec["name"])
}

func TestReplaySkipsEntriesFromBeforeTheCheckpoint(t *testing.T) {
	db, fault, path := newFaultyUsersDB(t)
	_, err := db.Insert("users", model.Record{"name": "keep"})
	require.NoError(t, err)
	victim, err := db.Insert("users", model.Record{"name": "gone"})
	require.NoError(t, err)
	require.NoError(t, db.Delete("users", victim))

	// Fail the WAL truncation: the checkpoint flips the header but the
	// already-folded entries stay in the segment, as after a crash
	// between the flip and the truncate.
	fault.failWriteOff = walStart
	require.ErrorIs(t, db.Flush(), ErrCheckpoint)

	// This one postdates the flip and must survive replay.
	_, err = db.Insert("users", model.Record{"name": "late"})
	require.NoError(t, err)

	db.opts.noFlushOnClose = true
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	// The stale entries are skipped: no resurrected delete victim, no
	// duplicates, and the post-flip insert is intact.
	n, err := db.Count("users")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rec, ok, err := db.Get("users", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "keep", rec["name"])
	_, ok, err = db.Get("users", int64(2))
	require.NoError(t, err)
	assert.False(t, ok)
	rec, ok, err = db.Get("users", int64(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "late", rec["name"])
}

func TestColumnDropInvalidatesOlderWALEntries(t *testing.T) {
	db, fault, path := newFaultyUsersDB(t)
	_, err := db.Insert("users", model.Record{"name": "n", "email": "e@x", "age": int64(7)})
	require.NoError(t, err)

	// The drop re-encodes every record in the checkpoint it rides.
	// Failing the truncation leaves the old-layout entry in the log;
	// replaying it against the shifted columns would corrupt the record.
	fault.failWriteOff = walStart
	require.ErrorIs(t, db.DropColumn("users", "name"), ErrCheckpoint)

	db.opts.noFlushOnClose = true
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	rec, ok, err := db.Get("users", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, rec, "name")
	assert.Equal(t, "e@x", rec["email"])
	assert.Equal(t, int64(7), rec["age"])
}

func TestWALReplayAfterUncleanClose(t *testing.T) {
	db, path := newUsersDB(t, WithNoFlushOnClose())
	_, err := db.Insert("users", model.Record{"name": "a", "email": "a@x"})
	require.NoError(t, err)
	_, err = db.Insert("users", model.Record{"name": "b"})
	require.NoError(t, err)
	require.NoError(t, db.Update("users", int64(1), model.Record{"name": "a2"}))
	require.NoError(t, db.Delete("users", int64(2)))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	rec, ok, err := db.Get("users", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", rec["name"])

	_, ok, err = db.Get("users", int64(2))
	require.NoError(t, err)
	assert.False(t, ok)

	// The replayed index answers queries too.
	recs, err := db.FindBy("users", "email", "a@x")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWALReplayMatchesCheckpointedState(t *testing.T) {
	build := func(t *testing.T, opts ...Option) []model.Record {
		db, path := newUsersDB(t, opts...)
		for _, r := range []model.Record{
			{"name": "a", "age": int64(1)},
			{"name": "b", "age": int64(2)},
			{"name": "c"},
		} {
			_, err := db.Insert("users", r)
			require.NoError(t, err)
		}
		require.NoError(t, db.Update("users", int64(2), model.Record{"age": int64(20)}))
		require.NoError(t, db.Delete("users", int64(3)))
		require.NoError(t, db.Close())

		db, err := Open(path)
		require.NoError(t, err)
		defer db.Close()
		it, err := db.Scan("users")
		require.NoError(t, err)
		var out []model.Record
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, it.Record())
		}
		return out
	}

	clean := build(t)
	replayed := build(t, WithNoFlushOnClose())
	assert.Equal(t, clean, replayed)
}

func TestTornWALTailDropsOnlyTail(t *testing.T) {
	db, path := newUsersDB(t)
	_, err := db.Insert("users", model.Record{"name": "checkpointed"})
	require.NoError(t, err)
	require.NoError(t, db.Flush())

	// This insert lives only in the WAL.
	_, err = db.Insert("users", model.Record{"name": "wal-only"})
	require.NoError(t, err)
	db.opts.noFlushOnClose = true
	require.NoError(t, db.Close())

	// Tear the WAL entry.
	corruptAt(t, path, walStart+12)

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	rec, ok, err := db.Get("users", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "checkpointed", rec["name"])
	_, ok, err = db.Get("users", int64(2))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaleHeaderFallback(t *testing.T) {
	db, path := newUsersDB(t)
	require.NoError(t, db.Close())

	// Corrupt the slot holding the newest generation; open must fall
	// back to the older checkpoint instead of failing.
	newest := activeHeader(t, path)
	activeSlot := 1
	if slotA := readSlot(t, path, 0); slotA != nil && slotA.Generation == newest.Generation {
		activeSlot = 0
	}
	corruptAt(t, path, header.SlotOffset(activeSlot)+4)

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	older := activeHeader(t, path)
	assert.Less(t, older.Generation, newest.Generation)
}

func TestBothHeadersCorrupt(t *testing.T) {
	db, path := newUsersDB(t)
	require.NoError(t, db.Close())

	corruptAt(t, path, header.SlotOffset(0)+4)
	corruptAt(t, path, header.SlotOffset(1)+4)
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrCorruptDatabase)
}

func TestDataRegionCorruptionDetected(t *testing.T) {
	db, path := newUsersDB(t)
	_, err := db.Insert("users", model.Record{"name": "alice"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	active := activeHeader(t, path)
	corruptAt(t, path, int64(active.Data.Offset)+6)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrCorruptDatabase)
}

func TestIndexRegionCorruptionDetected(t *testing.T) {
	db, path := newUsersDB(t)
	_, err := db.Insert("users", model.Record{"name": "alice", "email": "a@x"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	active := activeHeader(t, path)
	corruptAt(t, path, int64(active.Index.Offset)+5)

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrCorruptDatabase)
}

func TestFlushIsIdempotent(t *testing.T) {
	db, path := newUsersDB(t)
	defer db.Close()
	_, err := db.Insert("users", model.Record{"name": "a"})
	require.NoError(t, err)
	require.NoError(t, db.Flush())

	gen := activeHeader(t, path).Generation
	require.NoError(t, db.Flush())
	assert.Equal(t, gen, activeHeader(t, path).Generation)

	_, err = db.Insert("users", model.Record{"name": "b"})
	require.NoError(t, err)
	require.NoError(t, db.Flush())
	assert.Equal(t, gen+1, activeHeader(t, path).Generation)
}

func TestExtentsPingPong(t *testing.T) {
	db, path := newUsersDB(t, WithWALCapacity(4096))
	defer db.Close()

	for i := 0; i < 5; i++ {
		_, err := db.Insert("users", model.Record{"name": "r"})
		require.NoError(t, err)
	}
	require.NoError(t, db.Flush())

	// Same content every time keeps the extent size fixed, making the
	// placement pattern observable.
	var offsets []uint64
	for i := 0; i < 6; i++ {
		require.NoError(t, db.Update("users", int64(1), model.Record{"name": "r"}))
		require.NoError(t, db.Flush())
		offsets = append(offsets, activeHeader(t, path).Schema.Offset)
	}
	// Consecutive checkpoints alternate between two extents, so the
	// file does not grow without bound.
	assert.NotEqual(t, offsets[2], offsets[3])
	assert.Equal(t, offsets[2], offsets[4])
	assert.Equal(t, offsets[3], offsets[5])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(64<<10))
}

func TestAutoCheckpointOnFullWAL(t *testing.T) {
	db, path := newUsersDB(t, WithWALCapacity(512))
	genBefore := activeHeader(t, path).Generation

	for i := 0; i < 50; i++ {
		_, err := db.Insert("users", model.Record{
			"name": "padding-padding-padding-padding",
		})
		require.NoError(t, err)
	}
	assert.Greater(t, activeHeader(t, path).Generation, genBefore)
	require.NoError(t, db.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count("users")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestRecordTooLargeForWAL(t *testing.T) {
	db, _ := newTestDB(t, WithWALCapacity(256))
	defer db.Close()
	require.NoError(t, db.CreateTable("blobs", []model.Column{
		{Name: "data", Type: model.TagBlob},
	}))

	_, err := db.Insert("blobs", model.Record{"data": make([]byte, 1024)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOversizedKeyRejected(t *testing.T) {
	db, _ := newTestDB(t)
	defer db.Close()
	require.NoError(t, db.CreateTable("docs", []model.Column{
		{Name: "path", Type: model.TagText, PrimaryKey: true},
		{Name: "body", Type: model.TagText, Nullable: true},
	}))

	// A key past the log frame's u16 length prefix must be rejected up
	// front, not silently truncated into a mis-framed entry.
	_, err := db.Insert("docs", model.Record{"path": strings.Repeat("p", 1<<16)})
	assert.ErrorIs(t, err, ErrTooLarge)

	n, err := db.Count("docs")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTruncateReclaimsSpace(t *testing.T) {
	db, path := newUsersDB(t)
	for i := 0; i < 20; i++ {
		_, err := db.Insert("users", model.Record{"name": "x"})
		require.NoError(t, err)
	}
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	active := activeHeader(t, path)
	assert.Equal(t, int64(active.Data.End()), info.Size())
}

func TestUnsupportedVersionRejected(t *testing.T) {
	db, path := newTestDB(t)
	require.NoError(t, db.Close())

	// Rewrite the active slot with a future version.
	active := activeHeader(t, path)
	active.Version = header.Version + 1
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt(active.Marshal(), header.SlotOffset(0))
	require.NoError(t, err)
	_, err = f.WriteAt(active.Marshal(), header.SlotOffset(1))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpenFileThatIsNotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tuck")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database"), 0644))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrCorruptDatabase)
}
