// Package wal manages the append-only log segment that gives
// mutations O(1) durable latency between checkpoints. The segment is a
// fixed-capacity byte range inside the database file; a successful
// checkpoint logically empties it.
package wal

import (
	"errors"
	"fmt"
	"math"

	"github.com/tuckdb/tuckdb/fio"
	"github.com/tuckdb/tuckdb/utils"

	"go.uber.org/zap"
)

var (
	// ErrSegmentFull means the entry does not fit in the remaining
	// segment space; the engine checkpoints and retries.
	ErrSegmentFull = errors.New("wal: segment full")

	// ErrEntryTooLarge means a field exceeds its frame length prefix.
	// Writing such an entry would mis-frame it while its checksum still
	// validated, so replay would silently drop it and everything after.
	ErrEntryTooLarge = errors.New("wal: entry field too large for frame")
)

// Field limits imposed by the u16/u32 length prefixes of the frame
// layout in entry.go.
const (
	MaxTableLen   = math.MaxUint16
	MaxKeyLen     = math.MaxUint16
	MaxPayloadLen = math.MaxUint32 - (entryOverhead + MaxTableLen + MaxKeyLen)
)

// sentinelSize is the room kept for the zero-length end marker.
const sentinelSize = 4

// Manager owns the WAL segment [start, start+capacity) of the file.
// It is not safe for concurrent use; the engine serializes mutations.
type Manager struct {
	io       fio.IOManager
	start    int64
	capacity int64
	tail     int64
	nextLSN  uint64
	logger   *zap.Logger
}

func NewManager(io fio.IOManager, start, capacity int64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		io:       io,
		start:    start,
		capacity: capacity,
		tail:     start,
		nextLSN:  1,
		logger:   logger,
	}
}

// Empty reports whether the segment holds no entries.
func (m *Manager) Empty() bool {
	return m.tail == m.start
}

// Append writes one entry at the tail and flushes it to stable storage
// before returning, so the loss window is limited to the entry being
// appended. Returns the assigned LSN.
func (m *Manager) Append(e *Entry) (uint64, error) {
	if len(e.Table) > MaxTableLen {
		return 0, fmt.Errorf("%w: table name %d bytes", ErrEntryTooLarge, len(e.Table))
	}
	if len(e.Key) > MaxKeyLen {
		return 0, fmt.Errorf("%w: key %d bytes", ErrEntryTooLarge, len(e.Key))
	}
	if uint64(len(e.Payload)) > MaxPayloadLen {
		return 0, fmt.Errorf("%w: payload %d bytes", ErrEntryTooLarge, len(e.Payload))
	}
	e.LSN = m.nextLSN
	frame := e.marshal()
	if m.tail+int64(len(frame))+sentinelSize > m.start+m.capacity {
		return 0, ErrSegmentFull
	}
	if _, err := m.io.WriteAt(frame, m.tail); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	// Zero the next length field so a replay after this append cannot
	// resurrect a stale entry that happens to start there.
	if _, err := m.io.WriteAt(make([]byte, sentinelSize), m.tail+int64(len(frame))); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	if err := m.io.Sync(); err != nil {
		return 0, fmt.Errorf("wal: sync: %w", err)
	}
	m.tail += int64(len(frame))
	m.nextLSN++
	return e.LSN, nil
}

// Replay scans the segment from its start and returns every intact
// entry in order. Scanning stops at a zero length, a length past the
// segment end, or a CRC mismatch: the tail from that point is a torn
// write and is discarded, not surfaced as an error. Replay positions
// the manager to append after the last intact entry.
func (m *Manager) Replay() ([]*Entry, error) {
	size, err := m.io.Size()
	if err != nil {
		return nil, fmt.Errorf("wal: replay: %w", err)
	}
	end := m.start + m.capacity
	if size < end {
		end = size
	}
	if end <= m.start {
		m.tail = m.start
		return nil, nil
	}

	seg := make([]byte, end-m.start)
	if _, err := m.io.ReadAt(seg, m.start); err != nil {
		return nil, fmt.Errorf("wal: replay: %w", err)
	}

	var entries []*Entry
	off := 0
	for off+sentinelSize <= len(seg) {
		frameLen := int(byteOrder.Uint32(seg[off:]))
		if frameLen == 0 {
			break
		}
		if frameLen < entryOverhead || off+frameLen > len(seg) {
			m.logger.Warn("wal: discarding torn tail",
				zap.Int("offset", off),
				zap.Int("declared_len", frameLen))
			break
		}
		frame := seg[off : off+frameLen]
		if !utils.CheckChecksum(byteOrder.Uint32(frame[4:8]), frame[8:]) {
			m.logger.Warn("wal: discarding tail with bad checksum",
				zap.Int("offset", off))
			break
		}
		e, ok := unmarshalEntry(frame)
		if !ok {
			m.logger.Warn("wal: discarding malformed tail entry",
				zap.Int("offset", off))
			break
		}
		entries = append(entries, e)
		off += frameLen
	}

	m.tail = m.start + int64(off)
	if n := len(entries); n > 0 {
		m.nextLSN = entries[n-1].LSN + 1
		m.logger.Info("wal: replayed entries",
			zap.Int("count", n),
			zap.Uint64("last_lsn", entries[n-1].LSN))
	}
	return entries, nil
}

// Truncate logically empties the segment by writing a zero length
// sentinel at its start. Only safe immediately after a checkpoint's
// header flip has been fsynced: a crash in between merely replays
// already-applied entries, which replay handles idempotently.
func (m *Manager) Truncate() error {
	if _, err := m.io.WriteAt(make([]byte, sentinelSize), m.start); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	if err := m.io.Sync(); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	m.tail = m.start
	return nil
}
