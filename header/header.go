// Package header owns the dual fixed-offset header slots and the
// generation rule that makes checkpoints crash-safe: a checkpoint
// writes the next-generation header into the inactive slot and fsyncs;
// whichever valid slot carries the higher generation is active. There
// is no separate "active pointer" to flip.
package header

import (
	"errors"

	"github.com/tuckdb/tuckdb/crypt"
	"github.com/tuckdb/tuckdb/fio"
	"github.com/tuckdb/tuckdb/utils"
)

const (
	// Size is the fixed on-disk size of one header slot. Slot A lives
	// at offset 0, slot B at offset Size.
	Size = 128

	// Version is the newest format this engine reads and writes.
	Version uint32 = 4
)

// Magic identifies a database file, kept readable so external tools
// can probe engine identity without a password.
var Magic = [4]byte{'T', 'U', 'C', 'K'}

var (
	// ErrInvalidSlot reports a slot whose magic or checksum does not
	// match; the slot is ignored during selection.
	ErrInvalidSlot = errors.New("header: invalid slot")
	// ErrShortFile reports a file too small to hold a slot.
	ErrShortFile = errors.New("header: short file")
)

// Region locates one of the three logical regions in the file.
type Region struct {
	Offset uint64
	Length uint64
}

// End returns the first byte past the region.
func (r Region) End() uint64 {
	return r.Offset + r.Length
}

// Header is the fixed-size checkpoint record. Layout (little-endian):
//
//	0   magic (4)
//	4   format version u32
//	8   generation u64
//	16  wal capacity u64
//	24  schema region offset u64, length u64
//	40  index region offset u64, length u64
//	56  data region offset u64, length u64
//	72  encryption level u8
//	73  salt (16)
//	89  key-check token (4)
//	93  reserved (31)
//	124 crc32 over bytes 0..124
type Header struct {
	Version     uint32
	Generation  uint64
	WALCapacity uint64
	Schema      Region
	Index       Region
	Data        Region
	Level       crypt.Level
	Salt        [crypt.SaltSize]byte
	KeyCheck    [crypt.CheckSize]byte
}

// Marshal encodes the header into a Size-byte slot image.
func (h *Header) Marshal() []byte {
	buf := make([]byte, Size)
	copy(buf[0:4], Magic[:])
	byteOrder.PutUint32(buf[4:8], h.Version)
	byteOrder.PutUint64(buf[8:16], h.Generation)
	byteOrder.PutUint64(buf[16:24], h.WALCapacity)
	putRegion(buf[24:40], h.Schema)
	putRegion(buf[40:56], h.Index)
	putRegion(buf[56:72], h.Data)
	buf[72] = byte(h.Level)
	copy(buf[73:89], h.Salt[:])
	copy(buf[89:93], h.KeyCheck[:])
	byteOrder.PutUint32(buf[124:128], utils.Checksum(buf[:124]))
	return buf
}

// Unmarshal decodes a slot image, rejecting bad magic or checksum.
func Unmarshal(data []byte) (*Header, error) {
	if len(data) < Size {
		return nil, ErrInvalidSlot
	}
	if [4]byte(data[0:4]) != Magic {
		return nil, ErrInvalidSlot
	}
	if !utils.CheckChecksum(byteOrder.Uint32(data[124:128]), data[:124]) {
		return nil, ErrInvalidSlot
	}
	h := &Header{
		Version:     byteOrder.Uint32(data[4:8]),
		Generation:  byteOrder.Uint64(data[8:16]),
		WALCapacity: byteOrder.Uint64(data[16:24]),
		Schema:      getRegion(data[24:40]),
		Index:       getRegion(data[40:56]),
		Data:        getRegion(data[56:72]),
		Level:       crypt.Level(data[72]),
	}
	copy(h.Salt[:], data[73:89])
	copy(h.KeyCheck[:], data[89:93])
	return h, nil
}

// SlotOffset returns the file offset of slot 0 (A) or 1 (B).
func SlotOffset(slot int) int64 {
	return int64(slot) * Size
}

// ReadSlot reads and validates one slot.
func ReadSlot(io fio.IOManager, slot int) (*Header, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadAt(buf, SlotOffset(slot)); err != nil {
		return nil, ErrShortFile
	}
	return Unmarshal(buf)
}

// WriteSlot writes one slot image. The caller owns fsync ordering.
func WriteSlot(io fio.IOManager, slot int, h *Header) error {
	_, err := io.WriteAt(h.Marshal(), SlotOffset(slot))
	return err
}

// SelectActive applies the generation rule to two decoded slots (nil
// for an invalid slot): the valid slot with the higher generation
// wins; a single valid slot wins regardless of generation. Returns the
// active header and its slot index, or (nil, -1) when both are invalid.
func SelectActive(a, b *Header) (*Header, int) {
	switch {
	case a == nil && b == nil:
		return nil, -1
	case b == nil:
		return a, 0
	case a == nil:
		return b, 1
	case b.Generation > a.Generation:
		return b, 1
	default:
		return a, 0
	}
}
