package wal

import (
	"encoding/binary"

	"github.com/tuckdb/tuckdb/utils"
)

// Kind tags the mutation an entry carries.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is one logged mutation. Wire form (little-endian):
//
//	total_len u32 | crc u32 | kind u8 | lsn u64 | generation u64 |
//	table_len u16 | table | key_len u16 | key | payload_len u32 | payload
//
// total_len counts the whole frame including itself; crc covers every
// byte after the crc field. Each entry is independently checksummed so
// a torn write at the tail is detected and discarded, never treated as
// fatal corruption.
type Entry struct {
	Kind Kind
	LSN  uint64
	// Generation is the active header generation at append time.
	// Replay skips entries older than the header they recover against.
	Generation uint64
	Table      string
	Key        []byte
	// Payload is the encoded full record for Insert/Update, empty for
	// Delete.
	Payload []byte
}

var byteOrder = binary.LittleEndian

const entryOverhead = 4 + 4 + 1 + 8 + 8 + 2 + 2 + 4

func (e *Entry) size() int {
	return entryOverhead + len(e.Table) + len(e.Key) + len(e.Payload)
}

func (e *Entry) marshal() []byte {
	buf := make([]byte, e.size())
	byteOrder.PutUint32(buf[0:4], uint32(len(buf)))
	off := 8
	buf[off] = byte(e.Kind)
	off++
	byteOrder.PutUint64(buf[off:], e.LSN)
	off += 8
	byteOrder.PutUint64(buf[off:], e.Generation)
	off += 8
	byteOrder.PutUint16(buf[off:], uint16(len(e.Table)))
	off += 2
	off += copy(buf[off:], e.Table)
	byteOrder.PutUint16(buf[off:], uint16(len(e.Key)))
	off += 2
	off += copy(buf[off:], e.Key)
	byteOrder.PutUint32(buf[off:], uint32(len(e.Payload)))
	off += 4
	copy(buf[off:], e.Payload)

	byteOrder.PutUint32(buf[4:8], utils.Checksum(buf[8:]))
	return buf
}

// unmarshalEntry decodes one frame. The caller has already validated
// total_len against the remaining segment and the crc.
func unmarshalEntry(frame []byte) (*Entry, bool) {
	if len(frame) < entryOverhead {
		return nil, false
	}
	e := &Entry{}
	off := 8
	e.Kind = Kind(frame[off])
	off++
	if e.Kind < KindInsert || e.Kind > KindDelete {
		return nil, false
	}
	e.LSN = byteOrder.Uint64(frame[off:])
	off += 8
	e.Generation = byteOrder.Uint64(frame[off:])
	off += 8
	tableLen := int(byteOrder.Uint16(frame[off:]))
	off += 2
	if off+tableLen+2 > len(frame) {
		return nil, false
	}
	e.Table = string(frame[off : off+tableLen])
	off += tableLen
	keyLen := int(byteOrder.Uint16(frame[off:]))
	off += 2
	if off+keyLen+4 > len(frame) {
		return nil, false
	}
	e.Key = append([]byte(nil), frame[off:off+keyLen]...)
	off += keyLen
	payloadLen := int(byteOrder.Uint32(frame[off:]))
	off += 4
	if off+payloadLen != len(frame) {
		return nil, false
	}
	if payloadLen > 0 {
		e.Payload = append([]byte(nil), frame[off:off+payloadLen]...)
	}
	return e, true
}
