package region

import (
	"encoding/binary"

	"github.com/tuckdb/tuckdb/model"
)

// The data region is a sequence of per-table sections, each holding
// its records in insertion order so scans keep their order across a
// reopen:
//
//	section: table_name | record_count uvarint | frames
//	frame:   key_len uvarint | key bytes | body_len uvarint | body
//
// RecordPos offsets in the index region point at frame starts relative
// to the region payload, which is what makes lazy point lookups
// possible without decoding the whole region.

// DataBuilder accumulates the data region payload for a checkpoint.
type DataBuilder struct {
	buf []byte
}

// BeginTable opens a new table section.
func (b *DataBuilder) BeginTable(name string, recordCount int) {
	b.buf = appendString(b.buf, name)
	b.buf = binary.AppendUvarint(b.buf, uint64(recordCount))
}

// AddFrame appends one record frame and returns its position.
func (b *DataBuilder) AddFrame(key []byte, body []byte) model.RecordPos {
	start := len(b.buf)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(key)))
	b.buf = append(b.buf, key...)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(body)))
	b.buf = append(b.buf, body...)
	return model.RecordPos{
		Offset: int64(start),
		Size:   uint32(len(b.buf) - start),
	}
}

// Bytes returns the accumulated payload.
func (b *DataBuilder) Bytes() []byte {
	if b.buf == nil {
		return []byte{}
	}
	return b.buf
}

// DataReader walks the data region payload section by section.
type DataReader struct {
	data []byte
	off  int
}

func NewDataReader(payload []byte) *DataReader {
	return &DataReader{data: payload}
}

// More reports whether another section follows.
func (r *DataReader) More() bool {
	return r.off < len(r.data)
}

// NextTable reads a section header, returning the table name and its
// record count.
func (r *DataReader) NextTable() (string, int, error) {
	name, off, err := readString(r.data, r.off)
	if err != nil {
		return "", 0, err
	}
	count, off, err := readUvarint(r.data, off)
	if err != nil {
		return "", 0, err
	}
	r.off = off
	return name, int(count), nil
}

// NextFrame reads one record frame within the current section.
func (r *DataReader) NextFrame() (key []byte, body []byte, pos model.RecordPos, err error) {
	start := r.off
	keyLen, off, err := readUvarint(r.data, r.off)
	if err != nil {
		return nil, nil, pos, err
	}
	if off+int(keyLen) > len(r.data) {
		return nil, nil, pos, ErrCorrupt
	}
	key = r.data[off : off+int(keyLen)]
	off += int(keyLen)
	bodyLen, off, err := readUvarint(r.data, off)
	if err != nil {
		return nil, nil, pos, err
	}
	if off+int(bodyLen) > len(r.data) {
		return nil, nil, pos, ErrCorrupt
	}
	body = r.data[off : off+int(bodyLen)]
	r.off = off + int(bodyLen)
	return key, body, model.RecordPos{
		Offset: int64(start),
		Size:   uint32(r.off - start),
	}, nil
}

// FrameAt reads the record frame at pos without sequential scanning.
func FrameAt(payload []byte, pos model.RecordPos) (key []byte, body []byte, err error) {
	if pos.Offset < 0 || pos.Offset+int64(pos.Size) > int64(len(payload)) {
		return nil, nil, ErrCorrupt
	}
	r := &DataReader{data: payload[:pos.Offset+int64(pos.Size)], off: int(pos.Offset)}
	key, body, _, err = r.NextFrame()
	return key, body, err
}
