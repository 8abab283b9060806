package codec

import (
	"encoding/binary"

	"github.com/tuckdb/tuckdb/model"
)

// Record wire form, shared by the data region and WAL payloads:
//
//	field_count uvarint
//	per field: col_index uvarint | presence u8 | value bytes
//
// presence 0 marks an explicit null on a nullable column; absent
// columns are simply not written. Column order follows the schema, so
// the encoding is deterministic for a given record.

// EncodeRecord encodes rec against the schema's column set.
func EncodeRecord(schema *model.Schema, rec model.Record) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(countFields(schema, rec)))
	var err error
	for i := range schema.Columns {
		col := &schema.Columns[i]
		v, ok := rec[col.Name]
		if !ok {
			continue
		}
		buf = binary.AppendUvarint(buf, uint64(i))
		if v == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		if buf, err = AppendValue(buf, v, col.Type); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func countFields(schema *model.Schema, rec model.Record) int {
	n := 0
	for i := range schema.Columns {
		if _, ok := rec[schema.Columns[i].Name]; ok {
			n++
		}
	}
	return n
}

// DecodeRecord decodes one record body, returning the record and the
// number of bytes consumed.
func DecodeRecord(schema *model.Schema, data []byte) (model.Record, int, error) {
	count, off := binary.Uvarint(data)
	if off <= 0 {
		return nil, 0, ErrCorruptRecord
	}
	rec := make(model.Record, count)
	for i := uint64(0); i < count; i++ {
		colIdx, n := binary.Uvarint(data[off:])
		if n <= 0 || colIdx >= uint64(len(schema.Columns)) {
			return nil, 0, ErrCorruptRecord
		}
		off += n
		if off >= len(data) {
			return nil, 0, ErrCorruptRecord
		}
		col := &schema.Columns[colIdx]
		present := data[off]
		off++
		if present == 0 {
			rec[col.Name] = nil
			continue
		}
		v, n, err := DecodeValue(data[off:], col.Type)
		if err != nil {
			return nil, 0, err
		}
		rec[col.Name] = v
		off += n
	}
	return rec, off, nil
}

// EncodeKey returns the canonical key bytes for a primary-key (or row
// id) value: a tag byte followed by an order-preserving encoding, so
// byte comparison of two keys of the same tag matches value order for
// integers and lexicographic order for text.
func EncodeKey(v any, tag model.TypeTag) ([]byte, error) {
	nv, err := Normalize(v, tag)
	if err != nil {
		return nil, err
	}
	buf := []byte{byte(tag)}
	switch tag {
	case model.TagInt:
		// Flip the sign bit so big-endian bytes sort by value.
		return binary.BigEndian.AppendUint64(buf, uint64(nv.(int64))^(1<<63)), nil
	case model.TagText:
		return append(buf, nv.(string)...), nil
	default:
		return AppendValue(buf, nv, tag)
	}
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(data []byte) (any, error) {
	if len(data) < 1 {
		return nil, ErrCorruptRecord
	}
	tag := model.TypeTag(data[0])
	switch tag {
	case model.TagInt:
		if len(data) != 9 {
			return nil, ErrCorruptRecord
		}
		return int64(binary.BigEndian.Uint64(data[1:]) ^ (1 << 63)), nil
	case model.TagText:
		return string(data[1:]), nil
	default:
		v, _, err := DecodeValue(data[1:], tag)
		return v, err
	}
}
