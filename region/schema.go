package region

import (
	"encoding/binary"
	"sort"

	"github.com/tuckdb/tuckdb/model"
)

// Column flag bits, part of the file format.
const (
	flagNullable   = 0x01
	flagPrimaryKey = 0x02
	flagIndexed    = 0x04
)

// MarshalSchemas encodes all table schemas of a file into one plain
// payload. All metadata is centralized here, never one blob per table.
// The schema region stays plaintext so external tools can probe a file
// without a password.
//
// Layout: table_count uvarint, then per table (sorted by name):
// name | primary_key | comment | next_row_id u64 | column_count
// uvarint | columns. Per column: name | tag u8 | flags u8 | comment.
func MarshalSchemas(schemas map[string]*model.Schema) []byte {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := binary.AppendUvarint(nil, uint64(len(names)))
	for _, name := range names {
		s := schemas[name]
		buf = appendString(buf, s.Table)
		buf = appendString(buf, s.PrimaryKey)
		buf = appendString(buf, s.Comment)
		buf = byteOrder.AppendUint64(buf, s.NextRowID)
		buf = binary.AppendUvarint(buf, uint64(len(s.Columns)))
		for i := range s.Columns {
			col := &s.Columns[i]
			buf = appendString(buf, col.Name)
			buf = append(buf, byte(col.Type))
			var flags byte
			if col.Nullable {
				flags |= flagNullable
			}
			if col.PrimaryKey {
				flags |= flagPrimaryKey
			}
			if col.Indexed {
				flags |= flagIndexed
			}
			buf = append(buf, flags)
			buf = appendString(buf, col.Comment)
		}
	}
	return buf
}

// UnmarshalSchemas decodes the schema region payload.
func UnmarshalSchemas(data []byte) (map[string]*model.Schema, error) {
	count, off, err := readUvarint(data, 0)
	if err != nil {
		return nil, err
	}
	schemas := make(map[string]*model.Schema, count)
	for i := uint64(0); i < count; i++ {
		s := &model.Schema{}
		if s.Table, off, err = readString(data, off); err != nil {
			return nil, err
		}
		if s.PrimaryKey, off, err = readString(data, off); err != nil {
			return nil, err
		}
		if s.Comment, off, err = readString(data, off); err != nil {
			return nil, err
		}
		if off+8 > len(data) {
			return nil, ErrCorrupt
		}
		s.NextRowID = byteOrder.Uint64(data[off:])
		off += 8

		var colCount uint64
		if colCount, off, err = readUvarint(data, off); err != nil {
			return nil, err
		}
		s.Columns = make([]model.Column, colCount)
		for c := uint64(0); c < colCount; c++ {
			col := &s.Columns[c]
			if col.Name, off, err = readString(data, off); err != nil {
				return nil, err
			}
			if off+2 > len(data) {
				return nil, ErrCorrupt
			}
			col.Type = model.TypeTag(data[off])
			if !col.Type.Valid() {
				return nil, ErrCorrupt
			}
			flags := data[off+1]
			off += 2
			col.Nullable = flags&flagNullable != 0
			col.PrimaryKey = flags&flagPrimaryKey != 0
			col.Indexed = flags&flagIndexed != 0
			if col.Comment, off, err = readString(data, off); err != nil {
				return nil, err
			}
		}
		schemas[s.Table] = s
	}
	return schemas, nil
}
