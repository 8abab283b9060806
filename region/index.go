package region

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/tuckdb/tuckdb/model"

	"github.com/klauspost/compress/zlib"
)

// TableIndex is one table's slice of the index region: the primary-key
// to data-offset mapping plus any secondary hash indexes.
type TableIndex struct {
	// Offsets maps canonical key bytes to the record frame position.
	Offsets map[string]model.RecordPos
	// Secondary maps column name -> encoded value -> set of key bytes.
	Secondary map[string]map[string]map[string]struct{}
}

func NewTableIndex() *TableIndex {
	return &TableIndex{
		Offsets:   make(map[string]model.RecordPos),
		Secondary: make(map[string]map[string]map[string]struct{}),
	}
}

// MarshalIndex encodes and zlib-compresses the index region. Uncompressed
// this region dominates the file, so it is the one region stored
// compressed. Iteration is sorted throughout to keep checkpoints
// deterministic.
//
// Layout (pre-compression): table_count uvarint, then per table:
// name | offset_count | (key | offset | size)* | index_count |
// (column | value_count | (value | key_count | key*)*)*.
func MarshalIndex(indexes map[string]*TableIndex) ([]byte, error) {
	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := binary.AppendUvarint(nil, uint64(len(names)))
	for _, name := range names {
		ti := indexes[name]
		buf = appendString(buf, name)

		keys := sortedKeys(ti.Offsets)
		buf = binary.AppendUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			pos := ti.Offsets[k]
			buf = appendString(buf, k)
			buf = binary.AppendUvarint(buf, uint64(pos.Offset))
			buf = binary.AppendUvarint(buf, uint64(pos.Size))
		}

		cols := make([]string, 0, len(ti.Secondary))
		for col := range ti.Secondary {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		buf = binary.AppendUvarint(buf, uint64(len(cols)))
		for _, col := range cols {
			buf = appendString(buf, col)
			values := sortedKeys(ti.Secondary[col])
			buf = binary.AppendUvarint(buf, uint64(len(values)))
			for _, val := range values {
				buf = appendString(buf, val)
				refs := sortedKeys(ti.Secondary[col][val])
				buf = binary.AppendUvarint(buf, uint64(len(refs)))
				for _, ref := range refs {
					buf = appendString(buf, ref)
				}
			}
		}
	}

	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(buf); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// UnmarshalIndex decompresses and decodes the index region.
func UnmarshalIndex(compressed []byte) (map[string]*TableIndex, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrCorrupt
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, ErrCorrupt
	}

	tableCount, off, err := readUvarint(data, 0)
	if err != nil {
		return nil, err
	}
	indexes := make(map[string]*TableIndex, tableCount)
	for i := uint64(0); i < tableCount; i++ {
		var name string
		if name, off, err = readString(data, off); err != nil {
			return nil, err
		}
		ti := NewTableIndex()

		var offsetCount uint64
		if offsetCount, off, err = readUvarint(data, off); err != nil {
			return nil, err
		}
		for j := uint64(0); j < offsetCount; j++ {
			var key string
			if key, off, err = readString(data, off); err != nil {
				return nil, err
			}
			var frameOff, frameSize uint64
			if frameOff, off, err = readUvarint(data, off); err != nil {
				return nil, err
			}
			if frameSize, off, err = readUvarint(data, off); err != nil {
				return nil, err
			}
			ti.Offsets[key] = model.RecordPos{
				Offset: int64(frameOff),
				Size:   uint32(frameSize),
			}
		}

		var colCount uint64
		if colCount, off, err = readUvarint(data, off); err != nil {
			return nil, err
		}
		for j := uint64(0); j < colCount; j++ {
			var col string
			if col, off, err = readString(data, off); err != nil {
				return nil, err
			}
			var valCount uint64
			if valCount, off, err = readUvarint(data, off); err != nil {
				return nil, err
			}
			valMap := make(map[string]map[string]struct{}, valCount)
			for v := uint64(0); v < valCount; v++ {
				var val string
				if val, off, err = readString(data, off); err != nil {
					return nil, err
				}
				var refCount uint64
				if refCount, off, err = readUvarint(data, off); err != nil {
					return nil, err
				}
				refs := make(map[string]struct{}, refCount)
				for r := uint64(0); r < refCount; r++ {
					var ref string
					if ref, off, err = readString(data, off); err != nil {
						return nil, err
					}
					refs[ref] = struct{}{}
				}
				valMap[val] = refs
			}
			ti.Secondary[col] = valMap
		}
		indexes[name] = ti
	}
	return indexes, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
