package codec

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/tuckdb/tuckdb/model"
)

var (
	// ErrCorruptRecord reports encoded bytes that cannot be decoded:
	// a length prefix past the buffer end or an unrecognized type tag.
	ErrCorruptRecord = errors.New("codec: corrupt record")

	// ErrUnsupportedType reports a Go value with no registered type tag.
	ErrUnsupportedType = errors.New("codec: unsupported type")
)

// ByteOrder is the byte order of all fixed-width fields in the file.
var ByteOrder = binary.LittleEndian

const dateEpochDay = 24 * time.Hour

// TagOf returns the type tag for a Go value, used for the typed
// sub-values inside lists and maps.
func TagOf(v any) (model.TypeTag, bool) {
	switch v.(type) {
	case int, int32, int64:
		return model.TagInt, true
	case string:
		return model.TagText, true
	case float32, float64:
		return model.TagFloat, true
	case bool:
		return model.TagBool, true
	case []byte:
		return model.TagBlob, true
	case time.Time:
		return model.TagTimestamp, true
	case time.Duration:
		return model.TagDuration, true
	case []any:
		return model.TagList, true
	case map[string]any:
		return model.TagMap, true
	default:
		return 0, false
	}
}

// Normalize coerces v to the canonical Go type for tag, so that values
// stored in a table image compare equal to their decoded round-trip.
func Normalize(v any, tag model.TypeTag) (any, error) {
	switch tag {
	case model.TagInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case model.TagText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case model.TagFloat:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		case int:
			return float64(f), nil
		case int64:
			return float64(f), nil
		}
	case model.TagBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case model.TagBlob:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case model.TagTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	case model.TagDate:
		if t, ok := v.(time.Time); ok {
			u := t.UTC()
			y, m, d := u.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	case model.TagDuration:
		if d, ok := v.(time.Duration); ok {
			return d, nil
		}
	case model.TagList:
		if l, ok := v.([]any); ok {
			return l, nil
		}
	case model.TagMap:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	default:
		return nil, ErrUnsupportedType
	}
	return nil, ErrUnsupportedType
}

// AppendValue appends the canonical binary form of v to dst.
// v must already be normalized for tag.
func AppendValue(dst []byte, v any, tag model.TypeTag) ([]byte, error) {
	nv, err := Normalize(v, tag)
	if err != nil {
		return nil, err
	}
	switch tag {
	case model.TagInt:
		return ByteOrder.AppendUint64(dst, uint64(nv.(int64))), nil
	case model.TagText:
		s := nv.(string)
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...), nil
	case model.TagFloat:
		return ByteOrder.AppendUint64(dst, math.Float64bits(nv.(float64))), nil
	case model.TagBool:
		if nv.(bool) {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case model.TagBlob:
		b := nv.([]byte)
		dst = binary.AppendUvarint(dst, uint64(len(b)))
		return append(dst, b...), nil
	case model.TagTimestamp:
		return ByteOrder.AppendUint64(dst, uint64(nv.(time.Time).UnixMicro())), nil
	case model.TagDate:
		days := nv.(time.Time).Unix() / int64(dateEpochDay/time.Second)
		return ByteOrder.AppendUint32(dst, uint32(int32(days))), nil
	case model.TagDuration:
		return ByteOrder.AppendUint64(dst, uint64(nv.(time.Duration))), nil
	case model.TagList:
		return appendList(dst, nv.([]any))
	case model.TagMap:
		return appendMap(dst, nv.(map[string]any))
	default:
		return nil, ErrUnsupportedType
	}
}

func appendList(dst []byte, list []any) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(list)))
	var err error
	for _, elem := range list {
		if dst, err = appendElem(dst, elem); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendMap(dst []byte, m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dst = binary.AppendUvarint(dst, uint64(len(m)))
	var err error
	for _, k := range keys {
		dst = binary.AppendUvarint(dst, uint64(len(k)))
		dst = append(dst, k...)
		if dst, err = appendElem(dst, m[k]); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// appendElem writes one typed sub-value: a tag byte (0 for null)
// followed by the value bytes.
func appendElem(dst []byte, v any) ([]byte, error) {
	if v == nil {
		return append(dst, 0), nil
	}
	tag, ok := TagOf(v)
	if !ok {
		return nil, ErrUnsupportedType
	}
	dst = append(dst, byte(tag))
	return AppendValue(dst, v, tag)
}

// DecodeValue decodes one value of the given tag from data, returning
// the value and the number of bytes consumed.
func DecodeValue(data []byte, tag model.TypeTag) (any, int, error) {
	switch tag {
	case model.TagInt:
		if len(data) < 8 {
			return nil, 0, ErrCorruptRecord
		}
		return int64(ByteOrder.Uint64(data)), 8, nil
	case model.TagText:
		b, n, err := decodeLenPrefixed(data)
		if err != nil {
			return nil, 0, err
		}
		return string(b), n, nil
	case model.TagFloat:
		if len(data) < 8 {
			return nil, 0, ErrCorruptRecord
		}
		return math.Float64frombits(ByteOrder.Uint64(data)), 8, nil
	case model.TagBool:
		if len(data) < 1 {
			return nil, 0, ErrCorruptRecord
		}
		return data[0] != 0, 1, nil
	case model.TagBlob:
		b, n, err := decodeLenPrefixed(data)
		if err != nil {
			return nil, 0, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, n, nil
	case model.TagTimestamp:
		if len(data) < 8 {
			return nil, 0, ErrCorruptRecord
		}
		return time.UnixMicro(int64(ByteOrder.Uint64(data))).UTC(), 8, nil
	case model.TagDate:
		if len(data) < 4 {
			return nil, 0, ErrCorruptRecord
		}
		days := int64(int32(ByteOrder.Uint32(data)))
		return time.Unix(days*86400, 0).UTC(), 4, nil
	case model.TagDuration:
		if len(data) < 8 {
			return nil, 0, ErrCorruptRecord
		}
		return time.Duration(ByteOrder.Uint64(data)), 8, nil
	case model.TagList:
		return decodeList(data)
	case model.TagMap:
		return decodeMap(data)
	default:
		return nil, 0, ErrCorruptRecord
	}
}

func decodeLenPrefixed(data []byte) ([]byte, int, error) {
	length, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < length {
		return nil, 0, ErrCorruptRecord
	}
	return data[n : n+int(length)], n + int(length), nil
}

func decodeList(data []byte) (any, int, error) {
	count, off := binary.Uvarint(data)
	if off <= 0 {
		return nil, 0, ErrCorruptRecord
	}
	list := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		elem, n, err := decodeElem(data[off:])
		if err != nil {
			return nil, 0, err
		}
		list = append(list, elem)
		off += n
	}
	return list, off, nil
}

func decodeMap(data []byte) (any, int, error) {
	count, off := binary.Uvarint(data)
	if off <= 0 {
		return nil, 0, ErrCorruptRecord
	}
	m := make(map[string]any, count)
	for i := uint64(0); i < count; i++ {
		kb, n, err := decodeLenPrefixed(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		elem, n, err := decodeElem(data[off:])
		if err != nil {
			return nil, 0, err
		}
		m[string(kb)] = elem
		off += n
	}
	return m, off, nil
}

func decodeElem(data []byte) (any, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrCorruptRecord
	}
	tag := model.TypeTag(data[0])
	if tag == 0 {
		return nil, 1, nil
	}
	if !tag.Valid() {
		return nil, 0, ErrCorruptRecord
	}
	v, n, err := DecodeValue(data[1:], tag)
	if err != nil {
		return nil, 0, err
	}
	return v, n + 1, nil
}
