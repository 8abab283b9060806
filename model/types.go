package model

// TypeTag identifies the canonical binary form of a column value.
// Tag values are part of the file format and must never be renumbered.
type TypeTag uint8

const (
	TagInt TypeTag = iota + 1
	TagText
	TagFloat
	TagBool
	TagBlob
	TagTimestamp
	TagDate
	TagDuration
	TagList
	TagMap
)

func (t TypeTag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagText:
		return "text"
	case TagFloat:
		return "float"
	case TagBool:
		return "bool"
	case TagBlob:
		return "blob"
	case TagTimestamp:
		return "timestamp"
	case TagDate:
		return "date"
	case TagDuration:
		return "duration"
	case TagList:
		return "list"
	case TagMap:
		return "map"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the ten supported tags.
func (t TypeTag) Valid() bool {
	return t >= TagInt && t <= TagMap
}
