package model

// Record maps column names to typed values. A nullable column may hold
// an explicit nil, which is distinct from the column being absent.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordPos locates one encoded record frame inside the data region.
type RecordPos struct {
	Offset int64  // frame start, relative to the data region payload
	Size   uint32 // frame size in bytes
}
