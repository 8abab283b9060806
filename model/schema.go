package model

// Column describes one column of a table. Columns are plain data:
// validation is a function over (value, Column), never behavior on the
// column itself.
type Column struct {
	Name       string
	Type       TypeTag
	Nullable   bool
	PrimaryKey bool
	Indexed    bool
	Comment    string
}

// Schema holds the full metadata of one table. All schemas of a file
// are persisted together in the schema region.
type Schema struct {
	Table   string
	Columns []Column
	// PrimaryKey is the name of the primary-key column, empty when the
	// table has none (records are then keyed by an implicit row id).
	PrimaryKey string
	Comment    string
	// NextRowID backs auto-assigned primary keys and implicit row ids.
	// It never decreases and ids are never reused.
	NextRowID uint64
}

// Column returns the column with the given name, nil when absent.
func (s *Schema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// ColumnIndex returns the position of the named column, -1 when absent.
func (s *Schema) ColumnIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// PKColumn returns the primary-key column, nil when the table has none.
func (s *Schema) PKColumn() *Column {
	if s.PrimaryKey == "" {
		return nil
	}
	return s.Column(s.PrimaryKey)
}

// KeyTag is the type tag records of this table are keyed by.
func (s *Schema) KeyTag() TypeTag {
	if pk := s.PKColumn(); pk != nil {
		return pk.Type
	}
	return TagInt
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	out := *s
	out.Columns = make([]Column, len(s.Columns))
	copy(out.Columns, s.Columns)
	return &out
}
