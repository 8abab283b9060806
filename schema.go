package tuckdb

import (
	"fmt"
	"sort"

	"github.com/tuckdb/tuckdb/model"

	"go.uber.org/zap"
)

// Schema changes are rare and structural, so each one checkpoints
// immediately instead of riding the WAL; record frames are encoded
// against column positions and must be rewritten in the same step that
// changes them.

// CreateTable registers a new table and checkpoints.
func (db *DB) CreateTable(name string, columns []model.Column, opts ...TableOption) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if name == "" {
		return fmt.Errorf("%w: empty table name", ErrValidation)
	}
	if _, exists := db.tables[name]; exists {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: table %s needs at least one column", ErrValidation, name)
	}

	cfg := &tableConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	schema := &model.Schema{
		Table:     name,
		Columns:   make([]model.Column, len(columns)),
		Comment:   cfg.comment,
		NextRowID: 1,
	}
	copy(schema.Columns, columns)
	seen := make(map[string]struct{}, len(columns))
	for i := range schema.Columns {
		col := &schema.Columns[i]
		if col.Name == "" {
			return fmt.Errorf("%w: table %s has an unnamed column", ErrValidation, name)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("%w: table %s repeats column %q", ErrValidation, name, col.Name)
		}
		seen[col.Name] = struct{}{}
		if !col.Type.Valid() {
			return fmt.Errorf("%w: column %s.%s has an invalid type", ErrValidation, name, col.Name)
		}
		if col.PrimaryKey {
			if schema.PrimaryKey != "" {
				return fmt.Errorf("%w: table %s declares two primary keys", ErrValidation, name)
			}
			if col.Nullable {
				return fmt.Errorf("%w: primary key %s.%s cannot be nullable", ErrValidation, name, col.Name)
			}
			if col.Type != model.TagInt && col.Type != model.TagText {
				return fmt.Errorf("%w: primary key %s.%s must be int or text", ErrValidation, name, col.Name)
			}
			schema.PrimaryKey = col.Name
		}
	}

	db.tables[name] = newTableImage(schema)
	db.dirty = true
	if err := db.flushLocked(); err != nil {
		delete(db.tables, name)
		return err
	}
	db.logger.Info("created table",
		zap.String("table", name),
		zap.Int("columns", len(columns)))
	return nil
}

// DropTable removes a table and all its records, then checkpoints.
func (db *DB) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[name]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	delete(db.tables, name)
	db.dirty = true
	if err := db.flushLocked(); err != nil {
		db.tables[name] = img
		return err
	}
	db.logger.Info("dropped table", zap.String("table", name))
	return nil
}

// GetSchema returns a copy of the table's schema, or nil when the
// table does not exist.
func (db *DB) GetSchema(table string) *model.Schema {
	db.mu.RLock()
	defer db.mu.RUnlock()
	img := db.tables[table]
	if img == nil {
		return nil
	}
	return img.schema.Clone()
}

// Tables returns the table names in sorted order.
func (db *DB) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddColumn appends a column to the table. On a non-empty table the
// column must be nullable; existing records simply lack the field.
func (db *DB) AddColumn(table string, col model.Column) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if col.Name == "" {
		return fmt.Errorf("%w: unnamed column", ErrValidation)
	}
	if img.schema.Column(col.Name) != nil {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, table, col.Name)
	}
	if !col.Type.Valid() {
		return fmt.Errorf("%w: column %s.%s has an invalid type", ErrValidation, table, col.Name)
	}
	if col.PrimaryKey {
		return fmt.Errorf("%w: cannot add a primary key column", ErrValidation)
	}
	if err := db.materializeLocked(img); err != nil {
		return err
	}
	if !col.Nullable && len(img.order) > 0 {
		return fmt.Errorf("%w: column %s.%s must be nullable on a populated table",
			ErrValidation, table, col.Name)
	}

	old := img.schema
	next := old.Clone()
	next.Columns = append(next.Columns, col)
	img.schema = next
	if col.Indexed {
		img.indexes[col.Name] = make(map[string]map[string]struct{})
	}
	db.dirty = true
	if err := db.flushLocked(); err != nil {
		img.schema = old
		delete(img.indexes, col.Name)
		return err
	}
	return nil
}

// DropColumn removes a column and its values from every record, then
// checkpoints. The primary key column cannot be dropped.
func (db *DB) DropColumn(table, column string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	idx := img.schema.ColumnIndex(column)
	if idx < 0 {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	if img.schema.PrimaryKey == column {
		return fmt.Errorf("%w: cannot drop primary key %s.%s", ErrValidation, table, column)
	}
	if err := db.materializeLocked(img); err != nil {
		return err
	}

	next := img.schema.Clone()
	next.Columns = append(next.Columns[:idx], next.Columns[idx+1:]...)
	img.schema = next
	for keyStr, rec := range img.records {
		if _, ok := rec[column]; !ok {
			continue
		}
		stripped := rec.Clone()
		delete(stripped, column)
		img.records[keyStr] = stripped
	}
	delete(img.indexes, column)
	db.dirty = true
	return db.flushLocked()
}

// RenameTable renames a table, keeping its records and counters.
func (db *DB) RenameTable(oldName, newName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[oldName]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, oldName)
	}
	if newName == "" {
		return fmt.Errorf("%w: empty table name", ErrValidation)
	}
	if _, exists := db.tables[newName]; exists {
		return fmt.Errorf("%w: %s", ErrTableExists, newName)
	}
	if err := db.materializeLocked(img); err != nil {
		return err
	}

	next := img.schema.Clone()
	next.Table = newName
	img.schema = next
	db.tables[newName] = img
	delete(db.tables, oldName)
	db.dirty = true
	return db.flushLocked()
}

// UpdateTableComment replaces the table's comment.
func (db *DB) UpdateTableComment(table, comment string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	next := img.schema.Clone()
	next.Comment = comment
	img.schema = next
	db.dirty = true
	return db.flushLocked()
}

// UpdateColumnComment replaces one column's comment.
func (db *DB) UpdateColumnComment(table, column, comment string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	img := db.tables[table]
	if img == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	idx := img.schema.ColumnIndex(column)
	if idx < 0 {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	next := img.schema.Clone()
	next.Columns[idx].Comment = comment
	img.schema = next
	db.dirty = true
	return db.flushLocked()
}
