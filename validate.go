package tuckdb

import (
	"fmt"

	"github.com/tuckdb/tuckdb/codec"
	"github.com/tuckdb/tuckdb/model"
)

// validateRecord checks rec against the schema and returns a fresh map
// with values normalized to their canonical Go forms. With partial set,
// missing columns are allowed (updates); otherwise every non-nullable
// column except the primary key must carry a value.
func validateRecord(schema *model.Schema, rec model.Record, partial bool) (model.Record, error) {
	out := make(model.Record, len(rec))
	for name, v := range rec {
		col := schema.Column(name)
		if col == nil {
			return nil, fmt.Errorf("%w: table %s has no column %q", ErrValidation, schema.Table, name)
		}
		if v == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: column %s.%s is not nullable", ErrValidation, schema.Table, name)
			}
			out[name] = nil
			continue
		}
		norm, err := codec.Normalize(v, col.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s.%s: %v", ErrValidation, schema.Table, name, err)
		}
		out[name] = norm
	}
	if partial {
		return out, nil
	}
	for i := range schema.Columns {
		col := &schema.Columns[i]
		if col.Nullable || col.PrimaryKey {
			continue
		}
		if v, ok := out[col.Name]; !ok || v == nil {
			return nil, fmt.Errorf("%w: column %s.%s requires a value", ErrValidation, schema.Table, col.Name)
		}
	}
	return out, nil
}

// encodeKeyFor normalizes a lookup key to the table's key type and
// returns its canonical byte form.
func encodeKeyFor(schema *model.Schema, key any) ([]byte, any, error) {
	tag := schema.KeyTag()
	norm, err := codec.Normalize(key, tag)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key for table %s: %v", ErrValidation, schema.Table, err)
	}
	kb, err := codec.EncodeKey(norm, tag)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key for table %s: %v", ErrValidation, schema.Table, err)
	}
	return kb, norm, nil
}
