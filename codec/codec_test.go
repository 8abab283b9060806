package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/tuckdb/tuckdb/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		tag  model.TypeTag
		val  any
	}{
		{"int", model.TagInt, int64(-42)},
		{"int zero", model.TagInt, int64(0)},
		{"text", model.TagText, "hello, tuck"},
		{"text empty", model.TagText, ""},
		{"float", model.TagFloat, 3.14159},
		{"bool", model.TagBool, true},
		{"blob", model.TagBlob, []byte{0x00, 0xff, 0x7f}},
		{"duration", model.TagDuration, 90 * time.Minute},
		{"list", model.TagList, []any{int64(1), "two", nil, true}},
		{"map", model.TagMap, map[string]any{"a": int64(1), "b": "x", "c": nil}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := AppendValue(nil, tc.val, tc.tag)
			require.NoError(t, err)
			got, n, err := DecodeValue(buf, tc.tag)
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, tc.val, got)
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	in := time.Date(2024, 3, 15, 9, 30, 45, 123456789, time.FixedZone("X", 3600))
	norm, err := Normalize(in, model.TagTimestamp)
	require.NoError(t, err)

	buf, err := AppendValue(nil, norm, model.TagTimestamp)
	require.NoError(t, err)
	got, _, err := DecodeValue(buf, model.TagTimestamp)
	require.NoError(t, err)

	// Sub-microsecond precision is dropped on purpose.
	want := in.UTC().Truncate(time.Microsecond)
	assert.True(t, got.(time.Time).Equal(want))
}

func TestDateRoundTrip(t *testing.T) {
	in := time.Date(1999, 12, 31, 23, 59, 0, 0, time.UTC)
	norm, err := Normalize(in, model.TagDate)
	require.NoError(t, err)

	buf, err := AppendValue(nil, norm, model.TagDate)
	require.NoError(t, err)
	got, _, err := DecodeValue(buf, model.TagDate)
	require.NoError(t, err)
	assert.True(t, got.(time.Time).Equal(time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeWidensInts(t *testing.T) {
	v, err := Normalize(7, model.TagInt)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = Normalize(int32(7), model.TagInt)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = Normalize(7, model.TagFloat)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	_, err = Normalize("7", model.TagInt)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeValueTruncated(t *testing.T) {
	buf, err := AppendValue(nil, "some text", model.TagText)
	require.NoError(t, err)
	_, _, err = DecodeValue(buf[:3], model.TagText)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	_, _, err = DecodeValue([]byte{1, 2}, model.TagInt)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func testSchema() *model.Schema {
	return &model.Schema{
		Table: "users",
		Columns: []model.Column{
			{Name: "id", Type: model.TagInt, PrimaryKey: true},
			{Name: "name", Type: model.TagText},
			{Name: "email", Type: model.TagText, Nullable: true},
			{Name: "age", Type: model.TagInt, Nullable: true},
		},
		PrimaryKey: "id",
	}
}

func TestRecordRoundTrip(t *testing.T) {
	schema := testSchema()
	rec := model.Record{
		"id":    int64(1),
		"name":  "alice",
		"email": nil,
	}
	buf, err := EncodeRecord(schema, rec)
	require.NoError(t, err)

	got, n, err := DecodeRecord(schema, buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, rec, got)
	// Absent columns stay absent, distinct from explicit null.
	_, hasAge := got["age"]
	assert.False(t, hasAge)
	_, hasEmail := got["email"]
	assert.True(t, hasEmail)
}

func TestDecodeRecordCorrupt(t *testing.T) {
	schema := testSchema()
	rec := model.Record{"id": int64(1), "name": "bob"}
	buf, err := EncodeRecord(schema, rec)
	require.NoError(t, err)

	_, _, err = DecodeRecord(schema, buf[:len(buf)-2])
	assert.ErrorIs(t, err, ErrCorruptRecord)

	// Column index past the schema.
	bad := append([]byte{1, 200, 1}, buf...)
	_, _, err = DecodeRecord(schema, bad)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestKeyRoundTrip(t *testing.T) {
	for _, id := range []int64{-100, -1, 0, 1, 255, 1 << 40} {
		kb, err := EncodeKey(id, model.TagInt)
		require.NoError(t, err)
		got, err := DecodeKey(kb)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	kb, err := EncodeKey("user-1", model.TagText)
	require.NoError(t, err)
	got, err := DecodeKey(kb)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)
}

func TestIntKeyBytesSortByValue(t *testing.T) {
	ids := []int64{-1 << 40, -2, -1, 0, 1, 2, 1 << 40}
	var prev []byte
	for _, id := range ids {
		kb, err := EncodeKey(id, model.TagInt)
		require.NoError(t, err)
		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, kb), "key for %d must sort before next", id)
		}
		prev = kb
	}
}
