package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crashSchema() TableSchema {
	return NewTableSchema(TableCrashes,
		Field{Name: "crash_date", Type: FieldDate},
		Field{Name: "crash_time", Type: FieldString},
		Field{Name: "number_of_persons_injured", Type: FieldInteger},
		Field{Name: "latitude", Type: FieldFloat},
		Field{Name: "collision_id", Type: FieldString},
		Field{Name: "location", Type: FieldString},
	)
}

func TestCoerce(t *testing.T) {
	schema := crashSchema()

	t.Run("full record", func(t *testing.T) {
		raw := RawRecord{
			"crash_date":                "2021-09-11T00:00:00.000",
			"crash_time":                "2:39",
			"number_of_persons_injured": "2",
			"latitude":                  json.Number("40.667202"),
			"collision_id":              "4455765",
			"location":                  map[string]any{"latitude": "40.667202", "longitude": "-73.8665"},
		}

		row, err := Coerce(raw, schema)
		require.NoError(t, err)
		assert.Equal(t, "2021-09-11", row["crash_date"])
		assert.Equal(t, "2:39", row["crash_time"])
		assert.Equal(t, int64(2), row["number_of_persons_injured"])
		assert.InDelta(t, 40.667202, row["latitude"], 1e-9)
		assert.Equal(t, "4455765", row["collision_id"])
		assert.JSONEq(t, `{"latitude":"40.667202","longitude":"-73.8665"}`, row["location"].(string))
	})

	t.Run("key set equals schema", func(t *testing.T) {
		raw := RawRecord{
			"crash_date": "2021-09-11T00:00:00.000",
			"borough":    "BROOKLYN",
		}

		row, err := Coerce(raw, schema)
		require.NoError(t, err)
		assert.Len(t, row, schema.Len())
		assert.NotContains(t, row, "borough")
		assert.Contains(t, row, "latitude")
		assert.Nil(t, row["latitude"])
		assert.Nil(t, row["crash_time"])
	})

	t.Run("timestamp without fraction", func(t *testing.T) {
		row, err := Coerce(RawRecord{"crash_date": "2021-09-11T00:00:00"}, schema)
		require.NoError(t, err)
		assert.Equal(t, "2021-09-11", row["crash_date"])
	})

	t.Run("plain date", func(t *testing.T) {
		row, err := Coerce(RawRecord{"crash_date": "2021-09-11"}, schema)
		require.NoError(t, err)
		assert.Equal(t, "2021-09-11", row["crash_date"])
	})

	t.Run("empty date becomes null", func(t *testing.T) {
		row, err := Coerce(RawRecord{"crash_date": ""}, schema)
		require.NoError(t, err)
		assert.Nil(t, row["crash_date"])
	})

	t.Run("malformed date", func(t *testing.T) {
		_, err := Coerce(RawRecord{"crash_date": "11/09/2021"}, schema)
		require.ErrorIs(t, err, ErrMalformedDate)
		assert.Contains(t, err.Error(), "crash_date")
	})

	t.Run("non-string date", func(t *testing.T) {
		_, err := Coerce(RawRecord{"crash_date": json.Number("20210911")}, schema)
		require.ErrorIs(t, err, ErrMalformedDate)
	})

	t.Run("malformed integer", func(t *testing.T) {
		_, err := Coerce(RawRecord{"number_of_persons_injured": "two"}, schema)
		require.ErrorIs(t, err, ErrMalformedValue)
	})

	t.Run("integral float renders as integer", func(t *testing.T) {
		row, err := Coerce(RawRecord{"number_of_persons_injured": json.Number("3.0")}, schema)
		require.NoError(t, err)
		assert.Equal(t, int64(3), row["number_of_persons_injured"])
	})

	t.Run("fractional integer rejected", func(t *testing.T) {
		_, err := Coerce(RawRecord{"number_of_persons_injured": "3.5"}, schema)
		require.ErrorIs(t, err, ErrMalformedValue)
	})

	t.Run("integer outside int64 rejected", func(t *testing.T) {
		for _, in := range []any{
			json.Number("1e30"),
			json.Number("9223372036854775808"),
			json.Number("-1e19"),
			"9223372036854775808",
			float64(1e30),
			math.Inf(1),
		} {
			_, err := Coerce(RawRecord{"number_of_persons_injured": in}, schema)
			require.ErrorIs(t, err, ErrMalformedValue, "%v", in)
		}
	})

	t.Run("int64 bounds accepted", func(t *testing.T) {
		row, err := Coerce(RawRecord{"number_of_persons_injured": json.Number("9223372036854775807")}, schema)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), row["number_of_persons_injured"])

		row, err = Coerce(RawRecord{"number_of_persons_injured": float64(-1 << 53)}, schema)
		require.NoError(t, err)
		assert.Equal(t, int64(-1<<53), row["number_of_persons_injured"])
	})

	t.Run("malformed float", func(t *testing.T) {
		_, err := Coerce(RawRecord{"latitude": "north"}, schema)
		require.ErrorIs(t, err, ErrMalformedValue)
	})

	t.Run("numeric string column keeps text", func(t *testing.T) {
		row, err := Coerce(RawRecord{"collision_id": json.Number("4455765")}, schema)
		require.NoError(t, err)
		assert.Equal(t, "4455765", row["collision_id"])
	})
}

func TestCoerce_Boolean(t *testing.T) {
	schema := NewTableSchema("flags", Field{Name: "flag", Type: FieldBoolean})

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"native true", true, true},
		{"string false", "false", false},
		{"string one", "1", true},
		{"empty", "", nil},
		{"absent", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := Coerce(RawRecord{"flag": tt.in}, schema)
			require.NoError(t, err)
			assert.Equal(t, tt.want, row["flag"])
		})
	}

	_, err := Coerce(RawRecord{"flag": "maybe"}, schema)
	require.ErrorIs(t, err, ErrMalformedValue)
}

func TestRowValues(t *testing.T) {
	schema := crashSchema()
	row, err := Coerce(RawRecord{"crash_date": "2021-09-11T00:00:00.000", "collision_id": "1"}, schema)
	require.NoError(t, err)

	vals := row.Values(schema)
	require.Len(t, vals, schema.Len())
	assert.Equal(t, "2021-09-11", vals[0])
	assert.Equal(t, "1", vals[4])
	assert.Nil(t, vals[3])
}

func TestParseFieldType(t *testing.T) {
	for _, ft := range []FieldType{FieldString, FieldDate, FieldInteger, FieldFloat, FieldBoolean} {
		got, err := ParseFieldType(ft.String())
		require.NoError(t, err)
		assert.Equal(t, ft, got)
	}

	got, err := ParseFieldType(" date ")
	require.NoError(t, err)
	assert.Equal(t, FieldDate, got)

	_, err = ParseFieldType("GEOGRAPHY")
	assert.Error(t, err)
}

func TestTableSchemaLookup(t *testing.T) {
	schema := crashSchema()

	ft, ok := schema.Lookup("latitude")
	assert.True(t, ok)
	assert.Equal(t, FieldFloat, ft)

	_, ok = schema.Lookup("borough")
	assert.False(t, ok)

	assert.Equal(t, []string{"crash_date", "crash_time", "number_of_persons_injured", "latitude", "collision_id", "location"}, schema.Names())
}
