package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// sourceTimestampLayout matches the portal's floating timestamps. The
// fractional part is optional and may carry one to nine digits.
const sourceTimestampLayout = "2006-01-02T15:04:05.999999999"

// RawRecord is one decoded object from the external source. Numbers are
// expected as json.Number when decoded with UseNumber, but float64 is accepted.
type RawRecord map[string]any

// Row is a warehouse-insertable record whose key set equals its schema's.
type Row map[string]any

// Values returns the row's values in schema column order.
func (r Row) Values(schema TableSchema) []any {
	vals := make([]any, len(schema.Fields))
	for i, f := range schema.Fields {
		vals[i] = r[f.Name]
	}
	return vals
}

// Coerce maps a raw record onto schema. Every schema column is present in the
// result (nil when absent), columns unknown to the schema are dropped, and each
// value is converted to its column type. A conversion failure returns an error
// wrapping ErrMalformedDate or ErrMalformedValue and no row.
func Coerce(raw RawRecord, schema TableSchema) (Row, error) {
	row := make(Row, len(schema.Fields))
	for _, f := range schema.Fields {
		v, err := coerceValue(f.Type, raw[f.Name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		row[f.Name] = v
	}
	return row, nil
}

func coerceValue(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case FieldDate:
		return coerceDate(v)
	case FieldInteger:
		return coerceInteger(v)
	case FieldFloat:
		return coerceFloat(v)
	case FieldBoolean:
		return coerceBoolean(v)
	default:
		return coerceString(v)
	}
}

// coerceDate reparses a source timestamp into a plain YYYY-MM-DD string.
// Plain dates are accepted as-is; empty strings become null.
func coerceDate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a string", ErrMalformedDate, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	layout := sourceTimestampLayout
	if len(s) == len(DateLayout) {
		layout = DateLayout
	}
	ts, err := time.Parse(layout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	return FormatDate(ts), nil
}

func coerceInteger(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		return parseInteger(x.String())
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		return parseInteger(x)
	case float64:
		return floatToInteger(x, v)
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %v is not an integer", ErrMalformedValue, v)
	}
}

func parseInteger(s string) (any, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// The portal occasionally renders integral counts as "2.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrMalformedValue, s)
	}
	return floatToInteger(f, s)
}

// floatToInteger rejects fractional values and values outside int64.
// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func floatToInteger(f float64, orig any) (any, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%w: %v is not an int64", ErrMalformedValue, orig)
	}
	return int64(f), nil
}

func coerceFloat(v any) (any, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("%w: %v is not a number", ErrMalformedValue, v)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedValue, s)
	}
	return f, nil
}

func coerceBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrMalformedValue, s)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %v is not a boolean", ErrMalformedValue, v)
	}
}

// coerceString passes strings through and renders everything else as text.
// Nested objects (the portal's location column) become compact JSON.
func coerceString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedValue, err)
		}
		return string(b), nil
	}
}
