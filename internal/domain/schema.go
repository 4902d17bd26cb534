package domain

import (
	"fmt"
	"strings"
)

// FieldType is the closed set of column types a warehouse schema can carry.
type FieldType int

const (
	FieldString FieldType = iota
	FieldDate
	FieldInteger
	FieldFloat
	FieldBoolean
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "STRING"
	case FieldDate:
		return "DATE"
	case FieldInteger:
		return "INTEGER"
	case FieldFloat:
		return "FLOAT"
	case FieldBoolean:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// ParseFieldType maps a type tag (case-insensitive) onto a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRING":
		return FieldString, nil
	case "DATE":
		return FieldDate, nil
	case "INTEGER":
		return FieldInteger, nil
	case "FLOAT":
		return FieldFloat, nil
	case "BOOLEAN":
		return FieldBoolean, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

// Field is one column of a TableSchema.
type Field struct {
	Name string
	Type FieldType
}

// TableSchema is the ordered column set of a warehouse table.
type TableSchema struct {
	Table  string
	Fields []Field
}

// NewTableSchema builds a schema from fields in column order.
func NewTableSchema(table string, fields ...Field) TableSchema {
	return TableSchema{Table: table, Fields: fields}
}

// Names returns the column names in order.
func (s TableSchema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Lookup returns the type of the named column.
func (s TableSchema) Lookup(name string) (FieldType, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return 0, false
}

// Len returns the number of columns.
func (s TableSchema) Len() int { return len(s.Fields) }
