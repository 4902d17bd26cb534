package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// ResolveSchema reads the live column set of table from information_schema.
func (w *Warehouse) ResolveSchema(ctx context.Context, table string) (domain.TableSchema, error) {
	const query = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := w.pool.Query(ctx, query, w.schema, table)
	if err != nil {
		return domain.TableSchema{}, fmt.Errorf("postgres: resolve schema %s: %w", table, err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return domain.TableSchema{}, fmt.Errorf("postgres: scan column: %w", err)
		}
		fields = append(fields, domain.Field{Name: name, Type: fieldType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return domain.TableSchema{}, fmt.Errorf("postgres: resolve schema %s: %w", table, err)
	}
	if len(fields) == 0 {
		return domain.TableSchema{}, fmt.Errorf("%w: %s.%s", domain.ErrSchemaNotFound, w.schema, table)
	}
	return domain.NewTableSchema(table, fields...), nil
}

// fieldType maps an information_schema data_type onto a field type tag.
// Anything unrecognized is carried as text.
func fieldType(dataType string) domain.FieldType {
	switch strings.ToLower(dataType) {
	case "date":
		return domain.FieldDate
	case "smallint", "integer", "bigint":
		return domain.FieldInteger
	case "real", "double precision", "numeric":
		return domain.FieldFloat
	case "boolean":
		return domain.FieldBoolean
	default:
		return domain.FieldString
	}
}
