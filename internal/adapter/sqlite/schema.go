package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// ResolveSchema reads the declared column set of table.
func (w *Warehouse) ResolveSchema(ctx context.Context, table string) (domain.TableSchema, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return domain.TableSchema{}, fmt.Errorf("sqlite: resolve schema %s: %w", table, err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var name, declared string
		if err := rows.Scan(&name, &declared); err != nil {
			return domain.TableSchema{}, fmt.Errorf("sqlite: scan column: %w", err)
		}
		fields = append(fields, domain.Field{Name: name, Type: fieldType(declared)})
	}
	if err := rows.Err(); err != nil {
		return domain.TableSchema{}, fmt.Errorf("sqlite: resolve schema %s: %w", table, err)
	}
	if len(fields) == 0 {
		return domain.TableSchema{}, fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, table)
	}
	return domain.NewTableSchema(table, fields...), nil
}

// fieldType follows SQLite's affinity rules, with DATE and BOOL recognized
// ahead of them since SQLite has no native date or boolean type.
func fieldType(declared string) domain.FieldType {
	t := strings.ToUpper(declared)
	switch {
	case strings.HasPrefix(t, "DATE") && !strings.HasPrefix(t, "DATETIME"):
		return domain.FieldDate
	case strings.HasPrefix(t, "BOOL"):
		return domain.FieldBoolean
	case strings.Contains(t, "INT"):
		return domain.FieldInteger
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return domain.FieldFloat
	default:
		return domain.FieldString
	}
}
