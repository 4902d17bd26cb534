package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// ReplaceDay deletes table's rows for day (when replace is set) and inserts
// rows in one transaction. Every row is attempted; if any is rejected the
// transaction is rolled back and a *domain.InsertError lists the rejections.
func (w *Warehouse) ReplaceDay(ctx context.Context, schema domain.TableSchema, day time.Time, rows []domain.Row, replace bool) (domain.ReplaceResult, error) {
	table, err := quote(schema.Table)
	if err != nil {
		return domain.ReplaceResult{}, err
	}
	dateCol, err := quote(w.dateField)
	if err != nil {
		return domain.ReplaceResult{}, err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var res domain.ReplaceResult
	if replace {
		r, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, dateCol), domain.FormatDate(day))
		if err != nil {
			return domain.ReplaceResult{}, fmt.Errorf("sqlite: delete %s for %s: %w", schema.Table, domain.FormatDate(day), err)
		}
		res.Deleted, _ = r.RowsAffected()
	}

	if len(rows) > 0 {
		cols := make([]string, schema.Len())
		for i, f := range schema.Fields {
			if cols[i], err = quote(f.Name); err != nil {
				return domain.ReplaceResult{}, err
			}
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return domain.ReplaceResult{}, fmt.Errorf("sqlite: prepare insert %s: %w", schema.Table, err)
		}
		defer stmt.Close()

		var rowErrs []domain.RowError
		for i, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.Values(schema)...); err != nil {
				rowErrs = append(rowErrs, domain.RowError{Index: i, Message: err.Error()})
				continue
			}
			res.Inserted++
		}
		if len(rowErrs) > 0 {
			return domain.ReplaceResult{}, &domain.InsertError{Table: schema.Table, Date: day, Rows: rowErrs}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("sqlite: commit %s for %s: %w", schema.Table, domain.FormatDate(day), err)
	}
	return res, nil
}
