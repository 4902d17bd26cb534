package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// ReplaceDay deletes table's rows for day (when replace is set) and inserts
// rows, all in one transaction. If the bulk copy fails each row is retried
// under its own savepoint to collect the rejections, the transaction is
// rolled back and a *domain.InsertError is returned.
func (w *Warehouse) ReplaceDay(ctx context.Context, schema domain.TableSchema, day time.Time, rows []domain.Row, replace bool) (domain.ReplaceResult, error) {
	table := schema.Table
	id, err := w.ident(table)
	if err != nil {
		return domain.ReplaceResult{}, err
	}
	values, err := pgValues(schema, rows)
	if err != nil {
		return domain.ReplaceResult{}, err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var res domain.ReplaceResult
	if replace {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", id.Sanitize(), pgx.Identifier{w.dateField}.Sanitize())
		tag, err := tx.Exec(ctx, query, day)
		if err != nil {
			return domain.ReplaceResult{}, fmt.Errorf("postgres: delete %s for %s: %w", table, domain.FormatDate(day), err)
		}
		res.Deleted = tag.RowsAffected()
	}

	if len(values) > 0 {
		n, copyErr := copyRows(ctx, tx, id, schema.Names(), values)
		if copyErr != nil {
			rowErrs, err := diagnoseRows(ctx, tx, id, schema.Names(), values)
			if err != nil {
				return domain.ReplaceResult{}, errors.Join(copyErr, err)
			}
			if len(rowErrs) == 0 {
				return domain.ReplaceResult{}, fmt.Errorf("postgres: insert %s for %s: %w", table, domain.FormatDate(day), copyErr)
			}
			return domain.ReplaceResult{}, &domain.InsertError{Table: table, Date: day, Rows: rowErrs}
		}
		res.Inserted = n
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ReplaceResult{}, fmt.Errorf("postgres: commit %s for %s: %w", table, domain.FormatDate(day), err)
	}
	return res, nil
}

// copyRows bulk-loads values inside a savepoint so a failure leaves the outer
// transaction usable.
func copyRows(ctx context.Context, tx pgx.Tx, id pgx.Identifier, columns []string, values [][]any) (int64, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	n, err := sp.CopyFrom(ctx, id, columns, pgx.CopyFromRows(values))
	if err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	return n, sp.Commit(ctx)
}

func diagnoseRows(ctx context.Context, tx pgx.Tx, id pgx.Identifier, columns []string, values [][]any) ([]domain.RowError, error) {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		id.Sanitize(), strings.Join(quoted, ", "), strings.Join(params, ", "))

	var rowErrs []domain.RowError
	for i, v := range values {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := sp.Exec(ctx, query, v...); err != nil {
			rowErrs = append(rowErrs, domain.RowError{Index: i, Message: err.Error()})
		}
		if err := sp.Rollback(ctx); err != nil {
			return nil, err
		}
	}
	return rowErrs, nil
}

// pgValues orders each row by schema column and converts DATE strings to
// time.Time so they encode as Postgres dates.
func pgValues(schema domain.TableSchema, rows []domain.Row) ([][]any, error) {
	values := make([][]any, len(rows))
	for i, row := range rows {
		vals := row.Values(schema)
		for j, f := range schema.Fields {
			s, ok := vals[j].(string)
			if f.Type != domain.FieldDate || !ok {
				continue
			}
			d, err := domain.ParseDate(s)
			if err != nil {
				return nil, fmt.Errorf("row %d field %q: %w", i, f.Name, err)
			}
			vals[j] = d
		}
		values[i] = vals
	}
	return values, nil
}
