// Package postgres implements the collision warehouse on PostgreSQL via pgx.
package postgres

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Tables names the warehouse tables the pipeline reads and writes.
type Tables struct {
	Crashes     string
	Person      string
	Predictions string
}

// Warehouse reads and writes collision tables in one Postgres schema.
type Warehouse struct {
	pool      *pgxpool.Pool
	schema    string
	tables    Tables
	dateField string
	logger    *slog.Logger
}

// Open connects a pool to dsn and validates the configured identifiers.
func Open(ctx context.Context, dsn, schema string, tables Tables, logger *slog.Logger) (*Warehouse, error) {
	for _, name := range []string{schema, tables.Crashes, tables.Person, tables.Predictions} {
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("postgres: invalid identifier %q", name)
		}
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Warehouse{
		pool:      pool,
		schema:    schema,
		tables:    tables,
		dateField: "crash_date",
		logger:    logger,
	}, nil
}

// Close releases the pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// Ping checks database connectivity.
func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// Migrate creates the schema and tables if they do not exist.
func (w *Warehouse) Migrate(ctx context.Context) error {
	tmpl, err := template.New("schema").Parse(schemaSQL)
	if err != nil {
		return fmt.Errorf("postgres: parse schema: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Schema, Crashes, Person, Predictions string
	}{w.schema, w.tables.Crashes, w.tables.Person, w.tables.Predictions})
	if err != nil {
		return fmt.Errorf("postgres: render schema: %w", err)
	}
	if _, err := w.pool.Exec(ctx, buf.String()); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	w.logger.Info("warehouse schema ready", "schema", w.schema)
	return nil
}

func (w *Warehouse) ident(table string) (pgx.Identifier, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	return pgx.Identifier{w.schema, table}, nil
}
