// Package sqlite implements the collision warehouse on SQLite for local runs
// and tests. Dates are stored as YYYY-MM-DD text in DATE-declared columns.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"

	_ "github.com/mattn/go-sqlite3"
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

// Warehouse reads and writes collision tables in one SQLite database.
type Warehouse struct {
	db        *sql.DB
	tables    Tables
	dateField string
	logger    *slog.Logger
}

// Open opens the database at dsn. In-memory databases are pinned to a single
// connection so every query sees the same data.
func Open(dsn string, tables Tables, logger *slog.Logger) (*Warehouse, error) {
	for _, name := range []string{tables.Crashes, tables.Person, tables.Predictions} {
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("sqlite: invalid identifier %q", name)
		}
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return &Warehouse{db: db, tables: tables, dateField: "crash_date", logger: logger}, nil
}

// Close closes the database.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// Ping checks database connectivity.
func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check failed: %w", err)
	}
	return nil
}

// Migrate creates the tables if they do not exist.
func (w *Warehouse) Migrate(ctx context.Context) error {
	tmpl, err := template.New("schema").Parse(schemaSQL)
	if err != nil {
		return fmt.Errorf("sqlite: parse schema: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, w.tables); err != nil {
		return fmt.Errorf("sqlite: render schema: %w", err)
	}
	if _, err := w.db.ExecContext(ctx, buf.String()); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	w.logger.Info("warehouse schema ready")
	return nil
}

// quote returns name as a quoted identifier after validating it.
func quote(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("sqlite: invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

// mustQuote is for configured table names already validated by Open.
func mustQuote(name string) string {
	return `"` + name + `"`
}
