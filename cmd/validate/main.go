// Command validate checks the mock source fixtures before they are used by
// tests and local runs: every record must carry a parseable crash date,
// coerce against the warehouse schema (apart from records marked as
// deliberately malformed), keep its key unique, and person rows must point at
// a collision present on the same day.
//
// Usage:
//
//	go run ./cmd/validate -dir data/mock
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/collision-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/collision-forecast-service/internal/config"
	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// expectedDrops lists fixture records that are malformed on purpose, keyed by
// table and record key, so ingest tests can exercise the drop path.
var expectedDrops = map[string]map[string]bool{
	domain.TableCrashes: {"4486660": true},
}

// recordKeys names the column that identifies a record in each table.
var recordKeys = map[string]string{
	domain.TableCrashes: "collision_id",
	domain.TablePerson:  "unique_id",
}

type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "data/mock", "directory of <dataset>.json fixtures")
	flag.Parse()

	if code := run(os.Stdout, *dir); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, dir string) int {
	fmt.Fprintln(w, "=== Collision Fixture Validation ===")
	fmt.Fprintln(w)

	records := make(map[string][]domain.RawRecord, len(config.DefaultSources))
	for table, dataset := range config.DefaultSources {
		recs, err := loadJSON(filepath.Join(dir, dataset+".json"))
		if err != nil {
			fmt.Fprintf(w, "FATAL: load %s: %v\n", table, err)
			return 1
		}
		records[table] = recs
	}

	schemas, err := warehouseSchemas()
	if err != nil {
		fmt.Fprintf(w, "FATAL: resolve schemas: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateDates(records),
		validateCoercion(records, schemas),
		validateKeys(records),
		validateJoin(records),
	}

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-32s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	printCoverage(w, records)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func loadJSON(path string) ([]domain.RawRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied fixture path
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var recs []domain.RawRecord
	if err := dec.Decode(&recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// warehouseSchemas resolves the table schemas from a migrated in-memory
// warehouse, the same way ingest does.
func warehouseSchemas() (map[string]domain.TableSchema, error) {
	ctx := context.Background()
	wh, err := sqlite.Open(":memory:", sqlite.Tables{
		Crashes:     domain.TableCrashes,
		Person:      domain.TablePerson,
		Predictions: "predictions",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, err
	}
	defer wh.Close()
	if err := wh.Migrate(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]domain.TableSchema, 2)
	for _, table := range []string{domain.TableCrashes, domain.TablePerson} {
		s, err := wh.ResolveSchema(ctx, table)
		if err != nil {
			return nil, err
		}
		out[table] = s
	}
	return out, nil
}

func recordDate(r domain.RawRecord) (string, error) {
	s, _ := r["crash_date"].(string)
	day, _, _ := strings.Cut(s, "T")
	if _, err := domain.ParseDate(day); err != nil {
		return "", err
	}
	return day, nil
}

func recordKey(table string, r domain.RawRecord) string {
	return fmt.Sprint(r[recordKeys[table]])
}

func validateDates(records map[string][]domain.RawRecord) *phase {
	p := &phase{name: "Crash dates"}
	for table, recs := range records {
		for i, r := range recs {
			if _, err := recordDate(r); err != nil {
				p.errorf("%s[%d]: %v", table, i, err)
			}
		}
	}
	return p
}

func validateCoercion(records map[string][]domain.RawRecord, schemas map[string]domain.TableSchema) *phase {
	p := &phase{name: "Schema coercion"}
	for table, recs := range records {
		for i, r := range recs {
			key := recordKey(table, r)
			_, err := domain.Coerce(r, schemas[table])
			dropExpected := expectedDrops[table][key]
			switch {
			case err != nil && !dropExpected:
				p.errorf("%s[%d] key %s: %v", table, i, key, err)
			case err == nil && dropExpected:
				p.errorf("%s[%d] key %s: expected a coercion failure", table, i, key)
			case err != nil && !errors.Is(err, domain.ErrMalformedDate) && !errors.Is(err, domain.ErrMalformedValue):
				p.errorf("%s[%d] key %s: unexpected error class: %v", table, i, key, err)
			}
		}
	}
	return p
}

func validateKeys(records map[string][]domain.RawRecord) *phase {
	p := &phase{name: "Record keys"}
	for table, recs := range records {
		seen := make(map[string]int, len(recs))
		for i, r := range recs {
			key := recordKey(table, r)
			if key == "" || key == "<nil>" {
				p.errorf("%s[%d]: missing %s", table, i, recordKeys[table])
				continue
			}
			if prev, ok := seen[key]; ok {
				p.errorf("%s[%d]: %s %s duplicates record %d", table, i, recordKeys[table], key, prev)
			}
			seen[key] = i
		}
	}
	return p
}

func validateJoin(records map[string][]domain.RawRecord) *phase {
	p := &phase{name: "Person to crash join"}
	crashDays := make(map[string]string)
	for _, r := range records[domain.TableCrashes] {
		day, _ := recordDate(r)
		crashDays[recordKey(domain.TableCrashes, r)] = day
	}
	for i, r := range records[domain.TablePerson] {
		id := fmt.Sprint(r["collision_id"])
		day, _ := recordDate(r)
		crashDay, ok := crashDays[id]
		switch {
		case !ok:
			p.errorf("person[%d]: collision %s has no crash record", i, id)
		case crashDay != day:
			p.errorf("person[%d]: collision %s dated %s, crash dated %s", i, id, day, crashDay)
		}
	}
	return p
}

func printCoverage(w io.Writer, records map[string][]domain.RawRecord) {
	counts := make(map[string]map[string]int)
	for table, recs := range records {
		for _, r := range recs {
			day, err := recordDate(r)
			if err != nil {
				continue
			}
			if counts[day] == nil {
				counts[day] = make(map[string]int)
			}
			counts[day][table]++
		}
	}
	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		fmt.Fprintf(w, "  %s  crashes=%d person=%d\n", d, counts[d][domain.TableCrashes], counts[d][domain.TablePerson])
	}
}
