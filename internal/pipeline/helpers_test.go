package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/collision-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

var fixtureDatasets = map[string]string{
	domain.TableCrashes: "h9gi-nx95",
	domain.TablePerson:  "f55k-p6yu",
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newWarehouse(t *testing.T) *sqlite.Warehouse {
	t.Helper()
	w, err := sqlite.Open(":memory:", sqlite.Tables{
		Crashes:     domain.TableCrashes,
		Person:      domain.TablePerson,
		Predictions: "predictions",
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Migrate(context.Background()))
	return w
}

// fixtureFetcher serves the mock open-data files one day at a time. Errors
// keyed by date replace that day's response.
type fixtureFetcher struct {
	records  map[string][]domain.RawRecord
	errs     map[string]error
	pageSize int

	mu    sync.Mutex
	calls []string
}

func newFixtureFetcher(t *testing.T) *fixtureFetcher {
	t.Helper()
	f := &fixtureFetcher{records: map[string][]domain.RawRecord{}, errs: map[string]error{}, pageSize: 50000}
	for table, dataset := range fixtureDatasets {
		data, err := os.ReadFile(filepath.Join("..", "..", "data", "mock", dataset+".json"))
		require.NoError(t, err)
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		var recs []domain.RawRecord
		require.NoError(t, dec.Decode(&recs))
		f.records[table] = recs
	}
	return f
}

func (f *fixtureFetcher) FetchDay(_ context.Context, table string, day time.Time) ([]domain.RawRecord, error) {
	d := domain.FormatDate(day)
	f.mu.Lock()
	f.calls = append(f.calls, table+":"+d)
	f.mu.Unlock()

	if err, ok := f.errs[d]; ok {
		return nil, err
	}
	var out []domain.RawRecord
	for _, r := range f.records[table] {
		if s, _ := r["crash_date"].(string); strings.HasPrefix(s, d) {
			out = append(out, r)
		}
	}
	if len(out) > f.pageSize {
		out = out[:f.pageSize]
	}
	return out, nil
}

func (f *fixtureFetcher) PageSize() int { return f.pageSize }

func (f *fixtureFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
