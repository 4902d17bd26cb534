package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/collision-forecast-service/internal/mocksource"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEnv points the CLI at a temporary SQLite warehouse, a temporary
// artifact directory, and the fixture source.
func setupEnv(t *testing.T) {
	t.Helper()
	src, err := mocksource.Load(filepath.Join("..", "..", "data", "mock"), discardLogger(),
		mocksource.WithBasicAuth("key", "secret"))
	require.NoError(t, err)
	srv := httptest.NewServer(src)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("WAREHOUSE_DRIVER", "sqlite")
	t.Setenv("WAREHOUSE_DSN", filepath.Join(dir, "warehouse.db"))
	t.Setenv("BLOB_BASE_PATH", filepath.Join(dir, "artifacts"))
	t.Setenv("SOURCE_BASE_URL", srv.URL)
	t.Setenv("NYCT_API_KEY", "key")
	t.Setenv("NYCT_SECRET_KEY", "secret")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("PUSHGATEWAY_URL", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCmd()
	a.newMetrics = observability.NewMetricsForTesting
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := root.ExecuteContext(context.Background())
	a.close()
	return out.String(), err
}

func TestIngest_DryRun(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "ingest", "--start_date", "2021-09-01", "--end_date", "2021-09-30", "--table", "crashes", "--dryrun")
	require.NoError(t, err)
	assert.Equal(t, "DRY RUN: crashes would be backfilled for 2021-09-01..2021-09-30 (30 days)\n", out)
}

func TestIngest_RejectsBadArguments(t *testing.T) {
	setupEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"start after end", []string{"--start_date", "2021-09-12", "--end_date", "2021-09-11", "--table", "crashes"}},
		{"bad date", []string{"--start_date", "09/11/2021", "--end_date", "2021-09-11", "--table", "crashes"}},
		{"unknown table", []string{"--start_date", "2021-09-11", "--end_date", "2021-09-11", "--table", "vehicles"}},
		{"missing table", []string{"--start_date", "2021-09-11", "--end_date", "2021-09-11"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"ingest", "--dryrun"}, tt.args...)...)
			require.Error(t, err)
		})
	}
}

func TestIngest_RequiresCredentials(t *testing.T) {
	setupEnv(t)
	t.Setenv("NYCT_SECRET_KEY", "")
	_, err := execute(t, "ingest", "--start_date", "2021-09-11", "--end_date", "2021-09-11", "--table", "crashes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NYCT_SECRET_KEY")
}

func TestEndToEnd_IngestTrainForecast(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "migrate")
	require.NoError(t, err)

	for _, table := range []string{"crashes", "person"} {
		out, err := execute(t, "ingest", "--start_date", "2021-09-11", "--end_date", "2021-09-12", "--table", table)
		require.NoError(t, err)
		assert.Contains(t, out, table+" 2021-09-11..2021-09-12: 2 days, 0 failed")
	}

	out, err := execute(t, "train", "--cutoff", "2021-09-12")
	require.NoError(t, err)
	assert.Contains(t, out, "trained through 2021-09-12 on 2 days; 2021-09-13 forecast 1.0")

	out, err = execute(t, "forecast", "--cutoff", "2021-09-12")
	require.NoError(t, err)
	assert.Contains(t, out, "2021-09-13 1.0")
}

func TestForecast_MissingModelFails(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "migrate")
	require.NoError(t, err)

	_, err = execute(t, "forecast", "--cutoff", "2021-09-12")
	require.Error(t, err)
}
