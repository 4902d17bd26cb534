package pipeline_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/lock"
	"github.com/couchcryptid/collision-forecast-service/internal/pipeline"
)

func crashRequest(t *testing.T, start, end string) pipeline.IngestRequest {
	t.Helper()
	return pipeline.IngestRequest{
		SourceTable: domain.TableCrashes,
		TargetTable: domain.TableCrashes,
		Start:       date(t, start),
		End:         date(t, end),
		Replace:     true,
	}
}

func aggregatesByDate(t *testing.T, w interface {
	DailyAggregates(context.Context, time.Time) ([]domain.DailyAggregate, error)
}, cutoff string) map[string]domain.DailyAggregate {
	t.Helper()
	aggs, err := w.DailyAggregates(context.Background(), date(t, cutoff))
	require.NoError(t, err)
	out := make(map[string]domain.DailyAggregate, len(aggs))
	for _, a := range aggs {
		out[domain.FormatDate(a.Date)] = a
	}
	return out
}

func TestIngestor_Run_LoadsEachDay(t *testing.T) {
	wh := newWarehouse(t)
	fetcher := newFixtureFetcher(t)
	metrics := newTestMetrics()
	in := pipeline.NewIngestor(fetcher, wh, lock.NewLocal(), discardLogger(), metrics)

	report, err := in.Run(context.Background(), crashRequest(t, "2021-09-11", "2021-09-12"))
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Days, 2)

	first := report.Days[0]
	assert.Equal(t, "2021-09-11", domain.FormatDate(first.Date))
	assert.Equal(t, 4, first.Fetched)
	assert.Equal(t, 1, first.Dropped, "record with a non-numeric injury count is dropped")
	assert.Equal(t, int64(3), first.Inserted)
	assert.False(t, first.Truncated)

	second := report.Days[1]
	assert.Equal(t, "2021-09-12", domain.FormatDate(second.Date))
	assert.Equal(t, int64(2), second.Inserted)

	aggs := aggregatesByDate(t, wh, "2021-09-30")
	assert.Equal(t, int64(3), aggs["2021-09-11"].Crashes)
	assert.Equal(t, int64(2), aggs["2021-09-12"].Crashes)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecordsDropped.WithLabelValues("crashes", "malformed_value")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.DaysIngested.WithLabelValues("crashes", "success")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(metrics.RecordsInserted.WithLabelValues("crashes")), 0)
}

func TestIngestor_Run_Idempotent(t *testing.T) {
	wh := newWarehouse(t)
	in := pipeline.NewIngestor(newFixtureFetcher(t), wh, lock.NewLocal(), discardLogger(), newTestMetrics())
	req := crashRequest(t, "2021-09-11", "2021-09-11")

	_, err := in.Run(context.Background(), req)
	require.NoError(t, err)
	before := aggregatesByDate(t, wh, "2021-09-30")

	report, err := in.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, report.Days, 1)
	assert.Equal(t, int64(3), report.Days[0].Deleted)
	assert.Equal(t, int64(3), report.Days[0].Inserted)
	assert.Equal(t, before, aggregatesByDate(t, wh, "2021-09-30"))
}

func TestIngestor_Run_AppendWithoutReplace(t *testing.T) {
	wh := newWarehouse(t)
	in := pipeline.NewIngestor(newFixtureFetcher(t), wh, lock.NewLocal(), discardLogger(), newTestMetrics())
	req := crashRequest(t, "2021-09-12", "2021-09-12")
	req.Replace = false

	for range 2 {
		_, err := in.Run(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4), aggregatesByDate(t, wh, "2021-09-30")["2021-09-12"].Crashes)
}

func TestIngestor_Run_ZeroRecordDayClearsPartition(t *testing.T) {
	wh := newWarehouse(t)
	fetcher := newFixtureFetcher(t)
	in := pipeline.NewIngestor(fetcher, wh, lock.NewLocal(), discardLogger(), newTestMetrics())
	req := crashRequest(t, "2021-09-11", "2021-09-11")

	_, err := in.Run(context.Background(), req)
	require.NoError(t, err)

	fetcher.records[domain.TableCrashes] = nil
	report, err := in.Run(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, int64(3), report.Days[0].Deleted)
	assert.Equal(t, int64(0), report.Days[0].Inserted)
	assert.NotContains(t, aggregatesByDate(t, wh, "2021-09-30"), "2021-09-11")
}

func TestIngestor_Run_FetchErrorContinuesRange(t *testing.T) {
	wh := newWarehouse(t)
	fetcher := newFixtureFetcher(t)
	fetcher.errs["2021-09-11"] = &domain.FetchError{
		Table:      domain.TableCrashes,
		Date:       date(t, "2021-09-11"),
		StatusCode: http.StatusServiceUnavailable,
		Body:       "upstream unavailable",
	}
	metrics := newTestMetrics()
	in := pipeline.NewIngestor(fetcher, wh, lock.NewLocal(), discardLogger(), metrics)

	report, err := in.Run(context.Background(), crashRequest(t, "2021-09-11", "2021-09-12"))
	require.NoError(t, err)
	require.Len(t, report.Days, 2)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "2021-09-11", domain.FormatDate(failed[0].Date))
	require.ErrorIs(t, report.Err(), domain.ErrExternalFetchFailed)
	assert.Contains(t, report.Err().Error(), "status 503")

	aggs := aggregatesByDate(t, wh, "2021-09-30")
	assert.NotContains(t, aggs, "2021-09-11")
	assert.Equal(t, int64(2), aggs["2021-09-12"].Crashes)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DaysIngested.WithLabelValues("crashes", "fetch_error")), 0)
}

func TestIngestor_Run_FetchErrorKeepsLoadedDay(t *testing.T) {
	wh := newWarehouse(t)
	fetcher := newFixtureFetcher(t)
	in := pipeline.NewIngestor(fetcher, wh, lock.NewLocal(), discardLogger(), newTestMetrics())
	req := crashRequest(t, "2021-09-11", "2021-09-11")

	_, err := in.Run(context.Background(), req)
	require.NoError(t, err)

	fetcher.errs["2021-09-11"] = &domain.FetchError{
		Table:      domain.TableCrashes,
		Date:       date(t, "2021-09-11"),
		StatusCode: http.StatusBadGateway,
	}
	report, err := in.Run(context.Background(), req)
	require.NoError(t, err)
	require.ErrorIs(t, report.Err(), domain.ErrExternalFetchFailed)
	assert.Equal(t, int64(0), report.Days[0].Deleted)
	assert.Equal(t, int64(3), aggregatesByDate(t, wh, "2021-09-30")["2021-09-11"].Crashes)
}

func TestIngestor_Run_InvalidRangeMakesNoCalls(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	wh := &recordingWarehouse{}
	in := pipeline.NewIngestor(fetcher, wh, lock.NewLocal(), discardLogger(), newTestMetrics())

	report, err := in.Run(context.Background(), crashRequest(t, "2021-09-12", "2021-09-11"))
	require.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Nil(t, report)
	assert.Zero(t, fetcher.callCount())
	assert.Zero(t, wh.calls)
}

func TestIngestor_Run_SchemaNotFoundIsFatal(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	in := pipeline.NewIngestor(fetcher, newWarehouse(t), lock.NewLocal(), discardLogger(), newTestMetrics())

	req := crashRequest(t, "2021-09-11", "2021-09-12")
	req.TargetTable = "vehicles"
	report, err := in.Run(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrSchemaNotFound)
	require.NotNil(t, report)
	assert.Empty(t, report.Days)
	assert.Zero(t, fetcher.callCount())
}

func TestIngestor_Run_FlagsTruncatedDay(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	fetcher.pageSize = 2
	metrics := newTestMetrics()
	in := pipeline.NewIngestor(fetcher, newWarehouse(t), lock.NewLocal(), discardLogger(), metrics)

	report, err := in.Run(context.Background(), crashRequest(t, "2021-09-12", "2021-09-12"))
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.True(t, report.Days[0].Truncated)
	assert.Equal(t, int64(2), report.Days[0].Inserted)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchTruncated.WithLabelValues("crashes")), 0)
}

func TestIngestor_Run_LockedDayIsSkipped(t *testing.T) {
	locker := lock.NewLocal()
	release, err := locker.Acquire(context.Background(), lock.DayKey(domain.TableCrashes, "2021-09-11"))
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	fetcher := newFixtureFetcher(t)
	in := pipeline.NewIngestor(fetcher, newWarehouse(t), locker, discardLogger(), newTestMetrics())

	report, err := in.Run(context.Background(), crashRequest(t, "2021-09-11", "2021-09-12"))
	require.NoError(t, err)
	require.Len(t, report.Failed(), 1)
	require.ErrorIs(t, report.Failed()[0].Err, domain.ErrLocked)
	assert.Equal(t, []string{"crashes:2021-09-12"}, fetcher.calls)
}

func TestIngestor_Run_InsertFailureReportsDay(t *testing.T) {
	wh := &recordingWarehouse{
		replaceErr: &domain.InsertError{
			Table: domain.TableCrashes,
			Rows:  []domain.RowError{{Index: 0, Message: "constraint failed"}},
		},
	}
	metrics := newTestMetrics()
	in := pipeline.NewIngestor(newFixtureFetcher(t), wh, lock.NewLocal(), discardLogger(), metrics)

	report, err := in.Run(context.Background(), crashRequest(t, "2021-09-12", "2021-09-12"))
	require.NoError(t, err)
	require.ErrorIs(t, report.Err(), domain.ErrInsertPartialFailure)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DaysIngested.WithLabelValues("crashes", "insert_error")), 0)
}

func TestIngestor_Run_StopsWhenCancelled(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	in := pipeline.NewIngestor(fetcher, newWarehouse(t), lock.NewLocal(), discardLogger(), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := in.Run(ctx, crashRequest(t, "2021-09-11", "2021-09-12"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Days)
	assert.Zero(t, fetcher.callCount())
}

func TestIngestor_Run_PersonTable(t *testing.T) {
	wh := newWarehouse(t)
	in := pipeline.NewIngestor(newFixtureFetcher(t), wh, lock.NewLocal(), discardLogger(), newTestMetrics())

	report, err := in.Run(context.Background(), pipeline.IngestRequest{
		SourceTable: domain.TablePerson,
		TargetTable: domain.TablePerson,
		Start:       date(t, "2021-09-11"),
		End:         date(t, "2021-09-12"),
		Replace:     true,
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, int64(5), report.Days[0].Inserted)
	assert.Equal(t, int64(3), report.Days[1].Inserted, "plain dates are accepted")
}

// recordingWarehouse counts calls and fails replaces on demand.
type recordingWarehouse struct {
	calls      int
	replaceErr error
}

func (w *recordingWarehouse) ResolveSchema(_ context.Context, table string) (domain.TableSchema, error) {
	w.calls++
	return domain.NewTableSchema(table,
		domain.Field{Name: "crash_date", Type: domain.FieldDate},
		domain.Field{Name: "collision_id", Type: domain.FieldInteger},
	), nil
}

func (w *recordingWarehouse) ReplaceDay(_ context.Context, _ domain.TableSchema, _ time.Time, rows []domain.Row, _ bool) (domain.ReplaceResult, error) {
	w.calls++
	if w.replaceErr != nil {
		return domain.ReplaceResult{}, w.replaceErr
	}
	return domain.ReplaceResult{Inserted: int64(len(rows))}, nil
}
