package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/lock"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

// Fetcher reads one day of raw records for a logical source table.
type Fetcher interface {
	FetchDay(ctx context.Context, table string, day time.Time) ([]domain.RawRecord, error)
	PageSize() int
}

// Warehouse resolves live table schemas and replaces day partitions.
type Warehouse interface {
	ResolveSchema(ctx context.Context, table string) (domain.TableSchema, error)
	ReplaceDay(ctx context.Context, schema domain.TableSchema, day time.Time, rows []domain.Row, replace bool) (domain.ReplaceResult, error)
}

// Locker takes exclusive, non-blocking locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string) (lock.ReleaseFunc, error)
}

// IngestRequest describes one backfill over an inclusive date range.
type IngestRequest struct {
	SourceTable string // logical table in the source catalog
	TargetTable string // warehouse table
	Start       time.Time
	End         time.Time
	Replace     bool // delete the day's rows before inserting
}

// DayResult is the outcome of one day partition.
type DayResult struct {
	Date      time.Time
	Fetched   int
	Dropped   int
	Deleted   int64
	Inserted  int64
	Truncated bool
	Err       error
}

// Report collects the per-day outcomes of an ingest run.
type Report struct {
	Table string
	Range domain.DateRange
	Days  []DayResult
}

// Failed returns the days that did not complete.
func (r *Report) Failed() []DayResult {
	var failed []DayResult
	for _, d := range r.Days {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

// Err joins the errors of failed days, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, d := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", domain.FormatDate(d.Date), d.Err))
	}
	return errors.Join(errs...)
}

// Ingestor loads a date range one day partition at a time. A failed day is
// recorded and the range continues; only schema resolution aborts a run.
type Ingestor struct {
	fetcher   Fetcher
	warehouse Warehouse
	locker    Locker
	coercer   *Coercer
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewIngestor creates an Ingestor.
func NewIngestor(f Fetcher, w Warehouse, l Locker, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{
		fetcher:   f,
		warehouse: w,
		locker:    l,
		coercer:   NewCoercer(logger, metrics),
		logger:    logger,
		metrics:   metrics,
	}
}

// Run ingests every day of req in ascending order. The range is validated
// before any network or warehouse call. Cancelling ctx stops before the next
// day; days already processed keep their replaced state.
func (in *Ingestor) Run(ctx context.Context, req IngestRequest) (*Report, error) {
	r, err := domain.NewDateRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	report := &Report{Table: req.SourceTable, Range: r}

	schema, err := in.warehouse.ResolveSchema(ctx, req.TargetTable)
	if err != nil {
		return report, fmt.Errorf("resolve schema for %s: %w", req.TargetTable, err)
	}

	in.logger.Info("ingest started",
		"table", req.SourceTable,
		"target", req.TargetTable,
		"range", r.String(),
		"days", r.Len(),
		"replace", req.Replace,
	)

	for _, day := range r.Days() {
		if err := ctx.Err(); err != nil {
			in.logger.Warn("ingest interrupted", "table", req.SourceTable, "next_date", domain.FormatDate(day), "reason", err)
			return report, err
		}
		res := in.ingestDay(ctx, req, schema, day)
		report.Days = append(report.Days, res)
	}

	in.logger.Info("ingest finished",
		"table", req.SourceTable,
		"range", r.String(),
		"failed_days", len(report.Failed()),
	)
	return report, nil
}

func (in *Ingestor) ingestDay(ctx context.Context, req IngestRequest, schema domain.TableSchema, day time.Time) DayResult {
	start := time.Now()
	table := req.SourceTable
	date := domain.FormatDate(day)
	res := DayResult{Date: day}
	defer func() {
		in.metrics.DayDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
		in.metrics.DaysIngested.WithLabelValues(table, dayOutcome(res.Err)).Inc()
	}()

	release, err := in.locker.Acquire(ctx, lock.DayKey(req.TargetTable, date))
	if err != nil {
		in.logger.Error("day skipped", "table", table, "date", date, "error", err)
		res.Err = err
		return res
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			in.logger.Warn("release lock failed", "table", table, "date", date, "error", err)
		}
	}()

	raw, err := in.fetcher.FetchDay(ctx, table, day)
	if err != nil {
		in.logger.Error("fetch failed", "table", table, "date", date, "error", err)
		res.Err = err
		return res
	}
	res.Fetched = len(raw)
	in.metrics.RecordsFetched.WithLabelValues(table).Add(float64(len(raw)))

	if pageSize := in.fetcher.PageSize(); pageSize > 0 && len(raw) >= pageSize {
		res.Truncated = true
		in.metrics.FetchTruncated.WithLabelValues(table).Inc()
		in.logger.Warn("fetch hit page cap, day may be incomplete",
			"table", table, "date", date, "records", len(raw), "page_size", pageSize)
	}

	rows := in.coercer.CoerceBatch(table, day, raw, schema)
	res.Dropped = len(raw) - len(rows)

	replaced, err := in.warehouse.ReplaceDay(ctx, schema, day, rows, req.Replace)
	if err != nil {
		in.logger.Error("replace failed", "table", table, "date", date, "error", err)
		res.Err = err
		return res
	}
	res.Deleted = replaced.Deleted
	res.Inserted = replaced.Inserted
	in.metrics.RowsDeleted.WithLabelValues(table).Add(float64(replaced.Deleted))
	in.metrics.RecordsInserted.WithLabelValues(table).Add(float64(replaced.Inserted))

	in.logger.Info("day ingested",
		"table", table,
		"date", date,
		"fetched", res.Fetched,
		"dropped", res.Dropped,
		"deleted", res.Deleted,
		"inserted", res.Inserted,
	)
	return res
}

func dayOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrExternalFetchFailed):
		return "fetch_error"
	case errors.Is(err, domain.ErrInsertPartialFailure):
		return "insert_error"
	case errors.Is(err, domain.ErrLocked):
		return "locked"
	default:
		return "error"
	}
}
