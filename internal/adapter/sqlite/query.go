package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// DailyAggregates returns one row per date up to and including cutoff, in
// ascending order. Dates with no records in either table are absent.
func (w *Warehouse) DailyAggregates(ctx context.Context, cutoff time.Time) ([]domain.DailyAggregate, error) {
	query := fmt.Sprintf(`
		SELECT d, SUM(crashes), SUM(people)
		FROM (
			SELECT crash_date AS d, COUNT(*) AS crashes, 0 AS people
			FROM %s WHERE crash_date <= ? GROUP BY crash_date
			UNION ALL
			SELECT crash_date AS d, 0 AS crashes, COUNT(*) AS people
			FROM %s WHERE crash_date <= ? GROUP BY crash_date
		)
		WHERE d IS NOT NULL
		GROUP BY d
		ORDER BY d
	`, mustQuote(w.tables.Crashes), mustQuote(w.tables.Person))

	c := domain.FormatDate(cutoff)
	rows, err := w.db.QueryContext(ctx, query, c, c)
	if err != nil {
		return nil, fmt.Errorf("sqlite: daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyAggregate
	for rows.Next() {
		var a domain.DailyAggregate
		var d dateValue
		if err := rows.Scan(&d, &a.Crashes, &a.PeopleInvolved); err != nil {
			return nil, fmt.Errorf("sqlite: scan aggregate: %w", err)
		}
		a.Date = d.Time
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: daily aggregates: %w", err)
	}
	return out, nil
}

// UpsertForecast writes rows into the predictions table keyed by ds.
func (w *Warehouse) UpsertForecast(ctx context.Context, rows []domain.ForecastRow) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (ds, yhat, yhat_lower, yhat_upper) VALUES (?, ?, ?, ?)
		ON CONFLICT (ds) DO UPDATE
		SET yhat = excluded.yhat, yhat_lower = excluded.yhat_lower, yhat_upper = excluded.yhat_upper
	`, mustQuote(w.tables.Predictions))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, query, domain.FormatDate(r.DS), r.YHat, r.YHatLower, r.YHatUpper); err != nil {
			return fmt.Errorf("sqlite: upsert forecast %s: %w", domain.FormatDate(r.DS), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: upsert forecast: %w", err)
	}
	return nil
}

// DaySummary compares the crash count for day with its stored forecast.
// It returns domain.ErrArtifactNotFound when no forecast row exists.
func (w *Warehouse) DaySummary(ctx context.Context, day time.Time) (domain.DaySummary, error) {
	query := fmt.Sprintf(`
		SELECT c.crashes, p.yhat
		FROM %s p
		LEFT JOIN (
			SELECT crash_date, COUNT(DISTINCT collision_id) AS crashes
			FROM %s WHERE crash_date = ? GROUP BY crash_date
		) c ON p.ds = c.crash_date
		WHERE p.ds = ?
	`, mustQuote(w.tables.Predictions), mustQuote(w.tables.Crashes))

	d := domain.FormatDate(day)
	var crashes sql.NullInt64
	var yhat float64
	err := w.db.QueryRowContext(ctx, query, d, d).Scan(&crashes, &yhat)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DaySummary{}, fmt.Errorf("%w: no forecast for %s", domain.ErrArtifactNotFound, d)
	}
	if err != nil {
		return domain.DaySummary{}, fmt.Errorf("sqlite: day summary: %w", err)
	}
	var count *int64
	if crashes.Valid {
		count = &crashes.Int64
	}
	return domain.NewDaySummary(day, count, yhat), nil
}

// Timeseries returns per-day people and crash counts from the person table
// with the stored forecast joined by date.
func (w *Warehouse) Timeseries(ctx context.Context, r domain.DateRange) ([]domain.TimeseriesPoint, error) {
	query := fmt.Sprintf(`
		SELECT p1.crash_date, p1.people_involved, p1.crashes,
			COALESCE(ROUND(p2.yhat), 0), COALESCE(p2.yhat_lower, 0), COALESCE(p2.yhat_upper, 0)
		FROM (
			SELECT crash_date, COUNT(*) AS people_involved, COUNT(DISTINCT collision_id) AS crashes
			FROM %s WHERE crash_date BETWEEN ? AND ? GROUP BY crash_date
		) p1
		LEFT JOIN %s p2 ON p1.crash_date = p2.ds
		ORDER BY p1.crash_date
	`, mustQuote(w.tables.Person), mustQuote(w.tables.Predictions))

	rows, err := w.db.QueryContext(ctx, query, domain.FormatDate(r.Start), domain.FormatDate(r.End))
	if err != nil {
		return nil, fmt.Errorf("sqlite: timeseries: %w", err)
	}
	defer rows.Close()

	var out []domain.TimeseriesPoint
	for rows.Next() {
		var p domain.TimeseriesPoint
		var d dateValue
		if err := rows.Scan(&d, &p.PeopleInvolved, &p.Crashes, &p.YHat, &p.LowerBound, &p.UpperBound); err != nil {
			return nil, fmt.Errorf("sqlite: scan timeseries: %w", err)
		}
		p.Date = domain.FormatDate(d.Time)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: timeseries: %w", err)
	}
	return out, nil
}

// Collisions returns geolocated collisions for day with the number of people
// involved and an injury class.
func (w *Warehouse) Collisions(ctx context.Context, day time.Time) ([]domain.CollisionPoint, error) {
	query := fmt.Sprintf(`
		SELECT c.collision_id, COALESCE(c.crash_time, ''), c.latitude, c.longitude,
			COALESCE(p.people_involved, 0),
			COALESCE(c.number_of_persons_injured, 0), COALESCE(c.number_of_persons_killed, 0)
		FROM %s c
		LEFT JOIN (
			SELECT collision_id, COUNT(*) AS people_involved
			FROM %s WHERE crash_date = ? GROUP BY collision_id
		) p ON c.collision_id = p.collision_id
		WHERE c.crash_date = ?
			AND c.latitude IS NOT NULL AND c.latitude <> 0
			AND c.longitude IS NOT NULL
			AND c.collision_id IS NOT NULL
		ORDER BY c.collision_id
	`, mustQuote(w.tables.Crashes), mustQuote(w.tables.Person))

	d := domain.FormatDate(day)
	rows, err := w.db.QueryContext(ctx, query, d, d)
	if err != nil {
		return nil, fmt.Errorf("sqlite: collisions: %w", err)
	}
	defer rows.Close()

	var out []domain.CollisionPoint
	for rows.Next() {
		var c domain.CollisionPoint
		if err := rows.Scan(&c.CollisionID, &c.CrashTime, &c.Latitude, &c.Longitude,
			&c.PeopleInvolved, &c.Injured, &c.Killed); err != nil {
			return nil, fmt.Errorf("sqlite: scan collision: %w", err)
		}
		c.PersonInjury = domain.ClassifyInjury(c.Injured, c.Killed)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: collisions: %w", err)
	}
	return out, nil
}

// dateValue scans a DATE column. The driver hands back time.Time for
// DATE-declared columns and plain text for derived ones.
type dateValue struct {
	Time time.Time
}

func (d *dateValue) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = domain.Day(v)
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("sqlite: cannot scan %T into date", src)
	}
}

func (d *dateValue) parse(s string) error {
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	t, err := domain.ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
