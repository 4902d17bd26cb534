package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

func (w *Warehouse) table(name string) string {
	return pgx.Identifier{w.schema, name}.Sanitize()
}

// DailyAggregates returns one row per date up to and including cutoff, in
// ascending order. Dates with no records in either table are absent.
func (w *Warehouse) DailyAggregates(ctx context.Context, cutoff time.Time) ([]domain.DailyAggregate, error) {
	query := fmt.Sprintf(`
		SELECT d, SUM(crashes)::bigint, SUM(people)::bigint
		FROM (
			SELECT crash_date AS d, COUNT(*) AS crashes, 0 AS people
			FROM %s WHERE crash_date <= $1 GROUP BY crash_date
			UNION ALL
			SELECT crash_date AS d, 0 AS crashes, COUNT(*) AS people
			FROM %s WHERE crash_date <= $1 GROUP BY crash_date
		) counts
		WHERE d IS NOT NULL
		GROUP BY d
		ORDER BY d
	`, w.table(w.tables.Crashes), w.table(w.tables.Person))

	rows, err := w.pool.Query(ctx, query, domain.Day(cutoff))
	if err != nil {
		return nil, fmt.Errorf("postgres: daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyAggregate
	for rows.Next() {
		var a domain.DailyAggregate
		if err := rows.Scan(&a.Date, &a.Crashes, &a.PeopleInvolved); err != nil {
			return nil, fmt.Errorf("postgres: scan aggregate: %w", err)
		}
		a.Date = domain.Day(a.Date)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: daily aggregates: %w", err)
	}
	return out, nil
}

// UpsertForecast writes rows into the predictions table keyed by ds.
func (w *Warehouse) UpsertForecast(ctx context.Context, rows []domain.ForecastRow) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (ds, yhat, yhat_lower, yhat_upper)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ds) DO UPDATE
		SET yhat = EXCLUDED.yhat, yhat_lower = EXCLUDED.yhat_lower, yhat_upper = EXCLUDED.yhat_upper
	`, w.table(w.tables.Predictions))

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query, r.DS, r.YHat, r.YHatLower, r.YHatUpper)
	}
	if err := w.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: upsert forecast: %w", err)
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
			FROM %s WHERE crash_date = $1 GROUP BY crash_date
		) c ON p.ds = c.crash_date
		WHERE p.ds = $1
	`, w.table(w.tables.Predictions), w.table(w.tables.Crashes))

	var crashes *int64
	var yhat float64
	err := w.pool.QueryRow(ctx, query, domain.Day(day)).Scan(&crashes, &yhat)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DaySummary{}, fmt.Errorf("%w: no forecast for %s", domain.ErrArtifactNotFound, domain.FormatDate(day))
	}
	if err != nil {
		return domain.DaySummary{}, fmt.Errorf("postgres: day summary: %w", err)
	}
	return domain.NewDaySummary(day, crashes, yhat), nil
}

// Timeseries returns per-day people and crash counts from the person table
// with the stored forecast joined by date.
func (w *Warehouse) Timeseries(ctx context.Context, r domain.DateRange) ([]domain.TimeseriesPoint, error) {
	query := fmt.Sprintf(`
		SELECT p1.crash_date, p1.people_involved, p1.crashes,
			COALESCE(ROUND(p2.yhat), 0), COALESCE(p2.yhat_lower, 0), COALESCE(p2.yhat_upper, 0)
		FROM (
			SELECT crash_date, COUNT(*) AS people_involved, COUNT(DISTINCT collision_id) AS crashes
			FROM %s WHERE crash_date BETWEEN $1 AND $2 GROUP BY crash_date
		) p1
		LEFT JOIN %s p2 ON p1.crash_date = p2.ds
		ORDER BY p1.crash_date
	`, w.table(w.tables.Person), w.table(w.tables.Predictions))

	rows, err := w.pool.Query(ctx, query, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("postgres: timeseries: %w", err)
	}
	defer rows.Close()

	var out []domain.TimeseriesPoint
	for rows.Next() {
		var p domain.TimeseriesPoint
		var d time.Time
		if err := rows.Scan(&d, &p.PeopleInvolved, &p.Crashes, &p.YHat, &p.LowerBound, &p.UpperBound); err != nil {
			return nil, fmt.Errorf("postgres: scan timeseries: %w", err)
		}
		p.Date = domain.FormatDate(d)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: timeseries: %w", err)
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
			FROM %s WHERE crash_date = $1 GROUP BY collision_id
		) p ON c.collision_id = p.collision_id
		WHERE c.crash_date = $1
			AND c.latitude IS NOT NULL AND c.latitude <> 0
			AND c.longitude IS NOT NULL
			AND c.collision_id IS NOT NULL
		ORDER BY c.collision_id
	`, w.table(w.tables.Crashes), w.table(w.tables.Person))

	rows, err := w.pool.Query(ctx, query, domain.Day(day))
	if err != nil {
		return nil, fmt.Errorf("postgres: collisions: %w", err)
	}
	defer rows.Close()

	var out []domain.CollisionPoint
	for rows.Next() {
		var c domain.CollisionPoint
		if err := rows.Scan(&c.CollisionID, &c.CrashTime, &c.Latitude, &c.Longitude,
			&c.PeopleInvolved, &c.Injured, &c.Killed); err != nil {
			return nil, fmt.Errorf("postgres: scan collision: %w", err)
		}
		c.PersonInjury = domain.ClassifyInjury(c.Injured, c.Killed)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: collisions: %w", err)
	}
	return out, nil
}
