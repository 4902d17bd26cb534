package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/pipeline"
)

func newScheduleCmd(a *app) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily ingest and training job at SCHEDULE_AT (UTC) while serving HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			in, err := a.ingestor(ctx)
			if err != nil {
				return err
			}
			tr, err := a.trainer(ctx)
			if err != nil {
				return err
			}

			scheduler := gocron.NewScheduler(time.UTC)
			scheduler.SingletonModeAll()

			job := scheduler.Every(1).Day().At(a.cfg.ScheduleAt)
			if runNow {
				job = job.StartImmediately()
			}
			if _, err := job.Do(func() {
				if err := a.dailyRun(ctx, in, tr); err != nil {
					a.logger.Error("scheduled run failed", "error", err)
				}
			}); err != nil {
				return fmt.Errorf("schedule daily run: %w", err)
			}

			scheduler.StartAsync()
			defer scheduler.Stop()
			a.logger.Info("scheduler started",
				"at", a.cfg.ScheduleAt,
				"ingest_lag_days", a.cfg.IngestLagDays,
				"train_lag_days", a.cfg.TrainLagDays,
			)
			return a.serveHTTP(ctx)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "also run the job once at startup")
	return cmd
}

// dailyRun ingests the lagged day for both tables, then trains on the lagged
// cutoff. Ingest failures are reported but do not stop training; the cutoff
// lies well behind the ingest day.
func (a *app) dailyRun(ctx context.Context, in *pipeline.Ingestor, tr *pipeline.Trainer) error {
	day := domain.DaysAgo(a.cfg.IngestLagDays)
	cutoff := domain.DaysAgo(a.cfg.TrainLagDays)
	a.logger.Info("daily run started", "ingest_date", domain.FormatDate(day), "cutoff", domain.FormatDate(cutoff))

	var errs []error
	for _, table := range []string{domain.TableCrashes, domain.TablePerson} {
		report, err := in.Run(ctx, pipeline.IngestRequest{
			SourceTable: table,
			TargetTable: a.cfg.WarehouseTable(table),
			Start:       day,
			End:         day,
			Replace:     a.cfg.IngestReplace,
		})
		if err == nil {
			err = report.Err()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("ingest %s: %w", table, err))
		}
	}
	if _, err := tr.Train(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("train: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.logger.Info("daily run finished", "ingest_date", domain.FormatDate(day), "cutoff", domain.FormatDate(cutoff))
	return nil
}
