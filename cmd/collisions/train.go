package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// cutoffFlag resolves --cutoff, defaulting to today minus TRAIN_LAG_DAYS.
func cutoffFlag(a *app, raw string) (time.Time, error) {
	if raw == "" {
		return domain.DaysAgo(a.cfg.TrainLagDays), nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--cutoff: %w", err)
	}
	return d, nil
}

func newTrainCmd(a *app) *cobra.Command {
	var cutoff string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the forecast model on data through the cutoff and write its next-day forecast",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cutoffFlag(a, cutoff)
			if err != nil {
				return err
			}
			defer a.pushMetrics("collisions_train")

			tr, err := a.trainer(cmd.Context())
			if err != nil {
				return err
			}
			res, err := tr.Train(cmd.Context(), c)
			if err != nil {
				return err
			}
			next := res.Forecast[0]
			fmt.Fprintf(cmd.OutOrStdout(), "trained through %s on %d days; %s forecast %.1f [%.1f, %.1f]\n",
				domain.FormatDate(res.Cutoff), res.Points, domain.FormatDate(next.DS), next.YHat, next.YHatLower, next.YHatUpper)
			return nil
		},
	}
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "last training day, YYYY-MM-DD (default today minus TRAIN_LAG_DAYS)")
	return cmd
}

func newForecastCmd(a *app) *cobra.Command {
	var cutoff string
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Rewrite the next-day forecast from an already trained model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cutoffFlag(a, cutoff)
			if err != nil {
				return err
			}
			defer a.pushMetrics("collisions_forecast")

			tr, err := a.trainer(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := tr.WriteForecast(cmd.Context(), c)
			if err != nil {
				return err
			}
			for _, r := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %.1f [%.1f, %.1f]\n", domain.FormatDate(r.DS), r.YHat, r.YHatLower, r.YHatUpper)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "cutoff of the stored model, YYYY-MM-DD (default today minus TRAIN_LAG_DAYS)")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the warehouse tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wh, err := a.warehouse(cmd.Context())
			if err != nil {
				return err
			}
			if err := wh.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("warehouse migrated", "driver", a.cfg.WarehouseDriver)
			return nil
		},
	}
}
