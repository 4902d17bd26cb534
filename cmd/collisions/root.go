package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/collision-forecast-service/internal/config"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

func newRootCmd() (*cobra.Command, *app) {
	a := &app{newMetrics: observability.NewMetrics}
	root := &cobra.Command{
		Use:          "collisions",
		Short:        "Collision data ingest, daily forecast training, and prediction service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			a.cfg = cfg
			a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
			a.metrics = a.newMetrics()
			return nil
		},
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newIngestCmd(a),
		newTrainCmd(a),
		newForecastCmd(a),
		newServeCmd(a),
		newScheduleCmd(a),
		newMigrateCmd(a),
	)
	return root, a
}
