package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/collision-forecast-service/internal/adapter/httpadapter"
	"github.com/couchcryptid/collision-forecast-service/internal/pipeline"
)

// readinessFunc adapts a function to sharedobs.ReadinessChecker.
type readinessFunc func(ctx context.Context) error

func (f readinessFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /predict, the dashboard API, health checks and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serveHTTP(cmd.Context())
		},
	}
}

// serveHTTP runs the HTTP server until ctx is cancelled.
func (a *app) serveHTTP(ctx context.Context) error {
	wh, err := a.warehouse(ctx)
	if err != nil {
		return err
	}
	store, err := a.artifactStore()
	if err != nil {
		return err
	}
	predictor := pipeline.NewPredictor(store, a.logger)
	ready := readinessFunc(func(ctx context.Context) error {
		if err := wh.Ping(ctx); err != nil {
			return err
		}
		return predictor.CheckReadiness(ctx)
	})

	srv := httpadapter.NewServer(a.cfg.HTTPAddr, ready, predictor, wh, a.metrics, a.logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("http server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
