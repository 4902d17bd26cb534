package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/collision-forecast-service/internal/adapter/blob"
	"github.com/couchcryptid/collision-forecast-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/collision-forecast-service/internal/adapter/kafka"
	"github.com/couchcryptid/collision-forecast-service/internal/adapter/postgres"
	"github.com/couchcryptid/collision-forecast-service/internal/adapter/socrata"
	"github.com/couchcryptid/collision-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/collision-forecast-service/internal/artifact"
	"github.com/couchcryptid/collision-forecast-service/internal/config"
	"github.com/couchcryptid/collision-forecast-service/internal/forecast"
	"github.com/couchcryptid/collision-forecast-service/internal/lock"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
	"github.com/couchcryptid/collision-forecast-service/internal/pipeline"
)

// warehouse is everything the commands need from a warehouse driver.
type warehouse interface {
	pipeline.Warehouse
	pipeline.Aggregator
	pipeline.ForecastSink
	httpadapter.Dashboard
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
}

// app lazily builds the adapters a command needs from the loaded config and
// closes them when the command exits.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	newMetrics func() *observability.Metrics

	redis   *redis.Client
	wh      warehouse
	store   *artifact.Store
	locker  pipeline.Locker
	closers []func() error
}

func (a *app) redisClient() (*redis.Client, error) {
	if a.redis != nil || a.cfg.RedisURL == "" {
		return a.redis, nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	a.closers = append(a.closers, a.redis.Close)
	return a.redis, nil
}

func (a *app) warehouse(ctx context.Context) (warehouse, error) {
	if a.wh != nil {
		return a.wh, nil
	}
	switch a.cfg.WarehouseDriver {
	case config.DriverSQLite:
		w, err := sqlite.Open(a.cfg.WarehouseDSN, sqlite.Tables{
			Crashes:     a.cfg.CrashesTable,
			Person:      a.cfg.PersonTable,
			Predictions: a.cfg.PredictionsTable,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
		a.wh = w
	default:
		w, err := postgres.Open(ctx, a.cfg.WarehouseDSN, a.cfg.WarehouseSchema, postgres.Tables{
			Crashes:     a.cfg.CrashesTable,
			Person:      a.cfg.PersonTable,
			Predictions: a.cfg.PredictionsTable,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { w.Close(); return nil })
		a.wh = w
	}
	a.logger.Info("warehouse opened", "driver", a.cfg.WarehouseDriver)
	return a.wh, nil
}

func (a *app) artifactStore() (*artifact.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	var blobs artifact.BlobStore
	switch a.cfg.BlobDriver {
	case config.BlobRedis:
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		blobs = blob.NewRedis(client)
	default:
		blobs = blob.NewFS("")
	}
	a.store = artifact.NewStore(blobs, a.cfg.BlobBasePath, a.cfg.ModelCacheSize, a.metrics)
	return a.store, nil
}

// runLocker is distributed when Redis is configured.
func (a *app) runLocker() (pipeline.Locker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	client, err := a.redisClient()
	if err != nil {
		return nil, err
	}
	if client != nil {
		a.locker = lock.NewRedis(client, a.cfg.LockTTL)
	} else {
		a.locker = lock.NewLocal()
	}
	return a.locker, nil
}

func (a *app) ingestor(ctx context.Context) (*pipeline.Ingestor, error) {
	if !a.cfg.HasCredentials() {
		return nil, fmt.Errorf("NYCT_API_KEY and NYCT_SECRET_KEY must both be set to ingest")
	}
	sources, err := config.LoadSources(a.cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	wh, err := a.warehouse(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.runLocker()
	if err != nil {
		return nil, err
	}
	client := socrata.NewClient(socrata.Options{
		BaseURL:   a.cfg.SourceBaseURL,
		Key:       a.cfg.SourceKey,
		Secret:    a.cfg.SourceSecret,
		Datasets:  sources.Datasets,
		DateField: sources.DateField,
		PageSize:  a.cfg.SourcePageSize,
		Timeout:   a.cfg.SourceTimeout,
	}, a.metrics, a.logger)
	return pipeline.NewIngestor(client, wh, locker, a.logger, a.metrics), nil
}

func (a *app) trainer(ctx context.Context) (*pipeline.Trainer, error) {
	wh, err := a.warehouse(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.artifactStore()
	if err != nil {
		return nil, err
	}
	locker, err := a.runLocker()
	if err != nil {
		return nil, err
	}
	opts := forecast.DefaultOptions()
	opts.IntervalWidth = a.cfg.ForecastIntervalWidth

	trainerOpts := []pipeline.TrainerOption{pipeline.WithForecastSink(wh)}
	if len(a.cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(a.cfg, a.logger)
		a.closers = append(a.closers, writer.Close)
		trainerOpts = append(trainerOpts, pipeline.WithEventPublisher(writer))
		a.logger.Info("forecast events enabled", "topic", a.cfg.KafkaForecastTopic)
	}
	return pipeline.NewTrainer(wh, forecast.New(opts), store, locker, a.logger, a.metrics, trainerOpts...), nil
}

// pushMetrics sends batch metrics to the Pushgateway for one-shot commands.
func (a *app) pushMetrics(job string) {
	if a.cfg == nil || a.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, job); err != nil {
		a.logger.Warn("metrics push failed", "job", job, "error", err)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
