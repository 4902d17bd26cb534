package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/forecast"
	"github.com/couchcryptid/collision-forecast-service/internal/lock"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

// Aggregator reads daily crash counts from the warehouse.
type Aggregator interface {
	DailyAggregates(ctx context.Context, cutoff time.Time) ([]domain.DailyAggregate, error)
}

// ModelFitter fits a forecasting model to a training frame.
type ModelFitter interface {
	Fit(frame []domain.TrainingPoint) (*forecast.Model, error)
}

// ArtifactStore persists models and forecasts keyed by cutoff date.
type ArtifactStore interface {
	SaveModel(ctx context.Context, m *forecast.Model, cutoff time.Time) error
	LoadModel(ctx context.Context, cutoff time.Time) (*forecast.Model, error)
	SaveForecast(ctx context.Context, rows []domain.ForecastRow, cutoff time.Time) error
	ModelKey(cutoff time.Time) string
}

// ForecastSink stores forecast rows next to the actuals for the dashboard.
type ForecastSink interface {
	UpsertForecast(ctx context.Context, rows []domain.ForecastRow) error
}

// EventPublisher announces written forecasts.
type EventPublisher interface {
	PublishForecast(ctx context.Context, event domain.ForecastEvent) error
}

// TrainResult describes a completed training run.
type TrainResult struct {
	Cutoff   time.Time
	Points   int
	Model    *forecast.Model
	Forecast []domain.ForecastRow
}

// Trainer fits a model on data up to a cutoff date, stores it, and writes
// the one-day-ahead forecast.
type Trainer struct {
	aggregator Aggregator
	fitter     ModelFitter
	store      ArtifactStore
	sink       ForecastSink
	publisher  EventPublisher
	locker     Locker
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// TrainerOption configures optional Trainer collaborators.
type TrainerOption func(*Trainer)

// WithForecastSink upserts each forecast into the warehouse.
func WithForecastSink(s ForecastSink) TrainerOption {
	return func(t *Trainer) { t.sink = s }
}

// WithEventPublisher publishes an event after each forecast is written.
func WithEventPublisher(p EventPublisher) TrainerOption {
	return func(t *Trainer) { t.publisher = p }
}

// NewTrainer creates a Trainer.
func NewTrainer(a Aggregator, f ModelFitter, s ArtifactStore, l Locker, logger *slog.Logger, metrics *observability.Metrics, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		aggregator: a,
		fitter:     f,
		store:      s,
		locker:     l,
		logger:     logger,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fits and stores a model on all days up to and including cutoff, then
// writes its forecast. Runs for the same cutoff are mutually exclusive.
func (t *Trainer) Train(ctx context.Context, cutoff time.Time) (_ *TrainResult, err error) {
	cutoff = domain.Day(cutoff)
	start := time.Now()
	defer func() {
		t.metrics.TrainingDuration.Observe(time.Since(start).Seconds())
		t.metrics.TrainingRuns.WithLabelValues(trainOutcome(err)).Inc()
	}()

	release, err := t.locker.Acquire(ctx, lock.CutoffKey(domain.FormatDate(cutoff)))
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", domain.FormatDate(cutoff), err)
	}
	defer t.release(ctx, release, cutoff)

	aggs, err := t.aggregator.DailyAggregates(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregate through %s: %w", domain.FormatDate(cutoff), err)
	}
	frame := domain.TrainingFrame(aggs)
	t.metrics.TrainingPoints.Set(float64(len(frame)))

	model, err := t.fitter.Fit(frame)
	if err != nil {
		return nil, fmt.Errorf("fit through %s: %w", domain.FormatDate(cutoff), err)
	}
	if err := t.store.SaveModel(ctx, model, cutoff); err != nil {
		return nil, err
	}
	t.logger.Info("model trained",
		"cutoff", domain.FormatDate(cutoff),
		"points", len(frame),
		"trained_through", domain.FormatDate(model.TrainedThrough()),
	)

	rows, err := t.writeForecast(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return &TrainResult{Cutoff: cutoff, Points: len(frame), Model: model, Forecast: rows}, nil
}

// WriteForecast regenerates the forecast for a model that was already trained.
func (t *Trainer) WriteForecast(ctx context.Context, cutoff time.Time) ([]domain.ForecastRow, error) {
	cutoff = domain.Day(cutoff)
	release, err := t.locker.Acquire(ctx, lock.CutoffKey(domain.FormatDate(cutoff)))
	if err != nil {
		return nil, fmt.Errorf("forecast %s: %w", domain.FormatDate(cutoff), err)
	}
	defer t.release(ctx, release, cutoff)
	return t.writeForecast(ctx, cutoff)
}

func (t *Trainer) writeForecast(ctx context.Context, cutoff time.Time) ([]domain.ForecastRow, error) {
	model, err := t.store.LoadModel(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	rows, err := model.Forecast(1)
	if err != nil {
		return nil, fmt.Errorf("forecast %s: %w", domain.FormatDate(cutoff), err)
	}
	if err := t.store.SaveForecast(ctx, rows, cutoff); err != nil {
		return nil, err
	}
	if t.sink != nil {
		if err := t.sink.UpsertForecast(ctx, rows); err != nil {
			return nil, fmt.Errorf("upsert forecast %s: %w", domain.FormatDate(cutoff), err)
		}
	}

	next := rows[len(rows)-1]
	t.logger.Info("forecast written",
		"cutoff", domain.FormatDate(cutoff),
		"ds", domain.FormatDate(next.DS),
		"yhat", next.YHat,
	)
	t.publish(ctx, cutoff, next)
	return rows, nil
}

// publish is best effort; the forecast is already durable.
func (t *Trainer) publish(ctx context.Context, cutoff time.Time, row domain.ForecastRow) {
	if t.publisher == nil {
		return
	}
	event := domain.ForecastEvent{
		RunID:     uuid.NewString(),
		Cutoff:    domain.FormatDate(cutoff),
		ModelKey:  t.store.ModelKey(cutoff),
		Forecast:  row,
		CreatedAt: domain.Now(),
	}
	if err := t.publisher.PublishForecast(ctx, event); err != nil {
		t.metrics.ForecastEvents.WithLabelValues("error").Inc()
		t.logger.Warn("publish forecast event failed", "cutoff", event.Cutoff, "error", err)
		return
	}
	t.metrics.ForecastEvents.WithLabelValues("success").Inc()
}

func (t *Trainer) release(ctx context.Context, release lock.ReleaseFunc, cutoff time.Time) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		t.logger.Warn("release lock failed", "cutoff", domain.FormatDate(cutoff), "error", err)
	}
}

func trainOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrLocked):
		return "locked"
	default:
		return "error"
	}
}
