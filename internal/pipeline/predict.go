package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/forecast"
)

// ModelSource loads the most recently trained model.
type ModelSource interface {
	LatestModel(ctx context.Context) (*forecast.Model, time.Time, error)
}

// Predictor answers point predictions from the newest stored model.
type Predictor struct {
	models ModelSource
	logger *slog.Logger
}

// NewPredictor creates a Predictor.
func NewPredictor(models ModelSource, logger *slog.Logger) *Predictor {
	return &Predictor{models: models, logger: logger}
}

// Predict returns the forecast for ds from the latest model. It returns
// domain.ErrArtifactNotFound when no model has been trained yet.
func (p *Predictor) Predict(ctx context.Context, ds time.Time) (domain.ForecastRow, error) {
	model, cutoff, err := p.models.LatestModel(ctx)
	if err != nil {
		return domain.ForecastRow{}, fmt.Errorf("predict %s: %w", domain.FormatDate(ds), err)
	}
	row := model.Predict(domain.Day(ds))
	p.logger.Debug("prediction served",
		"ds", domain.FormatDate(ds),
		"cutoff", domain.FormatDate(cutoff),
		"yhat", row.YHat,
	)
	return row, nil
}

// CheckReadiness returns nil once a trained model can be loaded.
func (p *Predictor) CheckReadiness(ctx context.Context) error {
	if _, _, err := p.models.LatestModel(ctx); err != nil {
		return fmt.Errorf("no model available: %w", err)
	}
	return nil
}
