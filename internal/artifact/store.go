// Package artifact persists fitted models and their forecasts keyed by the
// training cutoff date.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/forecast"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

const (
	modelDir      = "trained_models"
	modelPrefix   = "model_"
	modelExt      = ".bin"
	forecastDir   = "predictions"
	forecastFile  = "predictions.csv"
	defaultCached = 8
)

// BlobStore is a byte-addressable key to blob map with atomic per-key writes.
// Get returns an error wrapping domain.ErrBlobNotFound for missing keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Store reads and writes model and forecast artifacts under a base path.
type Store struct {
	blobs   BlobStore
	base    string
	cache   *modelCache
	metrics *observability.Metrics
}

// NewStore creates a Store. cacheSize bounds the number of decoded models
// kept in memory; values below 1 use a small default.
func NewStore(blobs BlobStore, base string, cacheSize int, metrics *observability.Metrics) *Store {
	if cacheSize < 1 {
		cacheSize = defaultCached
	}
	return &Store{
		blobs:   blobs,
		base:    base,
		cache:   newModelCache(cacheSize),
		metrics: metrics,
	}
}

// ModelKey returns the blob key of the model trained through cutoff.
func (s *Store) ModelKey(cutoff time.Time) string {
	return path.Join(s.base, modelDir, modelPrefix+domain.FormatDate(cutoff)+modelExt)
}

// ForecastKey returns the blob key of the forecast written for cutoff.
func (s *Store) ForecastKey(cutoff time.Time) string {
	return path.Join(s.base, forecastDir, domain.FormatDate(cutoff), forecastFile)
}

// SaveModel encodes and stores m under cutoff. An existing artifact for the
// same cutoff is overwritten; callers serialize runs per cutoff.
func (s *Store) SaveModel(ctx context.Context, m *forecast.Model, cutoff time.Time) error {
	data, err := forecast.Encode(m)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, s.ModelKey(cutoff), data); err != nil {
		return fmt.Errorf("save model %s: %w", domain.FormatDate(cutoff), err)
	}
	s.cache.put(domain.Day(cutoff), m)
	return nil
}

// LoadModel returns the model trained through cutoff, or an error wrapping
// domain.ErrArtifactNotFound.
func (s *Store) LoadModel(ctx context.Context, cutoff time.Time) (*forecast.Model, error) {
	cutoff = domain.Day(cutoff)
	if m, ok := s.cache.get(cutoff); ok {
		s.metrics.ModelCache.WithLabelValues("hit").Inc()
		return m, nil
	}
	s.metrics.ModelCache.WithLabelValues("miss").Inc()

	data, err := s.blobs.Get(ctx, s.ModelKey(cutoff))
	if errors.Is(err, domain.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: model for %s", domain.ErrArtifactNotFound, domain.FormatDate(cutoff))
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", domain.FormatDate(cutoff), err)
	}
	m, err := forecast.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", domain.FormatDate(cutoff), err)
	}
	s.cache.put(cutoff, m)
	return m, nil
}

// LatestCutoff returns the greatest cutoff date with a stored model.
func (s *Store) LatestCutoff(ctx context.Context) (time.Time, error) {
	prefix := path.Join(s.base, modelDir, modelPrefix)
	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return time.Time{}, fmt.Errorf("list models: %w", err)
	}

	var latest time.Time
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), modelExt)
		cutoff, err := domain.ParseDate(name)
		if err != nil {
			continue
		}
		if cutoff.After(latest) {
			latest = cutoff
		}
	}
	if latest.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no models under %s", domain.ErrArtifactNotFound, prefix)
	}
	return latest, nil
}

// LatestModel loads the model with the greatest cutoff date.
func (s *Store) LatestModel(ctx context.Context) (*forecast.Model, time.Time, error) {
	cutoff, err := s.LatestCutoff(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	m, err := s.LoadModel(ctx, cutoff)
	if err != nil {
		return nil, time.Time{}, err
	}
	return m, cutoff, nil
}

// SaveForecast stores rows as CSV under cutoff.
func (s *Store) SaveForecast(ctx context.Context, rows []domain.ForecastRow, cutoff time.Time) error {
	data, err := encodeForecast(rows)
	if err != nil {
		return fmt.Errorf("save forecast %s: %w", domain.FormatDate(cutoff), err)
	}
	if err := s.blobs.Put(ctx, s.ForecastKey(cutoff), data); err != nil {
		return fmt.Errorf("save forecast %s: %w", domain.FormatDate(cutoff), err)
	}
	return nil
}

// LoadForecast reads the forecast rows stored under cutoff.
func (s *Store) LoadForecast(ctx context.Context, cutoff time.Time) ([]domain.ForecastRow, error) {
	data, err := s.blobs.Get(ctx, s.ForecastKey(cutoff))
	if errors.Is(err, domain.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: forecast for %s", domain.ErrArtifactNotFound, domain.FormatDate(cutoff))
	}
	if err != nil {
		return nil, fmt.Errorf("load forecast %s: %w", domain.FormatDate(cutoff), err)
	}
	rows, err := decodeForecast(data)
	if err != nil {
		return nil, fmt.Errorf("load forecast %s: %w", domain.FormatDate(cutoff), err)
	}
	return rows, nil
}
