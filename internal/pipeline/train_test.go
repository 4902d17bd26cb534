package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/collision-forecast-service/internal/adapter/blob"
	"github.com/couchcryptid/collision-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/collision-forecast-service/internal/artifact"
	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/forecast"
	"github.com/couchcryptid/collision-forecast-service/internal/lock"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
	"github.com/couchcryptid/collision-forecast-service/internal/pipeline"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ForecastEvent
	err    error
}

func (p *recordingPublisher) PublishForecast(_ context.Context, e domain.ForecastEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type trainFixture struct {
	wh      *sqlite.Warehouse
	store   *artifact.Store
	locker  *lock.Local
	metrics *observability.Metrics
}

func newTrainFixture(t *testing.T, loaded bool) trainFixture {
	t.Helper()
	f := trainFixture{
		wh:      newWarehouse(t),
		locker:  lock.NewLocal(),
		metrics: newTestMetrics(),
	}
	f.store = artifact.NewStore(blob.NewFS(t.TempDir()), "", 4, f.metrics)
	if loaded {
		in := pipeline.NewIngestor(newFixtureFetcher(t), f.wh, f.locker, discardLogger(), f.metrics)
		for _, table := range []string{domain.TableCrashes, domain.TablePerson} {
			report, err := in.Run(context.Background(), pipeline.IngestRequest{
				SourceTable: table,
				TargetTable: table,
				Start:       date(t, "2021-09-11"),
				End:         date(t, "2021-09-12"),
				Replace:     true,
			})
			require.NoError(t, err)
			require.NoError(t, report.Err())
		}
	}
	return f
}

func (f trainFixture) trainer(opts ...pipeline.TrainerOption) *pipeline.Trainer {
	return pipeline.NewTrainer(f.wh, forecast.New(forecast.DefaultOptions()), f.store, f.locker,
		discardLogger(), f.metrics, opts...)
}

func TestTrainer_Train_WritesModelAndForecast(t *testing.T) {
	f := newTrainFixture(t, true)
	pub := &recordingPublisher{}
	tr := f.trainer(pipeline.WithForecastSink(f.wh), pipeline.WithEventPublisher(pub))
	cutoff := date(t, "2021-09-12")

	res, err := tr.Train(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Points)
	require.Len(t, res.Forecast, 1)
	next := res.Forecast[0]
	assert.Equal(t, "2021-09-13", domain.FormatDate(next.DS))
	assert.InDelta(t, 1.0, next.YHat, 1e-6, "linear trend through 3 then 2 crashes")

	stored, err := f.store.LoadForecast(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, res.Forecast, stored)

	summary, err := f.wh.DaySummary(context.Background(), next.DS)
	require.NoError(t, err)
	assert.Nil(t, summary.Crashes)
	assert.InDelta(t, 1.0, summary.YHat, 0)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "2021-09-12", ev.Cutoff)
	assert.Equal(t, f.store.ModelKey(cutoff), ev.ModelKey)
	assert.NotEmpty(t, ev.RunID)
	assert.Equal(t, next, ev.Forecast)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TrainingRuns.WithLabelValues("success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.TrainingPoints), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ForecastEvents.WithLabelValues("success")), 0)
}

func TestTrainer_Train_CutoffExcludesLaterDays(t *testing.T) {
	f := newTrainFixture(t, true)

	_, err := f.trainer().Train(context.Background(), date(t, "2021-09-11"))
	require.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestTrainer_Train_InsufficientData(t *testing.T) {
	f := newTrainFixture(t, false)
	cutoff := date(t, "2021-09-12")

	_, err := f.trainer().Train(context.Background(), cutoff)
	require.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = f.store.LoadModel(context.Background(), cutoff)
	require.ErrorIs(t, err, domain.ErrArtifactNotFound)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TrainingRuns.WithLabelValues("insufficient_data")), 0)
}

func TestTrainer_Train_Locked(t *testing.T) {
	f := newTrainFixture(t, true)
	release, err := f.locker.Acquire(context.Background(), lock.CutoffKey("2021-09-12"))
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	_, err = f.trainer().Train(context.Background(), date(t, "2021-09-12"))
	require.ErrorIs(t, err, domain.ErrLocked)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TrainingRuns.WithLabelValues("locked")), 0)
}

func TestTrainer_Train_ReleasesLock(t *testing.T) {
	f := newTrainFixture(t, true)
	tr := f.trainer()

	_, err := tr.Train(context.Background(), date(t, "2021-09-12"))
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), date(t, "2021-09-12"))
	require.NoError(t, err)
}

func TestTrainer_Train_PublishFailureIsNotFatal(t *testing.T) {
	f := newTrainFixture(t, true)
	pub := &recordingPublisher{err: errors.New("broker down")}

	res, err := f.trainer(pipeline.WithEventPublisher(pub)).Train(context.Background(), date(t, "2021-09-12"))
	require.NoError(t, err)
	require.Len(t, res.Forecast, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ForecastEvents.WithLabelValues("error")), 0)
}

func TestTrainer_WriteForecast_MissingModel(t *testing.T) {
	f := newTrainFixture(t, false)

	_, err := f.trainer().WriteForecast(context.Background(), date(t, "2021-09-12"))
	require.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestTrainer_WriteForecast_ReusesStoredModel(t *testing.T) {
	f := newTrainFixture(t, true)
	tr := f.trainer()
	cutoff := date(t, "2021-09-12")

	res, err := tr.Train(context.Background(), cutoff)
	require.NoError(t, err)

	rows, err := tr.WriteForecast(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, res.Forecast, rows)
}
