package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collisions"

// Metrics holds the Prometheus counters and histograms for ingest, training
// and the prediction service.
type Metrics struct {
	// Ingest metrics, labelled by logical table.
	DaysIngested          *prometheus.CounterVec   // labels: table, outcome={success,fetch_error,insert_error,locked,error}
	RecordsFetched        *prometheus.CounterVec   // labels: table
	RecordsDropped        *prometheus.CounterVec   // labels: table, reason={malformed_date,malformed_value}
	RecordsInserted       *prometheus.CounterVec   // labels: table
	RowsDeleted           *prometheus.CounterVec   // labels: table
	FetchTruncated        *prometheus.CounterVec   // labels: table
	DayDuration           *prometheus.HistogramVec // labels: table
	SourceRequestDuration *prometheus.HistogramVec // labels: table

	// Training metrics.
	TrainingRuns     *prometheus.CounterVec // labels: outcome={success,insufficient_data,locked,error}
	TrainingDuration prometheus.Histogram
	TrainingPoints   prometheus.Gauge
	ForecastEvents   *prometheus.CounterVec // labels: outcome={success,error}

	// Prediction service metrics.
	PredictionsServed *prometheus.CounterVec // labels: outcome={success,bad_request,not_found,error}
	ModelCache        *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		DaysIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_ingested_total",
			Help:      "Ingested day partitions by table and outcome.",
		}, []string{"table", "outcome"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Raw records returned by the external source.",
		}, []string{"table"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records dropped during coercion by reason.",
		}, []string{"table", "reason"}),
		RecordsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Rows inserted into the warehouse.",
		}, []string{"table"}),
		RowsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_deleted_total",
			Help:      "Rows removed by day replacement.",
		}, []string{"table"}),
		FetchTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_truncated_total",
			Help:      "Day fetches that returned exactly the page cap.",
		}, []string{"table"}),
		DayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_day_duration_seconds",
			Help:      "Duration of one day's fetch, coerce and replace.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"table"}),
		SourceRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "External source request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"table"}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Training runs by outcome.",
		}, []string{"outcome"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of aggregate, fit and persist for one cutoff.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		TrainingPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_points",
			Help:      "Number of daily observations in the last training frame.",
		}),
		ForecastEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_events_total",
			Help:      "Forecast events published by outcome.",
		}, []string{"outcome"}),
		PredictionsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_served_total",
			Help:      "Prediction requests by outcome.",
		}, []string{"outcome"}),
		ModelCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_cache_total",
			Help:      "Decoded model cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DaysIngested,
		m.RecordsFetched,
		m.RecordsDropped,
		m.RecordsInserted,
		m.RowsDeleted,
		m.FetchTruncated,
		m.DayDuration,
		m.SourceRequestDuration,
		m.TrainingRuns,
		m.TrainingDuration,
		m.TrainingPoints,
		m.ForecastEvents,
		m.PredictionsServed,
		m.ModelCache,
	}
}
