// Package httpadapter serves the prediction API, the dashboard read
// endpoints, and the health, readiness, and metrics routes.
package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

// Predictor answers a point forecast for one date.
type Predictor interface {
	Predict(ctx context.Context, ds time.Time) (domain.ForecastRow, error)
}

// Dashboard reads the joined actuals and forecasts shown on the dashboard.
type Dashboard interface {
	DaySummary(ctx context.Context, day time.Time) (domain.DaySummary, error)
	Timeseries(ctx context.Context, r domain.DateRange) ([]domain.TimeseriesPoint, error)
	Collisions(ctx context.Context, day time.Time) ([]domain.CollisionPoint, error)
}

// Server exposes the service's HTTP endpoints.
type Server struct {
	httpServer *http.Server
	predictor  Predictor
	dashboard  Dashboard
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// POST /predict and the /api dashboard routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, p Predictor, d Dashboard, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		predictor: p,
		dashboard: d,
		metrics:   metrics,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/timeseries", s.handleTimeseries)
	mux.HandleFunc("GET /api/collisions", s.handleCollisions)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
