package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

const (
	maxPredictBody = 1 << 10
	noDataMessage  = "no data for selected range"
)

type predictRequest struct {
	Date string `json:"date"`
}

// rowsResponse wraps every dashboard payload. Message is set only when the
// query could not produce rows.
type rowsResponse struct {
	Message string `json:"message,omitempty"`
	Rows    any    `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPredictBody))
	if err := dec.Decode(&req); err != nil {
		s.predictFailed(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid request body: %w", err))
		return
	}
	ds, err := domain.ParseDate(req.Date)
	if err != nil {
		s.predictFailed(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	row, err := s.predictor.Predict(r.Context(), ds)
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
		s.predictFailed(w, http.StatusServiceUnavailable, "not_found", err)
		return
	case err != nil:
		s.logger.Error("predict failed", "date", req.Date, "error", err)
		s.predictFailed(w, http.StatusInternalServerError, "error", errors.New("prediction failed"))
		return
	}
	s.metrics.PredictionsServed.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) predictFailed(w http.ResponseWriter, status int, outcome string, err error) {
	s.metrics.PredictionsServed.WithLabelValues(outcome).Inc()
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	day, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	summary, err := s.dashboard.DaySummary(r.Context(), day)
	if err != nil {
		s.noData(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Rows: []domain.DaySummary{summary}})
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	start, ok := dateParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := dateParam(w, r, "end")
	if !ok {
		return
	}
	rng, err := domain.NewDateRange(start, end)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	points, err := s.dashboard.Timeseries(r.Context(), rng)
	if err != nil || len(points) == 0 {
		s.noData(w, "timeseries", err)
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Rows: points})
}

func (s *Server) handleCollisions(w http.ResponseWriter, r *http.Request) {
	day, ok := dateParam(w, r, "date")
	if !ok {
		return
	}
	points, err := s.dashboard.Collisions(r.Context(), day)
	if err != nil || len(points) == 0 {
		s.noData(w, "collisions", err)
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Rows: points})
}

// noData answers a dashboard read that produced nothing. Query failures are
// logged but still answered with an empty result.
func (s *Server) noData(w http.ResponseWriter, view string, err error) {
	if err != nil && !errors.Is(err, domain.ErrArtifactNotFound) {
		s.logger.Warn("dashboard query failed", "view", view, "error", err)
	}
	writeJSON(w, http.StatusOK, rowsResponse{Message: noDataMessage, Rows: []struct{}{}})
}

func dateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("missing %s parameter", name)})
		return time.Time{}, false
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return time.Time{}, false
	}
	return d, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}
