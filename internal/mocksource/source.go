// Package mocksource serves fixture datasets through the subset of the
// open-data resource API that the ingest client uses: a single equality
// filter in $where, plus $limit and $offset paging.
package mocksource

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// defaultLimit matches the live API when $limit is omitted.
const defaultLimit = 1000

var wherePattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*'([^']*)'\s*$`)

// Server holds fixture records keyed by dataset id.
type Server struct {
	datasets map[string][]map[string]any
	key      string
	secret   string
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBasicAuth rejects requests that do not carry key and secret.
func WithBasicAuth(key, secret string) Option {
	return func(s *Server) {
		s.key = key
		s.secret = secret
	}
}

// Load reads every <dataset>.json file in dir.
func Load(dir string, logger *slog.Logger, opts ...Option) (*Server, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	s := &Server{datasets: make(map[string][]map[string]any, len(paths)), logger: logger}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read fixture: %w", err)
		}
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse fixture %s: %w", filepath.Base(p), err)
		}
		s.datasets[strings.TrimSuffix(filepath.Base(p), ".json")] = records
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Datasets returns the loaded dataset ids and their record counts.
func (s *Server) Datasets() map[string]int {
	out := make(map[string]int, len(s.datasets))
	for id, recs := range s.datasets {
		out[id] = len(recs)
	}
	return out
}

// ServeHTTP answers GET /<dataset>.json.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.key != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.key || pass != s.secret {
			writeError(w, http.StatusForbidden, "Invalid app_token specified")
			return
		}
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
	records, ok := s.datasets[id]
	if !ok {
		writeError(w, http.StatusNotFound, "dataset not found")
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("$limit"), defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid $limit")
		return
	}
	offset, err := intParam(q.Get("$offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid $offset")
		return
	}

	matched := records
	if where := q.Get("$where"); where != "" {
		m := wherePattern.FindStringSubmatch(where)
		if m == nil {
			writeError(w, http.StatusBadRequest, "unsupported $where")
			return
		}
		matched = filterDate(records, m[1], m[2])
	}

	page := []map[string]any{}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		page = matched[offset:end]
	}

	s.logger.Debug("served fixture page", "dataset", id, "where", q.Get("$where"), "rows", len(page))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page) //nolint:errcheck // best-effort response write
}

// filterDate keeps records whose field falls on the calendar day of value.
// Fixtures may hold either floating timestamps or plain dates.
func filterDate(records []map[string]any, field, value string) []map[string]any {
	day, _, _ := strings.Cut(value, "T")
	var out []map[string]any
	for _, r := range records {
		s, _ := r[field].(string)
		if strings.HasPrefix(s, day) {
			out = append(out, r)
		}
	}
	return out
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": true, "message": message}) //nolint:errcheck // best-effort response write
}
