// Package socrata fetches day partitions from the city open-data resource API.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

// maxErrorBody bounds how much of a failed response is kept for reporting.
const maxErrorBody = 4096

// Options configures a Client.
type Options struct {
	BaseURL   string
	Key       string
	Secret    string
	Datasets  map[string]string // logical table -> dataset id
	DateField string
	PageSize  int
	Timeout   time.Duration
}

// Client fetches raw records one calendar day at a time.
type Client struct {
	baseURL    string
	key        string
	secret     string
	datasets   map[string]string
	dateField  string
	pageSize   int
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a resource API client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	dateField := opts.DateField
	if dateField == "" {
		dateField = "crash_date"
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		key:       opts.Key,
		secret:    opts.Secret,
		datasets:  opts.Datasets,
		dateField: dateField,
		pageSize:  opts.PageSize,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// PageSize is the per-request row cap.
func (c *Client) PageSize() int { return c.pageSize }

// FetchDay returns every record of table whose date field equals day, up to
// the page size. A non-2xx response returns a *domain.FetchError.
func (c *Client) FetchDay(ctx context.Context, table string, day time.Time) ([]domain.RawRecord, error) {
	dataset, ok := c.datasets[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTable, table)
	}

	params := url.Values{
		"$where": {fmt.Sprintf("%s = '%sT00:00:00'", c.dateField, domain.FormatDate(day))},
		"$limit": {strconv.Itoa(c.pageSize)},
	}
	u := fmt.Sprintf("%s/%s.json?%s", c.baseURL, url.PathEscape(dataset), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.SetBasicAuth(c.key, c.secret)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.SourceRequestDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s for %s: %w", table, domain.FormatDate(day), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.FetchError{
			Table:      table,
			Date:       day,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var records []domain.RawRecord
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s for %s: %w", table, domain.FormatDate(day), err)
	}

	c.logger.Debug("fetched day", "table", table, "date", domain.FormatDate(day), "records", len(records))
	return records, nil
}
