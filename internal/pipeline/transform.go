package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
	"github.com/couchcryptid/collision-forecast-service/internal/observability"
)

// Coercer maps raw records onto a warehouse schema, dropping and counting
// records that fail conversion.
type Coercer struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCoercer creates a Coercer.
func NewCoercer(logger *slog.Logger, metrics *observability.Metrics) *Coercer {
	return &Coercer{logger: logger, metrics: metrics}
}

// CoerceBatch returns the rows that coerced cleanly, preserving input order.
func (c *Coercer) CoerceBatch(table string, day time.Time, raw []domain.RawRecord, schema domain.TableSchema) []domain.Row {
	rows := make([]domain.Row, 0, len(raw))
	for i, rec := range raw {
		row, err := domain.Coerce(rec, schema)
		if err != nil {
			c.logger.Warn("coerce failed, dropping record",
				"table", table,
				"date", domain.FormatDate(day),
				"index", i,
				"error", err,
			)
			c.metrics.RecordsDropped.WithLabelValues(table, dropReason(err)).Inc()
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func dropReason(err error) string {
	if errors.Is(err, domain.ErrMalformedDate) {
		return "malformed_date"
	}
	return "malformed_value"
}
