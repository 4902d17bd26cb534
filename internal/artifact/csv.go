package artifact

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strconv"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

var forecastHeader = []string{"ds", "yhat", "yhat_lower", "yhat_upper"}

func encodeForecast(rows []domain.ForecastRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(forecastHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{
			domain.FormatDate(r.DS),
			formatFloat(r.YHat),
			formatFloat(r.YHatLower),
			formatFloat(r.YHatUpper),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeForecast(data []byte) ([]domain.ForecastRow, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || !slices.Equal(records[0], forecastHeader) {
		return nil, fmt.Errorf("unexpected forecast header")
	}

	rows := make([]domain.ForecastRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		ds, err := domain.ParseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		var vals [3]float64
		for j := range vals {
			vals[j], err = strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", i+2, forecastHeader[j+1], err)
			}
		}
		rows = append(rows, domain.ForecastRow{DS: ds, YHat: vals[0], YHatLower: vals[1], YHatUpper: vals[2]})
	}
	return rows, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
