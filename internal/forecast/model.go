// Package forecast fits an additive trend plus seasonality model to a daily
// series and produces point forecasts with symmetric uncertainty intervals.
package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

const (
	weeklyPeriod = 7.0
	yearlyPeriod = 365.25

	// Minimum training span, in days, before a seasonal block is fitted.
	weeklyMinSpan = 14
	yearlyMinSpan = 730
)

// Model is a fitted additive model. It is immutable once returned by Fit.
type Model struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	TScale        float64   `json:"t_scale"`
	YScale        float64   `json:"y_scale"`
	WeeklyOrder   int       `json:"weekly_order"`
	YearlyOrder   int       `json:"yearly_order"`
	Coef          []float64 `json:"coef"`
	Sigma         float64   `json:"sigma"`
	Z             float64   `json:"z"`
	IntervalWidth float64   `json:"interval_width"`
	NTrain        int       `json:"n_train"`
}

// TrainedThrough returns the last training date.
func (m *Model) TrainedThrough() time.Time { return m.End }

// Forecast returns one row per day strictly after the last training date.
func (m *Model) Forecast(horizon int) ([]domain.ForecastRow, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("forecast horizon must be at least 1, got %d", horizon)
	}
	rows := make([]domain.ForecastRow, horizon)
	for i := range rows {
		rows[i] = m.Predict(m.End.AddDate(0, 0, i+1))
	}
	return rows, nil
}

// Predict evaluates the model on a single date. The interval widens with the
// number of days past the training window.
func (m *Model) Predict(ds time.Time) domain.ForecastRow {
	ds = domain.Day(ds)
	x := m.features(ds)
	yhat := floats.Dot(x, m.Coef) * m.YScale

	h := ds.Sub(m.End).Hours() / 24
	if h < 0 {
		h = 0
	}
	n := float64(max(m.NTrain, 1))
	half := m.Z * m.Sigma * math.Sqrt(1+h/n)

	return domain.ForecastRow{
		DS:        ds,
		YHat:      yhat,
		YHatLower: yhat - half,
		YHatUpper: yhat + half,
	}
}

func (m *Model) columns() int {
	return 2 + 2*m.WeeklyOrder + 2*m.YearlyOrder
}

// features builds the regressor row for ds: intercept, scaled trend, then the
// weekly and yearly Fourier terms anchored on the Unix epoch.
func (m *Model) features(ds time.Time) []float64 {
	x := make([]float64, 0, m.columns())
	t := ds.Sub(m.Start).Hours() / 24 / m.TScale
	x = append(x, 1, t)

	epochDays := float64(ds.Unix()) / 86400
	x = appendFourier(x, epochDays, weeklyPeriod, m.WeeklyOrder)
	x = appendFourier(x, epochDays, yearlyPeriod, m.YearlyOrder)
	return x
}

func appendFourier(x []float64, day, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		arg := 2 * math.Pi * float64(k) * day / period
		x = append(x, math.Sin(arg), math.Cos(arg))
	}
	return x
}
