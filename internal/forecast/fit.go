package forecast

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// Options controls model structure and interval coverage.
type Options struct {
	WeeklyOrder        int
	YearlyOrder        int
	SeasonalityPenalty float64
	IntervalWidth      float64
}

// DefaultOptions returns weekly order 3, yearly order 10 and 80% intervals.
func DefaultOptions() Options {
	return Options{
		WeeklyOrder:        3,
		YearlyOrder:        10,
		SeasonalityPenalty: 1.0,
		IntervalWidth:      0.80,
	}
}

// Forecaster fits new models. It holds no state between fits.
type Forecaster struct {
	opts Options
}

// New creates a Forecaster, falling back to defaults for unset options.
func New(opts Options) *Forecaster {
	def := DefaultOptions()
	if opts.WeeklyOrder < 0 {
		opts.WeeklyOrder = def.WeeklyOrder
	}
	if opts.YearlyOrder < 0 {
		opts.YearlyOrder = def.YearlyOrder
	}
	if opts.SeasonalityPenalty <= 0 {
		opts.SeasonalityPenalty = def.SeasonalityPenalty
	}
	if opts.IntervalWidth <= 0 || opts.IntervalWidth >= 1 {
		opts.IntervalWidth = def.IntervalWidth
	}
	return &Forecaster{opts: opts}
}

// Fit trains a model on frame. Points with a NaN or infinite y are ignored;
// fewer than two distinct remaining dates returns ErrInsufficientData.
func (f *Forecaster) Fit(frame []domain.TrainingPoint) (*Model, error) {
	points := make([]domain.TrainingPoint, 0, len(frame))
	for _, p := range frame {
		if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			continue
		}
		points = append(points, domain.TrainingPoint{DS: domain.Day(p.DS), Y: p.Y})
	}
	if distinct := domain.DistinctDates(points); distinct < 2 {
		return nil, fmt.Errorf("%w: %d distinct dates, need at least 2", domain.ErrInsufficientData, distinct)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].DS.Before(points[j].DS) })

	start, end := points[0].DS, points[len(points)-1].DS
	span := end.Sub(start).Hours() / 24

	m := &Model{
		Start:         start,
		End:           end,
		TScale:        span,
		YScale:        maxAbs(points),
		IntervalWidth: f.opts.IntervalWidth,
		NTrain:        len(points),
	}
	if span >= weeklyMinSpan {
		m.WeeklyOrder = f.opts.WeeklyOrder
	}
	if span >= yearlyMinSpan {
		m.YearlyOrder = f.opts.YearlyOrder
	}

	coef, err := m.solve(points, f.opts.SeasonalityPenalty)
	if err != nil {
		return nil, err
	}
	m.Coef = coef
	m.Sigma = m.residualSigma(points)
	m.Z = distuv.UnitNormal.Quantile(0.5 + f.opts.IntervalWidth/2)
	return m, nil
}

// solve computes ridge-regularized least squares on the scaled series. The
// penalty applies to seasonal coefficients only so the trend stays unbiased.
func (m *Model) solve(points []domain.TrainingPoint, penalty float64) ([]float64, error) {
	n, p := len(points), m.columns()
	X := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, pt := range points {
		X.SetRow(i, m.features(pt.DS))
		y.SetVec(i, pt.Y/m.YScale)
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	gram := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			gram.SetSym(i, j, xtx.At(i, j))
		}
	}
	for j := 2; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+penalty)
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, fmt.Errorf("fit: normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("fit: solve normal equations: %w", err)
	}
	return mat.Col(nil, 0, &beta), nil
}

// residualSigma is the residual standard deviation in original units, using
// the regression's residual degrees of freedom when there are any.
func (m *Model) residualSigma(points []domain.TrainingPoint) float64 {
	resid := make([]float64, len(points))
	for i, pt := range points {
		resid[i] = pt.Y - floats.Dot(m.features(pt.DS), m.Coef)*m.YScale
	}
	dof := max(len(points)-m.columns(), 1)
	return math.Sqrt(floats.Dot(resid, resid) / float64(dof))
}

func maxAbs(points []domain.TrainingPoint) float64 {
	var peak float64
	for _, p := range points {
		peak = math.Max(peak, math.Abs(p.Y))
	}
	if peak == 0 {
		return 1
	}
	return peak
}
