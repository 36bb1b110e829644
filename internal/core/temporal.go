package core

import (
	"context"
	"math"
	"strconv"

	"indicator_service/internal/domain/model"
)

// TrendEstimator extrapolates the caller's historical series one period past
// its last point using a least-squares line.
type TrendEstimator struct{}

func (TrendEstimator) Estimate(_ context.Context, req model.EstimateRequest) (float64, float64, error) {
	series := req.Data.Series(req.Indicator)
	if len(series) < 2 {
		return 0, 0, model.EstimateUnavailable("trend needs at least two points")
	}

	xs := periodAxis(series)
	ys := make([]float64, len(series))
	for i, p := range series {
		ys[i] = p.Value
	}

	slope, intercept, r2, ok := fitLine(xs, ys)
	if !ok {
		return 0, 0, model.EstimateUnavailable("series periods do not vary")
	}

	// Next period, at the average spacing of the observed ones.
	n := len(xs)
	step := (xs[n-1] - xs[0]) / float64(n-1)
	next := xs[n-1] + step
	value := intercept + slope*next

	sparsity := math.Min(1, float64(n-1)/4)
	return value, req.BaseConfidence * r2 * sparsity, nil
}

// periodAxis uses numeric periods (years) when every period parses, and the
// point index otherwise.
func periodAxis(series []model.SeriesPoint) []float64 {
	xs := make([]float64, len(series))
	for i, p := range series {
		x, err := strconv.ParseFloat(p.Period, 64)
		if err != nil {
			for j := range xs {
				xs[j] = float64(j)
			}
			return xs
		}
		xs[i] = x
	}
	return xs
}

// fitLine returns the least-squares line through the points and its R².
// A flat series fits perfectly.
func fitLine(xs, ys []float64) (slope, intercept, r2 float64, ok bool) {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for i := range xs {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, 0, 0, false
	}

	slope = sxy / sxx
	intercept = meanY - slope*meanX
	if syy == 0 {
		return slope, intercept, 1, true
	}
	r2 = (sxy * sxy) / (sxx * syy)
	return slope, intercept, math.Max(0, math.Min(1, r2)), true
}
