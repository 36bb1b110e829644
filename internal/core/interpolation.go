package core

import (
	"context"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/registry"
)

// InterpolationEstimator fills a gap from the nearest data at hand: the last
// point of the indicator's own series, or else the mean of the supplied
// indicators of the same dimension (dashboard values are normalized scores).
type InterpolationEstimator struct {
	catalog *registry.IndicatorCatalog
}

func NewInterpolationEstimator(catalog *registry.IndicatorCatalog) *InterpolationEstimator {
	return &InterpolationEstimator{catalog: catalog}
}

func (e *InterpolationEstimator) Estimate(_ context.Context, req model.EstimateRequest) (float64, float64, error) {
	if series := req.Data.Series(req.Indicator); len(series) > 0 {
		return series[len(series)-1].Value, req.BaseConfidence, nil
	}

	siblings := e.catalog.Siblings(req.Indicator)
	if len(siblings) == 0 {
		return 0, 0, model.EstimateUnavailable("indicator has no dimension siblings")
	}
	var sum float64
	var present int
	for _, k := range siblings {
		if v, ok := req.Data.Scalar(k); ok {
			sum += v
			present++
		}
	}
	if present == 0 {
		return 0, 0, model.EstimateUnavailable("no sibling indicator supplied")
	}
	share := float64(present) / float64(len(siblings))
	return sum / float64(present), req.BaseConfidence * share, nil
}
