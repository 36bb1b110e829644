package core

import (
	"context"
	"math"

	"indicator_service/internal/domain/model"
)

// Correlation is a linear relation target = Intercept + Slope*predictor with
// Pearson coefficient R, fitted offline across cities.
type Correlation struct {
	Target    model.IndicatorKey `yaml:"target" json:"target"`
	Predictor model.IndicatorKey `yaml:"predictor" json:"predictor"`
	Slope     float64            `yaml:"slope" json:"slope"`
	Intercept float64            `yaml:"intercept" json:"intercept"`
	R         float64            `yaml:"r" json:"r"`
}

// CorrelationEstimator derives an indicator from a correlated one the caller
// already has, using the strongest available relation.
type CorrelationEstimator struct {
	relations []Correlation
}

func NewCorrelationEstimator(relations []Correlation) *CorrelationEstimator {
	normalized := make([]Correlation, len(relations))
	for i, c := range relations {
		c.Target = model.NormalizeIndicatorKey(string(c.Target))
		c.Predictor = model.NormalizeIndicatorKey(string(c.Predictor))
		normalized[i] = c
	}
	return &CorrelationEstimator{relations: normalized}
}

func (e *CorrelationEstimator) Estimate(_ context.Context, req model.EstimateRequest) (float64, float64, error) {
	var best *Correlation
	var input float64
	for i := range e.relations {
		c := &e.relations[i]
		if c.Target != req.Indicator || c.Predictor == req.Indicator {
			continue
		}
		x, ok := req.Data.Scalar(c.Predictor)
		if !ok {
			continue
		}
		if best == nil || math.Abs(c.R) > math.Abs(best.R) {
			best, input = c, x
		}
	}
	if best == nil {
		return 0, 0, model.EstimateUnavailable("no correlated indicator supplied")
	}
	return best.Intercept + best.Slope*input, req.BaseConfidence * math.Min(1, math.Abs(best.R)), nil
}
