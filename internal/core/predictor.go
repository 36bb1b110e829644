package core

import (
	"context"

	"go.uber.org/zap"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/metrics"
	"indicator_service/internal/registry"
)

// Predictor estimates a value when no source answered. Applicable models run
// in descending base confidence; the first one that does not fail wins.
type Predictor struct {
	models  *registry.ModelRegistry
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPredictor(models *registry.ModelRegistry, m *metrics.Metrics, logger *zap.Logger) *Predictor {
	return &Predictor{
		models:  models,
		metrics: m,
		logger:  logger.Named("predictor"),
	}
}

func (p *Predictor) Predict(ctx context.Context, req Request) (model.Outcome, error) {
	applicable := p.models.ApplicableModels(req.Indicator, req.Location, req.Data.HasSeries(req.Indicator))
	if len(applicable) == 0 {
		return model.NotFound(), nil
	}

	attempts := make([]Resolvable, 0, len(applicable))
	for _, d := range applicable {
		estimator, ok := p.models.Estimator(d.ID)
		if !ok {
			continue
		}
		attempts = append(attempts, modelAttempt{desc: d, estimator: estimator, metrics: p.metrics, logger: p.logger})
	}
	return runChain(ctx, p.logger, req, attempts)
}
