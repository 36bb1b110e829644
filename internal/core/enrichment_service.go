package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/metrics"
	"indicator_service/internal/registry"
)

const defaultImputeConcurrency = 8

type Options struct {
	// SourceTimeout bounds every single source fetch; zero means no bound.
	SourceTimeout time.Duration
	// ImputeConcurrency caps parallel resolutions in FillMissingData.
	ImputeConcurrency int
	Cache             Cache
	Recorder          model.EnrichmentRecorder
	Metrics           *metrics.Metrics
}

// EnrichmentService resolves indicator values from sources, falls back to
// prediction models, and reports confidence and provenance for each value.
type EnrichmentService struct {
	catalog     *registry.IndicatorCatalog
	sources     *registry.SourceRegistry
	models      *registry.ModelRegistry
	resolver    *SourceResolver
	predictor   *Predictor
	assessor    *QualityAssessor
	recorder    model.EnrichmentRecorder
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewEnrichmentService(
	catalog *registry.IndicatorCatalog,
	sources *registry.SourceRegistry,
	models *registry.ModelRegistry,
	opts Options,
	logger *zap.Logger,
) *EnrichmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := opts.ImputeConcurrency
	if concurrency <= 0 {
		concurrency = defaultImputeConcurrency
	}
	return &EnrichmentService{
		catalog:     catalog,
		sources:     sources,
		models:      models,
		resolver:    NewSourceResolver(sources, opts.Cache, opts.SourceTimeout, opts.Metrics, logger),
		predictor:   NewPredictor(models, opts.Metrics, logger),
		assessor:    NewQualityAssessor(sources),
		recorder:    opts.Recorder,
		concurrency: concurrency,
		metrics:     opts.Metrics,
		logger:      logger.Named("enrichment"),
	}
}

// GetEnhancedIndicatorData returns the best available value for one indicator.
// A nil value with a nil error means nothing could be collected or predicted.
func (s *EnrichmentService) GetEnhancedIndicatorData(
	ctx context.Context,
	indicatorName string,
	loc *model.CityLocation,
	existing model.ExistingData,
) (*model.EnrichedValue, error) {
	key, err := s.catalog.Resolve(indicatorName)
	if err != nil {
		return nil, err
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	data, err := existing.Normalized("existingData")
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, key, loc, data)
}

func (s *EnrichmentService) enrich(
	ctx context.Context,
	key model.IndicatorKey,
	loc *model.CityLocation,
	data model.ExistingData,
) (*model.EnrichedValue, error) {
	req := Request{Indicator: key, Location: loc, Data: data}

	out, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s from sources: %w", key, err)
	}
	if !out.IsFound() {
		out, err = s.predictor.Predict(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to predict %s: %w", key, err)
		}
	}
	if !out.IsFound() {
		// The chain also skips attempts cut short by ctx.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("failed to enrich %s: %w", key, err)
		}
		s.metrics.ObserveEnrichment("")
		s.logger.Debug("Indicator unresolvable",
			zap.String("indicator", string(key)),
			zap.Bool("has_location", loc != nil))
		return nil, nil
	}

	value := out.Value(key)
	s.metrics.ObserveEnrichment(string(value.Provenance.Kind))
	s.record(ctx, value, loc)
	return &value, nil
}

func (s *EnrichmentService) record(ctx context.Context, value model.EnrichedValue, loc *model.CityLocation) {
	if s.recorder == nil || value.Provenance == nil || value.Provenance.ID == model.CallerSuppliedID {
		return
	}
	if err := s.recorder.RecordEnrichment(ctx, value, loc); err != nil {
		s.logger.Warn("Failed to record enrichment",
			zap.String("indicator", string(value.Indicator)),
			zap.Error(err))
	}
}

// FillMissingData resolves every missing indicator independently. An
// indicator that cannot be resolved is reported as nil and counted as failed;
// it never aborts the batch.
func (s *EnrichmentService) FillMissingData(
	ctx context.Context,
	missingIndicators []string,
	availableData model.ExistingData,
	loc *model.CityLocation,
) (*model.ImputationResult, error) {
	if len(missingIndicators) == 0 {
		return nil, model.NewValidationError("missingIndicators", "must contain at least one indicator")
	}
	if availableData == nil {
		return nil, model.NewValidationError("availableData", "must be an object")
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}

	keys := make([]model.IndicatorKey, len(missingIndicators))
	seen := make(map[model.IndicatorKey]bool, len(missingIndicators))
	for i, name := range missingIndicators {
		key, err := s.catalog.Resolve(name)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			return nil, model.NewValidationError("missingIndicators", fmt.Sprintf("duplicate indicator %q", key))
		}
		seen[key] = true
		keys[i] = key
	}

	data, err := availableData.Normalized("availableData")
	if err != nil {
		return nil, err
	}
	results := make([]model.EnrichedValue, len(keys))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			v, err := s.enrich(ctx, key, loc, data)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				s.logger.Error("Imputation failed for indicator",
					zap.String("indicator", string(key)),
					zap.Bool("has_location", loc != nil),
					zap.String("stage", "impute"),
					zap.Error(err))
				results[i] = model.Unresolved(key)
			case v == nil:
				results[i] = model.Unresolved(key)
			default:
				results[i] = *v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("imputation interrupted: %w", err)
	}

	result := &model.ImputationResult{
		Predictions: make(map[model.IndicatorKey]*float64, len(keys)),
		Details:     make(map[model.IndicatorKey]model.EnrichedValue, len(keys)),
	}
	for _, v := range results {
		result.Predictions[v.Indicator] = v.Value
		result.Details[v.Indicator] = v
	}
	result.Summary = model.Summarize(result.Predictions)
	return result, nil
}

// AssessDataQuality is a cheap feasibility probe over the source registry.
func (s *EnrichmentService) AssessDataQuality(indicatorNames []string, loc *model.CityLocation) (model.QualityAssessment, error) {
	if len(indicatorNames) == 0 {
		return model.QualityAssessment{}, model.NewValidationError("indicators", "at least one indicator is required")
	}
	if err := validateLocation(loc); err != nil {
		return model.QualityAssessment{}, err
	}
	keys := make([]model.IndicatorKey, 0, len(indicatorNames))
	for _, name := range indicatorNames {
		key, err := s.catalog.Resolve(name)
		if err != nil {
			return model.QualityAssessment{}, err
		}
		keys = append(keys, key)
	}
	return s.assessor.Assess(keys, loc), nil
}

func (s *EnrichmentService) ListSources() ([]model.DataSourceDescriptor, registry.SourceStats) {
	return s.sources.ListSources(), s.sources.Stats()
}

func (s *EnrichmentService) ListModels() ([]model.PredictionModelDescriptor, registry.ModelStats) {
	return s.models.ListModels(), s.models.Stats()
}

func (s *EnrichmentService) Indicators() []model.IndicatorDefinition {
	return s.catalog.List()
}

func validateLocation(loc *model.CityLocation) error {
	if loc == nil {
		return nil
	}
	return loc.Validate()
}
