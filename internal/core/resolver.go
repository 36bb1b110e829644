package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/metrics"
	"indicator_service/internal/registry"
)

// Cache is an optional read-through store for source answers, keyed by
// indicator and location bucket.
type Cache interface {
	Get(ctx context.Context, key string) (model.EnrichedValue, bool, error)
	Set(ctx context.Context, key string, value model.EnrichedValue) error
}

func cacheKey(indicator model.IndicatorKey, loc *model.CityLocation) string {
	return "enrich:" + string(indicator) + ":" + loc.Bucket()
}

// SourceResolver looks for an authoritative value: caller data first, then
// registered sources in reliability order.
type SourceResolver struct {
	sources *registry.SourceRegistry
	cache   Cache
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewSourceResolver(
	sources *registry.SourceRegistry,
	cache Cache,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SourceResolver {
	return &SourceResolver{
		sources: sources,
		cache:   cache,
		timeout: timeout,
		metrics: m,
		logger:  logger.Named("resolver"),
	}
}

func (r *SourceResolver) Resolve(ctx context.Context, req Request) (model.Outcome, error) {
	// Values the caller already has are never re-derived.
	if v, ok := req.Data.Scalar(req.Indicator); ok {
		return model.Found(model.EnrichedValue{
			Indicator:  req.Indicator,
			Value:      &v,
			Confidence: 1.0,
			Provenance: &model.Provenance{Kind: model.ProvenanceSource, ID: model.CallerSuppliedID},
		}), nil
	}

	candidates := r.sources.FindSourcesFor(req.Indicator, req.Location)
	if len(candidates) == 0 {
		return model.NotFound(), nil
	}

	key := cacheKey(req.Indicator, req.Location)
	if r.cache != nil {
		cached, hit, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		} else {
			r.metrics.ObserveCache(hit)
			// Buckets are coarser than coverage bounds: only serve entries
			// whose source still applies to this exact location.
			if hit && cached.Value != nil && cachedFromCandidate(cached, candidates) {
				cached.Indicator = req.Indicator
				return model.Found(cached), nil
			}
		}
	}

	attempts := make([]Resolvable, 0, len(candidates))
	for _, d := range candidates {
		fetcher, ok := r.sources.Fetcher(d.ID)
		if !ok {
			continue
		}
		attempts = append(attempts, sourceAttempt{desc: d, fetcher: fetcher, timeout: r.timeout, metrics: r.metrics})
	}

	out, err := runChain(ctx, r.logger, req, attempts)
	if err != nil || !out.IsFound() {
		return out, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, out.Value(req.Indicator)); err != nil {
			r.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func cachedFromCandidate(v model.EnrichedValue, candidates []model.DataSourceDescriptor) bool {
	if v.Provenance == nil {
		return false
	}
	for _, d := range candidates {
		if d.ID == v.Provenance.ID {
			return true
		}
	}
	return false
}
