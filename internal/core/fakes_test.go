package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/registry"
)

type fakeFetcher struct {
	value float64
	err   error
	delay time.Duration
	panic bool
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ model.IndicatorKey, _ *model.CityLocation) (float64, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.value, f.err
}

type fakeEstimator struct {
	value      float64
	confidence float64
	err        error
	calls      atomic.Int32
}

func (e *fakeEstimator) Estimate(_ context.Context, req model.EstimateRequest) (float64, float64, error) {
	e.calls.Add(1)
	if e.err != nil {
		return 0, 0, e.err
	}
	conf := e.confidence
	if conf == 0 {
		conf = req.BaseConfidence
	}
	return e.value, conf, nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]model.EnrichedValue
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]model.EnrichedValue)}
}

func (c *memoryCache) Get(_ context.Context, key string) (model.EnrichedValue, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, v model.EnrichedValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
	c.sets++
	return nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (model.EnrichedValue, bool, error) {
	return model.EnrichedValue{}, false, errors.New("connection refused")
}

func (failingCache) Set(context.Context, string, model.EnrichedValue) error {
	return errors.New("connection refused")
}

type recordingRecorder struct {
	mu     sync.Mutex
	values []model.EnrichedValue
	err    error
}

func (r *recordingRecorder) RecordEnrichment(_ context.Context, v model.EnrichedValue, _ *model.CityLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
	return r.err
}

func catalog(t *testing.T) *registry.IndicatorCatalog {
	t.Helper()
	c, err := registry.NewIndicatorCatalog(registry.DefaultIndicators()...)
	require.NoError(t, err)
	return c
}

func sourceEntry(id string, rel float64, f model.Fetcher, keys ...model.IndicatorKey) registry.SourceEntry {
	return registry.SourceEntry{
		Descriptor: model.DataSourceDescriptor{
			ID:                id,
			DisplayName:       id,
			Type:              model.SourceGovernmentStatistic,
			Reliability:       rel,
			CoveredIndicators: keys,
			IsActive:          true,
		},
		Fetcher: f,
	}
}

func modelEntry(id string, strategy model.ModelStrategy, base float64, e model.Estimator) registry.ModelEntry {
	return registry.ModelEntry{
		Descriptor: model.PredictionModelDescriptor{
			ID:             id,
			DisplayName:    id,
			Strategy:       strategy,
			BaseConfidence: base,
		},
		Estimator: e,
	}
}

func newService(t *testing.T, sources []registry.SourceEntry, models []registry.ModelEntry, opts Options) *EnrichmentService {
	t.Helper()
	c := catalog(t)
	sr, err := registry.NewSourceRegistry(c, sources...)
	require.NoError(t, err)
	mr, err := registry.NewModelRegistry(c, models...)
	require.NoError(t, err)
	return NewEnrichmentService(c, sr, mr, opts, zaptest.NewLogger(t))
}

func ptr(v float64) *float64 { return &v }

var berlin = &model.CityLocation{Latitude: 52.52, Longitude: 13.405}
