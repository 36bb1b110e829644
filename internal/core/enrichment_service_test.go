package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"indicator_service/internal/domain/model"
	"indicator_service/internal/registry"
)

const gdp = model.IndicatorKey("city_product_per_capita")

func TestCallerSuppliedValueWins(t *testing.T) {
	fetcher := &fakeFetcher{value: 10}
	estimator := &fakeEstimator{value: 20}
	cache := newMemoryCache()
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.9, fetcher, gdp)},
		[]registry.ModelEntry{modelEntry("peer", model.StrategyPeerCityRegression, 0.6, estimator)},
		Options{Cache: cache},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), "City Product Per Capita", berlin,
		model.ExistingData{"city_product_per_capita": {Value: ptr(41250)}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 41250.0, *got.Value)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, model.Provenance{Kind: model.ProvenanceSource, ID: model.CallerSuppliedID}, *got.Provenance)
	assert.Zero(t, fetcher.calls.Load())
	assert.Zero(t, estimator.calls.Load())
	assert.Zero(t, cache.sets)
}

func TestSourceBeatsModel(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.9, &fakeFetcher{value: 38000}, gdp)},
		[]registry.ModelEntry{modelEntry("peer", model.StrategyPeerCityRegression, 0.6, &fakeEstimator{value: 30000})},
		Options{},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), berlin, model.ExistingData{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 38000.0, *got.Value)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, model.ProvenanceSource, got.Provenance.Kind)
	assert.Equal(t, "census", got.Provenance.ID)
}

func TestFailedSourceFallsBackToModel(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.9, &fakeFetcher{err: errors.New("503")}, gdp)},
		[]registry.ModelEntry{modelEntry("peer", model.StrategyPeerCityRegression, 0.6, &fakeEstimator{value: 30000, confidence: 0.45})},
		Options{},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), berlin, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 30000.0, *got.Value)
	assert.LessOrEqual(t, got.Confidence, 0.6)
	assert.Equal(t, model.ProvenanceModel, got.Provenance.Kind)
	assert.Equal(t, "peer", got.Provenance.ID)
}

func TestSourcesFallThroughInReliabilityOrder(t *testing.T) {
	best := &fakeFetcher{err: model.SourceUnavailable("best", nil)}
	panicky := &fakeFetcher{panic: true}
	nan := &fakeFetcher{value: math.NaN()}
	last := &fakeFetcher{value: 7}
	svc := newService(t,
		[]registry.SourceEntry{
			sourceEntry("last", 0.3, last, gdp),
			sourceEntry("best", 0.95, best, gdp),
			sourceEntry("panicky", 0.8, panicky, gdp),
			sourceEntry("nan", 0.5, nan, gdp),
		},
		nil,
		Options{},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "last", got.Provenance.ID)
	assert.Equal(t, 0.3, got.Confidence)
	for _, f := range []*fakeFetcher{best, panicky, nan, last} {
		assert.Equal(t, int32(1), f.calls.Load())
	}
}

func TestTimedOutSourceFallsThrough(t *testing.T) {
	slow := &fakeFetcher{value: 1, delay: time.Second}
	fast := &fakeFetcher{value: 2}
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("slow", 0.9, slow, gdp), sourceEntry("fast", 0.5, fast, gdp)},
		nil,
		Options{SourceTimeout: 20 * time.Millisecond},
	)

	start := time.Now()
	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fast", got.Provenance.ID)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestUnresolvableReturnsNil(t *testing.T) {
	svc := newService(t, nil, nil, Options{})

	got, err := svc.GetEnhancedIndicatorData(context.Background(), "gini_coefficient", berlin, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAllModelsFailingReturnsNil(t *testing.T) {
	svc := newService(t, nil,
		[]registry.ModelEntry{
			modelEntry("a", model.StrategySectorCorrelation, 0.5, &fakeEstimator{err: model.EstimateUnavailable("no")}),
			modelEntry("b", model.StrategySimpleInterpolation, 0.3, &fakeEstimator{err: errors.New("bug")}),
		},
		Options{},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), "gini_coefficient", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFirstSucceedingModelWins(t *testing.T) {
	high := &fakeEstimator{err: model.EstimateUnavailable("sparse")}
	mid := &fakeEstimator{value: 0.41}
	low := &fakeEstimator{value: 0.5}
	svc := newService(t, nil,
		[]registry.ModelEntry{
			modelEntry("low", model.StrategySimpleInterpolation, 0.2, low),
			modelEntry("high", model.StrategySectorCorrelation, 0.7, high),
			modelEntry("mid", model.StrategySectorCorrelation, 0.5, mid),
		},
		Options{},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), "gini_coefficient", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mid", got.Provenance.ID)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Zero(t, low.calls.Load())
}

func TestModelConfidenceIsClamped(t *testing.T) {
	svc := newService(t, nil,
		[]registry.ModelEntry{modelEntry("boastful", model.StrategySectorCorrelation, 0.4, &fakeEstimator{value: 1, confidence: 0.99})},
		Options{},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), "gini_coefficient", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.4, got.Confidence)
}

func TestUnknownIndicatorIsValidationError(t *testing.T) {
	svc := newService(t, nil, nil, Options{})

	_, err := svc.GetEnhancedIndicatorData(context.Background(), "happiness", nil, nil)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	_, err = svc.GetEnhancedIndicatorData(context.Background(), "gini_coefficient", &model.CityLocation{Latitude: 100}, nil)
	assert.True(t, model.IsValidation(err))
}

func TestCacheReadThrough(t *testing.T) {
	fetcher := &fakeFetcher{value: 12}
	cache := newMemoryCache()
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, fetcher, gdp)},
		nil,
		Options{Cache: cache},
	)

	for i := 0; i < 3; i++ {
		got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), berlin, nil)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 12.0, *got.Value)
		assert.Equal(t, "census", got.Provenance.ID)
	}
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, cache.sets)
}

func TestCachedValueOutsideCoverageIsNotServed(t *testing.T) {
	local := sourceEntry("berlin-open-data", 0.9, &fakeFetcher{value: 1}, gdp)
	local.Descriptor.LocationScoped = true
	local.Descriptor.Coverage = &model.Bounds{MinLat: 52.3, MinLon: 13.0, MaxLat: 52.7, MaxLon: 13.40}
	national := &fakeFetcher{value: 2}

	svc := newService(t,
		[]registry.SourceEntry{local, sourceEntry("census", 0.5, national, gdp)},
		nil,
		Options{Cache: newMemoryCache()},
	)

	// Same 0.1 degree bucket, one inside the local coverage and one outside.
	inside := &model.CityLocation{Latitude: 52.52, Longitude: 13.38}
	outside := &model.CityLocation{Latitude: 52.52, Longitude: 13.43}
	require.Equal(t, inside.Bucket(), outside.Bucket())

	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), inside, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "berlin-open-data", got.Provenance.ID)

	got, err = svc.GetEnhancedIndicatorData(context.Background(), string(gdp), outside, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "census", got.Provenance.ID)
	assert.Equal(t, 2.0, *got.Value)
	assert.Equal(t, int32(1), national.calls.Load())
}

func TestCacheErrorsAreIgnored(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{value: 12}, gdp)},
		nil,
		Options{Cache: failingCache{}},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 12.0, *got.Value)
}

func TestRecorderSkipsCallerSuppliedAndSurvivesErrors(t *testing.T) {
	rec := &recordingRecorder{err: errors.New("db down")}
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{value: 12}, gdp)},
		nil,
		Options{Recorder: rec},
	)

	got, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = svc.GetEnhancedIndicatorData(context.Background(), string(gdp), nil,
		model.ExistingData{gdp: {Value: ptr(1)}})
	require.NoError(t, err)

	require.Len(t, rec.values, 1)
	assert.Equal(t, "census", rec.values[0].Provenance.ID)
}

func TestCancelledContextIsAnError(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{value: 12}, gdp)},
		nil,
		Options{},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetEnhancedIndicatorData(ctx, string(gdp), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, model.IsValidation(err))
}

func TestDeadlineDuringFetchIsAnError(t *testing.T) {
	slow := func() []registry.SourceEntry {
		return []registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{value: 12, delay: time.Second}, gdp)}
	}

	t.Run("enrich", func(t *testing.T) {
		svc := newService(t, slow(), nil, Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		got, err := svc.GetEnhancedIndicatorData(ctx, string(gdp), nil, nil)
		require.Error(t, err)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, model.IsValidation(err))
	})

	t.Run("impute", func(t *testing.T) {
		svc := newService(t, slow(), nil, Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		res, err := svc.FillMissingData(ctx, []string{string(gdp)}, model.ExistingData{}, nil)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestCollidingExistingDataKeysAreRejected(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{value: 12}, gdp)},
		nil,
		Options{},
	)
	data := model.ExistingData{
		"City Product Per Capita": {Value: ptr(1)},
		"city_product_per_capita": {Value: ptr(2)},
	}

	_, err := svc.GetEnhancedIndicatorData(context.Background(), string(gdp), nil, data)
	assert.True(t, model.IsValidation(err))

	_, err = svc.FillMissingData(context.Background(), []string{"gini_coefficient"}, data, nil)
	assert.True(t, model.IsValidation(err))
}

func TestFillMissingData(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.9, &fakeFetcher{value: 38000}, gdp)},
		[]registry.ModelEntry{modelEntry("interp", model.StrategySimpleInterpolation, 0.3, NewInterpolationEstimator(catalog(t)))},
		Options{ImputeConcurrency: 2},
	)

	available := model.ExistingData{
		"poverty_rate": {Value: ptr(12)},
		"Life Expectancy": {Value: ptr(81)},
	}
	res, err := svc.FillMissingData(context.Background(),
		[]string{"city_product_per_capita", "gini_coefficient", "voter_turnout", "life_expectancy"},
		available, nil)
	require.NoError(t, err)

	assert.Equal(t, 38000.0, *res.Predictions[gdp])
	assert.Equal(t, 12.0, *res.Predictions["gini_coefficient"])
	assert.Nil(t, res.Predictions["voter_turnout"])
	assert.Equal(t, 81.0, *res.Predictions["life_expectancy"])
	assert.Equal(t, model.PredictionSummary{Total: 4, Predicted: 3, Failed: 1}, res.Summary)

	assert.Equal(t, model.ProvenanceModel, res.Details["gini_coefficient"].Provenance.Kind)
	assert.Nil(t, res.Details["voter_turnout"].Provenance)
	assert.Zero(t, res.Details["voter_turnout"].Confidence)
}

func TestFillMissingDataValidation(t *testing.T) {
	svc := newService(t, nil, nil, Options{})
	ctx := context.Background()

	_, err := svc.FillMissingData(ctx, nil, model.ExistingData{}, nil)
	assert.True(t, model.IsValidation(err))

	_, err = svc.FillMissingData(ctx, []string{"gini_coefficient"}, nil, nil)
	assert.True(t, model.IsValidation(err))

	_, err = svc.FillMissingData(ctx, []string{"gini_coefficient", "nonsense"}, model.ExistingData{}, nil)
	assert.True(t, model.IsValidation(err))

	_, err = svc.FillMissingData(ctx, []string{"gini_coefficient", "Gini Coefficient"}, model.ExistingData{}, nil)
	assert.True(t, model.IsValidation(err))

	res, err := svc.FillMissingData(ctx, []string{"gini_coefficient"}, model.ExistingData{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PredictionSummary{Total: 1, Predicted: 0, Failed: 1}, res.Summary)
}

func TestFillMissingDataSummaryInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	all := registry.DefaultIndicators()

	properties.Property("predicted + failed == total == len(missing)", prop.ForAll(
		func(answering []bool) bool {
			var sources []registry.SourceEntry
			var missing []string
			for i, ok := range answering {
				if i >= len(all) {
					break
				}
				key := all[i].Key
				missing = append(missing, string(key))
				var f *fakeFetcher
				if ok {
					f = &fakeFetcher{value: float64(i)}
				} else {
					f = &fakeFetcher{err: errors.New("down")}
				}
				sources = append(sources, sourceEntry("src-"+string(key), 0.5, f, key))
			}
			if len(missing) == 0 {
				return true
			}
			c := catalog(t)
			sr, err := registry.NewSourceRegistry(c, sources...)
			if err != nil {
				return false
			}
			mr, _ := registry.NewModelRegistry(c)
			svc := NewEnrichmentService(c, sr, mr, Options{ImputeConcurrency: 3}, zap.NewNop())

			res, err := svc.FillMissingData(context.Background(), missing, model.ExistingData{}, nil)
			if err != nil {
				return false
			}
			want := 0
			for i := range missing {
				if answering[i] {
					want++
				}
			}
			s := res.Summary
			return s.Total == len(missing) && s.Predicted+s.Failed == s.Total && s.Predicted == want
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestAssessDataQualityExample(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{}, "literacy_rate")},
		nil,
		Options{},
	)

	got, err := svc.AssessDataQuality([]string{"literacy_rate", "gini_coefficient"}, berlin)
	require.NoError(t, err)

	assert.Equal(t, model.IndicatorQuality{HasDirectSource: true, BestReliability: 0.8}, got.PerIndicator["literacy_rate"])
	assert.True(t, got.PerIndicator["gini_coefficient"].CoverageGap)
	assert.InDelta(t, 0.4, got.OverallScore, 1e-9)

	again, err := svc.AssessDataQuality([]string{"literacy_rate", "gini_coefficient"}, berlin)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestAssessDataQualityNeverFetches(t *testing.T) {
	f := &fakeFetcher{value: 1}
	svc := newService(t, []registry.SourceEntry{sourceEntry("census", 0.8, f, "literacy_rate")}, nil, Options{})

	_, err := svc.AssessDataQuality([]string{"literacy_rate"}, nil)
	require.NoError(t, err)
	assert.Zero(t, f.calls.Load())

	_, err = svc.AssessDataQuality(nil, nil)
	assert.True(t, model.IsValidation(err))
	_, err = svc.AssessDataQuality([]string{"bogus"}, nil)
	assert.True(t, model.IsValidation(err))
}

func TestListings(t *testing.T) {
	svc := newService(t,
		[]registry.SourceEntry{sourceEntry("census", 0.8, &fakeFetcher{}, "literacy_rate")},
		[]registry.ModelEntry{modelEntry("trend", model.StrategyTrendExtrapolation, 0.7, TrendEstimator{})},
		Options{},
	)
	sources, sstats := svc.ListSources()
	assert.Len(t, sources, 1)
	assert.Equal(t, 1, sstats.ActiveSources)

	models, mstats := svc.ListModels()
	assert.Len(t, models, 1)
	assert.Equal(t, []model.ModelStrategy{model.StrategyTrendExtrapolation}, mstats.Strategies)
	assert.NotEmpty(t, svc.Indicators())
}
