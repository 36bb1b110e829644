package model

import "context"

// Fetcher is the capability every registered source wraps. Failures must wrap
// ErrSourceUnavailable; they are never surfaced to callers.
type Fetcher interface {
	Fetch(ctx context.Context, indicator IndicatorKey, loc *CityLocation) (float64, error)
}

// EstimateRequest carries everything a prediction model may look at.
type EstimateRequest struct {
	Indicator      IndicatorKey
	Location       *CityLocation
	Data           ExistingData
	BaseConfidence float64
}

// Estimator is the capability every registered prediction model implements.
// The returned confidence must not exceed req.BaseConfidence; failures wrap
// ErrEstimateUnavailable.
type Estimator interface {
	Estimate(ctx context.Context, req EstimateRequest) (value float64, confidence float64, err error)
}

// PeerCity is a reference city with known indicator values.
type PeerCity struct {
	Name     string                   `json:"name" yaml:"name"`
	Location CityLocation             `json:"location" yaml:"location"`
	Values   map[IndicatorKey]float64 `json:"values" yaml:"values"`
}

// PeerProvider lists peer cities that report a given indicator.
type PeerProvider interface {
	PeersFor(ctx context.Context, indicator IndicatorKey) ([]PeerCity, error)
}

// EnrichmentRecorder persists resolved values for audit.
type EnrichmentRecorder interface {
	RecordEnrichment(ctx context.Context, value EnrichedValue, loc *CityLocation) error
}
