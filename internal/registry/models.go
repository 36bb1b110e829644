package registry

import (
	"fmt"
	"sort"

	"indicator_service/internal/domain/model"
)

// ModelEntry binds model metadata to the estimator that runs it.
type ModelEntry struct {
	Descriptor model.PredictionModelDescriptor
	Estimator  model.Estimator
}

type ModelRegistry struct {
	entries []ModelEntry
	byID    map[string]int
}

func NewModelRegistry(catalog *IndicatorCatalog, entries ...ModelEntry) (*ModelRegistry, error) {
	r := &ModelRegistry{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		d := e.Descriptor
		if d.ID == "" {
			return nil, fmt.Errorf("model with empty id")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate model %q", d.ID)
		}
		if !d.Strategy.Valid() {
			return nil, fmt.Errorf("model %q: unknown strategy %q", d.ID, d.Strategy)
		}
		if d.BaseConfidence < 0 || d.BaseConfidence > 1 {
			return nil, fmt.Errorf("model %q: base confidence %v outside [0,1]", d.ID, d.BaseConfidence)
		}
		if e.Estimator == nil {
			return nil, fmt.Errorf("model %q: estimator is required", d.ID)
		}
		scoped := make([]model.IndicatorKey, 0, len(d.Indicators))
		for _, k := range d.Indicators {
			k = model.NormalizeIndicatorKey(string(k))
			if catalog != nil && !catalog.Has(k) {
				return nil, fmt.Errorf("model %q: unknown indicator %q", d.ID, k)
			}
			scoped = append(scoped, k)
		}
		d.Indicators = scoped
		r.byID[d.ID] = len(r.entries)
		r.entries = append(r.entries, ModelEntry{Descriptor: d, Estimator: e.Estimator})
	}
	return r, nil
}

func (r *ModelRegistry) ListModels() []model.PredictionModelDescriptor {
	out := make([]model.PredictionModelDescriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// ApplicableModels returns the models that can run with the given inputs,
// highest base confidence first, registration order on ties.
func (r *ModelRegistry) ApplicableModels(indicator model.IndicatorKey, loc *model.CityLocation, hasHistoricalSeries bool) []model.PredictionModelDescriptor {
	var out []model.PredictionModelDescriptor
	for _, e := range r.entries {
		d := e.Descriptor
		if d.RequiresLocation && loc == nil {
			continue
		}
		if d.RequiresHistoricalSeries && !hasHistoricalSeries {
			continue
		}
		if !d.AppliesTo(indicator) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BaseConfidence > out[j].BaseConfidence
	})
	return out
}

func (r *ModelRegistry) Estimator(id string) (model.Estimator, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.entries[i].Estimator, true
}

type ModelStats struct {
	TotalModels int                   `json:"totalModels"`
	Strategies  []model.ModelStrategy `json:"strategies"`
}

func (r *ModelRegistry) Stats() ModelStats {
	stats := ModelStats{TotalModels: len(r.entries), Strategies: []model.ModelStrategy{}}
	seen := make(map[model.ModelStrategy]bool)
	for _, e := range r.entries {
		if !seen[e.Descriptor.Strategy] {
			seen[e.Descriptor.Strategy] = true
			stats.Strategies = append(stats.Strategies, e.Descriptor.Strategy)
		}
	}
	sort.Slice(stats.Strategies, func(i, j int) bool {
		return stats.Strategies[i] < stats.Strategies[j]
	})
	return stats
}
