package registry

import (
	"fmt"
	"sort"

	"indicator_service/internal/domain/model"
)

// SourceEntry binds source metadata to the capability that fetches values.
type SourceEntry struct {
	Descriptor model.DataSourceDescriptor
	Fetcher    model.Fetcher
}

type SourceRegistry struct {
	entries []SourceEntry
	byID    map[string]int
}

func NewSourceRegistry(catalog *IndicatorCatalog, entries ...SourceEntry) (*SourceRegistry, error) {
	r := &SourceRegistry{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		d := e.Descriptor
		if d.ID == "" {
			return nil, fmt.Errorf("source with empty id")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate source %q", d.ID)
		}
		if !d.Type.Valid() {
			return nil, fmt.Errorf("source %q: unknown type %q", d.ID, d.Type)
		}
		if d.Reliability < 0 || d.Reliability > 1 {
			return nil, fmt.Errorf("source %q: reliability %v outside [0,1]", d.ID, d.Reliability)
		}
		if d.IsActive && e.Fetcher == nil {
			return nil, fmt.Errorf("source %q: active source needs a fetcher", d.ID)
		}
		covered := make([]model.IndicatorKey, 0, len(d.CoveredIndicators))
		for _, k := range d.CoveredIndicators {
			k = model.NormalizeIndicatorKey(string(k))
			if catalog != nil && !catalog.Has(k) {
				return nil, fmt.Errorf("source %q: unknown indicator %q", d.ID, k)
			}
			covered = append(covered, k)
		}
		d.CoveredIndicators = covered
		r.byID[d.ID] = len(r.entries)
		r.entries = append(r.entries, SourceEntry{Descriptor: d, Fetcher: e.Fetcher})
	}
	return r, nil
}

// ListSources returns every source, inactive ones included, in registration order.
func (r *SourceRegistry) ListSources() []model.DataSourceDescriptor {
	out := make([]model.DataSourceDescriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// FindSourcesFor returns the active sources covering indicator that can answer
// for loc, most reliable first. Equal reliability keeps registration order.
func (r *SourceRegistry) FindSourcesFor(indicator model.IndicatorKey, loc *model.CityLocation) []model.DataSourceDescriptor {
	var out []model.DataSourceDescriptor
	for _, e := range r.entries {
		d := e.Descriptor
		if d.IsActive && d.Covers(indicator) && d.CompatibleWith(loc) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Reliability > out[j].Reliability
	})
	return out
}

func (r *SourceRegistry) Fetcher(id string) (model.Fetcher, bool) {
	i, ok := r.byID[id]
	if !ok || r.entries[i].Fetcher == nil {
		return nil, false
	}
	return r.entries[i].Fetcher, true
}

type SourceStats struct {
	TotalSources  int                `json:"totalSources"`
	ActiveSources int                `json:"activeSources"`
	SourceTypes   []model.SourceType `json:"sourceTypes"`
}

func (r *SourceRegistry) Stats() SourceStats {
	stats := SourceStats{TotalSources: len(r.entries), SourceTypes: []model.SourceType{}}
	seen := make(map[model.SourceType]bool)
	for _, e := range r.entries {
		if e.Descriptor.IsActive {
			stats.ActiveSources++
		}
		if !seen[e.Descriptor.Type] {
			seen[e.Descriptor.Type] = true
			stats.SourceTypes = append(stats.SourceTypes, e.Descriptor.Type)
		}
	}
	sort.Slice(stats.SourceTypes, func(i, j int) bool {
		return stats.SourceTypes[i] < stats.SourceTypes[j]
	})
	return stats
}
