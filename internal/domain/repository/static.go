package repository

import (
	"context"
	"fmt"

	"indicator_service/internal/domain/model"
)

// StaticSource serves fixed values from configuration, such as a published
// national statistic that changes once a year.
type StaticSource struct {
	id     string
	values map[model.IndicatorKey]float64
}

func NewStaticSource(id string, values map[model.IndicatorKey]float64) *StaticSource {
	normalized := make(map[model.IndicatorKey]float64, len(values))
	for k, v := range values {
		normalized[model.NormalizeIndicatorKey(string(k))] = v
	}
	return &StaticSource{id: id, values: normalized}
}

func (s *StaticSource) Fetch(_ context.Context, indicator model.IndicatorKey, _ *model.CityLocation) (float64, error) {
	v, ok := s.values[indicator]
	if !ok {
		return 0, model.SourceUnavailable(s.id, fmt.Errorf("no value for %s", indicator))
	}
	return v, nil
}
