package core

import (
	"indicator_service/internal/domain/model"
	"indicator_service/internal/registry"
)

// QualityAssessor scores how well the registered sources cover a set of
// indicators. It never fetches values.
type QualityAssessor struct {
	sources *registry.SourceRegistry
}

func NewQualityAssessor(sources *registry.SourceRegistry) *QualityAssessor {
	return &QualityAssessor{sources: sources}
}

// Assess returns per-indicator coverage and the mean best reliability.
// Repeated keys are assessed once.
func (a *QualityAssessor) Assess(indicators []model.IndicatorKey, loc *model.CityLocation) model.QualityAssessment {
	result := model.QualityAssessment{
		PerIndicator: make(map[model.IndicatorKey]model.IndicatorQuality, len(indicators)),
	}
	var total float64
	for _, key := range indicators {
		if _, seen := result.PerIndicator[key]; seen {
			continue
		}
		q := model.IndicatorQuality{}
		for _, d := range a.sources.FindSourcesFor(key, loc) {
			q.HasDirectSource = true
			if d.Reliability > q.BestReliability {
				q.BestReliability = d.Reliability
			}
		}
		q.CoverageGap = !q.HasDirectSource
		result.PerIndicator[key] = q
		total += q.BestReliability
	}
	if n := len(result.PerIndicator); n > 0 {
		result.OverallScore = total / float64(n)
	}
	return result
}
