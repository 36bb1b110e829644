package model

import (
	"fmt"
	"math"
	"strings"
)

// IndicatorKey names a registered city indicator, e.g. "city_product_per_capita".
type IndicatorKey string

// NormalizeIndicatorKey trims, lower-cases and joins words with underscores.
func NormalizeIndicatorKey(raw string) IndicatorKey {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return IndicatorKey(s)
}

// Dimension groups indicators the way the City Prosperity Index does.
type Dimension string

const (
	DimensionProductivity   Dimension = "productivity"
	DimensionInfrastructure Dimension = "infrastructure"
	DimensionQualityOfLife  Dimension = "quality_of_life"
	DimensionEquity         Dimension = "equity"
	DimensionEnvironment    Dimension = "environment"
	DimensionGovernance     Dimension = "governance"
)

type IndicatorDefinition struct {
	Key         IndicatorKey `json:"key" yaml:"key"`
	DisplayName string       `json:"displayName" yaml:"display_name"`
	Dimension   Dimension    `json:"dimension" yaml:"dimension"`
	Unit        string       `json:"unit,omitempty" yaml:"unit"`
}

// CityLocation is a WGS84 point. A nil *CityLocation means the caller sent none.
type CityLocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

func (l CityLocation) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) ||
		math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) {
		return NewValidationError("cityLocation", "coordinates must be finite numbers")
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return NewValidationError("cityLocation", "latitude out of range [-90, 90]")
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return NewValidationError("cityLocation", "longitude out of range [-180, 180]")
	}
	return nil
}

// Bucket rounds the location to 0.1 degree, roughly a city-sized cell.
func (l *CityLocation) Bucket() string {
	if l == nil {
		return "global"
	}
	return fmt.Sprintf("%.1f:%.1f", math.Round(l.Latitude*10)/10, math.Round(l.Longitude*10)/10)
}

type Bounds struct {
	MinLat float64 `json:"minLat" yaml:"min_lat"`
	MinLon float64 `json:"minLon" yaml:"min_lon"`
	MaxLat float64 `json:"maxLat" yaml:"max_lat"`
	MaxLon float64 `json:"maxLon" yaml:"max_lon"`
}

func (b Bounds) Contains(l CityLocation) bool {
	return l.Latitude >= b.MinLat && l.Latitude <= b.MaxLat &&
		l.Longitude >= b.MinLon && l.Longitude <= b.MaxLon
}

// BBox formats the bounds as "south,west,north,east" for Overpass queries.
func (b Bounds) BBox() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// AreaKm2 approximates the surface of the bounds, accounting for latitude.
func (b Bounds) AreaKm2() float64 {
	latMid := (b.MinLat + b.MaxLat) / 2 * math.Pi / 180
	dLat := b.MaxLat - b.MinLat
	dLon := b.MaxLon - b.MinLon

	// metres per degree
	kx := 111132.92 - 559.82*math.Cos(2*latMid)
	ky := 111412.84 * math.Cos(latMid)

	return math.Abs(dLat*kx*dLon*ky) / 1000000
}

// AroundLocation returns a square of roughly radiusKm around l.
func AroundLocation(l CityLocation, radiusKm float64) Bounds {
	dLat := radiusKm / 111.32
	cos := math.Cos(l.Latitude * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLon := radiusKm / (111.32 * cos)
	return Bounds{
		MinLat: math.Max(l.Latitude-dLat, -90),
		MinLon: math.Max(l.Longitude-dLon, -180),
		MaxLat: math.Min(l.Latitude+dLat, 90),
		MaxLon: math.Min(l.Longitude+dLon, 180),
	}
}

type SourceType string

const (
	SourceGovernmentStatistic SourceType = "GOVERNMENT_STATISTIC"
	SourceSatelliteDerived    SourceType = "SATELLITE_DERIVED"
	SourceCrowdSourced        SourceType = "CROWD_SOURCED"
	SourceSurvey              SourceType = "SURVEY"
	SourceDerivedAggregate    SourceType = "DERIVED_AGGREGATE"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceGovernmentStatistic, SourceSatelliteDerived, SourceCrowdSourced, SourceSurvey, SourceDerivedAggregate:
		return true
	}
	return false
}

// DataSourceDescriptor is the static metadata of a registered source.
type DataSourceDescriptor struct {
	ID                string         `json:"id"`
	DisplayName       string         `json:"displayName"`
	Type              SourceType     `json:"type"`
	Reliability       float64        `json:"reliability"`
	CoveredIndicators []IndicatorKey `json:"coveredIndicators"`
	IsActive          bool           `json:"isActive"`
	// LocationScoped sources answer only for a concrete location, optionally
	// restricted to Coverage.
	LocationScoped bool    `json:"locationScoped"`
	Coverage       *Bounds `json:"coverage,omitempty"`
}

func (d DataSourceDescriptor) Covers(indicator IndicatorKey) bool {
	for _, k := range d.CoveredIndicators {
		if k == indicator {
			return true
		}
	}
	return false
}

// CompatibleWith reports whether the source can answer for loc.
func (d DataSourceDescriptor) CompatibleWith(loc *CityLocation) bool {
	if !d.LocationScoped {
		return true
	}
	if loc == nil {
		return false
	}
	return d.Coverage == nil || d.Coverage.Contains(*loc)
}

type ModelStrategy string

const (
	StrategyTrendExtrapolation  ModelStrategy = "TREND_EXTRAPOLATION"
	StrategyPeerCityRegression  ModelStrategy = "PEER_CITY_REGRESSION"
	StrategySectorCorrelation   ModelStrategy = "SECTOR_CORRELATION"
	StrategySimpleInterpolation ModelStrategy = "SIMPLE_INTERPOLATION"
)

func (s ModelStrategy) Valid() bool {
	switch s {
	case StrategyTrendExtrapolation, StrategyPeerCityRegression, StrategySectorCorrelation, StrategySimpleInterpolation:
		return true
	}
	return false
}

type PredictionModelDescriptor struct {
	ID                       string        `json:"id"`
	DisplayName              string        `json:"displayName"`
	Strategy                 ModelStrategy `json:"strategy"`
	RequiresLocation         bool          `json:"requiresLocation"`
	RequiresHistoricalSeries bool          `json:"requiresHistoricalSeries"`
	BaseConfidence           float64       `json:"baseConfidence"`
	// Indicators limits the model to the listed keys; empty means all.
	Indicators []IndicatorKey `json:"indicators,omitempty"`
}

func (d PredictionModelDescriptor) AppliesTo(indicator IndicatorKey) bool {
	if len(d.Indicators) == 0 {
		return true
	}
	for _, k := range d.Indicators {
		if k == indicator {
			return true
		}
	}
	return false
}

type ProvenanceKind string

const (
	ProvenanceSource ProvenanceKind = "SOURCE"
	ProvenanceModel  ProvenanceKind = "MODEL"
)

// CallerSuppliedID marks values the caller already had.
const CallerSuppliedID = "caller-supplied"

type Provenance struct {
	Kind ProvenanceKind `json:"kind"`
	ID   string         `json:"id"`
}

// EnrichedValue is a value with its confidence and origin. Value is nil when
// nothing could be collected or predicted.
type EnrichedValue struct {
	Indicator  IndicatorKey `json:"indicator"`
	Value      *float64     `json:"value"`
	Confidence float64      `json:"confidence"`
	Provenance *Provenance  `json:"provenance"`
}

func Unresolved(indicator IndicatorKey) EnrichedValue {
	return EnrichedValue{Indicator: indicator}
}

type IndicatorQuality struct {
	HasDirectSource bool    `json:"hasDirectSource"`
	BestReliability float64 `json:"bestReliability"`
	CoverageGap     bool    `json:"coverageGap"`
}

type QualityAssessment struct {
	PerIndicator map[IndicatorKey]IndicatorQuality `json:"perIndicator"`
	OverallScore float64                           `json:"overallScore"`
}

type PredictionSummary struct {
	Total     int `json:"total"`
	Predicted int `json:"predicted"`
	Failed    int `json:"failed"`
}

// ImputationResult is the outcome of a batch fill. Predictions holds nil for
// indicators that could not be resolved.
type ImputationResult struct {
	Predictions map[IndicatorKey]*float64      `json:"predictions"`
	Details     map[IndicatorKey]EnrichedValue `json:"details"`
	Summary     PredictionSummary              `json:"summary"`
}

// Summarize counts non-nil versus nil predictions.
func Summarize(predictions map[IndicatorKey]*float64) PredictionSummary {
	s := PredictionSummary{Total: len(predictions)}
	for _, v := range predictions {
		if v != nil {
			s.Predicted++
		} else {
			s.Failed++
		}
	}
	return s
}
