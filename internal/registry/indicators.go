// Package registry holds the process-wide catalogs of indicators, data sources
// and prediction models. Catalogs are built once at start-up and are read-only
// afterwards, so lookups need no locking.
package registry

import (
	"fmt"

	"indicator_service/internal/domain/model"
)

type IndicatorCatalog struct {
	order []model.IndicatorKey
	defs  map[model.IndicatorKey]model.IndicatorDefinition
}

func NewIndicatorCatalog(defs ...model.IndicatorDefinition) (*IndicatorCatalog, error) {
	c := &IndicatorCatalog{defs: make(map[model.IndicatorKey]model.IndicatorDefinition, len(defs))}
	for _, d := range defs {
		d.Key = model.NormalizeIndicatorKey(string(d.Key))
		if d.Key == "" {
			return nil, fmt.Errorf("indicator with empty key")
		}
		if _, dup := c.defs[d.Key]; dup {
			return nil, fmt.Errorf("duplicate indicator %q", d.Key)
		}
		c.defs[d.Key] = d
		c.order = append(c.order, d.Key)
	}
	return c, nil
}

// Resolve normalizes raw and returns the registered key.
func (c *IndicatorCatalog) Resolve(raw string) (model.IndicatorKey, error) {
	key := model.NormalizeIndicatorKey(raw)
	if key == "" {
		return "", model.NewValidationError("indicator", "indicator name is required")
	}
	if _, ok := c.defs[key]; !ok {
		return "", model.NewValidationError("indicator", fmt.Sprintf("indicator unknown: %q", raw))
	}
	return key, nil
}

func (c *IndicatorCatalog) Has(key model.IndicatorKey) bool {
	_, ok := c.defs[key]
	return ok
}

func (c *IndicatorCatalog) List() []model.IndicatorDefinition {
	out := make([]model.IndicatorDefinition, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.defs[k])
	}
	return out
}

// Siblings returns the other indicators of key's dimension in registration order.
func (c *IndicatorCatalog) Siblings(key model.IndicatorKey) []model.IndicatorKey {
	def, ok := c.defs[key]
	if !ok {
		return nil
	}
	var out []model.IndicatorKey
	for _, k := range c.order {
		if k != key && c.defs[k].Dimension == def.Dimension {
			out = append(out, k)
		}
	}
	return out
}

// DefaultIndicators is the City Prosperity Index indicator set.
func DefaultIndicators() []model.IndicatorDefinition {
	def := func(key string, name string, dim model.Dimension, unit string) model.IndicatorDefinition {
		return model.IndicatorDefinition{Key: model.IndicatorKey(key), DisplayName: name, Dimension: dim, Unit: unit}
	}
	return []model.IndicatorDefinition{
		def("city_product_per_capita", "City product per capita", model.DimensionProductivity, "USD PPP"),
		def("economic_strength", "Economic strength", model.DimensionProductivity, "index"),
		def("mean_household_income", "Mean household income", model.DimensionProductivity, "USD PPP"),
		def("old_age_dependency_ratio", "Old age dependency ratio", model.DimensionProductivity, "%"),
		def("unemployment_rate", "Unemployment rate", model.DimensionProductivity, "%"),
		def("economic_density", "Economic density", model.DimensionProductivity, "USD/km2"),

		def("improved_shelter", "Improved shelter", model.DimensionInfrastructure, "%"),
		def("access_to_improved_water", "Access to improved water", model.DimensionInfrastructure, "%"),
		def("internet_access", "Internet access", model.DimensionInfrastructure, "%"),
		def("public_transport_density", "Public transport stops density", model.DimensionInfrastructure, "stops/km2"),
		def("street_intersection_density", "Street intersection density", model.DimensionInfrastructure, "per km2"),

		def("life_expectancy", "Life expectancy at birth", model.DimensionQualityOfLife, "years"),
		def("literacy_rate", "Literacy rate", model.DimensionQualityOfLife, "%"),
		def("homicide_rate", "Homicide rate", model.DimensionQualityOfLife, "per 100k"),
		def("open_public_space_density", "Accessibility to open public space", model.DimensionQualityOfLife, "per km2"),

		def("gini_coefficient", "Gini coefficient", model.DimensionEquity, "ratio"),
		def("poverty_rate", "Poverty rate", model.DimensionEquity, "%"),
		def("youth_unemployment", "Youth unemployment", model.DimensionEquity, "%"),

		def("pm10_concentration", "PM10 concentration", model.DimensionEnvironment, "ug/m3"),
		def("co2_emissions", "CO2 emissions per capita", model.DimensionEnvironment, "t"),
		def("waste_collection", "Solid waste collection", model.DimensionEnvironment, "%"),

		def("voter_turnout", "Voter turnout", model.DimensionGovernance, "%"),
		def("own_revenue_collection", "Own revenue collection", model.DimensionGovernance, "%"),
	}
}
