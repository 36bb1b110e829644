package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"indicator_service/internal/config"
	"indicator_service/internal/core"
	"indicator_service/internal/domain/model"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Overpass.URL = "http://overpass.invalid/api/interpreter"
	cfg.MLService.URL = "http://ml.invalid"
	cfg.Sources = []config.SourceConfig{
		{
			ID: "national", DisplayName: "National statistics", Type: model.SourceGovernmentStatistic,
			Reliability: 0.9, Indicators: []string{"Voter Turnout"}, Backend: config.BackendStatic,
			Values: map[string]float64{"voter_turnout": 0.71},
		},
		{
			ID: "osm", DisplayName: "OpenStreetMap", Type: model.SourceCrowdSourced,
			Reliability: 0.5, Backend: config.BackendOverpass, Coverage: "47.2,5.8,55.1,15.1",
		},
	}
	cfg.Models = append(cfg.Models,
		config.ModelConfig{
			ID: "peers", Strategy: model.StrategyPeerCityRegression, BaseConfidence: 0.6,
			Backend: config.BackendPeer, Neighbours: 2,
		},
		config.ModelConfig{
			ID: "sector", Strategy: model.StrategySectorCorrelation, BaseConfidence: 0.5,
			Backend: config.BackendCorrelation,
		},
		config.ModelConfig{
			ID: "remote", Strategy: model.StrategySectorCorrelation, BaseConfidence: 0.4,
			Backend: config.BackendML, Indicators: []string{"co2_emissions"},
		},
	)
	cfg.PeerCities = []model.PeerCity{
		{Name: "Potsdam", Location: model.CityLocation{Latitude: 52.39, Longitude: 13.06}, Values: map[model.IndicatorKey]float64{"Gini Coefficient": 0.3}},
	}
	cfg.Correlations = []core.Correlation{
		{Target: "poverty_rate", Predictor: "unemployment_rate", Slope: 1.5, Intercept: 2, R: 0.6},
	}
	return cfg
}

func TestBuildServiceFromConfig(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	service, closeFn, err := offlineService(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	sources, stats := service.ListSources()
	require.Len(t, sources, 2)
	assert.Equal(t, 2, stats.ActiveSources)
	for _, s := range sources {
		if s.ID == "osm" {
			assert.True(t, s.LocationScoped)
			assert.NotNil(t, s.Coverage)
			assert.Contains(t, s.CoveredIndicators, model.IndicatorKey("public_transport_density"))
		}
	}

	models, mstats := service.ListModels()
	assert.Len(t, models, 5)
	assert.Equal(t, 5, mstats.TotalModels)
	for _, m := range models {
		switch m.ID {
		case "peers":
			assert.True(t, m.RequiresLocation)
		case "trend-linear":
			assert.True(t, m.RequiresHistoricalSeries)
		}
	}

	v, err := service.GetEnhancedIndicatorData(context.Background(), "voter_turnout", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0.71, *v.Value)
	assert.Equal(t, "national", v.Provenance.ID)

	// Peer values from configuration are normalized.
	berlin := &model.CityLocation{Latitude: 52.52, Longitude: 13.405}
	v, err = service.GetEnhancedIndicatorData(context.Background(), "gini_coefficient", berlin, nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "peers", v.Provenance.ID)
	assert.InDelta(t, 0.3, *v.Value, 1e-9)
}

func TestBuildServiceRejectsBadRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.Sources[0].Indicators = []string{"happiness"}

	_, _, err := offlineService(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server.ReadTimeout, cfg.Server.ReadTimeout)

	_, err = loadConfig(missing, true)
	assert.Error(t, err)
}

func TestSourcesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - id: national
    type: GOVERNMENT_STATISTIC
    reliability: 0.9
    indicators: [voter_turnout]
    backend: static
    values: {voter_turnout: 0.7}
`), 0644))

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "sources"})
	require.NoError(t, cmd.Execute())

	var resp struct {
		TotalSources int                `json:"totalSources"`
		SourceTypes  []model.SourceType `json:"sourceTypes"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalSources)
	assert.Equal(t, []model.SourceType{model.SourceGovernmentStatistic}, resp.SourceTypes)
}

func TestAssessCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - id: national
    type: GOVERNMENT_STATISTIC
    reliability: 0.8
    indicators: [literacy_rate]
    backend: static
    values: {literacy_rate: 99}
`), 0644))

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "assess", "--indicators", "literacy_rate,gini_coefficient", "--lat", "52.5", "--lon", "13.4"})
	require.NoError(t, cmd.Execute())

	var qa model.QualityAssessment
	require.NoError(t, json.Unmarshal(out.Bytes(), &qa))
	assert.InDelta(t, 0.4, qa.OverallScore, 1e-9)

	cmd = rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "assess", "--indicators", "literacy_rate", "--lat", "52.5"})
	assert.Error(t, cmd.Execute())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
