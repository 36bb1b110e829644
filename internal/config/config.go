// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"indicator_service/internal/core"
	"indicator_service/internal/domain/model"
)

type Config struct {
	Server       ServerConfig                `yaml:"server"`
	Auth         AuthConfig                  `yaml:"auth"`
	Logging      LoggingConfig               `yaml:"logging"`
	Postgres     PostgresConfig              `yaml:"postgres"`
	Redis        RedisConfig                 `yaml:"redis"`
	Overpass     OverpassConfig              `yaml:"overpass"`
	MLService    MLServiceConfig             `yaml:"ml_service"`
	Engine       EngineConfig                `yaml:"engine"`
	Indicators   []model.IndicatorDefinition `yaml:"indicators"`
	Sources      []SourceConfig              `yaml:"sources"`
	Models       []ModelConfig               `yaml:"models"`
	PeerCities   []model.PeerCity            `yaml:"peer_cities"`
	Correlations []core.Correlation          `yaml:"correlations"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	// JWTSecret signs HS256 bearer tokens. Requests are refused while empty.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
	// RadiusKm is the search square for located observation lookups.
	RadiusKm        float64 `yaml:"radius_km"`
	SaveEnrichments bool    `yaml:"save_enrichments"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type OverpassConfig struct {
	URL               string            `yaml:"url"`
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	RadiusKm          float64           `yaml:"radius_km"`
	Filters           map[string]string `yaml:"filters"`
}

type MLServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type EngineConfig struct {
	SourceTimeout     time.Duration `yaml:"source_timeout"`
	ImputeConcurrency int           `yaml:"impute_concurrency"`
}

// Source backends.
const (
	BackendStatic   = "static"
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
	BackendOverpass = "overpass"
)

type SourceConfig struct {
	ID          string           `yaml:"id"`
	DisplayName string           `yaml:"display_name"`
	Type        model.SourceType `yaml:"type"`
	Reliability float64          `yaml:"reliability"`
	Indicators  []string         `yaml:"indicators"`
	// Active defaults to true.
	Active         *bool  `yaml:"active"`
	LocationScoped bool   `yaml:"location_scoped"`
	Coverage       string `yaml:"coverage"`
	Backend        string `yaml:"backend"`

	// static
	Values map[string]float64 `yaml:"values"`
	// http
	URL               string  `yaml:"url"`
	APIKey            string  `yaml:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

func (s SourceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Model backends.
const (
	BackendTrend         = "trend"
	BackendPeer          = "peer"
	BackendCorrelation   = "correlation"
	BackendInterpolation = "interpolation"
	BackendML            = "ml"
)

type ModelConfig struct {
	ID                       string              `yaml:"id"`
	DisplayName              string              `yaml:"display_name"`
	Strategy                 model.ModelStrategy `yaml:"strategy"`
	BaseConfidence           float64             `yaml:"base_confidence"`
	RequiresLocation         bool                `yaml:"requires_location"`
	RequiresHistoricalSeries bool                `yaml:"requires_historical_series"`
	Indicators               []string            `yaml:"indicators"`
	Backend                  string              `yaml:"backend"`

	// peer
	Neighbours    int     `yaml:"neighbours"`
	MaxDistanceKm float64 `yaml:"max_distance_km"`
	// PeerSource is "config" (peer_cities) or "postgres".
	PeerSource string `yaml:"peer_source"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Postgres: PostgresConfig{
			RadiusKm: 10,
		},
		Redis: RedisConfig{
			TTL: time.Hour,
		},
		Overpass: OverpassConfig{
			Timeout:           25 * time.Second,
			RequestsPerSecond: 1,
			RadiusKm:          5,
		},
		MLService: MLServiceConfig{
			Timeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			SourceTimeout:     5 * time.Second,
			ImputeConcurrency: 8,
		},
		Models: []ModelConfig{
			{
				ID:                       "trend-linear",
				DisplayName:              "Linear trend extrapolation",
				Strategy:                 model.StrategyTrendExtrapolation,
				BaseConfidence:           0.7,
				RequiresHistoricalSeries: true,
				Backend:                  BackendTrend,
			},
			{
				ID:             "dimension-interpolation",
				DisplayName:    "Dimension mean interpolation",
				Strategy:       model.StrategySimpleInterpolation,
				BaseConfidence: 0.3,
				Backend:        BackendInterpolation,
			},
		},
	}
}

// LoadFromFile reads a YAML file over the defaults. Environment overrides are
// applied separately by ApplyEnv.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overlays the deployment environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := getenv("OVERPASS_URL"); v != "" {
		c.Overpass.URL = v
	}
	if v := getenv("ML_SERVICE_URL"); v != "" {
		c.MLService.URL = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("SAVE_ENRICHMENTS"); v != "" {
		save, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SAVE_ENRICHMENTS: %w", err)
		}
		c.Postgres.SaveEnrichments = save
	}
	return nil
}

// Validate checks settings that the registries cannot check themselves.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Engine.SourceTimeout < 0 {
		return fmt.Errorf("engine.source_timeout must not be negative")
	}
	if c.Engine.ImputeConcurrency < 0 {
		return fmt.Errorf("engine.impute_concurrency must not be negative")
	}
	if c.Postgres.SaveEnrichments && c.Postgres.URL == "" {
		return fmt.Errorf("postgres.save_enrichments requires postgres.url")
	}

	for i, s := range c.Sources {
		if err := c.validateSource(s); err != nil {
			return fmt.Errorf("sources[%d] %q: %w", i, s.ID, err)
		}
	}
	for i, m := range c.Models {
		if err := c.validateModel(m); err != nil {
			return fmt.Errorf("models[%d] %q: %w", i, m.ID, err)
		}
	}
	return nil
}

func (c *Config) validateSource(s SourceConfig) error {
	if s.Coverage != "" {
		if _, err := model.ParseBounds(s.Coverage); err != nil {
			return fmt.Errorf("invalid coverage: %w", err)
		}
	}
	switch s.Backend {
	case BackendStatic:
		if len(s.Values) == 0 {
			return fmt.Errorf("static backend needs values")
		}
	case BackendHTTP:
		if s.URL == "" {
			return fmt.Errorf("http backend needs url")
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres backend needs postgres.url")
		}
	case BackendOverpass:
		if c.Overpass.URL == "" {
			return fmt.Errorf("overpass backend needs overpass.url")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	return nil
}

func (c *Config) validateModel(m ModelConfig) error {
	switch m.Backend {
	case BackendTrend, BackendCorrelation, BackendInterpolation:
	case BackendPeer:
		switch m.PeerSource {
		case "", "config":
			if len(c.PeerCities) == 0 {
				return fmt.Errorf("peer backend needs peer_cities")
			}
		case "postgres":
			if c.Postgres.URL == "" {
				return fmt.Errorf("peer backend needs postgres.url")
			}
		default:
			return fmt.Errorf("unknown peer_source %q", m.PeerSource)
		}
	case BackendML:
		if c.MLService.URL == "" {
			return fmt.Errorf("ml backend needs ml_service.url")
		}
	default:
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
	return nil
}
