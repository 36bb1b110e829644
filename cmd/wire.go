package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"indicator_service/internal/config"
	"indicator_service/internal/core"
	"indicator_service/internal/domain/model"
	"indicator_service/internal/domain/repository"
	"indicator_service/internal/infrastructure/cache"
	"indicator_service/internal/infrastructure/feedclient"
	"indicator_service/internal/infrastructure/mlclient"
	"indicator_service/internal/metrics"
	"indicator_service/internal/registry"
)

// backends holds the shared outbound clients. Fields stay nil when the
// configuration does not need them.
type backends struct {
	db       *sqlx.DB
	overpass *repository.OverpassRepository
	cache    *cache.RedisCache
	closers  []func() error
}

func (b *backends) Close() {
	for _, c := range b.closers {
		_ = c()
	}
}

// openBackends creates the clients the configuration refers to. With online
// set, Postgres is pinged and Redis is used; offline commands never dial out.
func openBackends(ctx context.Context, cfg *config.Config, online bool) (*backends, error) {
	b := &backends{}

	if cfg.Postgres.URL != "" && needsPostgres(cfg) {
		var db *sqlx.DB
		var err error
		if online {
			db, err = repository.Connect(ctx, cfg.Postgres.URL)
		} else {
			db, err = repository.Open(cfg.Postgres.URL)
		}
		if err != nil {
			return nil, err
		}
		b.db = db
		b.closers = append(b.closers, db.Close)
	}

	if cfg.Overpass.URL != "" {
		b.overpass = repository.NewOverpassRepository(cfg.Overpass.URL, cfg.Overpass.Timeout, cfg.Overpass.RequestsPerSecond)
	}

	if online && cfg.Redis.Addr != "" {
		client := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		b.cache = cache.NewRedisCache(client, cfg.Redis.TTL)
		b.closers = append(b.closers, client.Close)
	}

	return b, nil
}

func needsPostgres(cfg *config.Config) bool {
	if cfg.Postgres.SaveEnrichments {
		return true
	}
	for _, s := range cfg.Sources {
		if s.Backend == config.BackendPostgres {
			return true
		}
	}
	for _, m := range cfg.Models {
		if m.Backend == config.BackendPeer && m.PeerSource == "postgres" {
			return true
		}
	}
	return false
}

func buildCatalog(cfg *config.Config) (*registry.IndicatorCatalog, error) {
	defs := cfg.Indicators
	if len(defs) == 0 {
		defs = registry.DefaultIndicators()
	}
	catalog, err := registry.NewIndicatorCatalog(defs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build indicator catalog: %w", err)
	}
	return catalog, nil
}

func indicatorKeys(raw []string) []model.IndicatorKey {
	keys := make([]model.IndicatorKey, 0, len(raw))
	for _, r := range raw {
		keys = append(keys, model.NormalizeIndicatorKey(r))
	}
	return keys
}

func buildSources(cfg *config.Config, catalog *registry.IndicatorCatalog, b *backends) (*registry.SourceRegistry, error) {
	entries := make([]registry.SourceEntry, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		desc := model.DataSourceDescriptor{
			ID:                sc.ID,
			DisplayName:       sc.DisplayName,
			Type:              sc.Type,
			Reliability:       sc.Reliability,
			CoveredIndicators: indicatorKeys(sc.Indicators),
			IsActive:          sc.IsActive(),
			LocationScoped:    sc.LocationScoped,
		}
		if sc.Coverage != "" {
			bounds, err := model.ParseBounds(sc.Coverage)
			if err != nil {
				return nil, fmt.Errorf("source %s: invalid coverage: %w", sc.ID, err)
			}
			desc.Coverage = &bounds
		}

		var fetcher model.Fetcher
		switch sc.Backend {
		case config.BackendStatic:
			values := make(map[model.IndicatorKey]float64, len(sc.Values))
			for k, v := range sc.Values {
				values[model.IndicatorKey(k)] = v
			}
			fetcher = repository.NewStaticSource(sc.ID, values)
		case config.BackendHTTP:
			fetcher = feedclient.New(sc.ID, sc.URL, sc.APIKey, cfg.Engine.SourceTimeout, sc.RequestsPerSecond)
		case config.BackendPostgres:
			if b.db == nil {
				return nil, fmt.Errorf("source %s: postgres is not configured", sc.ID)
			}
			fetcher = repository.NewPostgresRepository(b.db, cfg.Postgres.RadiusKm)
		case config.BackendOverpass:
			if b.overpass == nil {
				return nil, fmt.Errorf("source %s: overpass is not configured", sc.ID)
			}
			src := repository.NewOverpassDensitySource(b.overpass, overpassFilters(cfg), cfg.Overpass.RadiusKm)
			if len(desc.CoveredIndicators) == 0 {
				desc.CoveredIndicators = src.Indicators()
			}
			desc.LocationScoped = true
			fetcher = src
		default:
			return nil, fmt.Errorf("source %s: unknown backend %q", sc.ID, sc.Backend)
		}

		entries = append(entries, registry.SourceEntry{Descriptor: desc, Fetcher: fetcher})
	}

	sources, err := registry.NewSourceRegistry(catalog, entries...)
	if err != nil {
		return nil, fmt.Errorf("failed to build source registry: %w", err)
	}
	return sources, nil
}

func overpassFilters(cfg *config.Config) map[model.IndicatorKey]string {
	if len(cfg.Overpass.Filters) == 0 {
		return repository.DefaultDensityFilters()
	}
	filters := make(map[model.IndicatorKey]string, len(cfg.Overpass.Filters))
	for k, f := range cfg.Overpass.Filters {
		filters[model.IndicatorKey(k)] = f
	}
	return filters
}

func buildModels(cfg *config.Config, catalog *registry.IndicatorCatalog, b *backends) (*registry.ModelRegistry, error) {
	entries := make([]registry.ModelEntry, 0, len(cfg.Models))
	for _, mc := range cfg.Models {
		desc := model.PredictionModelDescriptor{
			ID:                       mc.ID,
			DisplayName:              mc.DisplayName,
			Strategy:                 mc.Strategy,
			RequiresLocation:         mc.RequiresLocation,
			RequiresHistoricalSeries: mc.RequiresHistoricalSeries,
			BaseConfidence:           mc.BaseConfidence,
			Indicators:               indicatorKeys(mc.Indicators),
		}

		var estimator model.Estimator
		switch mc.Backend {
		case config.BackendTrend:
			desc.RequiresHistoricalSeries = true
			estimator = core.TrendEstimator{}
		case config.BackendPeer:
			var peers model.PeerProvider
			if mc.PeerSource == "postgres" {
				if b.db == nil {
					return nil, fmt.Errorf("model %s: postgres is not configured", mc.ID)
				}
				peers = repository.NewPostgresRepository(b.db, cfg.Postgres.RadiusKm)
			} else {
				peers = staticPeers(cfg.PeerCities)
			}
			desc.RequiresLocation = true
			estimator = core.NewPeerCityEstimator(peers, mc.Neighbours, mc.MaxDistanceKm)
		case config.BackendCorrelation:
			estimator = core.NewCorrelationEstimator(cfg.Correlations)
		case config.BackendInterpolation:
			estimator = core.NewInterpolationEstimator(catalog)
		case config.BackendML:
			estimator = mlclient.NewHTTPEstimator(cfg.MLService.URL, mc.ID, cfg.MLService.Timeout)
		default:
			return nil, fmt.Errorf("model %s: unknown backend %q", mc.ID, mc.Backend)
		}

		entries = append(entries, registry.ModelEntry{Descriptor: desc, Estimator: estimator})
	}

	models, err := registry.NewModelRegistry(catalog, entries...)
	if err != nil {
		return nil, fmt.Errorf("failed to build model registry: %w", err)
	}
	return models, nil
}

func staticPeers(cities []model.PeerCity) core.StaticPeers {
	peers := make(core.StaticPeers, 0, len(cities))
	for _, c := range cities {
		values := make(map[model.IndicatorKey]float64, len(c.Values))
		for k, v := range c.Values {
			values[model.NormalizeIndicatorKey(string(k))] = v
		}
		c.Values = values
		peers = append(peers, c)
	}
	return peers
}

// buildService assembles the engine from configuration. m may be nil.
func buildService(cfg *config.Config, b *backends, m *metrics.Metrics, logger *zap.Logger) (*core.EnrichmentService, error) {
	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	sources, err := buildSources(cfg, catalog, b)
	if err != nil {
		return nil, err
	}
	models, err := buildModels(cfg, catalog, b)
	if err != nil {
		return nil, err
	}

	opts := core.Options{
		SourceTimeout:     cfg.Engine.SourceTimeout,
		ImputeConcurrency: cfg.Engine.ImputeConcurrency,
		Metrics:           m,
	}
	if b.cache != nil {
		opts.Cache = b.cache
	}
	if cfg.Postgres.SaveEnrichments && b.db != nil {
		opts.Recorder = repository.NewPostgresEnrichmentRecorder(b.db)
	}

	return core.NewEnrichmentService(catalog, sources, models, opts, logger), nil
}

// offlineService builds the engine for the inspection commands without
// dialing any backend.
func offlineService(ctx context.Context, cfg *config.Config) (*core.EnrichmentService, func(), error) {
	b, err := openBackends(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	service, err := buildService(cfg, b, nil, zap.NewNop())
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return service, b.Close, nil
}
