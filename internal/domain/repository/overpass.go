package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/serjvanilla/go-overpass"
	"golang.org/x/time/rate"

	"indicator_service/internal/domain/model"
)

// OverpassRepository queries OpenStreetMap through an Overpass endpoint.
// Public endpoints throttle aggressively, so queries share a rate limiter.
type OverpassRepository struct {
	client  *overpass.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func NewOverpassRepository(endpoint string, timeout time.Duration, perSecond float64) *OverpassRepository {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	if perSecond <= 0 {
		perSecond = 1
	}
	return &OverpassRepository{
		client:  &client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		timeout: timeout,
	}
}

// Features returns the nodes and ways matching an Overpass QL filter, e.g.
// `node["public_transport"="platform"]`, inside the bounds.
func (r *OverpassRepository) Features(ctx context.Context, filter string, bounds model.Bounds) ([]model.OSMFeature, error) {
	query := fmt.Sprintf(`
		[out:json];
		(
			%s(%s);
		);
		out body;
		>;
		out skel qt;
	`, filter, bounds.BBox())

	result, err := r.executeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute feature query: %w", err)
	}
	return convertToFeatures(result), nil
}

func (r *OverpassRepository) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("overpass rate limit wait: %w", err)
	}

	// The client has no context support; abandon the call when ctx ends.
	type queryResult struct {
		result overpass.Result
		err    error
	}
	done := make(chan queryResult, 1)
	go func() {
		res, err := r.client.Query(query)
		done <- queryResult{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("overpass query abandoned: %w", ctx.Err())
	case qr := <-done:
		if qr.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", qr.err)
		}
		return &qr.result, nil
	}
}

// convertToFeatures keeps tagged elements only; untagged nodes are way
// geometry pulled in by the recursion.
func convertToFeatures(result *overpass.Result) []model.OSMFeature {
	var features []model.OSMFeature

	for _, node := range result.Nodes {
		if len(node.Tags) == 0 {
			continue
		}
		features = append(features, model.OSMFeature{
			ID:   node.ID,
			Type: string(overpass.ElementTypeNode),
			Lat:  node.Lat,
			Lon:  node.Lon,
			Tags: node.Tags,
		})
	}

	for _, way := range result.Ways {
		if len(way.Tags) == 0 {
			continue
		}
		var lat, lon float64
		count := len(way.Nodes)
		if count > 0 {
			for _, node := range way.Nodes {
				lat += node.Lat
				lon += node.Lon
			}
			lat /= float64(count)
			lon /= float64(count)
		} else if way.Bounds != nil {
			lat = (way.Bounds.Min.Lat + way.Bounds.Max.Lat) / 2
			lon = (way.Bounds.Min.Lon + way.Bounds.Max.Lon) / 2
		}

		features = append(features, model.OSMFeature{
			ID:   way.ID,
			Type: string(overpass.ElementTypeWay),
			Lat:  lat,
			Lon:  lon,
			Tags: way.Tags,
		})
	}

	return features
}

// FeatureFinder is the part of OverpassRepository the density source needs.
type FeatureFinder interface {
	Features(ctx context.Context, filter string, bounds model.Bounds) ([]model.OSMFeature, error)
}

// DefaultDensityFilters maps density indicators to the OSM features counted
// for them.
func DefaultDensityFilters() map[model.IndicatorKey]string {
	return map[model.IndicatorKey]string{
		"public_transport_density":  `node["public_transport"="platform"]`,
		"open_public_space_density": `way["leisure"~"park|garden|playground"]`,
	}
}

// OverpassDensitySource derives "features per km²" indicators from OSM
// around the requested city.
type OverpassDensitySource struct {
	finder   FeatureFinder
	filters  map[model.IndicatorKey]string
	radiusKm float64
}

func NewOverpassDensitySource(finder FeatureFinder, filters map[model.IndicatorKey]string, radiusKm float64) *OverpassDensitySource {
	if radiusKm <= 0 {
		radiusKm = 5
	}
	normalized := make(map[model.IndicatorKey]string, len(filters))
	for k, f := range filters {
		normalized[model.NormalizeIndicatorKey(string(k))] = f
	}
	return &OverpassDensitySource{finder: finder, filters: normalized, radiusKm: radiusKm}
}

// Indicators lists the indicators this source can derive.
func (s *OverpassDensitySource) Indicators() []model.IndicatorKey {
	keys := make([]model.IndicatorKey, 0, len(s.filters))
	for k := range s.filters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (s *OverpassDensitySource) Fetch(ctx context.Context, indicator model.IndicatorKey, loc *model.CityLocation) (float64, error) {
	filter, ok := s.filters[indicator]
	if !ok {
		return 0, model.SourceUnavailable("overpass", fmt.Errorf("no OSM filter for %s", indicator))
	}
	if loc == nil {
		return 0, model.SourceUnavailable("overpass", fmt.Errorf("location required"))
	}

	bounds := model.AroundLocation(*loc, s.radiusKm)
	area := bounds.AreaKm2()
	if area <= 0 {
		return 0, model.SourceUnavailable("overpass", fmt.Errorf("degenerate search area"))
	}

	features, err := s.finder.Features(ctx, filter, bounds)
	if err != nil {
		return 0, err
	}
	return float64(len(features)) / area, nil
}
