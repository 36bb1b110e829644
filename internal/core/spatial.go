package core

import (
	"context"
	"fmt"
	"math"
	"sort"

	"indicator_service/internal/domain/model"
)

// PeerCityEstimator predicts a city's value from the nearest peer cities that
// report the indicator, weighting each peer by inverse squared distance.
type PeerCityEstimator struct {
	peers         model.PeerProvider
	neighbours    int
	maxDistanceKm float64
}

func NewPeerCityEstimator(peers model.PeerProvider, neighbours int, maxDistanceKm float64) *PeerCityEstimator {
	if neighbours <= 0 {
		neighbours = 5
	}
	return &PeerCityEstimator{peers: peers, neighbours: neighbours, maxDistanceKm: maxDistanceKm}
}

type peerDistance struct {
	value    float64
	distance float64
}

func (e *PeerCityEstimator) Estimate(ctx context.Context, req model.EstimateRequest) (float64, float64, error) {
	if req.Location == nil {
		return 0, 0, model.EstimateUnavailable("peer regression needs a location")
	}
	peers, err := e.peers.PeersFor(ctx, req.Indicator)
	if err != nil {
		return 0, 0, model.EstimateUnavailable(fmt.Sprintf("peer lookup failed: %v", err))
	}

	var candidates []peerDistance
	for _, p := range peers {
		v, ok := p.Values[req.Indicator]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		d := haversine(req.Location.Latitude, req.Location.Longitude, p.Location.Latitude, p.Location.Longitude)
		if e.maxDistanceKm > 0 && d > e.maxDistanceKm {
			continue
		}
		candidates = append(candidates, peerDistance{value: v, distance: d})
	}
	if len(candidates) == 0 {
		return 0, 0, model.EstimateUnavailable("no peer city reports this indicator nearby")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if len(candidates) > e.neighbours {
		candidates = candidates[:e.neighbours]
	}

	coverage := float64(len(candidates)) / float64(e.neighbours)
	proximity := 1.0
	if e.maxDistanceKm > 0 {
		proximity = 1 - candidates[0].distance/e.maxDistanceKm
	}
	confidence := req.BaseConfidence * coverage * proximity

	// A peer at the same spot is the city itself.
	if candidates[0].distance < 0.001 {
		return candidates[0].value, confidence, nil
	}

	var weighted, weights float64
	for _, c := range candidates {
		w := 1 / (c.distance * c.distance)
		weighted += w * c.value
		weights += w
	}
	return weighted / weights, confidence, nil
}

// StaticPeers serves peer cities loaded from configuration.
type StaticPeers []model.PeerCity

func (s StaticPeers) PeersFor(_ context.Context, indicator model.IndicatorKey) ([]model.PeerCity, error) {
	var out []model.PeerCity
	for _, p := range s {
		if _, ok := p.Values[indicator]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// haversine returns the great-circle distance in kilometres.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth radius, km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
