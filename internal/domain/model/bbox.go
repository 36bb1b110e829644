package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBounds parses a bbox string in format "minLat,minLon,maxLat,maxLon".
func ParseBounds(bbox string) (Bounds, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bbox must have 4 components, got %d", len(parts))
	}

	var v [4]float64
	names := [4]string{"minLat", "minLon", "maxLat", "maxLon"}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid %s: %w", names[i], err)
		}
		v[i] = f
	}
	b := Bounds{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}

	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return Bounds{}, fmt.Errorf("latitude out of range [-90, 90]")
	}
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return Bounds{}, fmt.Errorf("longitude out of range [-180, 180]")
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return Bounds{}, fmt.Errorf("minLat must be <= maxLat and minLon must be <= maxLon")
	}
	return b, nil
}
