package model

// OSMFeature is a node or way returned by Overpass, reduced to its centroid.
type OSMFeature struct {
	ID   int64             `json:"id"`
	Type string            `json:"type"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags"`
}
