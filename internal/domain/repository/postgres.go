package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"indicator_service/internal/domain/model"
)

// PostGISRepository reads published indicator observations and peer city
// values from a PostGIS database.
type PostGISRepository struct {
	db       *sqlx.DB
	radiusKm float64
}

// Connect opens and pings a Postgres connection.
func Connect(ctx context.Context, connStr string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// Open prepares a connection pool without dialing.
func Open(connStr string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return db, nil
}

// NewPostgresRepository matches located requests against observations whose
// footprint intersects a square of radiusKm around the city.
func NewPostgresRepository(db *sqlx.DB, radiusKm float64) *PostGISRepository {
	if radiusKm <= 0 {
		radiusKm = 10
	}
	return &PostGISRepository{db: db, radiusKm: radiusKm}
}

type observationRow struct {
	Value  float64 `db:"value"`
	Period string  `db:"period"`
}

// Fetch returns the most recent observation of the indicator. Without a
// location only country-wide rows (no footprint) qualify.
func (r *PostGISRepository) Fetch(ctx context.Context, indicator model.IndicatorKey, loc *model.CityLocation) (float64, error) {
	var row observationRow
	var err error
	if loc == nil {
		const query = `
			SELECT value, period
			FROM indicator_observations
			WHERE indicator = $1
			AND footprint IS NULL
			ORDER BY period DESC
			LIMIT 1`
		err = r.db.GetContext(ctx, &row, query, string(indicator))
	} else {
		b := model.AroundLocation(*loc, r.radiusKm)
		const query = `
			SELECT value, period
			FROM indicator_observations
			WHERE indicator = $1
			AND ST_Intersects(footprint, ST_MakeEnvelope($2, $3, $4, $5, 4326))
			ORDER BY period DESC
			LIMIT 1`
		err = r.db.GetContext(ctx, &row, query,
			string(indicator),
			b.MinLon, b.MinLat, b.MaxLon, b.MaxLat,
		)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.SourceUnavailable("postgres", fmt.Errorf("no observation of %s", indicator))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query observation: %w", err)
	}
	return row.Value, nil
}

type peerRow struct {
	City      string  `db:"city"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
	Value     float64 `db:"value"`
}

// PeersFor lists every city that reports the indicator.
func (r *PostGISRepository) PeersFor(ctx context.Context, indicator model.IndicatorKey) ([]model.PeerCity, error) {
	const query = `
		SELECT city, latitude, longitude, value
		FROM peer_city_values
		WHERE indicator = $1`

	var rows []peerRow
	if err := r.db.SelectContext(ctx, &rows, query, string(indicator)); err != nil {
		return nil, fmt.Errorf("failed to query peer cities: %w", err)
	}

	peers := make([]model.PeerCity, 0, len(rows))
	for _, row := range rows {
		peers = append(peers, model.PeerCity{
			Name:     row.City,
			Location: model.CityLocation{Latitude: row.Latitude, Longitude: row.Longitude},
			Values:   map[model.IndicatorKey]float64{indicator: row.Value},
		})
	}
	return peers, nil
}
