package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"indicator_service/internal/domain/model"
)

// PostgresEnrichmentRecorder keeps an audit trail of derived values, which
// later serves as training data for the prediction models.
type PostgresEnrichmentRecorder struct {
	db *sqlx.DB
}

func NewPostgresEnrichmentRecorder(db *sqlx.DB) *PostgresEnrichmentRecorder {
	return &PostgresEnrichmentRecorder{db: db}
}

func (r *PostgresEnrichmentRecorder) RecordEnrichment(
	ctx context.Context,
	value model.EnrichedValue,
	loc *model.CityLocation,
) error {
	const query = `
		INSERT INTO enrichment_log (
			indicator, value, confidence,
			provenance_kind, provenance_id,
			latitude, longitude,
			payload, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW()
		)`

	if value.Value == nil || value.Provenance == nil {
		return fmt.Errorf("refusing to record unresolved %s", value.Indicator)
	}

	var lat, lon sql.NullFloat64
	if loc != nil {
		lat = sql.NullFloat64{Float64: loc.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: loc.Longitude, Valid: true}
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		string(value.Indicator), *value.Value, value.Confidence,
		string(value.Provenance.Kind), value.Provenance.ID,
		lat, lon,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert enrichment: %w", err)
	}
	return nil
}
