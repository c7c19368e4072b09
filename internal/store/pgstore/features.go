package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/watchtower/internal/feature"
)

// CreateFeature inserts a new feature definition.
func (s *Store) CreateFeature(ctx context.Context, d *feature.Definition) error {
	ctx, span := startSpan(ctx, "pgstore.CreateFeature", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO feature_definitions (id, name, expression, description, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.Name, d.Expression, d.Description, d.CreatedAt,
	)
	return spanErr(span, err)
}

// GetFeature retrieves a definition by id.
func (s *Store) GetFeature(ctx context.Context, id string) (*feature.Definition, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetFeature", "SELECT")
	defer span.End()

	var d feature.Definition
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, expression, description, created_at FROM feature_definitions WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Expression, &d.Description, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("scan feature: %w", err))
	}
	return &d, true, nil
}

// ListFeatures returns all definitions.
func (s *Store) ListFeatures(ctx context.Context) ([]feature.Definition, error) {
	ctx, span := startSpan(ctx, "pgstore.ListFeatures", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, expression, description, created_at FROM feature_definitions ORDER BY id`)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query features: %w", err))
	}
	defer rows.Close()

	var out []feature.Definition
	for rows.Next() {
		var d feature.Definition
		if err := rows.Scan(&d.ID, &d.Name, &d.Expression, &d.Description, &d.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan feature: %w", err))
		}
		out = append(out, d)
	}
	return out, spanErr(span, rows.Err())
}

// UpsertFeatureValue overwrites the value for (feature_id, ts).
func (s *Store) UpsertFeatureValue(ctx context.Context, v *feature.Value) error {
	ctx, span := startSpan(ctx, "pgstore.UpsertFeatureValue", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO feature_values (feature_id, ts, value) VALUES ($1,$2,$3)
		 ON CONFLICT (feature_id, ts) DO UPDATE SET value = EXCLUDED.value`,
		v.FeatureID, v.TS, v.Value,
	)
	return spanErr(span, err)
}

// ListFeatureValues returns up to limit values, newest first.
func (s *Store) ListFeatureValues(ctx context.Context, featureID string, limit int) ([]feature.Value, error) {
	ctx, span := startSpan(ctx, "pgstore.ListFeatureValues", "SELECT")
	defer span.End()

	query := `SELECT feature_id, ts, value FROM feature_values WHERE feature_id = $1 ORDER BY ts DESC`
	args := []any{featureID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query feature values: %w", err))
	}
	defer rows.Close()

	var out []feature.Value
	for rows.Next() {
		var v feature.Value
		if err := rows.Scan(&v.FeatureID, &v.TS, &v.Value); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan feature value: %w", err))
		}
		out = append(out, v)
	}
	return out, spanErr(span, rows.Err())
}

// Feature querier

// CountEvents counts events with start_ts in [from, to).
func (s *Store) CountEvents(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM temporal_events WHERE start_ts >= $1 AND start_ts < $2`, from, to).Scan(&n)
	return n, err
}

// CountAlerts counts alerts with fired_at in [from, to).
func (s *Store) CountAlerts(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE fired_at >= $1 AND fired_at < $2`, from, to).Scan(&n)
	return n, err
}

// CountAlertsByStatus counts alerts in a status with fired_at in [from, to).
func (s *Store) CountAlertsByStatus(ctx context.Context, status string, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE status = $1 AND fired_at >= $2 AND fired_at < $3`,
		status, from, to).Scan(&n)
	return n, err
}

// AvgEventSentiment averages sentiment over events in [from, to).
func (s *Store) AvgEventSentiment(ctx context.Context, from, to time.Time) (float64, error) {
	var v float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(sentiment_score), 0) FROM temporal_events WHERE start_ts >= $1 AND start_ts < $2`,
		from, to).Scan(&v)
	return v, err
}

// AvgEventVolume averages volume over events in [from, to).
func (s *Store) AvgEventVolume(ctx context.Context, from, to time.Time) (float64, error) {
	var v float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(volume_score), 0) FROM temporal_events WHERE start_ts >= $1 AND start_ts < $2`,
		from, to).Scan(&v)
	return v, err
}

// MaxEventNovelty returns the max novelty over events in [from, to).
func (s *Store) MaxEventNovelty(ctx context.Context, from, to time.Time) (float64, error) {
	var v float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(novelty_score), 0) FROM temporal_events WHERE start_ts >= $1 AND start_ts < $2`,
		from, to).Scan(&v)
	return v, err
}
