// Package pgstore provides a PostgreSQL implementation of the domain
// store interfaces. Upsert-by-cluster_key and insert-if-no-open-alert
// are enforced by unique indexes, so concurrent passes stay consistent.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/watchtower/internal/event"
)

var tracer = otel.Tracer("github.com/linnemanlabs/watchtower/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists engine state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// startSpan opens a span with the common db attributes.
func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Events

const eventColumns = `id, cluster_key, entity, title, summary, start_ts, end_ts, event_type,
	confidence, severity, novelty_score, volume_score, sentiment_score, created_at, updated_at`

// GetEventByClusterKey retrieves an event by its cluster key.
func (s *Store) GetEventByClusterKey(ctx context.Context, key string) (*event.TemporalEvent, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetEventByClusterKey", "SELECT")
	defer span.End()

	query := `SELECT ` + eventColumns + ` FROM temporal_events WHERE cluster_key = $1`
	ev, err := scanEvent(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if ev == nil {
		return nil, false, nil
	}
	return ev, true, nil
}

// UpsertEvent inserts or updates the event keyed by cluster_key.
// Aggregates, title and summary are replaced; created_at survives.
func (s *Store) UpsertEvent(ctx context.Context, ev *event.TemporalEvent) error {
	ctx, span := startSpan(ctx, "pgstore.UpsertEvent", "UPSERT")
	defer span.End()

	query := `INSERT INTO temporal_events (` + eventColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (cluster_key) DO UPDATE SET
		title           = EXCLUDED.title,
		summary         = EXCLUDED.summary,
		start_ts        = EXCLUDED.start_ts,
		end_ts          = EXCLUDED.end_ts,
		event_type      = EXCLUDED.event_type,
		confidence      = EXCLUDED.confidence,
		severity        = EXCLUDED.severity,
		novelty_score   = EXCLUDED.novelty_score,
		volume_score    = EXCLUDED.volume_score,
		sentiment_score = EXCLUDED.sentiment_score,
		updated_at      = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.ClusterKey, ev.Entity, ev.Title, ev.Summary, ev.StartTS, ev.EndTS, ev.EventType,
		ev.Confidence, ev.Severity, ev.NoveltyScore, ev.VolumeScore, ev.SentimentScore,
		ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert event: %w", err))
	}
	return nil
}

// ReplaceEvidence swaps the full evidence set for an event in one
// transaction, so a cancelled rebuild never leaves a partial set.
func (s *Store) ReplaceEvidence(ctx context.Context, eventID string, evidence []event.Evidence) error {
	ctx, span := startSpan(ctx, "pgstore.ReplaceEvidence", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return spanErr(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `DELETE FROM evidence WHERE event_id = $1`, eventID); err != nil {
		return spanErr(span, fmt.Errorf("delete evidence: %w", err))
	}
	for _, e := range evidence {
		_, err := tx.Exec(ctx,
			`INSERT INTO evidence (event_id, source_item_id, weight, snippet) VALUES ($1,$2,$3,$4)
			 ON CONFLICT (event_id, source_item_id) DO UPDATE SET weight = EXCLUDED.weight, snippet = EXCLUDED.snippet`,
			eventID, e.SourceItemID, e.Weight, e.Snippet,
		)
		if err != nil {
			return spanErr(span, fmt.Errorf("insert evidence %s: %w", e.SourceItemID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return spanErr(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ListEvents returns events matching the query, newest first.
func (s *Store) ListEvents(ctx context.Context, q event.ListQuery) ([]event.TemporalEvent, error) {
	ctx, span := startSpan(ctx, "pgstore.ListEvents", "SELECT")
	defer span.End()

	query := `SELECT ` + eventColumns + ` FROM temporal_events WHERE 1=1`
	args := []any{}
	if !q.FromTS.IsZero() {
		args = append(args, q.FromTS)
		query += fmt.Sprintf(" AND start_ts >= $%d", len(args))
	}
	if !q.ToTS.IsZero() {
		args = append(args, q.ToTS)
		query += fmt.Sprintf(" AND start_ts < $%d", len(args))
	}
	query += " ORDER BY start_ts DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	var out []event.TemporalEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *ev)
	}
	return out, spanErr(span, rows.Err())
}

// ListEvidence returns the evidence rows for an event.
func (s *Store) ListEvidence(ctx context.Context, eventID string) ([]event.Evidence, error) {
	ctx, span := startSpan(ctx, "pgstore.ListEvidence", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT event_id, source_item_id, weight, snippet FROM evidence WHERE event_id = $1 ORDER BY source_item_id`,
		eventID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query evidence: %w", err))
	}
	defer rows.Close()

	var out []event.Evidence
	for rows.Next() {
		var e event.Evidence
		if err := rows.Scan(&e.EventID, &e.SourceItemID, &e.Weight, &e.Snippet); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan evidence: %w", err))
		}
		out = append(out, e)
	}
	return out, spanErr(span, rows.Err())
}

// CountEntityEvents counts events for an entity with start_ts in [from, to).
func (s *Store) CountEntityEvents(ctx context.Context, entity string, from, to time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.CountEntityEvents", "SELECT")
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM temporal_events WHERE entity = $1 AND start_ts >= $2 AND start_ts < $3`,
		entity, from, to,
	).Scan(&n)
	return n, spanErr(span, err)
}

func scanEvent(row pgx.Row) (*event.TemporalEvent, error) {
	var ev event.TemporalEvent
	err := row.Scan(
		&ev.ID, &ev.ClusterKey, &ev.Entity, &ev.Title, &ev.Summary, &ev.StartTS, &ev.EndTS, &ev.EventType,
		&ev.Confidence, &ev.Severity, &ev.NoveltyScore, &ev.VolumeScore, &ev.SentimentScore,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &ev, nil
}
