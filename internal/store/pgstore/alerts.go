package pgstore

import (
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/escalate"
	"github.com/linnemanlabs/watchtower/internal/store"
)

const alertColumns = `id, rule_id, fired_at, event_id, cluster_key, payload_json, status, snoozed_until, label, note`

// InsertOpen inserts the alert unless an open alert already exists for
// the (rule_id, cluster_key) pair. The partial unique index
// alerts_open_pair_idx makes the check-and-insert atomic under
// concurrent passes.
func (s *Store) InsertOpen(ctx context.Context, a *alert.Alert) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.InsertOpen", "INSERT")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (rule_id, cluster_key) WHERE status <> 'resolved' DO NOTHING`,
		a.ID, a.RuleID, a.FiredAt, nullable(a.EventID), a.ClusterKey, a.Payload,
		string(a.Status), a.SnoozedUntil, string(a.Label), a.Note,
	)
	if err != nil {
		return false, spanErr(span, fmt.Errorf("insert alert: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// UpdateAlert replaces the mutable alert fields.
func (s *Store) UpdateAlert(ctx context.Context, a *alert.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateAlert", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET status = $2, snoozed_until = $3, label = $4, note = $5 WHERE id = $1`,
		a.ID, string(a.Status), a.SnoozedUntil, string(a.Label), a.Note,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update alert: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListAlerts returns alerts matching the query, newest first.
func (s *Store) ListAlerts(ctx context.Context, q alert.ListQuery) ([]alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []any{}
	if q.Status != "" {
		args = append(args, string(q.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.RuleID != "" {
		args = append(args, q.RuleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	query += " ORDER BY fired_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.queryAlerts(ctx, query, args...)
}

// ListAlertsWindow returns all alerts with fired_at in [from, to).
func (s *Store) ListAlertsWindow(ctx context.Context, from, to time.Time) ([]alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAlertsWindow", "SELECT")
	defer span.End()

	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE fired_at >= $1 AND fired_at < $2 ORDER BY id`,
		from, to,
	)
}

// DueSnoozed returns snoozed alerts whose deadline has passed.
func (s *Store) DueSnoozed(ctx context.Context, now time.Time) ([]alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.DueSnoozed", "SELECT")
	defer span.End()

	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE status = 'snoozed' AND snoozed_until <= $1 ORDER BY id`,
		now,
	)
}

// Escalations

// AppendEscalation appends one dispatch attempt to the log.
func (s *Store) AppendEscalation(ctx context.Context, e *escalate.Escalation) error {
	ctx, span := startSpan(ctx, "pgstore.AppendEscalation", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_escalations (id, alert_id, escalation_level, channel, attempt, sent_at, error, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.AlertID, e.Level, e.Channel, e.Attempt, e.SentAt, e.Error, e.CreatedAt,
	)
	return spanErr(span, err)
}

// ListEscalations returns the escalation log for an alert in append order.
func (s *Store) ListEscalations(ctx context.Context, alertID string) ([]escalate.Escalation, error) {
	ctx, span := startSpan(ctx, "pgstore.ListEscalations", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, escalation_level, channel, attempt, sent_at, error, created_at
		 FROM alert_escalations WHERE alert_id = $1 ORDER BY created_at, id`,
		alertID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query escalations: %w", err))
	}
	defer rows.Close()

	var out []escalate.Escalation
	for rows.Next() {
		var e escalate.Escalation
		if err := rows.Scan(&e.ID, &e.AlertID, &e.Level, &e.Channel, &e.Attempt, &e.SentAt, &e.Error, &e.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan escalation: %w", err))
		}
		out = append(out, e)
	}
	return out, spanErr(span, rows.Err())
}

// HasSent reports whether a successful attempt exists for the triple.
func (s *Store) HasSent(ctx context.Context, alertID string, level int, channel string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.HasSent", "SELECT")
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_escalations
		 WHERE alert_id = $1 AND escalation_level = $2 AND channel = $3 AND sent_at IS NOT NULL)`,
		alertID, level, channel,
	).Scan(&exists)
	return exists, spanErr(span, err)
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]alert.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	a, err := scanAlertRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	var (
		a       alert.Alert
		eventID *string
		status  string
		label   string
	)
	err := row.Scan(&a.ID, &a.RuleID, &a.FiredAt, &eventID, &a.ClusterKey, &a.Payload,
		&status, &a.SnoozedUntil, &label, &a.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	if eventID != nil {
		a.EventID = *eventID
	}
	a.Status = alert.Status(status)
	a.Label = alert.Label(label)
	return &a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
