package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/watchtower/internal/rule"
	"github.com/linnemanlabs/watchtower/internal/store"
)

const ruleColumns = `id, name, enabled, watchlist_id, rule_json, schedule, escalation_config, created_at`

// CreateRule inserts a new rule.
func (s *Store) CreateRule(ctx context.Context, r *rule.AlertRule) error {
	ctx, span := startSpan(ctx, "pgstore.CreateRule", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_rules (`+ruleColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.Name, r.Enabled, nullable(r.WatchlistID), r.RuleJSON, r.Schedule,
		escalationOrNil(r), r.CreatedAt,
	)
	return spanErr(span, err)
}

// UpdateRule replaces a rule definition in place.
func (s *Store) UpdateRule(ctx context.Context, r *rule.AlertRule) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateRule", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET name = $2, enabled = $3, watchlist_id = $4, rule_json = $5,
		 schedule = $6, escalation_config = $7 WHERE id = $1`,
		r.ID, r.Name, r.Enabled, nullable(r.WatchlistID), r.RuleJSON, r.Schedule, escalationOrNil(r),
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update rule: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRule retrieves a rule by id.
func (s *Store) GetRule(ctx context.Context, id string) (*rule.AlertRule, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetRule", "SELECT")
	defer span.End()

	r, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = $1`, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// ListRules returns all rules in creation order.
func (s *Store) ListRules(ctx context.Context) ([]rule.AlertRule, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRules", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY id`)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query rules: %w", err))
	}
	defer rows.Close()

	var out []rule.AlertRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, *r)
	}
	return out, spanErr(span, rows.Err())
}

// CreateWatchlist inserts a new watchlist.
func (s *Store) CreateWatchlist(ctx context.Context, w *rule.Watchlist) error {
	ctx, span := startSpan(ctx, "pgstore.CreateWatchlist", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlists (id, name, created_at) VALUES ($1,$2,$3)`,
		w.ID, w.Name, w.CreatedAt,
	)
	return spanErr(span, err)
}

// ListWatchlists returns all watchlists.
func (s *Store) ListWatchlists(ctx context.Context) ([]rule.Watchlist, error) {
	ctx, span := startSpan(ctx, "pgstore.ListWatchlists", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM watchlists ORDER BY id`)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query watchlists: %w", err))
	}
	defer rows.Close()

	var out []rule.Watchlist
	for rows.Next() {
		var w rule.Watchlist
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedAt); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan watchlist: %w", err))
		}
		out = append(out, w)
	}
	return out, spanErr(span, rows.Err())
}

// GetWatchlist retrieves a watchlist by id.
func (s *Store) GetWatchlist(ctx context.Context, id string) (*rule.Watchlist, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetWatchlist", "SELECT")
	defer span.End()

	var w rule.Watchlist
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM watchlists WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("scan watchlist: %w", err))
	}
	return &w, true, nil
}

// AddWatchlistItem appends an item to its watchlist.
func (s *Store) AddWatchlistItem(ctx context.Context, it *rule.WatchlistItem) error {
	ctx, span := startSpan(ctx, "pgstore.AddWatchlistItem", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist_items (id, watchlist_id, item_type, value, weight, enabled)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		it.ID, it.WatchlistID, string(it.ItemType), it.Value, it.Weight, it.Enabled,
	)
	return spanErr(span, err)
}

// ListWatchlistItems returns the items of a watchlist.
func (s *Store) ListWatchlistItems(ctx context.Context, watchlistID string) ([]rule.WatchlistItem, error) {
	ctx, span := startSpan(ctx, "pgstore.ListWatchlistItems", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, watchlist_id, item_type, value, weight, enabled FROM watchlist_items
		 WHERE watchlist_id = $1 ORDER BY id`,
		watchlistID,
	)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query watchlist items: %w", err))
	}
	defer rows.Close()

	var out []rule.WatchlistItem
	for rows.Next() {
		var it rule.WatchlistItem
		var itemType string
		if err := rows.Scan(&it.ID, &it.WatchlistID, &itemType, &it.Value, &it.Weight, &it.Enabled); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan watchlist item: %w", err))
		}
		it.ItemType = rule.ItemType(itemType)
		out = append(out, it)
	}
	return out, spanErr(span, rows.Err())
}

func scanRule(row pgx.Row) (*rule.AlertRule, error) {
	var (
		r           rule.AlertRule
		watchlistID *string
		escalation  []byte
	)
	err := row.Scan(&r.ID, &r.Name, &r.Enabled, &watchlistID, &r.RuleJSON, &r.Schedule, &escalation, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	if watchlistID != nil {
		r.WatchlistID = *watchlistID
	}
	if len(escalation) > 0 {
		r.EscalationJSON = escalation
	}
	return &r, nil
}

func escalationOrNil(r *rule.AlertRule) []byte {
	if len(r.EscalationJSON) == 0 {
		return nil
	}
	return r.EscalationJSON
}
