// Package rule holds alert rule and watchlist definitions.
package rule

import (
	"context"
	"encoding/json"
	"time"
)

// AlertRule is one user-defined rule. rule_json holds the condition
// tree; updates replace it in place and take effect on the next
// evaluation pass.
type AlertRule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Enabled        bool            `json:"enabled"`
	WatchlistID    string          `json:"watchlist_id,omitempty"`
	RuleJSON       json.RawMessage `json:"rule_json"`
	Schedule       string          `json:"schedule,omitempty"`
	EscalationJSON json.RawMessage `json:"escalation_config,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ItemType classifies a watchlist entry.
type ItemType string

const (
	ItemKeyword ItemType = "keyword"
	ItemEntity  ItemType = "entity"
	ItemDomain  ItemType = "domain"
	ItemSource  ItemType = "source"
)

// Watchlist is a named set of watch items. Read-only input to rule
// conditions; its lifecycle is independent of events and alerts.
type Watchlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// WatchlistItem is one entry of a watchlist.
type WatchlistItem struct {
	ID          string   `json:"id"`
	WatchlistID string   `json:"watchlist_id"`
	ItemType    ItemType `json:"item_type"`
	Value       string   `json:"value"`
	Weight      float64  `json:"weight"`
	Enabled     bool     `json:"enabled"`
}

// Store is the persistence interface for rules and watchlists.
type Store interface {
	CreateRule(ctx context.Context, r *AlertRule) error
	UpdateRule(ctx context.Context, r *AlertRule) error
	GetRule(ctx context.Context, id string) (*AlertRule, bool, error)
	ListRules(ctx context.Context) ([]AlertRule, error)

	CreateWatchlist(ctx context.Context, w *Watchlist) error
	ListWatchlists(ctx context.Context) ([]Watchlist, error)
	GetWatchlist(ctx context.Context, id string) (*Watchlist, bool, error)
	AddWatchlistItem(ctx context.Context, it *WatchlistItem) error
	ListWatchlistItems(ctx context.Context, watchlistID string) ([]WatchlistItem, error)
}
