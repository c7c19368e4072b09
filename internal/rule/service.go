package rule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchtower/internal/escalate"
	"github.com/linnemanlabs/watchtower/internal/expr"
	"github.com/linnemanlabs/watchtower/internal/store"
)

// ErrInvalid marks a rule or watchlist definition rejected by
// validation. HTTP handlers map it to a client error.
var ErrInvalid = errors.New("invalid definition")

// Service is the business boundary for rule and watchlist management.
// Expression validation happens here, at creation time, so malformed
// rule_json never reaches the evaluation pass.
type Service struct {
	store  Store
	logger log.Logger
}

// NewService creates a rule service.
func NewService(st Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: st, logger: logger}
}

// CreateRule validates and persists a new rule, returning its id.
func (s *Service) CreateRule(ctx context.Context, r *AlertRule) (string, error) {
	if r.Name == "" {
		return "", fmt.Errorf("%w: rule name is required", ErrInvalid)
	}
	if err := validateRule(r); err != nil {
		return "", err
	}

	r.ID = ulid.Make().String()
	r.CreatedAt = time.Now()
	if err := s.store.CreateRule(ctx, r); err != nil {
		return "", fmt.Errorf("create rule: %w", err)
	}
	s.logger.Info(ctx, "rule created", "rule_id", r.ID, "name", r.Name, "enabled", r.Enabled)
	return r.ID, nil
}

// UpdateRule replaces an existing rule in place. The new definition
// takes effect on the next evaluation pass.
func (s *Service) UpdateRule(ctx context.Context, r *AlertRule) error {
	existing, ok, err := s.store.GetRule(ctx, r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if err := validateRule(r); err != nil {
		return err
	}

	r.CreatedAt = existing.CreatedAt
	if err := s.store.UpdateRule(ctx, r); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	s.logger.Info(ctx, "rule updated", "rule_id", r.ID, "name", r.Name, "enabled", r.Enabled)
	return nil
}

// ListRules returns all rules.
func (s *Service) ListRules(ctx context.Context) ([]AlertRule, error) {
	return s.store.ListRules(ctx)
}

// CreateWatchlist persists a new empty watchlist, returning its id.
func (s *Service) CreateWatchlist(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: watchlist name is required", ErrInvalid)
	}
	w := &Watchlist{ID: ulid.Make().String(), Name: name, CreatedAt: time.Now()}
	if err := s.store.CreateWatchlist(ctx, w); err != nil {
		return "", fmt.Errorf("create watchlist: %w", err)
	}
	return w.ID, nil
}

// ListWatchlists returns all watchlists.
func (s *Service) ListWatchlists(ctx context.Context) ([]Watchlist, error) {
	return s.store.ListWatchlists(ctx)
}

// AddItem appends an item to an existing watchlist, returning the item id.
func (s *Service) AddItem(ctx context.Context, it *WatchlistItem) (string, error) {
	switch it.ItemType {
	case ItemKeyword, ItemEntity, ItemDomain, ItemSource:
	default:
		return "", fmt.Errorf("%w: item_type %q", ErrInvalid, it.ItemType)
	}
	if it.Value == "" {
		return "", fmt.Errorf("%w: item value is required", ErrInvalid)
	}
	if _, ok, err := s.store.GetWatchlist(ctx, it.WatchlistID); err != nil {
		return "", err
	} else if !ok {
		return "", store.ErrNotFound
	}

	it.ID = ulid.Make().String()
	if err := s.store.AddWatchlistItem(ctx, it); err != nil {
		return "", fmt.Errorf("add watchlist item: %w", err)
	}
	return it.ID, nil
}

func validateRule(r *AlertRule) error {
	if len(r.RuleJSON) == 0 {
		r.RuleJSON = json.RawMessage(`{"any":[],"all":[]}`)
	}
	if _, err := expr.ParseTree(r.RuleJSON); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if len(r.EscalationJSON) > 0 {
		if _, err := escalate.ParseConfig(r.EscalationJSON); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}
