// Package feature computes named numeric time series from the event and
// alert stores via the shared expression language.
package feature

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchtower/internal/event"
	"github.com/linnemanlabs/watchtower/internal/expr"
	"github.com/linnemanlabs/watchtower/internal/store"
)

// Definition names a feature expression, e.g. alerts_count(7).
type Definition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Expression  string    `json:"expression"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Value is one computed point of a feature's time series.
// Recomputation overwrites the value for the same (feature_id, ts).
type Value struct {
	FeatureID string    `json:"feature_id"`
	TS        time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// Store is the persistence interface for feature definitions and values.
type Store interface {
	CreateFeature(ctx context.Context, d *Definition) error
	GetFeature(ctx context.Context, id string) (*Definition, bool, error)
	ListFeatures(ctx context.Context) ([]Definition, error)
	UpsertFeatureValue(ctx context.Context, v *Value) error
	ListFeatureValues(ctx context.Context, featureID string, limit int) ([]Value, error)
}

// Service is the business boundary for the feature workbench.
type Service struct {
	store   Store
	querier expr.Querier
	logger  log.Logger
	now     func() time.Time
}

// NewService creates a feature service.
func NewService(st Store, querier expr.Querier, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: st, querier: querier, logger: logger, now: time.Now}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create validates the expression and persists a new definition,
// returning its id. Malformed expressions fail here, never silently.
func (s *Service) Create(ctx context.Context, name, expression, description string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("feature name is required")
	}
	if _, err := expr.ParseCall(expression); err != nil {
		return "", err
	}
	d := &Definition{
		ID:          ulid.Make().String(),
		Name:        name,
		Expression:  expression,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateFeature(ctx, d); err != nil {
		return "", fmt.Errorf("create feature: %w", err)
	}
	s.logger.Info(ctx, "feature created", "feature_id", d.ID, "name", name, "expression", expression)
	return d.ID, nil
}

// List returns all feature definitions.
func (s *Service) List(ctx context.Context) ([]Definition, error) {
	return s.store.ListFeatures(ctx)
}

// Compute evaluates the feature for each of the trailing daysBack
// calendar days, one value per day at UTC midnight, and upserts the
// results. Returns the number of values written.
func (s *Service) Compute(ctx context.Context, featureID string, daysBack int) (int, error) {
	if daysBack <= 0 {
		return 0, fmt.Errorf("days_back must be positive, got %d", daysBack)
	}
	d, ok, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, store.ErrNotFound
	}

	call, err := expr.ParseCall(d.Expression)
	if err != nil {
		return 0, err
	}

	var n int
	today := event.Day(s.now())
	for i := daysBack - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ts := today.AddDate(0, 0, -i)
		v, err := expr.EvalCall(ctx, call, s.querier, ts)
		if err != nil {
			return n, fmt.Errorf("evaluate %s at %s: %w", d.Name, ts.Format("2006-01-02"), err)
		}
		if err := s.store.UpsertFeatureValue(ctx, &Value{FeatureID: featureID, TS: ts, Value: v}); err != nil {
			return n, fmt.Errorf("upsert value: %w", err)
		}
		n++
	}

	s.logger.Info(ctx, "feature computed", "feature_id", featureID, "values", n)
	return n, nil
}

// Values returns up to limit most recent values for a feature.
func (s *Service) Values(ctx context.Context, featureID string, limit int) ([]Value, error) {
	if _, ok, err := s.store.GetFeature(ctx, featureID); err != nil {
		return nil, err
	} else if !ok {
		return nil, store.ErrNotFound
	}
	return s.store.ListFeatureValues(ctx, featureID, limit)
}
