// Package alert provides the alert model and its lifecycle state
// machine (new, acked, snoozed, resolved).
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusNew means fired and not yet handled.
	StatusNew Status = "new"

	// StatusAcked means an operator acknowledged the alert.
	StatusAcked Status = "acked"

	// StatusSnoozed means hidden until snoozed_until passes.
	StatusSnoozed Status = "snoozed"

	// StatusResolved means closed; a re-fire of the same rule and
	// cluster creates a new alert row, not a transition.
	StatusResolved Status = "resolved"
)

// Label is operator feedback on alert quality, orthogonal to status.
type Label string

const (
	LabelNone      Label = "none"
	LabelHelpful   Label = "helpful"
	LabelUnhelpful Label = "unhelpful"
)

// Alert is one rule firing against one event cluster.
type Alert struct {
	ID           string          `json:"id"`
	RuleID       string          `json:"rule_id"`
	FiredAt      time.Time       `json:"fired_at"`
	EventID      string          `json:"event_id,omitempty"`
	ClusterKey   string          `json:"cluster_key"`
	Payload      json.RawMessage `json:"payload_json,omitempty"`
	Status       Status          `json:"status"`
	SnoozedUntil *time.Time      `json:"snoozed_until,omitempty"`
	Label        Label           `json:"label"`
	Note         string          `json:"note,omitempty"`
}

// Open reports whether the alert still counts against the
// (rule_id, cluster_key) dedup window.
func (a *Alert) Open() bool { return a.Status != StatusResolved }

// InvalidTransition rejects a lifecycle operation on the wrong state or
// a missing alert.
type InvalidTransition struct {
	AlertID string
	From    Status
	Op      string
}

func (e *InvalidTransition) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid transition: %s on unknown alert %s", e.Op, e.AlertID)
	}
	return fmt.Sprintf("invalid transition: %s on alert %s in state %s", e.Op, e.AlertID, e.From)
}

// ListQuery bounds an alert listing.
type ListQuery struct {
	Limit  int
	Status Status
	RuleID string
}

// Store is the persistence interface for alerts.
type Store interface {
	// InsertOpen inserts the alert unless an open (non-resolved) alert
	// already exists for the same (rule_id, cluster_key). The check and
	// insert are atomic. Returns whether the insert happened.
	InsertOpen(ctx context.Context, a *Alert) (bool, error)

	GetAlert(ctx context.Context, id string) (*Alert, bool, error)
	UpdateAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context, q ListQuery) ([]Alert, error)

	// ListAlertsWindow returns all alerts with fired_at in [from, to),
	// unbounded. Feeds the backtest aggregator.
	ListAlertsWindow(ctx context.Context, from, to time.Time) ([]Alert, error)

	// DueSnoozed returns snoozed alerts whose snoozed_until has passed.
	DueSnoozed(ctx context.Context, now time.Time) ([]Alert, error)
}
