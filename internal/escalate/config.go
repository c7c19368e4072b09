// Package escalate walks alert escalation ladders and dispatches to
// notification channel adapters, recording every attempt.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Level is one rung of an escalation ladder: fire the listed channels
// delay_minutes after the alert fired.
type Level struct {
	DelayMinutes int      `json:"delay_minutes"`
	Channels     []string `json:"channels"`
}

// Config is a rule's escalation ladder, anchored to the alert's
// fired_at time.
type Config struct {
	Levels []Level `json:"levels"`
}

// ParseConfig decodes and validates an escalation config from rule JSON.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("escalation config: %w", err)
	}
	prev := -1
	for i, lvl := range c.Levels {
		if lvl.DelayMinutes < 0 {
			return nil, fmt.Errorf("escalation level %d: negative delay", i+1)
		}
		if lvl.DelayMinutes <= prev && i > 0 {
			return nil, fmt.Errorf("escalation level %d: delays must strictly increase", i+1)
		}
		if len(lvl.Channels) == 0 {
			return nil, fmt.Errorf("escalation level %d: no channels", i+1)
		}
		prev = lvl.DelayMinutes
	}
	return &c, nil
}

// Escalation is one dispatch attempt. Append-only; one row per
// (alert, level, channel) attempt, manual or scheduled.
type Escalation struct {
	ID        string     `json:"id"`
	AlertID   string     `json:"alert_id"`
	Level     int        `json:"escalation_level"` // >= 1
	Channel   string     `json:"channel"`
	Attempt   int        `json:"attempt"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store is the persistence interface for the escalation log.
type Store interface {
	AppendEscalation(ctx context.Context, e *Escalation) error
	ListEscalations(ctx context.Context, alertID string) ([]Escalation, error)

	// HasSent reports whether a successful attempt exists for the
	// (alert, level, channel) triple. Makes scheduling idempotent
	// across restarts.
	HasSent(ctx context.Context, alertID string, level int, channel string) (bool, error)
}

// DispatchError wraps a channel adapter failure. Recorded per attempt
// and retried up to the scheduler's attempt bound.
type DispatchError struct {
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
