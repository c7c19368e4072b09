// Package backtest aggregates historical alert engagement over a time
// window. Read-only: it measures how persisted alerts were handled, it
// does not re-simulate rule changes against raw events.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/watchtower/internal/alert"
)

// RuleStats is the per-rule breakdown of a report.
type RuleStats struct {
	RuleID    string `json:"rule_id"`
	Total     int    `json:"total"`
	New       int    `json:"new"`
	Acked     int    `json:"acked"`
	Snoozed   int    `json:"snoozed"`
	Resolved  int    `json:"resolved"`
	Helpful   int    `json:"helpful"`
	Unhelpful int    `json:"unhelpful"`
}

// Report is a pure computed projection over [from_ts, to_ts); it is
// never persisted.
type Report struct {
	FromTS    time.Time   `json:"from_ts"`
	ToTS      time.Time   `json:"to_ts"`
	Total     int         `json:"total"`
	New       int         `json:"new"`
	Acked     int         `json:"acked"`
	Snoozed   int         `json:"snoozed"`
	Resolved  int         `json:"resolved"`
	Helpful   int         `json:"helpful"`
	Unhelpful int         `json:"unhelpful"`
	Rules     []RuleStats `json:"rules"`
}

// AlertLister is the read-only slice of the alert store backtesting needs.
type AlertLister interface {
	ListAlertsWindow(ctx context.Context, from, to time.Time) ([]alert.Alert, error)
}

// Evaluator produces backtest reports. Deterministic and side-effect
// free: the same window over the same data yields identical output.
type Evaluator struct {
	alerts AlertLister
}

// NewEvaluator creates a backtest evaluator.
func NewEvaluator(alerts AlertLister) *Evaluator {
	return &Evaluator{alerts: alerts}
}

// Run aggregates alerts fired in [from, to) by status and label, with
// per-rule breakdowns sorted by rule id.
func (e *Evaluator) Run(ctx context.Context, from, to time.Time) (*Report, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("to_ts must be after from_ts")
	}

	alerts, err := e.alerts.ListAlertsWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	r := &Report{FromTS: from, ToTS: to}
	byRule := make(map[string]*RuleStats)
	for i := range alerts {
		a := &alerts[i]
		rs, ok := byRule[a.RuleID]
		if !ok {
			rs = &RuleStats{RuleID: a.RuleID}
			byRule[a.RuleID] = rs
		}

		r.Total++
		rs.Total++
		switch a.Status {
		case alert.StatusNew:
			r.New++
			rs.New++
		case alert.StatusAcked:
			r.Acked++
			rs.Acked++
		case alert.StatusSnoozed:
			r.Snoozed++
			rs.Snoozed++
		case alert.StatusResolved:
			r.Resolved++
			rs.Resolved++
		}
		switch a.Label {
		case alert.LabelHelpful:
			r.Helpful++
			rs.Helpful++
		case alert.LabelUnhelpful:
			r.Unhelpful++
			rs.Unhelpful++
		}
	}

	ids := make([]string, 0, len(byRule))
	for id := range byRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r.Rules = append(r.Rules, *byRule[id])
	}
	return r, nil
}
