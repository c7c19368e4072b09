package expr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/watchtower/internal/event"
)

// WatchlistEntry is the slice of a watchlist item the evaluator needs.
type WatchlistEntry struct {
	Type    string
	Value   string
	Weight  float64
	Enabled bool
}

// WatchlistLookup resolves a watchlist id to its entries.
type WatchlistLookup func(ctx context.Context, watchlistID string) ([]WatchlistEntry, error)

// CondContext carries everything a condition tree is evaluated against.
type CondContext struct {
	Event      *event.TemporalEvent
	Watchlists WatchlistLookup
}

var severityRank = map[string]int{
	"low":      0,
	"medium":   1,
	"high":     2,
	"critical": 3,
}

// EvalTree evaluates a condition tree against an event. Group semantics
// are documented on Tree: empty `all` is true, empty `any` is false, and
// only present (non-empty) groups are required.
func EvalTree(ctx context.Context, t *Tree, cc *CondContext) (bool, error) {
	if len(t.All) > 0 {
		ok, err := evalAll(ctx, t.All, cc)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(t.Any) > 0 {
		ok, err := evalAny(ctx, t.Any, cc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// evalAll is AND with short-circuit false; empty input is vacuously true.
func evalAll(ctx context.Context, conds []Condition, cc *CondContext) (bool, error) {
	for _, c := range conds {
		ok, err := evalCondition(ctx, c, cc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evalAny is OR with short-circuit true; empty input is false.
func evalAny(ctx context.Context, conds []Condition, cc *CondContext) (bool, error) {
	for _, c := range conds {
		ok, err := evalCondition(ctx, c, cc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evalCondition(ctx context.Context, c Condition, cc *CondContext) (bool, error) {
	ev := cc.Event
	switch c.Type {
	case CondContainsKeyword:
		kw := strings.ToLower(c.Value)
		return strings.Contains(strings.ToLower(ev.Title), kw) ||
			strings.Contains(strings.ToLower(ev.Summary), kw) ||
			strings.EqualFold(ev.Entity, c.Value), nil

	case CondEntityInWatchlist:
		if cc.Watchlists == nil {
			return false, nil
		}
		entries, err := cc.Watchlists(ctx, c.WatchlistID)
		if err != nil {
			return false, fmt.Errorf("watchlist %s: %w", c.WatchlistID, err)
		}
		for _, e := range entries {
			if !e.Enabled {
				continue
			}
			switch e.Type {
			case "entity":
				if strings.EqualFold(e.Value, ev.Entity) {
					return true, nil
				}
			case "keyword":
				kw := strings.ToLower(e.Value)
				if strings.Contains(strings.ToLower(ev.Title), kw) ||
					strings.Contains(strings.ToLower(ev.Summary), kw) {
					return true, nil
				}
			case "domain", "source":
				if strings.Contains(strings.ToLower(ev.Summary), strings.ToLower(e.Value)) {
					return true, nil
				}
			}
		}
		return false, nil

	case CondVolumeAbove:
		return ev.VolumeScore > c.Threshold, nil

	case CondSentimentBelow:
		return ev.SentimentScore < c.Threshold, nil

	case CondNoveltyAbove:
		return ev.NoveltyScore > c.Threshold, nil

	case CondEventTypeIs:
		return strings.EqualFold(ev.EventType, c.Value), nil

	case CondSeverityAtLeast:
		want, ok := severityRank[strings.ToLower(c.Value)]
		if !ok {
			return false, &UnknownCondition{Type: c.Type + ":" + c.Value}
		}
		have, ok := severityRank[strings.ToLower(ev.Severity)]
		return ok && have >= want, nil

	default:
		return false, &UnknownCondition{Type: c.Type}
	}
}

// Querier is the read-only slice of the event and alert stores that
// numeric feature evaluation runs against.
type Querier interface {
	CountEvents(ctx context.Context, from, to time.Time) (int, error)
	CountAlerts(ctx context.Context, from, to time.Time) (int, error)
	CountAlertsByStatus(ctx context.Context, status string, from, to time.Time) (int, error)
	AvgEventSentiment(ctx context.Context, from, to time.Time) (float64, error)
	AvgEventVolume(ctx context.Context, from, to time.Time) (float64, error)
	MaxEventNovelty(ctx context.Context, from, to time.Time) (float64, error)
}

// EvalCall evaluates a feature call as of asOf: the call's first
// argument is the trailing window in days ending at asOf.
func EvalCall(ctx context.Context, call *Call, q Querier, asOf time.Time) (float64, error) {
	days := call.Args[0]
	from := asOf.Add(-time.Duration(days * 24 * float64(time.Hour)))

	switch call.Name {
	case FnAlertsCount:
		n, err := q.CountAlerts(ctx, from, asOf)
		return float64(n), err
	case FnEventsCount:
		n, err := q.CountEvents(ctx, from, asOf)
		return float64(n), err
	case FnAvgSentiment:
		return q.AvgEventSentiment(ctx, from, asOf)
	case FnAvgVolume:
		return q.AvgEventVolume(ctx, from, asOf)
	case FnMaxNovelty:
		return q.MaxEventNovelty(ctx, from, asOf)
	case FnAlertsResolvedCount:
		n, err := q.CountAlertsByStatus(ctx, "resolved", from, asOf)
		return float64(n), err
	default:
		return 0, &UnknownFunction{Name: call.Name}
	}
}
