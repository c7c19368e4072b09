// Package engine orchestrates the correlation pass and rule evaluation.
// It is the sole writer of new alerts.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/escalate"
	"github.com/linnemanlabs/watchtower/internal/event"
	"github.com/linnemanlabs/watchtower/internal/expr"
	"github.com/linnemanlabs/watchtower/internal/index"
	"github.com/linnemanlabs/watchtower/internal/rule"
)

// Escalator is the slice of the escalation scheduler the engine needs.
type Escalator interface {
	Schedule(alertID string, firedAt time.Time, cfg *escalate.Config)
}

// Engine runs correlation and rule evaluation passes.
type Engine struct {
	correlator *event.Correlator
	events     event.Store
	alerts     alert.Store
	rules      rule.Store
	escalator  Escalator
	indexer    index.Indexer
	logger     log.Logger
	metrics    *Metrics
	now        func() time.Time

	// passMu serializes rebuild passes: overlapping requests queue
	// behind one another rather than interleave.
	passMu sync.Mutex
}

// New creates an engine. escalator, indexer and metrics may be nil.
func New(correlator *event.Correlator, events event.Store, alerts alert.Store, rules rule.Store,
	escalator Escalator, indexer index.Indexer, logger log.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		correlator: correlator,
		events:     events,
		alerts:     alerts,
		rules:      rules,
		escalator:  escalator,
		indexer:    indexer,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// alertPayload is what a fired alert captures about its trigger.
type alertPayload struct {
	RuleName     string  `json:"rule_name"`
	EventTitle   string  `json:"event_title"`
	EventSummary string  `json:"event_summary"`
	ClusterKey   string  `json:"cluster_key"`
	Entity       string  `json:"entity"`
	VolumeScore  float64 `json:"volume_score"`
}

// RunPass rebuilds events for the trailing daysBack window and
// evaluates every enabled rule against the touched events. Returns the
// number of events touched.
func (e *Engine) RunPass(ctx context.Context, daysBack int) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := e.now()
	touched, err := e.correlator.Run(ctx, daysBack)
	if err != nil {
		if e.metrics != nil {
			e.metrics.PassesTotal.WithLabelValues("error").Inc()
		}
		return len(touched), err
	}

	fired, ruleErrs := e.evaluateRules(ctx, touched)
	e.rebuildSearchIndex(ctx, touched)

	if e.metrics != nil {
		e.metrics.PassesTotal.WithLabelValues("ok").Inc()
		e.metrics.PassDuration.Observe(time.Since(start).Seconds())
		e.metrics.EventsTouched.Add(float64(len(touched)))
		e.metrics.AlertsFired.Add(float64(fired))
		e.metrics.RuleErrors.Add(float64(ruleErrs))
	}

	e.logger.Info(ctx, "evaluation pass complete",
		"days_back", daysBack,
		"events_touched", len(touched),
		"alerts_fired", fired,
		"rule_errors", ruleErrs,
	)
	return len(touched), nil
}

// evaluateRules runs every enabled rule against the touched events.
// A failure in one rule is isolated: logged, counted, and the rest of
// the batch completes.
func (e *Engine) evaluateRules(ctx context.Context, touched []event.TemporalEvent) (fired, errs int) {
	rules, err := e.rules.ListRules(ctx)
	if err != nil {
		e.logger.Error(ctx, err, "list rules failed, skipping evaluation")
		return 0, 1
	}

	lookup := e.watchlistLookup()

	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fired, errs
		}

		n, err := e.evaluateRule(ctx, r, touched, lookup)
		fired += n
		if err != nil {
			errs++
			e.logger.Error(ctx, err, "rule evaluation failed", "rule_id", r.ID, "rule", r.Name)
		}
	}
	return fired, errs
}

func (e *Engine) evaluateRule(ctx context.Context, r *rule.AlertRule, touched []event.TemporalEvent, lookup expr.WatchlistLookup) (int, error) {
	tree, err := expr.ParseTree(r.RuleJSON)
	if err != nil {
		return 0, fmt.Errorf("parse rule_json: %w", err)
	}

	var escCfg *escalate.Config
	if len(r.EscalationJSON) > 0 {
		escCfg, err = escalate.ParseConfig(r.EscalationJSON)
		if err != nil {
			return 0, fmt.Errorf("parse escalation_config: %w", err)
		}
	}

	var fired int
	for i := range touched {
		ev := &touched[i]
		ok, err := expr.EvalTree(ctx, tree, &expr.CondContext{Event: ev, Watchlists: lookup})
		if err != nil {
			e.logger.Error(ctx, err, "condition evaluation failed",
				"rule_id", r.ID, "cluster_key", ev.ClusterKey)
			continue
		}
		if !ok {
			continue
		}

		payload, _ := json.Marshal(alertPayload{
			RuleName:     r.Name,
			EventTitle:   ev.Title,
			EventSummary: ev.Summary,
			ClusterKey:   ev.ClusterKey,
			Entity:       ev.Entity,
			VolumeScore:  ev.VolumeScore,
		})

		a := &alert.Alert{
			ID:         ulid.Make().String(),
			RuleID:     r.ID,
			FiredAt:    e.now(),
			EventID:    ev.ID,
			ClusterKey: ev.ClusterKey,
			Payload:    payload,
			Status:     alert.StatusNew,
			Label:      alert.LabelNone,
		}

		inserted, err := e.alerts.InsertOpen(ctx, a)
		if err != nil {
			e.logger.Error(ctx, err, "alert insert failed",
				"rule_id", r.ID, "cluster_key", ev.ClusterKey)
			continue
		}
		if !inserted {
			// an open alert already covers this (rule, cluster) pair
			continue
		}

		fired++
		e.logger.Info(ctx, "alert fired",
			"alert_id", a.ID, "rule_id", r.ID, "rule", r.Name, "cluster_key", ev.ClusterKey)

		if escCfg != nil && e.escalator != nil {
			e.escalator.Schedule(a.ID, a.FiredAt, escCfg)
		}
	}
	return fired, nil
}

// watchlistLookup adapts the rule store to the evaluator's view of
// watchlist entries.
func (e *Engine) watchlistLookup() expr.WatchlistLookup {
	return func(ctx context.Context, watchlistID string) ([]expr.WatchlistEntry, error) {
		items, err := e.rules.ListWatchlistItems(ctx, watchlistID)
		if err != nil {
			return nil, err
		}
		out := make([]expr.WatchlistEntry, 0, len(items))
		for _, it := range items {
			out = append(out, expr.WatchlistEntry{
				Type:    string(it.ItemType),
				Value:   it.Value,
				Weight:  it.Weight,
				Enabled: it.Enabled,
			})
		}
		return out, nil
	}
}

// rebuildSearchIndex feeds the touched events and their open alerts to
// the full-text index consumer, content-addressed by (doc_type, doc_id).
func (e *Engine) rebuildSearchIndex(ctx context.Context, touched []event.TemporalEvent) {
	if e.indexer == nil || len(touched) == 0 {
		return
	}
	docs := make([]index.Document, 0, len(touched))
	for i := range touched {
		ev := &touched[i]
		docs = append(docs, index.Document{
			DocType: "event",
			DocID:   ev.ID,
			Title:   ev.Title,
			Body:    ev.Summary,
		})
	}
	if err := e.indexer.Index(ctx, docs); err != nil {
		e.logger.Error(ctx, err, "search index rebuild failed", "docs", len(docs))
	}
}

// ReloadEscalations re-queues escalation ladders for open alerts whose
// rules carry an escalation config. Called once at startup; already
// dispatched levels are skipped at dispatch time, so this is idempotent.
func (e *Engine) ReloadEscalations(ctx context.Context) error {
	if e.escalator == nil {
		return nil
	}
	rules, err := e.rules.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	var reloaded int
	for i := range rules {
		r := &rules[i]
		if len(r.EscalationJSON) == 0 {
			continue
		}
		cfg, err := escalate.ParseConfig(r.EscalationJSON)
		if err != nil {
			e.logger.Error(ctx, err, "skipping rule with bad escalation config", "rule_id", r.ID)
			continue
		}
		for _, status := range []alert.Status{alert.StatusNew, alert.StatusAcked, alert.StatusSnoozed} {
			alerts, err := e.alerts.ListAlerts(ctx, alert.ListQuery{RuleID: r.ID, Status: status})
			if err != nil {
				return fmt.Errorf("list open alerts for rule %s: %w", r.ID, err)
			}
			for j := range alerts {
				e.escalator.Schedule(alerts[j].ID, alerts[j].FiredAt, cfg)
				reloaded++
			}
		}
	}
	if reloaded > 0 {
		e.logger.Info(ctx, "escalation schedules reloaded", "count", reloaded)
	}
	return nil
}

// RunPeriodic runs a pass on the given interval until ctx is done.
func (e *Engine) RunPeriodic(ctx context.Context, interval time.Duration, daysBack int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := e.RunPass(ctx, daysBack); err != nil {
				e.logger.Error(ctx, err, "scheduled pass failed")
			}
		}
	}
}
