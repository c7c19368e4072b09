// Package memstore provides an in-memory implementation of the domain
// store interfaces. Suitable for dev/testing; one mutex makes
// upsert-by-cluster_key and insert-if-no-open-alert atomic.
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/escalate"
	"github.com/linnemanlabs/watchtower/internal/event"
	"github.com/linnemanlabs/watchtower/internal/feature"
	"github.com/linnemanlabs/watchtower/internal/rule"
	"github.com/linnemanlabs/watchtower/internal/store"

	"sync"
)

// Store holds all engine state in memory. Copies in, copies out.
type Store struct {
	mu sync.RWMutex

	events    map[string]*event.TemporalEvent // event ID -> event
	byCluster map[string]string               // cluster key -> event ID
	evidence  map[string][]event.Evidence     // event ID -> evidence

	rules      map[string]*rule.AlertRule
	watchlists map[string]*rule.Watchlist
	watchItems map[string][]rule.WatchlistItem // watchlist ID -> items

	alerts      map[string]*alert.Alert
	escalations map[string][]escalate.Escalation // alert ID -> log

	features  map[string]*feature.Definition
	featureVs map[string]map[int64]float64 // feature ID -> unix ts -> value
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		events:      make(map[string]*event.TemporalEvent),
		byCluster:   make(map[string]string),
		evidence:    make(map[string][]event.Evidence),
		rules:       make(map[string]*rule.AlertRule),
		watchlists:  make(map[string]*rule.Watchlist),
		watchItems:  make(map[string][]rule.WatchlistItem),
		alerts:      make(map[string]*alert.Alert),
		escalations: make(map[string][]escalate.Escalation),
		features:    make(map[string]*feature.Definition),
		featureVs:   make(map[string]map[int64]float64),
	}
}

// Events

// GetEventByClusterKey retrieves an event by its cluster key. Returns a copy.
func (s *Store) GetEventByClusterKey(_ context.Context, key string) (*event.TemporalEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCluster[key]
	if !ok {
		return nil, false, nil
	}
	cp := *s.events[id]
	return &cp, true, nil
}

// UpsertEvent inserts or replaces the event keyed by its cluster key.
func (s *Store) UpsertEvent(_ context.Context, ev *event.TemporalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	if prevID, ok := s.byCluster[ev.ClusterKey]; ok && prevID != ev.ID {
		delete(s.events, prevID)
		delete(s.evidence, prevID)
	}
	s.events[ev.ID] = &cp
	s.byCluster[ev.ClusterKey] = ev.ID
	return nil
}

// ReplaceEvidence swaps the full evidence set for an event.
func (s *Store) ReplaceEvidence(_ context.Context, eventID string, evidence []event.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return store.ErrNotFound
	}
	s.evidence[eventID] = append([]event.Evidence(nil), evidence...)
	return nil
}

// ListEvents returns events matching the query, newest first.
func (s *Store) ListEvents(_ context.Context, q event.ListQuery) ([]event.TemporalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.TemporalEvent
	for _, ev := range s.events {
		if !q.FromTS.IsZero() && ev.StartTS.Before(q.FromTS) {
			continue
		}
		if !q.ToTS.IsZero() && !ev.StartTS.Before(q.ToTS) {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTS.Equal(out[j].StartTS) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartTS.After(out[j].StartTS)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListEvidence returns the evidence rows for an event.
func (s *Store) ListEvidence(_ context.Context, eventID string) ([]event.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]event.Evidence(nil), s.evidence[eventID]...), nil
}

// CountEntityEvents counts events for an entity with StartTS in [from, to).
func (s *Store) CountEntityEvents(_ context.Context, entity string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, ev := range s.events {
		if ev.Entity == entity && !ev.StartTS.Before(from) && ev.StartTS.Before(to) {
			n++
		}
	}
	return n, nil
}

// Rules and watchlists

// CreateRule stores a copy of the rule.
func (s *Store) CreateRule(_ context.Context, r *rule.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

// UpdateRule replaces a rule in place.
func (s *Store) UpdateRule(_ context.Context, r *rule.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

// GetRule retrieves a rule by id. Returns a copy.
func (s *Store) GetRule(_ context.Context, id string) (*rule.AlertRule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// ListRules returns all rules sorted by creation time.
func (s *Store) ListRules(_ context.Context) ([]rule.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rule.AlertRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateWatchlist stores a copy of the watchlist.
func (s *Store) CreateWatchlist(_ context.Context, w *rule.Watchlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.watchlists[w.ID] = &cp
	return nil
}

// ListWatchlists returns all watchlists.
func (s *Store) ListWatchlists(_ context.Context) ([]rule.Watchlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rule.Watchlist, 0, len(s.watchlists))
	for _, w := range s.watchlists {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetWatchlist retrieves a watchlist by id.
func (s *Store) GetWatchlist(_ context.Context, id string) (*rule.Watchlist, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.watchlists[id]
	if !ok {
		return nil, false, nil
	}
	cp := *w
	return &cp, true, nil
}

// AddWatchlistItem appends an item to its watchlist.
func (s *Store) AddWatchlistItem(_ context.Context, it *rule.WatchlistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchlists[it.WatchlistID]; !ok {
		return store.ErrNotFound
	}
	s.watchItems[it.WatchlistID] = append(s.watchItems[it.WatchlistID], *it)
	return nil
}

// ListWatchlistItems returns the items of a watchlist.
func (s *Store) ListWatchlistItems(_ context.Context, watchlistID string) ([]rule.WatchlistItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.watchlists[watchlistID]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]rule.WatchlistItem(nil), s.watchItems[watchlistID]...), nil
}

// Alerts

// InsertOpen inserts the alert unless an open alert already exists for
// the same (rule_id, cluster_key). Check and insert happen under one
// lock, so two concurrent passes cannot both insert for the pair.
func (s *Store) InsertOpen(_ context.Context, a *alert.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.alerts {
		if ex.RuleID == a.RuleID && ex.ClusterKey == a.ClusterKey && ex.Open() {
			return false, nil
		}
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return true, nil
}

// GetAlert retrieves an alert by id. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// UpdateAlert replaces an alert in place.
func (s *Store) UpdateAlert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// ListAlerts returns alerts matching the query, newest first.
func (s *Store) ListAlerts(_ context.Context, q alert.ListQuery) ([]alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alert.Alert
	for _, a := range s.alerts {
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		if q.RuleID != "" && a.RuleID != q.RuleID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListAlertsWindow returns all alerts with fired_at in [from, to).
func (s *Store) ListAlertsWindow(_ context.Context, from, to time.Time) ([]alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alert.Alert
	for _, a := range s.alerts {
		if a.FiredAt.Before(from) || !a.FiredAt.Before(to) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DueSnoozed returns snoozed alerts whose deadline has passed.
func (s *Store) DueSnoozed(_ context.Context, now time.Time) ([]alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alert.Alert
	for _, a := range s.alerts {
		if a.Status == alert.StatusSnoozed && a.SnoozedUntil != nil && !now.Before(*a.SnoozedUntil) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Escalations

// AppendEscalation appends one dispatch attempt to the log.
func (s *Store) AppendEscalation(_ context.Context, e *escalate.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[e.AlertID] = append(s.escalations[e.AlertID], *e)
	return nil
}

// ListEscalations returns the escalation log for an alert in append order.
func (s *Store) ListEscalations(_ context.Context, alertID string) ([]escalate.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]escalate.Escalation(nil), s.escalations[alertID]...), nil
}

// HasSent reports whether a successful attempt exists for the triple.
func (s *Store) HasSent(_ context.Context, alertID string, level int, channel string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.escalations[alertID] {
		if e.Level == level && e.Channel == channel && e.SentAt != nil {
			return true, nil
		}
	}
	return false, nil
}

// Features

// CreateFeature stores a copy of the definition.
func (s *Store) CreateFeature(_ context.Context, d *feature.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.features[d.ID] = &cp
	return nil
}

// GetFeature retrieves a definition by id.
func (s *Store) GetFeature(_ context.Context, id string) (*feature.Definition, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.features[id]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

// ListFeatures returns all definitions.
func (s *Store) ListFeatures(_ context.Context) ([]feature.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feature.Definition, 0, len(s.features))
	for _, d := range s.features {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertFeatureValue overwrites the value for (feature_id, ts).
func (s *Store) UpsertFeatureValue(_ context.Context, v *feature.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.features[v.FeatureID]; !ok {
		return store.ErrNotFound
	}
	m, ok := s.featureVs[v.FeatureID]
	if !ok {
		m = make(map[int64]float64)
		s.featureVs[v.FeatureID] = m
	}
	m[v.TS.UTC().Unix()] = v.Value
	return nil
}

// ListFeatureValues returns up to limit values, newest first.
func (s *Store) ListFeatureValues(_ context.Context, featureID string, limit int) ([]feature.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []feature.Value
	for ts, v := range s.featureVs[featureID] {
		out = append(out, feature.Value{FeatureID: featureID, TS: time.Unix(ts, 0).UTC(), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Feature querier (read-only slice backing expression evaluation)

// CountEvents counts events with StartTS in [from, to).
func (s *Store) CountEvents(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, ev := range s.events {
		if !ev.StartTS.Before(from) && ev.StartTS.Before(to) {
			n++
		}
	}
	return n, nil
}

// CountAlerts counts alerts with fired_at in [from, to).
func (s *Store) CountAlerts(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, a := range s.alerts {
		if !a.FiredAt.Before(from) && a.FiredAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// CountAlertsByStatus counts alerts in a status with fired_at in [from, to).
func (s *Store) CountAlertsByStatus(_ context.Context, status string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, a := range s.alerts {
		if string(a.Status) == status && !a.FiredAt.Before(from) && a.FiredAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// AvgEventSentiment averages sentiment over events in [from, to).
func (s *Store) AvgEventSentiment(_ context.Context, from, to time.Time) (float64, error) {
	return s.avgEvents(from, to, func(ev *event.TemporalEvent) float64 { return ev.SentimentScore })
}

// AvgEventVolume averages volume over events in [from, to).
func (s *Store) AvgEventVolume(_ context.Context, from, to time.Time) (float64, error) {
	return s.avgEvents(from, to, func(ev *event.TemporalEvent) float64 { return ev.VolumeScore })
}

// MaxEventNovelty returns the max novelty over events in [from, to).
func (s *Store) MaxEventNovelty(_ context.Context, from, to time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max float64
	for _, ev := range s.events {
		if !ev.StartTS.Before(from) && ev.StartTS.Before(to) && ev.NoveltyScore > max {
			max = ev.NoveltyScore
		}
	}
	return max, nil
}

func (s *Store) avgEvents(from, to time.Time, f func(*event.TemporalEvent) float64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	var n int
	for _, ev := range s.events {
		if !ev.StartTS.Before(from) && ev.StartTS.Before(to) {
			sum += f(ev)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}
