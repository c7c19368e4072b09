package event

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchtower/internal/ingest"
)

const (
	// miscEntity buckets items that carry no extracted labels.
	miscEntity = "misc"

	// noveltyBaselineDays is the trailing window the novelty score is
	// measured against.
	noveltyBaselineDays = 30

	maxSummarySnippets = 3
)

// Correlator clusters normalized source items into temporal events.
// Runs are idempotent: the same input window always maps to the same
// set of cluster keys, and existing events are updated in place.
type Correlator struct {
	store  Store
	feed   ingest.Feed
	logger log.Logger
	now    func() time.Time
}

// NewCorrelator creates a correlator over the given store and feed.
func NewCorrelator(store Store, feed ingest.Feed, logger log.Logger) *Correlator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Correlator{
		store:  store,
		feed:   feed,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the correlator's clock. Test hook.
func (c *Correlator) SetClock(now func() time.Time) { c.now = now }

type group struct {
	entity string
	day    time.Time
	items  []ingest.Item
}

// Run rebuilds events for the trailing daysBack window and returns the
// events touched. A failure on a single cluster group is logged and
// counted but does not abort the pass; cancellation is honored between
// groups so an in-progress upsert completes or never starts.
func (c *Correlator) Run(ctx context.Context, daysBack int) ([]TemporalEvent, error) {
	if daysBack <= 0 {
		return nil, fmt.Errorf("days_back must be positive, got %d", daysBack)
	}

	now := c.now()
	from := Day(now).AddDate(0, 0, -(daysBack - 1))
	items, err := c.feed.Fetch(ctx, from, now.Add(time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}

	groups := groupItems(items)

	var touched []TemporalEvent
	var failed int
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return touched, err
		}
		ev, err := c.upsertGroup(ctx, g)
		if err != nil {
			failed++
			c.logger.Error(ctx, err, "cluster group upsert failed",
				"entity", g.entity,
				"day", g.day.Format("2006-01-02"),
				"items", len(g.items),
			)
			continue
		}
		touched = append(touched, *ev)
	}

	c.logger.Info(ctx, "correlation pass complete",
		"days_back", daysBack,
		"items", len(items),
		"events_touched", len(touched),
		"groups_failed", failed,
	)
	return touched, nil
}

// groupItems buckets items by (dominant entity, calendar day) in a
// deterministic order.
func groupItems(items []ingest.Item) []group {
	byKey := make(map[string]*group)
	for _, it := range items {
		entity := it.DominantEntity(miscEntity)
		day := Day(it.PublishedAt)
		k := entity + "|" + day.Format("2006-01-02")
		g, ok := byKey[k]
		if !ok {
			g = &group{entity: entity, day: day}
			byKey[k] = g
		}
		g.items = append(g.items, it)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]group, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}

func (c *Correlator) upsertGroup(ctx context.Context, g group) (*TemporalEvent, error) {
	key := ClusterKey(g.entity, g.day)

	var (
		volume    float64
		sentiment float64
		start     = g.items[0].PublishedAt
		end       = g.items[0].PublishedAt
		top       = g.items[0]
	)
	for _, it := range g.items {
		volume += it.Weight
		sentiment += it.Sentiment * it.Weight
		if it.PublishedAt.Before(start) {
			start = it.PublishedAt
		}
		if it.PublishedAt.After(end) {
			end = it.PublishedAt
		}
		if it.Weight > top.Weight {
			top = it
		}
	}
	if volume > 0 {
		sentiment /= volume
	}

	baseFrom := g.day.AddDate(0, 0, -noveltyBaselineDays)
	prior, err := c.store.CountEntityEvents(ctx, g.entity, baseFrom, g.day)
	if err != nil {
		return nil, fmt.Errorf("novelty baseline for %q: %w", g.entity, err)
	}

	ev := &TemporalEvent{
		Title:          top.Title,
		Summary:        buildSummary(g.items),
		StartTS:        start,
		EndTS:          end,
		EventType:      "news",
		Confidence:     float64(len(g.items)) / float64(len(g.items)+1),
		Severity:       severityFor(volume),
		NoveltyScore:   1.0 / float64(1+prior),
		VolumeScore:    volume,
		SentimentScore: sentiment,
		ClusterKey:     key,
		Entity:         g.entity,
		UpdatedAt:      c.now(),
	}

	existing, ok, err := c.store.GetEventByClusterKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup cluster %s: %w", key, err)
	}
	if ok {
		ev.ID = existing.ID
		ev.CreatedAt = existing.CreatedAt
	} else {
		ev.ID = ulid.Make().String()
		ev.CreatedAt = c.now()
	}

	if err := c.store.UpsertEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("upsert event %s: %w", key, err)
	}

	evidence := make([]Evidence, 0, len(g.items))
	for _, it := range g.items {
		evidence = append(evidence, Evidence{
			EventID:      ev.ID,
			SourceItemID: it.ID,
			Weight:       it.Weight,
			Snippet:      it.Snippet,
		})
	}
	if err := c.store.ReplaceEvidence(ctx, ev.ID, evidence); err != nil {
		return nil, fmt.Errorf("replace evidence for %s: %w", key, err)
	}

	return ev, nil
}

// buildSummary joins the snippets of the top weighted items.
func buildSummary(items []ingest.Item) string {
	sorted := make([]ingest.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })

	var parts []string
	for _, it := range sorted {
		s := it.Snippet
		if s == "" {
			s = it.Title
		}
		if s == "" {
			continue
		}
		parts = append(parts, s)
		if len(parts) == maxSummarySnippets {
			break
		}
	}
	return strings.Join(parts, " / ")
}

func severityFor(volume float64) string {
	switch {
	case volume >= 10:
		return "high"
	case volume >= 5:
		return "medium"
	default:
		return "low"
	}
}
