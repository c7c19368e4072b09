// Package event provides the temporal event model and the correlator
// that clusters normalized source items into events.
package event

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TemporalEvent is one clustered occurrence: all items about the same
// entity within the same calendar day collapse into a single event.
type TemporalEvent struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	StartTS        time.Time `json:"start_ts"`
	EndTS          time.Time `json:"end_ts"`
	EventType      string    `json:"event_type"`
	Confidence     float64   `json:"confidence"`      // [0, 1]
	Severity       string    `json:"severity"`
	NoveltyScore   float64   `json:"novelty_score"`
	VolumeScore    float64   `json:"volume_score"`
	SentimentScore float64   `json:"sentiment_score"` // [-1, 1]
	ClusterKey     string    `json:"cluster_key"`
	Entity         string    `json:"entity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Evidence links one source item into an event. Owned by the event;
// weight contributes to the event's volume score.
type Evidence struct {
	EventID      string  `json:"event_id"`
	SourceItemID string  `json:"source_item_id"`
	Weight       float64 `json:"weight"`
	Snippet      string  `json:"snippet,omitempty"`
}

// ListQuery bounds an event listing.
type ListQuery struct {
	Limit  int
	FromTS time.Time
	ToTS   time.Time
}

// Store is the persistence interface the correlator and the rule engine
// need for events.
type Store interface {
	GetEventByClusterKey(ctx context.Context, key string) (*TemporalEvent, bool, error)
	UpsertEvent(ctx context.Context, ev *TemporalEvent) error
	ReplaceEvidence(ctx context.Context, eventID string, evidence []Evidence) error
	ListEvents(ctx context.Context, q ListQuery) ([]TemporalEvent, error)
	ListEvidence(ctx context.Context, eventID string) ([]Evidence, error)

	// CountEntityEvents counts events for an entity with StartTS in
	// [from, to). Feeds the novelty score baseline.
	CountEntityEvents(ctx context.Context, entity string, from, to time.Time) (int, error)
}

// Day truncates ts to its UTC calendar day.
func Day(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// ClusterKey derives the deterministic dedup key for (entity, day).
// Re-running correlation over the same window maps the same items to
// the same key.
func ClusterKey(entity string, day time.Time) string {
	sum := sha256.Sum256([]byte(entity + "|" + Day(day).Format("2006-01-02")))
	return hex.EncodeToString(sum[:8])
}
