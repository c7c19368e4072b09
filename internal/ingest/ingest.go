// Package ingest defines the boundary to the document ingestion pipeline.
// The engine consumes already-normalized items; fetching and entity
// extraction happen upstream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Label is an extracted entity label with its relevance weight.
type Label struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Item is one normalized source document as handed over by the
// ingestion pipeline.
type Item struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Sentiment   float64   `json:"sentiment"` // [-1, 1]
	Weight      float64   `json:"weight"`
	Entities    []Label   `json:"entities,omitempty"`
}

// DominantEntity returns the highest-weighted label name, or fallback
// when the item carries no labels.
func (it *Item) DominantEntity(fallback string) string {
	best := fallback
	bestW := -1.0
	for _, l := range it.Entities {
		if l.Weight > bestW {
			best = l.Name
			bestW = l.Weight
		}
	}
	return best
}

// Feed supplies normalized items for a time window.
type Feed interface {
	Fetch(ctx context.Context, from, to time.Time) ([]Item, error)
}

// FileFeed reads items from a JSON file. Suitable for dev and replay;
// production deployments point this at the ingestion pipeline's export.
type FileFeed struct {
	path string
}

// NewFileFeed creates a feed backed by a JSON array of items at path.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// Fetch loads the file and returns items inside [from, to), ordered by
// publish time.
func (f *FileFeed) Fetch(ctx context.Context, from, to time.Time) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}

	var all []Item
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode feed file: %w", err)
	}

	var out []Item
	for _, it := range all {
		if it.PublishedAt.Before(from) || !it.PublishedAt.Before(to) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out, nil
}

// StaticFeed serves a fixed slice of items. Used in tests and as the
// default when no feed is configured.
type StaticFeed struct {
	Items []Item
}

// Fetch returns the items inside [from, to).
func (f *StaticFeed) Fetch(ctx context.Context, from, to time.Time) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range f.Items {
		if it.PublishedAt.Before(from) || !it.PublishedAt.Before(to) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
