// Package expr implements the small expression language shared by alert
// conditions (boolean trees) and feature definitions (numeric time
// series). One AST and one lexer serve both; evaluation happens in two
// typed contexts. The evaluator is stateless and never writes.
package expr

import "fmt"

// ParseError reports a malformed expression, naming the offending token.
type ParseError struct {
	Token  string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %q (offset %d): %s", e.Token, e.Offset, e.Reason)
}

// UnknownFunction reports a feature expression referencing an undefined
// function name.
type UnknownFunction struct {
	Name string
}

func (e *UnknownFunction) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

// UnknownCondition reports a condition tree referencing an undefined
// predicate type.
type UnknownCondition struct {
	Type string
}

func (e *UnknownCondition) Error() string {
	return fmt.Sprintf("unknown condition type %q", e.Type)
}

// Condition is one leaf predicate of a condition tree.
type Condition struct {
	Type        string  `json:"type"`
	Value       string  `json:"value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	WatchlistID string  `json:"watchlist_id,omitempty"`
}

// Tree is a rule's condition tree: a conjunction of two groups.
//
// Group semantics follow boolean convention: an empty `all` group is
// vacuously true, an empty `any` group is false as an OR. The tree only
// requires groups that are present, so `{any: [], all: []}` matches
// every event, `{any: [], all: [c]}` matches iff c holds, and
// `{any: [c], all: []}` matches iff c holds.
type Tree struct {
	Any []Condition `json:"any"`
	All []Condition `json:"all"`
}

// Call is a parsed feature expression: a named numeric function over a
// trailing window, e.g. alerts_count(7).
type Call struct {
	Name string
	Args []float64
}

// Condition predicate types.
const (
	CondContainsKeyword   = "contains_keyword"
	CondEntityInWatchlist = "entity_in_watchlist"
	CondVolumeAbove       = "volume_score_above"
	CondSentimentBelow    = "sentiment_below"
	CondNoveltyAbove      = "novelty_above"
	CondEventTypeIs       = "event_type_is"
	CondSeverityAtLeast   = "severity_at_least"
)

// Feature function names.
const (
	FnAlertsCount         = "alerts_count"
	FnEventsCount         = "events_count"
	FnAvgSentiment        = "avg_sentiment"
	FnAvgVolume           = "avg_volume"
	FnMaxNovelty          = "max_novelty"
	FnAlertsResolvedCount = "alerts_resolved_count"
)

var condTypes = map[string]bool{
	CondContainsKeyword:   true,
	CondEntityInWatchlist: true,
	CondVolumeAbove:       true,
	CondSentimentBelow:    true,
	CondNoveltyAbove:      true,
	CondEventTypeIs:       true,
	CondSeverityAtLeast:   true,
}

var featureFns = map[string]int{ // name -> arity
	FnAlertsCount:         1,
	FnEventsCount:         1,
	FnAvgSentiment:        1,
	FnAvgVolume:           1,
	FnMaxNovelty:          1,
	FnAlertsResolvedCount: 1,
}
