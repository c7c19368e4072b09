package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/watchtower/internal/event"
)

func (a *API) handleRunPass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DaysBack int `json:"days_back"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			a.respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	if req.DaysBack < 0 {
		a.respondError(w, http.StatusBadRequest, "days_back must be positive")
		return
	}
	daysBack := req.DaysBack
	if daysBack == 0 {
		daysBack = a.daysBack
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("watchtower.pass.days_back", daysBack))

	touched, err := a.engine.RunPass(r.Context(), daysBack)
	if err != nil {
		a.fail(r, w, err, "pass failed")
		return
	}

	a.respond(w, http.StatusOK, map[string]any{
		"events_touched": touched,
		"days_back":      daysBack,
	})
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := event.ListQuery{Limit: 100}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	var ok bool
	if q.FromTS, ok = parseTimeParam(w, r, "from"); !ok {
		return
	}
	if q.ToTS, ok = parseTimeParam(w, r, "to"); !ok {
		return
	}

	events, err := a.events.ListEvents(r.Context(), q)
	if err != nil {
		a.fail(r, w, err, "list events failed")
		return
	}
	if events == nil {
		events = []event.TemporalEvent{}
	}
	a.respond(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("watchtower.event.id", id))

	evidence, err := a.events.ListEvidence(r.Context(), id)
	if err != nil {
		a.fail(r, w, err, "list evidence failed")
		return
	}
	if evidence == nil {
		evidence = []event.Evidence{}
	}
	a.respond(w, http.StatusOK, map[string]any{"evidence": evidence})
}

// parseTimeParam reads an optional RFC 3339 query parameter. The bool
// result is false when the value was present but malformed (a 400 has
// already been written).
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		http.Error(w, `{"error":"invalid `+name+` timestamp"}`, http.StatusBadRequest)
		return time.Time{}, false
	}
	return ts, true
}
