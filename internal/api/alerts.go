package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/escalate"
)

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := alert.ListQuery{Limit: 100}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("status"); v != "" {
		switch s := alert.Status(v); s {
		case alert.StatusNew, alert.StatusAcked, alert.StatusSnoozed, alert.StatusResolved:
			q.Status = s
		default:
			a.respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	q.RuleID = r.URL.Query().Get("rule_id")

	alerts, err := a.alerts.List(r.Context(), q)
	if err != nil {
		a.fail(r, w, err, "list alerts failed")
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	a.respond(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("watchtower.alert.id", id))

	al, ok, err := a.alerts.Get(r.Context(), id)
	if err != nil {
		a.fail(r, w, err, "get alert failed")
		return
	}
	if !ok {
		a.respondError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("watchtower.alert.status", string(al.Status)))
	a.respond(w, http.StatusOK, al)
}

func (a *API) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.alerts.Ack(r.Context(), id); err != nil {
		a.fail(r, w, err, "ack failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]string{"id": id, "status": string(alert.StatusAcked)})
}

func (a *API) handleSnoozeAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Seconds <= 0 {
		a.respondError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.alerts.Snooze(r.Context(), id, req.Seconds); err != nil {
		a.fail(r, w, err, "snooze failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]string{"id": id, "status": string(alert.StatusSnoozed)})
}

func (a *API) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.alerts.Resolve(r.Context(), id); err != nil {
		a.fail(r, w, err, "resolve failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]string{"id": id, "status": string(alert.StatusResolved)})
}

func (a *API) handleLabelAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
		Note  string `json:"note"`
	}
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	var label alert.Label
	switch l := alert.Label(req.Label); l {
	case alert.LabelHelpful, alert.LabelUnhelpful, alert.LabelNone:
		label = l
	default:
		a.respondError(w, http.StatusBadRequest, "invalid label")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.alerts.SetLabel(r.Context(), id, label, req.Note); err != nil {
		a.fail(r, w, err, "label failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]string{"id": id, "label": string(label)})
}

func (a *API) handleEscalateAlert(w http.ResponseWriter, r *http.Request) {
	if a.escalator == nil {
		a.respondError(w, http.StatusNotImplemented, "escalation disabled")
		return
	}

	var req struct {
		Level   int    `json:"escalation_level"`
		Channel string `json:"channel"`
	}
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Level < 1 {
		a.respondError(w, http.StatusBadRequest, "escalation_level must be >= 1")
		return
	}
	if req.Channel == "" {
		a.respondError(w, http.StatusBadRequest, "channel is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.escalator.Escalate(r.Context(), id, req.Level, req.Channel); err != nil {
		a.fail(r, w, err, "manual escalation failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"id":               id,
		"escalation_level": req.Level,
		"channel":          req.Channel,
	})
}

func (a *API) handleEscalationHistory(w http.ResponseWriter, r *http.Request) {
	if a.escalator == nil {
		a.respondError(w, http.StatusNotImplemented, "escalation disabled")
		return
	}

	id := chi.URLParam(r, "id")
	history, err := a.escalator.History(r.Context(), id)
	if err != nil {
		a.fail(r, w, err, "escalation history failed")
		return
	}
	if history == nil {
		history = []escalate.Escalation{}
	}
	a.respond(w, http.StatusOK, map[string]any{"escalations": history})
}
