package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/watchtower/internal/rule"
)

type ruleRequest struct {
	Name           string          `json:"name"`
	Enabled        bool            `json:"enabled"`
	WatchlistID    string          `json:"watchlist_id"`
	RuleJSON       json.RawMessage `json:"rule_json"`
	Schedule       string          `json:"schedule"`
	EscalationJSON json.RawMessage `json:"escalation_config"`
}

func (r ruleRequest) toRule() *rule.AlertRule {
	return &rule.AlertRule{
		Name:           r.Name,
		Enabled:        r.Enabled,
		WatchlistID:    r.WatchlistID,
		RuleJSON:       r.RuleJSON,
		Schedule:       r.Schedule,
		EscalationJSON: r.EscalationJSON,
	}
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	id, err := a.rules.CreateRule(r.Context(), req.toRule())
	if err != nil {
		a.fail(r, w, err, "create rule failed")
		return
	}
	a.respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ru := req.toRule()
	ru.ID = chi.URLParam(r, "id")
	if err := a.rules.UpdateRule(r.Context(), ru); err != nil {
		a.fail(r, w, err, "update rule failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]string{"id": ru.ID})
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.rules.ListRules(r.Context())
	if err != nil {
		a.fail(r, w, err, "list rules failed")
		return
	}
	if rules == nil {
		rules = []rule.AlertRule{}
	}
	a.respond(w, http.StatusOK, map[string]any{"rules": rules})
}

func (a *API) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	id, err := a.rules.CreateWatchlist(r.Context(), req.Name)
	if err != nil {
		a.fail(r, w, err, "create watchlist failed")
		return
	}
	a.respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleListWatchlists(w http.ResponseWriter, r *http.Request) {
	lists, err := a.rules.ListWatchlists(r.Context())
	if err != nil {
		a.fail(r, w, err, "list watchlists failed")
		return
	}
	if lists == nil {
		lists = []rule.Watchlist{}
	}
	a.respond(w, http.StatusOK, map[string]any{"watchlists": lists})
}

func (a *API) handleAddWatchlistItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemType string  `json:"item_type"`
		Value    string  `json:"value"`
		Weight   float64 `json:"weight"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	it := &rule.WatchlistItem{
		WatchlistID: chi.URLParam(r, "id"),
		ItemType:    rule.ItemType(req.ItemType),
		Value:       req.Value,
		Weight:      req.Weight,
		Enabled:     true,
	}
	if req.Enabled != nil {
		it.Enabled = *req.Enabled
	}

	id, err := a.rules.AddItem(r.Context(), it)
	if err != nil {
		a.fail(r, w, err, "add watchlist item failed")
		return
	}
	a.respond(w, http.StatusCreated, map[string]string{"id": id})
}
