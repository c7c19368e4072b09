package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/watchtower/internal/feature"
)

func (a *API) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	if a.features == nil {
		a.respondError(w, http.StatusNotImplemented, "features disabled")
		return
	}

	var req struct {
		Name        string `json:"name"`
		Expression  string `json:"expression"`
		Description string `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Name == "" {
		a.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := a.features.Create(r.Context(), req.Name, req.Expression, req.Description)
	if err != nil {
		a.fail(r, w, err, "create feature failed")
		return
	}
	a.respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	if a.features == nil {
		a.respondError(w, http.StatusNotImplemented, "features disabled")
		return
	}

	defs, err := a.features.List(r.Context())
	if err != nil {
		a.fail(r, w, err, "list features failed")
		return
	}
	if defs == nil {
		defs = []feature.Definition{}
	}
	a.respond(w, http.StatusOK, map[string]any{"features": defs})
}

func (a *API) handleComputeFeature(w http.ResponseWriter, r *http.Request) {
	if a.features == nil {
		a.respondError(w, http.StatusNotImplemented, "features disabled")
		return
	}

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

	id := chi.URLParam(r, "id")
	n, err := a.features.Compute(r.Context(), id, daysBack)
	if err != nil {
		a.fail(r, w, err, "compute feature failed")
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"id": id, "values": n})
}

func (a *API) handleFeatureValues(w http.ResponseWriter, r *http.Request) {
	if a.features == nil {
		a.respondError(w, http.StatusNotImplemented, "features disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	values, err := a.features.Values(r.Context(), id, limit)
	if err != nil {
		a.fail(r, w, err, "feature values failed")
		return
	}
	if values == nil {
		values = []feature.Value{}
	}
	a.respond(w, http.StatusOK, map[string]any{"id": id, "points": values})
}

func (a *API) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if a.backtest == nil {
		a.respondError(w, http.StatusNotImplemented, "backtest disabled")
		return
	}

	from, ok := parseTimeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(w, r, "to")
	if !ok {
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		a.respondError(w, http.StatusBadRequest, "from must precede to")
		return
	}

	report, err := a.backtest.Run(r.Context(), from, to)
	if err != nil {
		a.fail(r, w, err, "backtest failed")
		return
	}
	a.respond(w, http.StatusOK, report)
}
