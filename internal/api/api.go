// Package api exposes the engine and alert lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/backtest"
	"github.com/linnemanlabs/watchtower/internal/escalate"
	"github.com/linnemanlabs/watchtower/internal/event"
	"github.com/linnemanlabs/watchtower/internal/expr"
	"github.com/linnemanlabs/watchtower/internal/feature"
	"github.com/linnemanlabs/watchtower/internal/rule"
	"github.com/linnemanlabs/watchtower/internal/store"
)

// PassRunner triggers a single correlate-and-evaluate pass.
type PassRunner interface {
	RunPass(ctx context.Context, daysBack int) (int, error)
}

// Escalator covers the manual escalation surface of the scheduler.
type Escalator interface {
	Escalate(ctx context.Context, alertID string, level int, channel string) error
	History(ctx context.Context, alertID string) ([]escalate.Escalation, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	engine    PassRunner
	events    event.Store
	alerts    *alert.Service
	rules     *rule.Service
	features  *feature.Service
	backtest  *backtest.Evaluator
	escalator Escalator
	daysBack  int
	auth      func(http.Handler) http.Handler
}

// Options bundles the API's dependencies.
type Options struct {
	Logger    log.Logger
	Engine    PassRunner
	Events    event.Store
	Alerts    *alert.Service
	Rules     *rule.Service
	Features  *feature.Service
	Backtest  *backtest.Evaluator
	Escalator Escalator

	// DefaultDaysBack is the pass window when the request omits days_back.
	DefaultDaysBack int

	// Auth, when set, wraps every API route. Health and ops endpoints
	// stay outside it.
	Auth func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Engine == nil || opts.Events == nil || opts.Alerts == nil || opts.Rules == nil {
		panic(xerrors.New("engine, event store, alert and rule services are required"))
	}
	if opts.DefaultDaysBack <= 0 {
		opts.DefaultDaysBack = 7
	}
	return &API{
		logger:    opts.Logger,
		engine:    opts.Engine,
		events:    opts.Events,
		alerts:    opts.Alerts,
		rules:     opts.Rules,
		features:  opts.Features,
		backtest:  opts.Backtest,
		escalator: opts.Escalator,
		daysBack:  opts.DefaultDaysBack,
		auth:      opts.Auth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.auth != nil {
			r.Use(a.auth)
		}
		r.Post("/passes", a.handleRunPass)

		r.Get("/events", a.handleListEvents)
		r.Get("/events/{id}/evidence", a.handleListEvidence)

		r.Post("/rules", a.handleCreateRule)
		r.Put("/rules/{id}", a.handleUpdateRule)
		r.Get("/rules", a.handleListRules)

		r.Post("/watchlists", a.handleCreateWatchlist)
		r.Get("/watchlists", a.handleListWatchlists)
		r.Post("/watchlists/{id}/items", a.handleAddWatchlistItem)

		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/ack", a.handleAckAlert)
		r.Post("/alerts/{id}/snooze", a.handleSnoozeAlert)
		r.Post("/alerts/{id}/resolve", a.handleResolveAlert)
		r.Post("/alerts/{id}/label", a.handleLabelAlert)
		r.Post("/alerts/{id}/escalate", a.handleEscalateAlert)
		r.Get("/alerts/{id}/escalations", a.handleEscalationHistory)

		r.Post("/features", a.handleCreateFeature)
		r.Get("/features", a.handleListFeatures)
		r.Post("/features/{id}/compute", a.handleComputeFeature)
		r.Get("/features/{id}/values", a.handleFeatureValues)

		r.Get("/backtest", a.handleBacktest)
	})
}

func (a *API) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) respondError(w http.ResponseWriter, status int, msg string) {
	a.respond(w, status, map[string]string{"error": msg})
}

// fail maps a service error onto an HTTP status: not-found to 404,
// lifecycle conflicts to 409, validation failures to 400, the rest to
// a logged 500.
func (a *API) fail(r *http.Request, w http.ResponseWriter, err error, msg string) {
	var (
		parseErr   *expr.ParseError
		unknownFn  *expr.UnknownFunction
		unknownCnd *expr.UnknownCondition
		transition *alert.InvalidTransition
		dispatch   *escalate.DispatchError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.respondError(w, http.StatusNotFound, "not found")
	case errors.As(err, &transition):
		a.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &dispatch):
		a.respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, rule.ErrInvalid),
		errors.As(err, &parseErr),
		errors.As(err, &unknownFn),
		errors.As(err, &unknownCnd):
		a.respondError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg)
		a.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
