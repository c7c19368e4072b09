package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/authmw"
	"github.com/linnemanlabs/watchtower/internal/backtest"
	"github.com/linnemanlabs/watchtower/internal/engine"
	"github.com/linnemanlabs/watchtower/internal/escalate"
	"github.com/linnemanlabs/watchtower/internal/event"
	"github.com/linnemanlabs/watchtower/internal/feature"
	"github.com/linnemanlabs/watchtower/internal/ingest"
	"github.com/linnemanlabs/watchtower/internal/notify"
	"github.com/linnemanlabs/watchtower/internal/rule"
	"github.com/linnemanlabs/watchtower/internal/store/memstore"
)

// testFixture wires every service over a shared in-memory store.
type testFixture struct {
	router chi.Router
	store  *memstore.Store
}

func newTestFixture(t *testing.T, items []ingest.Item) *testFixture {
	t.Helper()

	st := memstore.New()
	feed := &ingest.StaticFeed{Items: items}
	corr := event.NewCorrelator(st, feed, nil)

	registry := notify.NewRegistry()
	registry.Register("webhook", notify.DispatcherFunc(func(context.Context, notify.RecipientConfig, notify.Message) error {
		return nil
	}), notify.RecipientConfig{})

	sched := escalate.NewScheduler(st, st, registry, nil, nil, escalate.Options{})
	eng := engine.New(corr, st, st, st, sched, nil, nil, nil)

	a := New(Options{
		Engine:    eng,
		Events:    st,
		Alerts:    alert.NewService(st, sched, nil),
		Rules:     rule.NewService(st, nil),
		Features:  feature.NewService(st, st, nil),
		Backtest:  backtest.NewEvaluator(st),
		Escalator: sched,
	})

	r := chi.NewRouter()
	a.RegisterRoutes(r)
	return &testFixture{router: r, store: st}
}

func (f *testFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// yesterdayNoon anchors test items mid-day so a two-hour spread never
// straddles a UTC day boundary.
func yesterdayNoon() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).Add(-12 * time.Hour)
}

func testItems(base time.Time) []ingest.Item {
	return []ingest.Item{
		{
			ID: "it-1", Source: "newsfeed", Title: "NVIDIA earnings beat",
			Snippet: "record datacenter revenue", PublishedAt: base,
			Sentiment: 0.6, Weight: 3,
			Entities: []ingest.Label{{Name: "NVIDIA", Weight: 0.9}},
		},
		{
			ID: "it-2", Source: "forum", Title: "NVIDIA supply rumors",
			Snippet: "chatter about supply", PublishedAt: base.Add(2 * time.Hour),
			Sentiment: -0.2, Weight: 4,
			Entities: []ingest.Label{{Name: "NVIDIA", Weight: 0.8}},
		},
	}
}

func TestNew_MissingDeps_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New without deps did not panic")
		}
	}()
	New(Options{})
}

func TestRunPass_TouchesEvents(t *testing.T) {
	t.Parallel()

	base := yesterdayNoon()
	f := newTestFixture(t, testItems(base))

	rec := f.do(t, http.MethodPost, "/api/v1/passes", `{"days_back":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /passes = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		EventsTouched int `json:"events_touched"`
	}
	decodeBody(t, rec, &resp)
	if resp.EventsTouched != 1 {
		t.Errorf("events_touched = %d, want 1", resp.EventsTouched)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /events = %d", rec.Code)
	}
	var list struct {
		Events []event.TemporalEvent `json:"events"`
	}
	decodeBody(t, rec, &list)
	if len(list.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(list.Events))
	}
	if list.Events[0].Entity != "NVIDIA" {
		t.Errorf("entity = %q, want NVIDIA", list.Events[0].Entity)
	}
}

func TestRunPass_BadPayloads(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid json", `{bad`, http.StatusBadRequest},
		{"negative days", `{"days_back":-1}`, http.StatusBadRequest},
		{"empty body uses default", ``, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/passes", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRules_CreateAndValidate(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			"valid rule",
			`{"name":"vol spike","enabled":true,"rule_json":{"any":[{"type":"volume_score_above","threshold":5}],"all":[]}}`,
			http.StatusCreated,
		},
		{
			"missing name",
			`{"enabled":true}`,
			http.StatusBadRequest,
		},
		{
			"unknown condition type",
			`{"name":"bad","rule_json":{"any":[{"type":"nope"}],"all":[]}}`,
			http.StatusBadRequest,
		},
		{
			"malformed rule json",
			`{"name":"bad","rule_json":{"any":"x"}}`,
			http.StatusBadRequest,
		},
		{
			"bad escalation ladder",
			`{"name":"bad","escalation_config":{"levels":[{"delay_minutes":10,"channels":["webhook"]},{"delay_minutes":5,"channels":["webhook"]}]}}`,
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/rules", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	rec := f.do(t, http.MethodGet, "/api/v1/rules", "")
	var list struct {
		Rules []rule.AlertRule `json:"rules"`
	}
	decodeBody(t, rec, &list)
	if len(list.Rules) != 1 {
		t.Errorf("got %d rules, want 1", len(list.Rules))
	}
}

func TestRules_UpdateMissing(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, nil)
	rec := f.do(t, http.MethodPut, "/api/v1/rules/no-such-rule", `{"name":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("PUT missing rule = %d, want 404", rec.Code)
	}
}

func TestWatchlists_CRUD(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/watchlists", `{"name":"chipmakers"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create watchlist = %d", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, "/api/v1/watchlists/"+created.ID+"/items",
		`{"item_type":"entity","value":"NVIDIA","weight":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/watchlists/"+created.ID+"/items",
		`{"item_type":"starsign","value":"aries"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad item_type = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/watchlists/missing/items",
		`{"item_type":"entity","value":"AMD"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("item on missing watchlist = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/watchlists", "")
	var list struct {
		Watchlists []rule.Watchlist `json:"watchlists"`
	}
	decodeBody(t, rec, &list)
	if len(list.Watchlists) != 1 {
		t.Errorf("got %d watchlists, want 1", len(list.Watchlists))
	}
}

// fireOneAlert runs a pass with a matching rule and returns the alert id.
func fireOneAlert(t *testing.T, f *testFixture) string {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/v1/rules",
		`{"name":"any nvidia event","enabled":true,"rule_json":{"any":[{"type":"contains_keyword","value":"NVIDIA"}],"all":[]}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/passes", `{"days_back":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("pass = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	var list struct {
		Alerts []alert.Alert `json:"alerts"`
	}
	decodeBody(t, rec, &list)
	if len(list.Alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(list.Alerts))
	}
	return list.Alerts[0].ID
}

func TestAlerts_Lifecycle(t *testing.T) {
	t.Parallel()

	base := yesterdayNoon()
	f := newTestFixture(t, testItems(base))
	id := fireOneAlert(t, f)

	// new -> acked
	rec := f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/ack", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ack = %d, body %s", rec.Code, rec.Body.String())
	}

	// acked -> acked is a conflict
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/ack", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("double ack = %d, want 409", rec.Code)
	}

	// acked -> snoozed
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/snooze", `{"seconds":3600}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("snooze = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/snooze", `{"seconds":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero snooze = %d, want 400", rec.Code)
	}

	// label while snoozed
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/label", `{"label":"helpful","note":"good catch"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("label = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/label", `{"label":"meh"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad label = %d, want 400", rec.Code)
	}

	// snoozed -> resolved
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d, body %s", rec.Code, rec.Body.String())
	}

	var got alert.Alert
	rec = f.do(t, http.MethodGet, "/api/v1/alerts/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	decodeBody(t, rec, &got)
	if got.Status != alert.StatusResolved {
		t.Errorf("status = %q, want resolved", got.Status)
	}
	if got.Label != alert.LabelHelpful {
		t.Errorf("label = %q, want helpful", got.Label)
	}

	// ack after resolve is a conflict
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/ack", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("ack resolved = %d, want 409", rec.Code)
	}
}

func TestAlerts_NotFound(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, nil)

	paths := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/v1/alerts/missing", ""},
		{http.MethodPost, "/api/v1/alerts/missing/ack", ""},
		{http.MethodPost, "/api/v1/alerts/missing/snooze", `{"seconds":60}`},
		{http.MethodPost, "/api/v1/alerts/missing/resolve", ""},
		{http.MethodPost, "/api/v1/alerts/missing/label", `{"label":"helpful"}`},
		{http.MethodPost, "/api/v1/alerts/missing/escalate", `{"escalation_level":1,"channel":"webhook"}`},
		{http.MethodGet, "/api/v1/alerts/missing/escalations", ""},
	}
	for _, p := range paths {
		rec := f.do(t, p.method, p.path, p.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", p.method, p.path, rec.Code)
		}
	}
}

func TestAlerts_ListFilters(t *testing.T) {
	t.Parallel()

	base := yesterdayNoon()
	f := newTestFixture(t, testItems(base))
	fireOneAlert(t, f)

	rec := f.do(t, http.MethodGet, "/api/v1/alerts?status=resolved", "")
	var list struct {
		Alerts []alert.Alert `json:"alerts"`
	}
	decodeBody(t, rec, &list)
	if len(list.Alerts) != 0 {
		t.Errorf("resolved filter matched %d alerts, want 0", len(list.Alerts))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/alerts?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/alerts?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestAlerts_ManualEscalation(t *testing.T) {
	t.Parallel()

	base := yesterdayNoon()
	f := newTestFixture(t, testItems(base))
	id := fireOneAlert(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/escalate", `{"escalation_level":2,"channel":"webhook"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("escalate = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/escalate", `{"escalation_level":0,"channel":"webhook"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("level 0 = %d, want 400", rec.Code)
	}

	// Unregistered channel surfaces as an upstream failure.
	rec = f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/escalate", `{"escalation_level":1,"channel":"pager"}`)
	if rec.Code == http.StatusOK {
		t.Error("unregistered channel should not succeed")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/alerts/"+id+"/escalations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	var hist struct {
		Escalations []escalate.Escalation `json:"escalations"`
	}
	decodeBody(t, rec, &hist)
	if len(hist.Escalations) != 2 {
		t.Errorf("got %d escalation records, want 2 (one ok, one failed)", len(hist.Escalations))
	}
}

func TestFeatures_EndToEnd(t *testing.T) {
	t.Parallel()

	base := yesterdayNoon()
	f := newTestFixture(t, testItems(base))
	fireOneAlert(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/features",
		`{"name":"daily events","expression":"events_count(1)","description":"events per day"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create feature = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, "/api/v1/features",
		`{"name":"bad","expression":"frobnicate(7)"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown function = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/features/"+created.ID+"/compute", `{"days_back":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("compute = %d, body %s", rec.Code, rec.Body.String())
	}
	var computed struct {
		Values int `json:"values"`
	}
	decodeBody(t, rec, &computed)
	if computed.Values != 3 {
		t.Errorf("values = %d, want 3", computed.Values)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/features/missing/compute", `{"days_back":1}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("compute missing = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/features/"+created.ID+"/values?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("values = %d", rec.Code)
	}
	var points struct {
		Points []feature.Value `json:"points"`
	}
	decodeBody(t, rec, &points)
	if len(points.Points) != 2 {
		t.Errorf("got %d points, want 2", len(points.Points))
	}
}

func TestBacktest_Report(t *testing.T) {
	t.Parallel()

	base := yesterdayNoon()
	f := newTestFixture(t, testItems(base))
	id := fireOneAlert(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d", rec.Code)
	}

	from := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/backtest?from=%s&to=%s", from, to), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("backtest = %d, body %s", rec.Code, rec.Body.String())
	}

	var report backtest.Report
	decodeBody(t, rec, &report)
	if report.Total != 1 || report.Resolved != 1 {
		t.Errorf("report total=%d resolved=%d, want 1/1", report.Total, report.Resolved)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/backtest?from=%s&to=%s", to, from), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted window = %d, want 400", rec.Code)
	}
}

func TestEvents_BadParams(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/events?from=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad from = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/events?limit=-3", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestAuth_GuardsAPIRoutes(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	corr := event.NewCorrelator(st, &ingest.StaticFeed{}, nil)
	eng := engine.New(corr, st, st, st, nil, nil, nil, nil)
	a := New(Options{
		Engine: eng,
		Events: st,
		Alerts: alert.NewService(st, nil, nil),
		Rules:  rule.NewService(st, nil),
		Auth:   authmw.BearerToken("secret"),
	})
	r := chi.NewRouter()
	r.Get("/-/healthy", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	a.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token = %d, want 200", rec.Code)
	}

	// health stays outside the auth boundary
	req = httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200 without token", rec.Code)
	}
}

func TestRunPass_RecordsSpanAttributes(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	f := newTestFixture(t, testItems(yesterdayNoon()))
	h := otelhttp.NewHandler(f.router, "http.api", otelhttp.WithTracerProvider(tp))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", strings.NewReader(`{"days_back":3}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /passes = %d, body %s", rec.Code, rec.Body.String())
	}

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans exported")
	}
	var found bool
	for _, s := range spans {
		for _, attr := range s.Attributes {
			if attr.Key == "watchtower.pass.days_back" && attr.Value.AsInt64() == 3 {
				found = true
			}
		}
	}
	if !found {
		t.Error("watchtower.pass.days_back attribute not recorded on any span")
	}
}
