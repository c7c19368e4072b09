package alert

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockStore struct {
	alerts map[string]*Alert

	getErr    error
	updateErr error
	dueErr    error

	updated []string
}

func newMockStore(alerts ...*Alert) *mockStore {
	m := &mockStore{alerts: make(map[string]*Alert)}
	for _, a := range alerts {
		cp := *a
		m.alerts[a.ID] = &cp
	}
	return m
}

func (m *mockStore) InsertOpen(context.Context, *Alert) (bool, error) { return false, nil }

func (m *mockStore) GetAlert(_ context.Context, id string) (*Alert, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	a, ok := m.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (m *mockStore) UpdateAlert(_ context.Context, a *Alert) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	cp := *a
	m.alerts[a.ID] = &cp
	m.updated = append(m.updated, a.ID)
	return nil
}

func (m *mockStore) ListAlerts(context.Context, ListQuery) ([]Alert, error) { return nil, nil }

func (m *mockStore) ListAlertsWindow(context.Context, time.Time, time.Time) ([]Alert, error) {
	return nil, nil
}

func (m *mockStore) DueSnoozed(_ context.Context, now time.Time) ([]Alert, error) {
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var due []Alert
	for _, a := range m.alerts {
		if a.Status == StatusSnoozed && a.SnoozedUntil != nil && !a.SnoozedUntil.After(now) {
			due = append(due, *a)
		}
	}
	return due, nil
}

type mockCanceller struct {
	cancelled []string
}

func (m *mockCanceller) Cancel(alertID string) { m.cancelled = append(m.cancelled, alertID) }

func alertIn(status Status) *Alert {
	return &Alert{
		ID:         "a1",
		RuleID:     "r1",
		ClusterKey: "ck1",
		FiredAt:    time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC),
		Status:     status,
		Label:      LabelNone,
	}
}

func TestAck_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    Status
		wantErr bool
	}{
		{StatusNew, false},
		{StatusSnoozed, false},
		{StatusAcked, true},
		{StatusResolved, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			t.Parallel()

			st := newMockStore(alertIn(tc.from))
			svc := NewService(st, nil, nil)

			err := svc.Ack(context.Background(), "a1")
			if tc.wantErr {
				var it *InvalidTransition
				if !errors.As(err, &it) {
					t.Fatalf("Ack from %s: err = %v, want InvalidTransition", tc.from, err)
				}
				if it.From != tc.from || it.Op != "ack" {
					t.Errorf("InvalidTransition = %+v, want From=%s Op=ack", it, tc.from)
				}
				return
			}
			if err != nil {
				t.Fatalf("Ack from %s: %v", tc.from, err)
			}
			got := st.alerts["a1"]
			if got.Status != StatusAcked {
				t.Errorf("status = %s, want acked", got.Status)
			}
			if got.SnoozedUntil != nil {
				t.Error("SnoozedUntil not cleared on ack")
			}
		})
	}
}

func TestSnooze_SetsDeadline(t *testing.T) {
	t.Parallel()

	st := newMockStore(alertIn(StatusNew))
	svc := NewService(st, nil, nil)
	now := time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	if err := svc.Snooze(context.Background(), "a1", 300); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	got := st.alerts["a1"]
	if got.Status != StatusSnoozed {
		t.Fatalf("status = %s, want snoozed", got.Status)
	}
	want := now.Add(300 * time.Second)
	if got.SnoozedUntil == nil || !got.SnoozedUntil.Equal(want) {
		t.Errorf("SnoozedUntil = %v, want %v", got.SnoozedUntil, want)
	}
}

func TestSnooze_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    Status
		wantErr bool
	}{
		{StatusNew, false},
		{StatusAcked, false},
		{StatusSnoozed, true},
		{StatusResolved, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			t.Parallel()

			svc := NewService(newMockStore(alertIn(tc.from)), nil, nil)
			err := svc.Snooze(context.Background(), "a1", 60)
			var it *InvalidTransition
			if gotErr := errors.As(err, &it); gotErr != tc.wantErr {
				t.Fatalf("Snooze from %s: err = %v, wantErr = %v", tc.from, err, tc.wantErr)
			}
		})
	}
}

func TestSnooze_RejectsNonPositiveSeconds(t *testing.T) {
	t.Parallel()

	svc := NewService(newMockStore(alertIn(StatusNew)), nil, nil)
	for _, secs := range []int{0, -5} {
		if err := svc.Snooze(context.Background(), "a1", secs); err == nil {
			t.Errorf("Snooze(%d) = nil, want error", secs)
		}
	}
}

func TestResolve_AnyStateAndCancelsEscalation(t *testing.T) {
	t.Parallel()

	for _, from := range []Status{StatusNew, StatusAcked, StatusSnoozed, StatusResolved} {
		t.Run(string(from), func(t *testing.T) {
			t.Parallel()

			a := alertIn(from)
			if from == StatusSnoozed {
				u := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
				a.SnoozedUntil = &u
			}
			st := newMockStore(a)
			canceller := &mockCanceller{}
			svc := NewService(st, canceller, nil)

			if err := svc.Resolve(context.Background(), "a1"); err != nil {
				t.Fatalf("Resolve from %s: %v", from, err)
			}
			got := st.alerts["a1"]
			if got.Status != StatusResolved {
				t.Errorf("status = %s, want resolved", got.Status)
			}
			if got.SnoozedUntil != nil {
				t.Error("SnoozedUntil not cleared on resolve")
			}
			if len(canceller.cancelled) != 1 || canceller.cancelled[0] != "a1" {
				t.Errorf("cancelled = %v, want [a1]", canceller.cancelled)
			}
		})
	}
}

func TestResolve_UpdateFailureSkipsCancel(t *testing.T) {
	t.Parallel()

	st := newMockStore(alertIn(StatusNew))
	st.updateErr = errors.New("boom")
	canceller := &mockCanceller{}
	svc := NewService(st, canceller, nil)

	if err := svc.Resolve(context.Background(), "a1"); err == nil {
		t.Fatal("Resolve = nil, want error")
	}
	if len(canceller.cancelled) != 0 {
		t.Errorf("cancelled = %v, want none on failed update", canceller.cancelled)
	}
}

func TestSetLabel(t *testing.T) {
	t.Parallel()

	st := newMockStore(alertIn(StatusResolved))
	svc := NewService(st, nil, nil)

	if err := svc.SetLabel(context.Background(), "a1", LabelHelpful, "good catch"); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}
	got := st.alerts["a1"]
	if got.Label != LabelHelpful || got.Note != "good catch" {
		t.Errorf("label = %s note = %q, want helpful %q", got.Label, got.Note, "good catch")
	}
	if got.Status != StatusResolved {
		t.Errorf("status changed to %s, label must not touch status", got.Status)
	}

	if err := svc.SetLabel(context.Background(), "a1", Label("meh"), ""); err == nil {
		t.Error("SetLabel with invalid label = nil, want error")
	}
}

func TestLifecycle_UnknownAlert(t *testing.T) {
	t.Parallel()

	svc := NewService(newMockStore(), nil, nil)
	ctx := context.Background()

	ops := map[string]func() error{
		"ack":     func() error { return svc.Ack(ctx, "nope") },
		"snooze":  func() error { return svc.Snooze(ctx, "nope", 60) },
		"resolve": func() error { return svc.Resolve(ctx, "nope") },
		"label":   func() error { return svc.SetLabel(ctx, "nope", LabelNone, "") },
	}
	for name, op := range ops {
		var it *InvalidTransition
		if err := op(); !errors.As(err, &it) {
			t.Errorf("%s on unknown alert: err = %v, want InvalidTransition", name, err)
		}
	}
}

func TestSweep_ResurfacesDueSnoozed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := alertIn(StatusSnoozed)
	due.SnoozedUntil = &past
	notDue := alertIn(StatusSnoozed)
	notDue.ID = "a2"
	notDue.SnoozedUntil = &future

	st := newMockStore(due, notDue)
	svc := NewService(st, nil, nil)
	svc.SetClock(func() time.Time { return now })

	n, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep touched %d, want 1", n)
	}
	if got := st.alerts["a1"]; got.Status != StatusNew || got.SnoozedUntil != nil {
		t.Errorf("a1 = %s %v, want new with nil deadline", got.Status, got.SnoozedUntil)
	}
	if got := st.alerts["a2"]; got.Status != StatusSnoozed {
		t.Errorf("a2 = %s, want still snoozed", got.Status)
	}
}

func TestSweep_ContinuesPastUpdateFailure(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	st.dueErr = errors.New("db down")
	svc := NewService(st, nil, nil)
	if _, err := svc.Sweep(context.Background()); err == nil {
		t.Fatal("Sweep = nil, want error when listing fails")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		status Status
		want   bool
	}{
		{StatusNew, true},
		{StatusAcked, true},
		{StatusSnoozed, true},
		{StatusResolved, false},
	} {
		if got := (&Alert{Status: tc.status}).Open(); got != tc.want {
			t.Errorf("Open() in %s = %v, want %v", tc.status, got, tc.want)
		}
	}
}
