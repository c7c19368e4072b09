package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// EscalationCanceller drops any pending escalation schedule for an
// alert. Wired to the escalation scheduler by main.
type EscalationCanceller interface {
	Cancel(alertID string)
}

// Service drives alert lifecycle transitions. It is the only writer of
// alert status after creation.
type Service struct {
	store     Store
	canceller EscalationCanceller
	logger    log.Logger
	now       func() time.Time
}

// NewService creates a lifecycle service. canceller may be nil when no
// escalation scheduler is running.
func NewService(st Store, canceller EscalationCanceller, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: st, canceller: canceller, logger: logger, now: time.Now}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Get retrieves an alert by id.
func (s *Service) Get(ctx context.Context, id string) (*Alert, bool, error) {
	return s.store.GetAlert(ctx, id)
}

// List returns alerts matching the query.
func (s *Service) List(ctx context.Context, q ListQuery) ([]Alert, error) {
	return s.store.ListAlerts(ctx, q)
}

// Ack transitions new|snoozed -> acked.
func (s *Service) Ack(ctx context.Context, id string) error {
	a, err := s.load(ctx, id, "ack")
	if err != nil {
		return err
	}
	if a.Status != StatusNew && a.Status != StatusSnoozed {
		return &InvalidTransition{AlertID: id, From: a.Status, Op: "ack"}
	}
	a.Status = StatusAcked
	a.SnoozedUntil = nil
	return s.put(ctx, a, "acked")
}

// Snooze transitions new|acked -> snoozed until now+seconds. The
// background sweep re-surfaces the alert once the deadline passes.
func (s *Service) Snooze(ctx context.Context, id string, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("snooze seconds must be positive, got %d", seconds)
	}
	a, err := s.load(ctx, id, "snooze")
	if err != nil {
		return err
	}
	if a.Status != StatusNew && a.Status != StatusAcked {
		return &InvalidTransition{AlertID: id, From: a.Status, Op: "snooze"}
	}
	until := s.now().Add(time.Duration(seconds) * time.Second)
	a.Status = StatusSnoozed
	a.SnoozedUntil = &until
	return s.put(ctx, a, "snoozed")
}

// Resolve transitions any state -> resolved and clears the alert's
// pending escalation schedule.
func (s *Service) Resolve(ctx context.Context, id string) error {
	a, err := s.load(ctx, id, "resolve")
	if err != nil {
		return err
	}
	a.Status = StatusResolved
	a.SnoozedUntil = nil
	if err := s.put(ctx, a, "resolved"); err != nil {
		return err
	}
	if s.canceller != nil {
		s.canceller.Cancel(id)
	}
	return nil
}

// SetLabel records operator feedback. Valid in any state; overwrites
// any prior label.
func (s *Service) SetLabel(ctx context.Context, id string, label Label, note string) error {
	switch label {
	case LabelNone, LabelHelpful, LabelUnhelpful:
	default:
		return fmt.Errorf("invalid label %q", label)
	}
	a, err := s.load(ctx, id, "label")
	if err != nil {
		return err
	}
	a.Label = label
	a.Note = note
	return s.put(ctx, a, "labeled")
}

// Sweep re-surfaces snoozed alerts whose deadline has passed, setting
// them back to new so they become escalation-eligible again. Returns
// the number of alerts touched.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.DueSnoozed(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list due snoozed: %w", err)
	}
	var n int
	for i := range due {
		a := due[i]
		a.Status = StatusNew
		a.SnoozedUntil = nil
		if err := s.store.UpdateAlert(ctx, &a); err != nil {
			s.logger.Error(ctx, err, "snooze sweep update failed", "alert_id", a.ID)
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info(ctx, "snooze sweep re-surfaced alerts", "count", n)
	}
	return n, nil
}

// RunSweeper runs Sweep on the given interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, err, "snooze sweep failed")
			}
		}
	}
}

func (s *Service) load(ctx context.Context, id, op string) (*Alert, error) {
	a, ok, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InvalidTransition{AlertID: id, Op: op}
	}
	return a, nil
}

func (s *Service) put(ctx context.Context, a *Alert, what string) error {
	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	s.logger.Info(ctx, "alert "+what, "alert_id", a.ID, "rule_id", a.RuleID)
	return nil
}
