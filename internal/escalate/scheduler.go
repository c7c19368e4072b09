package escalate

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchtower/internal/alert"
	"github.com/linnemanlabs/watchtower/internal/notify"
	"github.com/linnemanlabs/watchtower/internal/store"
)

// AlertReader is the slice of the alert store the scheduler needs to
// skip work on resolved alerts.
type AlertReader interface {
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
}

// pendingItem is one due escalation level for one alert.
type pendingItem struct {
	alertID  string
	level    int // 1-based
	channels []string
	due      time.Time
	attempt  int // per-item retry counter for failed channels
}

// dueHeap is a min-heap keyed by due time. Bounds resource usage under
// many pending alerts: one heap, one timer, no goroutine per alert.
type dueHeap []*pendingItem

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)         { *h = append(*h, x.(*pendingItem)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Options tune the scheduler loop.
type Options struct {
	// PollInterval is the fallback wake interval when no work is due;
	// also the retry spacing for failed dispatches.
	PollInterval time.Duration

	// MaxAttempts bounds automatic retries per (alert, level, channel)
	// before an attempt is marked permanently failed.
	MaxAttempts int

	// DispatchTimeout bounds one channel adapter call so a hanging
	// adapter cannot stall the loop.
	DispatchTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PollInterval <= 0 {
		out.PollInterval = 30 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.DispatchTimeout <= 0 {
		out.DispatchTimeout = 10 * time.Second
	}
	return out
}

// Scheduler walks escalation ladders in the background, waking at the
// nearest due time across all pending alerts.
type Scheduler struct {
	store    Store
	alerts   AlertReader
	registry *notify.Registry
	logger   log.Logger
	metrics  *Metrics
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	pending  dueHeap
	canceled map[string]bool
	wake     chan struct{}
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(st Store, alerts AlertReader, registry *notify.Registry, logger log.Logger, metrics *Metrics, opts Options) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		store:    st,
		alerts:   alerts,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		opts:     opts.withDefaults(),
		now:      time.Now,
		canceled: make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// SetClock overrides the scheduler clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Schedule queues every level of the ladder for an alert, anchored to
// firedAt. Levels already dispatched successfully are skipped at
// dispatch time, so scheduling is idempotent across restarts.
func (s *Scheduler) Schedule(alertID string, firedAt time.Time, cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.canceled, alertID)
	for i, lvl := range cfg.Levels {
		heap.Push(&s.pending, &pendingItem{
			alertID:  alertID,
			level:    i + 1,
			channels: append([]string(nil), lvl.Channels...),
			due:      firedAt.Add(time.Duration(lvl.DelayMinutes) * time.Minute),
		})
	}
	if s.metrics != nil {
		s.metrics.Pending.Set(float64(len(s.pending)))
	}
	s.notifyLoop()
}

// Cancel drops all pending levels for an alert. Called on resolve.
func (s *Scheduler) Cancel(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled[alertID] = true
}

// Escalate dispatches one level to one channel immediately, bypassing
// the ladder. Logged identically to scheduled attempts, so an operator
// can advance past a permanently failed step.
func (s *Scheduler) Escalate(ctx context.Context, alertID string, level int, channel string) error {
	if level < 1 {
		return fmt.Errorf("escalation level must be >= 1, got %d", level)
	}
	a, ok, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return s.dispatchOne(ctx, a, level, channel, 1)
}

// History returns the escalation log for an alert.
func (s *Scheduler) History(ctx context.Context, alertID string) ([]Escalation, error) {
	if _, ok, err := s.alerts.GetAlert(ctx, alertID); err != nil {
		return nil, err
	} else if !ok {
		return nil, store.ErrNotFound
	}
	return s.store.ListEscalations(ctx, alertID)
}

// Run processes due escalations until ctx is done. Wakes at the next
// due time across all pending alerts, or after the poll interval,
// whichever is sooner.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.opts.PollInterval
		s.mu.Lock()
		if len(s.pending) > 0 {
			if d := s.pending[0].due.Sub(s.now()); d < wait {
				wait = d
			}
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		s.processDue(ctx)
	}
}

// ProcessDue dispatches everything currently due. Exported for tests
// and for a final drain on shutdown.
func (s *Scheduler) ProcessDue(ctx context.Context) { s.processDue(ctx) }

func (s *Scheduler) processDue(ctx context.Context) {
	now := s.now()
	var due []*pendingItem
	s.mu.Lock()
	for len(s.pending) > 0 && !s.pending[0].due.After(now) {
		it := heap.Pop(&s.pending).(*pendingItem)
		if s.canceled[it.alertID] {
			continue
		}
		due = append(due, it)
	}
	if s.metrics != nil {
		s.metrics.Pending.Set(float64(len(s.pending)))
	}
	s.mu.Unlock()

	for _, it := range due {
		s.processItem(ctx, it)
	}
}

func (s *Scheduler) processItem(ctx context.Context, it *pendingItem) {
	a, ok, err := s.alerts.GetAlert(ctx, it.alertID)
	if err != nil {
		// retry after the poll interval; requeueing with the stale due
		// time would make Run tick again immediately for the whole
		// duration of a store outage
		s.logger.Error(ctx, err, "escalation alert lookup failed", "alert_id", it.alertID)
		it.due = s.now().Add(s.opts.PollInterval)
		s.requeue(it)
		return
	}
	// escalation stops entirely once the alert is resolved
	if !ok || !a.Open() {
		return
	}

	var failed []string
	for _, ch := range it.channels {
		sent, err := s.store.HasSent(ctx, it.alertID, it.level, ch)
		if err != nil {
			s.logger.Error(ctx, err, "escalation dedup check failed", "alert_id", it.alertID, "channel", ch)
			failed = append(failed, ch)
			continue
		}
		if sent {
			continue
		}
		if err := s.dispatchOne(ctx, a, it.level, ch, it.attempt+1); err != nil {
			failed = append(failed, ch)
		}
	}

	if len(failed) == 0 {
		return
	}
	it.channels = failed
	it.attempt++
	if it.attempt >= s.opts.MaxAttempts {
		s.logger.Warn(ctx, "escalation permanently failed, manual escalation required",
			"alert_id", it.alertID,
			"level", it.level,
			"channels", failed,
			"attempts", it.attempt,
		)
		if s.metrics != nil {
			s.metrics.PermanentFailures.Add(float64(len(failed)))
		}
		return
	}
	it.due = s.now().Add(s.opts.PollInterval)
	s.requeue(it)
}

func (s *Scheduler) requeue(it *pendingItem) {
	s.mu.Lock()
	heap.Push(&s.pending, it)
	if s.metrics != nil {
		s.metrics.Pending.Set(float64(len(s.pending)))
	}
	s.mu.Unlock()
	s.notifyLoop()
}

// dispatchOne sends to a single channel with a bounded timeout and
// appends one log row with the outcome.
func (s *Scheduler) dispatchOne(ctx context.Context, a *alert.Alert, level int, channel string, attempt int) error {
	d, rc, ok := s.registry.Get(channel)
	if !ok {
		err := fmt.Errorf("no dispatcher registered for channel %q", channel)
		s.record(ctx, a.ID, level, channel, attempt, err)
		return err
	}

	msg := notify.Message{
		AlertID: a.ID,
		Level:   level,
		Channel: channel,
		Subject: fmt.Sprintf("alert %s escalation level %d", a.ID, level),
		Body:    string(a.Payload),
	}

	start := s.now()
	dctx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
	err := d.Send(dctx, rc, msg)
	cancel()

	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.DispatchesTotal.WithLabelValues(channel, outcome).Inc()
		s.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		derr := &DispatchError{Channel: channel, Err: err}
		s.logger.Error(ctx, derr, "escalation dispatch failed",
			"alert_id", a.ID, "level", level, "channel", channel, "attempt", attempt)
		s.record(ctx, a.ID, level, channel, attempt, derr)
		return derr
	}

	s.logger.Info(ctx, "escalation dispatched",
		"alert_id", a.ID, "level", level, "channel", channel, "attempt", attempt)
	s.record(ctx, a.ID, level, channel, attempt, nil)
	return nil
}

func (s *Scheduler) record(ctx context.Context, alertID string, level int, channel string, attempt int, dispatchErr error) {
	e := &Escalation{
		ID:        ulid.Make().String(),
		AlertID:   alertID,
		Level:     level,
		Channel:   channel,
		Attempt:   attempt,
		CreatedAt: s.now(),
	}
	if dispatchErr != nil {
		e.Error = dispatchErr.Error()
	} else {
		ts := s.now()
		e.SentAt = &ts
	}
	if err := s.store.AppendEscalation(ctx, e); err != nil {
		s.logger.Error(ctx, err, "append escalation row failed", "alert_id", alertID)
	}
}

func (s *Scheduler) notifyLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
