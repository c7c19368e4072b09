package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	FeedPath              string
	PassIntervalSeconds   int
	CorrelateDaysBack     int
	SnoozeSweepSeconds    int
	EscalatePollSeconds   int
	EscalateMaxAttempts   int
	DispatchTimeoutSecs   int
	WebhookURL            string
	PagerWebhookURL       string
	EmailWebhookURL       string
	SlackWebhookURL       string
	APIToken              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.FeedPath, "feed-path", "", "path to a JSON source items file (empty = no feed, correlate via API only)")
	fs.IntVar(&c.PassIntervalSeconds, "pass-interval-seconds", 300, "seconds between engine passes, 0 disables periodic passes")
	fs.IntVar(&c.CorrelateDaysBack, "correlate-days-back", 7, "how many days of source items each pass clusters (1..90)")
	fs.IntVar(&c.SnoozeSweepSeconds, "snooze-sweep-seconds", 30, "seconds between snooze expiry sweeps (1..3600)")
	fs.IntVar(&c.EscalatePollSeconds, "escalate-poll-seconds", 15, "escalation scheduler poll interval in seconds (1..3600)")
	fs.IntVar(&c.EscalateMaxAttempts, "escalate-max-attempts", 3, "delivery attempts per escalation step before permanent failure (1..10)")
	fs.IntVar(&c.DispatchTimeoutSecs, "dispatch-timeout-seconds", 10, "per-channel dispatch timeout in seconds (1..120)")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "webhook URL for the default notification channel")
	fs.StringVar(&c.PagerWebhookURL, "pager-webhook-url", "", "webhook URL for the pager notification channel")
	fs.StringVar(&c.EmailWebhookURL, "email-webhook-url", "", "webhook URL for the email gateway notification channel")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook URL for the slack notification channel")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api requests (empty = no auth)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.PassIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid PASS_INTERVAL_SECONDS %d (must be >= 0)", c.PassIntervalSeconds))
	}
	if c.CorrelateDaysBack <= 0 || c.CorrelateDaysBack > 90 {
		errs = append(errs, fmt.Errorf("invalid CORRELATE_DAYS_BACK %d (must be 1..90)", c.CorrelateDaysBack))
	}
	if c.SnoozeSweepSeconds <= 0 || c.SnoozeSweepSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SNOOZE_SWEEP_SECONDS %d (must be 1..3600)", c.SnoozeSweepSeconds))
	}
	if c.EscalatePollSeconds <= 0 || c.EscalatePollSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid ESCALATE_POLL_SECONDS %d (must be 1..3600)", c.EscalatePollSeconds))
	}
	if c.EscalateMaxAttempts <= 0 || c.EscalateMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid ESCALATE_MAX_ATTEMPTS %d (must be 1..10)", c.EscalateMaxAttempts))
	}
	if c.DispatchTimeoutSecs <= 0 || c.DispatchTimeoutSecs > 120 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_TIMEOUT_SECONDS %d (must be 1..120)", c.DispatchTimeoutSecs))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
