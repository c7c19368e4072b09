package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		PassIntervalSeconds:   300,
		CorrelateDaysBack:     7,
		SnoozeSweepSeconds:    30,
		EscalatePollSeconds:   15,
		EscalateMaxAttempts:   3,
		DispatchTimeoutSecs:   10,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.PassIntervalSeconds != 300 {
		t.Errorf("PassIntervalSeconds = %d, want 300", c.PassIntervalSeconds)
	}
	if c.CorrelateDaysBack != 7 {
		t.Errorf("CorrelateDaysBack = %d, want 7", c.CorrelateDaysBack)
	}
	if c.EscalateMaxAttempts != 3 {
		t.Errorf("EscalateMaxAttempts = %d, want 3", c.EscalateMaxAttempts)
	}

	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate, got: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/watchtower",
		"-feed-path", "/data/items.json",
		"-pass-interval-seconds", "0",
		"-correlate-days-back", "30",
		"-webhook-url", "https://hooks.example.com/wt",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/watchtower" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.FeedPath != "/data/items.json" {
		t.Errorf("FeedPath = %q", c.FeedPath)
	}
	if c.PassIntervalSeconds != 0 {
		t.Errorf("PassIntervalSeconds = %d, want 0", c.PassIntervalSeconds)
	}
	if c.CorrelateDaysBack != 30 {
		t.Errorf("CorrelateDaysBack = %d, want 30", c.CorrelateDaysBack)
	}
	if c.WebhookURL != "https://hooks.example.com/wt" {
		t.Errorf("WebhookURL = %q", c.WebhookURL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "minimum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds = 1
				c.ShutdownBudgetSeconds = 2
				c.APIPort = 1
				c.PassIntervalSeconds = 0
				c.CorrelateDaysBack = 1
				c.SnoozeSweepSeconds = 1
				c.EscalatePollSeconds = 1
				c.EscalateMaxAttempts = 1
				c.DispatchTimeoutSecs = 1
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds = 299
				c.ShutdownBudgetSeconds = 300
				c.APIPort = 65535
				c.CorrelateDaysBack = 90
				c.SnoozeSweepSeconds = 3600
				c.EscalatePollSeconds = 3600
				c.EscalateMaxAttempts = 10
				c.DispatchTimeoutSecs = 120
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			mutate:    func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "budget less than drain",
			mutate:    func(c *Config) { c.DrainSeconds = 60; c.ShutdownBudgetSeconds = 30 },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			mutate:    func(c *Config) { c.APIPort = 0 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Engine knobs
		{
			name:      "negative pass interval",
			mutate:    func(c *Config) { c.PassIntervalSeconds = -1 },
			wantErr:   true,
			errSubstr: []string{"PASS_INTERVAL_SECONDS"},
		},
		{
			name:      "days back zero",
			mutate:    func(c *Config) { c.CorrelateDaysBack = 0 },
			wantErr:   true,
			errSubstr: []string{"CORRELATE_DAYS_BACK"},
		},
		{
			name:      "days back above max",
			mutate:    func(c *Config) { c.CorrelateDaysBack = 91 },
			wantErr:   true,
			errSubstr: []string{"CORRELATE_DAYS_BACK"},
		},
		{
			name:      "sweep zero",
			mutate:    func(c *Config) { c.SnoozeSweepSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"SNOOZE_SWEEP_SECONDS"},
		},
		{
			name:      "escalate poll zero",
			mutate:    func(c *Config) { c.EscalatePollSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"ESCALATE_POLL_SECONDS"},
		},
		{
			name:      "max attempts above max",
			mutate:    func(c *Config) { c.EscalateMaxAttempts = 11 },
			wantErr:   true,
			errSubstr: []string{"ESCALATE_MAX_ATTEMPTS"},
		},
		{
			name:      "dispatch timeout zero",
			mutate:    func(c *Config) { c.DispatchTimeoutSecs = 0 },
			wantErr:   true,
			errSubstr: []string{"DISPATCH_TIMEOUT_SECONDS"},
		},
		// Error accumulation
		{
			name: "all fields invalid",
			mutate: func(c *Config) {
				*c = Config{}
			},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"CORRELATE_DAYS_BACK", "SNOOZE_SWEEP_SECONDS",
				"ESCALATE_POLL_SECONDS", "ESCALATE_MAX_ATTEMPTS", "DISPATCH_TIMEOUT_SECONDS",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			mutate: func(c *Config) {
				c.DrainSeconds = math.MinInt32
				c.ShutdownBudgetSeconds = math.MinInt32
				c.APIPort = math.MinInt32
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, days int
	}{
		{60, 90, 8080, 7},
		{1, 2, 1, 1},
		{299, 300, 65535, 90},
		{0, 0, 0, 0},
		{-1, -1, -1, -1},
		{300, 300, 65535, 90},
		{301, 302, 65536, 91},
		{150, 100, 8080, 7},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.days)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, days int) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.CorrelateDaysBack = days
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		daysOK := days >= 1 && days <= 90

		allValid := drainOK && budgetOK && portOK && crossOK && daysOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
