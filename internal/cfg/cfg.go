package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds riskwatch-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	WindowMaxEvents       int
	WindowMaxAge          time.Duration
	AlertStoreCapacity    int
	IncidentCapacity      int
	StalenessThreshold    time.Duration
	RuleConfigPath        string
	SlackWebhookURL       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.WindowMaxEvents, "window-max-events", 1000, "max risk events retained in the threshold engine window (1..100000)")
	fs.DurationVar(&c.WindowMaxAge, "window-max-age", 24*time.Hour, "max age of risk events retained in the threshold engine window")
	fs.IntVar(&c.AlertStoreCapacity, "alert-store-capacity", 1000, "max alerts retained before oldest-first eviction (1..100000)")
	fs.IntVar(&c.IncidentCapacity, "incident-capacity", 1000, "max incidents retained before oldest-first eviction (1..100000)")
	fs.DurationVar(&c.StalenessThreshold, "staleness-threshold", 6*time.Hour, "quiet time after which an incident is reported STALE")
	fs.StringVar(&c.RuleConfigPath, "rule-config", "", "path to the YAML rule tuning file (empty = catalog defaults)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for critical alert notifications")
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

	if c.WindowMaxEvents <= 0 || c.WindowMaxEvents > 100000 {
		errs = append(errs, fmt.Errorf("invalid WINDOW_MAX_EVENTS %d (must be 1..100000)", c.WindowMaxEvents))
	}
	if c.WindowMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("invalid WINDOW_MAX_AGE %s (must be positive)", c.WindowMaxAge))
	}
	if c.AlertStoreCapacity <= 0 || c.AlertStoreCapacity > 100000 {
		errs = append(errs, fmt.Errorf("invalid ALERT_STORE_CAPACITY %d (must be 1..100000)", c.AlertStoreCapacity))
	}
	if c.IncidentCapacity <= 0 || c.IncidentCapacity > 100000 {
		errs = append(errs, fmt.Errorf("invalid INCIDENT_CAPACITY %d (must be 1..100000)", c.IncidentCapacity))
	}
	if c.StalenessThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid STALENESS_THRESHOLD %s (must be positive)", c.StalenessThreshold))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
