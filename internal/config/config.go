// Package config provides configuration loading for missiond.
//
// Configuration is loaded from an optional YAML file and overridden by
// environment variables, with hardcoded defaults for anything left
// unset.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/missiond/internal/retry"
)

// Config holds the complete missiond configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Router    RouterConfig    `koanf:"router"`
	Browser   BrowserConfig   `koanf:"browser"`
	Desktop   DesktopConfig   `koanf:"desktop"`
	Retry     RetryConfig     `koanf:"retry"`
	Mission   MissionConfig   `koanf:"mission"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen          string        `koanf:"listen"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds the embedded database location.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// WorkspaceConfig holds the per-run filesystem workspace root.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// RouterConfig holds model routing configuration. BudgetUSD is the
// default per-run cap; missions may lower it but never raise it above
// this value.
type RouterConfig struct {
	BaseURL           string  `koanf:"base_url"`
	APIKey            Secret  `koanf:"api_key"`
	BudgetUSD         float64 `koanf:"budget_usd"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	DryRun            bool    `koanf:"dry_run"`
}

// BrowserConfig holds the browser automation backend client settings.
type BrowserConfig struct {
	BaseURL      string        `koanf:"base_url"`
	TaskEndpoint string        `koanf:"task_endpoint"`
	APIKey       Secret        `koanf:"api_key"`
	Engine       string        `koanf:"engine"`
	Timeout      time.Duration `koanf:"timeout"`
}

// DesktopConfig holds the desktop automation daemon client settings.
type DesktopConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// RetryConfig holds the run loop retry policy.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
}

// Policy converts the configuration into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
	}
}

// MissionConfig holds defaults applied to submitted missions that leave
// the corresponding fields empty.
type MissionConfig struct {
	Domain      string   `koanf:"domain"`
	Permissions []string `koanf:"permissions"`
	MaxSteps    int      `koanf:"max_steps"`
	BudgetUSD   float64  `koanf:"budget_usd"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults fills in defaults for zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8088"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "missiond.db"
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "runs"
	}
	if cfg.Router.BaseURL == "" {
		cfg.Router.BaseURL = "http://localhost:8000/v1"
	}
	if cfg.Router.BudgetUSD == 0 {
		cfg.Router.BudgetUSD = 2.0
	}
	if cfg.Router.RequestsPerSecond == 0 {
		cfg.Router.RequestsPerSecond = 2
	}
	if cfg.Browser.BaseURL == "" {
		cfg.Browser.BaseURL = "http://localhost:7788"
	}
	if cfg.Browser.TaskEndpoint == "" {
		cfg.Browser.TaskEndpoint = "/api/v1/tasks"
	}
	if cfg.Browser.Engine == "" {
		cfg.Browser.Engine = "browser"
	}
	if cfg.Browser.Timeout == 0 {
		cfg.Browser.Timeout = 180 * time.Second
	}
	if cfg.Desktop.BaseURL == "" {
		cfg.Desktop.BaseURL = "http://localhost:7789"
	}
	if cfg.Desktop.Timeout == 0 {
		cfg.Desktop.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 8 * time.Second
	}
	if cfg.Mission.Domain == "" {
		cfg.Mission.Domain = "general"
	}
	if len(cfg.Mission.Permissions) == 0 {
		cfg.Mission.Permissions = []string{"web.browse", "workspace.read", "workspace.write", "desktop.control"}
	}
	if cfg.Mission.MaxSteps == 0 {
		cfg.Mission.MaxSteps = 8
	}
	if cfg.Mission.BudgetUSD == 0 {
		cfg.Mission.BudgetUSD = 2.0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.Router.BudgetUSD < 0 {
		errs = append(errs, fmt.Errorf("router.budget_usd must be non-negative, got %f", c.Router.BudgetUSD))
	}
	if c.Router.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("router.requests_per_second must be non-negative, got %f", c.Router.RequestsPerSecond))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must be non-negative"))
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, fmt.Errorf("retry.base_delay %s exceeds retry.max_delay %s", c.Retry.BaseDelay, c.Retry.MaxDelay))
	}
	if c.Mission.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("mission.max_steps must be at least 1, got %d", c.Mission.MaxSteps))
	}
	if c.Mission.BudgetUSD < 0 {
		errs = append(errs, fmt.Errorf("mission.budget_usd must be non-negative, got %f", c.Mission.BudgetUSD))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be non-negative"))
	}
	return errors.Join(errs...)
}
