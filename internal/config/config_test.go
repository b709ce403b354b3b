package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.Listen)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "missiond.db", cfg.Store.Path)
	assert.Equal(t, "runs", cfg.Workspace.Root)
	assert.Equal(t, 2.0, cfg.Router.BudgetUSD)
	assert.False(t, cfg.Router.DryRun)
	assert.Equal(t, "/api/v1/tasks", cfg.Browser.TaskEndpoint)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "general", cfg.Mission.Domain)
	assert.Contains(t, cfg.Mission.Permissions, "web.browse")
	assert.Contains(t, cfg.Mission.Permissions, "desktop.control")
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFile_YAMLValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  listen: ":9900"
  shutdown_timeout: 5s
router:
  budget_usd: 0.5
  api_key: sk-test
  dry_run: true
retry:
  max_attempts: 2
  base_delay: 100ms
  max_delay: 400ms
mission:
  domain: research
  max_steps: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9900", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 0.5, cfg.Router.BudgetUSD)
	assert.Equal(t, "sk-test", cfg.Router.APIKey.Value())
	assert.True(t, cfg.Router.DryRun)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "research", cfg.Mission.Domain)
	assert.Equal(t, 4, cfg.Mission.MaxSteps)
	// Untouched sections keep their defaults.
	assert.Equal(t, "missiond.db", cfg.Store.Path)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":9900\"\n"), 0o600))

	t.Setenv("MISSIOND_SERVER_LISTEN", ":7070")
	t.Setenv("MISSIOND_ROUTER_BUDGET_USD", "1.25")
	t.Setenv("MISSIOND_LOGGING_LEVEL", "debug")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, 1.25, cfg.Router.BudgetUSD)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWithFile_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
retry:
  base_delay: 10s
  max_delay: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_delay")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Router.BudgetUSD = -1
	cfg.Retry.MaxAttempts = 0
	cfg.Mission.MaxSteps = -3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "router.budget_usd")
	assert.Contains(t, err.Error(), "retry.max_attempts")
	assert.Contains(t, err.Error(), "mission.max_steps")
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "sk-super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestRetryConfig_Policy(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	p := rc.Policy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 4*time.Second, p.MaxDelay)
}
