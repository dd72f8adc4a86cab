package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/money"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claimflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.ResponseWindow())
	assert.Equal(t, 24*time.Hour, cfg.ReminderLead())
	assert.Equal(t, 300*time.Second, cfg.SchedulerInterval())
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 8888, cfg.API.Port)
	assert.Equal(t, "fleet-admins", cfg.Notifications.FleetRecipient)
	require.NoError(t, Validate(cfg))

	tiers, err := cfg.CommissionTiers()
	require.NoError(t, err)
	rate, err := tiers.RateFor(context.Background(), "anyone")
	require.NoError(t, err)
	assert.Equal(t, "0.2", rate.String())
	assert.Equal(t, money.DefaultTierRates(), cfg.Commission.Tiers)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[workflow]
response_window_hours = 72
reminder_lead_hours = 12

[commission.hosts]
host-9 = "premier"

[log]
level = "debug"
`)
	t.Setenv("SCHEDULER_INTERVAL_SECONDS", "60")
	t.Setenv("CLAIMFLOW_API__PORT", "9090")
	t.Setenv("CLAIMFLOW_NOTIFICATIONS__WEBHOOK_URL", "https://hooks.example.com/notify")
	t.Setenv("DATABASE_URL", "postgres://claims@localhost/claims")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.ResponseWindow())
	assert.Equal(t, 12*time.Hour, cfg.ReminderLead())
	assert.Equal(t, 60*time.Second, cfg.SchedulerInterval())
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "https://hooks.example.com/notify", cfg.Notifications.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://claims@localhost/claims", cfg.Store.DSN)

	tiers, err := cfg.CommissionTiers()
	require.NoError(t, err)
	rate, err := tiers.RateFor(context.Background(), "host-9")
	require.NoError(t, err)
	assert.Equal(t, "0.1", rate.String())
}

func TestSpecNamedEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, "[workflow]\nresponse_window_hours = 72\n")
	t.Setenv("RESPONSE_WINDOW_HOURS", "36")
	t.Setenv("REMINDER_LEAD_HOURS", "6")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, cfg.ResponseWindow())
	assert.Equal(t, 6*time.Hour, cfg.ReminderLead())
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Chdir(t.TempDir())
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"lead equals window":   func(c *Config) { c.Workflow.ReminderLeadHours = 48 },
		"lead exceeds window":  func(c *Config) { c.Workflow.ReminderLeadHours = 50 },
		"zero window":          func(c *Config) { c.Workflow.ResponseWindowHours = 0 },
		"zero interval":        func(c *Config) { c.Scheduler.IntervalSeconds = 0 },
		"unknown driver":       func(c *Config) { c.Store.Driver = "mysql" },
		"postgres without dsn": func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" },
		"bad port":             func(c *Config) { c.API.Port = 70000 },
		"unknown host tier":    func(c *Config) { c.Commission.Hosts = map[string]string{"h": "gold"} },
		"rate above one":       func(c *Config) { c.Commission.Tiers["standard"] = "1.5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base(t)
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestInitConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}
