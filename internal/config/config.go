package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/claimflow/internal/money"
)

// DefaultPath is where InitConfig writes and LoadConfig looks first.
const DefaultPath = "claimflow.toml"

// Config represents the application configuration
type Config struct {
	Workflow struct {
		ResponseWindowHours int `koanf:"response_window_hours"`
		ReminderLeadHours   int `koanf:"reminder_lead_hours"`
	} `koanf:"workflow"`

	Scheduler struct {
		IntervalSeconds int `koanf:"interval_seconds"`
		MaxConcurrency  int `koanf:"max_concurrency"`
	} `koanf:"scheduler"`

	Store struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"store"`

	API struct {
		Port               int     `koanf:"port"`
		GuestRatePerSecond float64 `koanf:"guest_rate_per_second"`
		GuestBurst         int     `koanf:"guest_burst"`
	} `koanf:"api"`

	Queue struct {
		MaxWorkers  int `koanf:"max_workers"`
		MaxAttempts int `koanf:"max_attempts"`
	} `koanf:"queue"`

	Notifications struct {
		WebhookURL     string `koanf:"webhook_url"`
		FleetRecipient string `koanf:"fleet_recipient"`
	} `koanf:"notifications"`

	Payments struct {
		WebhookURL string `koanf:"webhook_url"`
	} `koanf:"payments"`

	Commission struct {
		DefaultTier string            `koanf:"default_tier"`
		Tiers       map[string]string `koanf:"tiers"`
		Hosts       map[string]string `koanf:"hosts"`
	} `koanf:"commission"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`

	Telemetry struct {
		OTLPEndpoint string `koanf:"otlp_endpoint"`
		ServiceName  string `koanf:"service_name"`
	} `koanf:"telemetry"`
}

func defaults() map[string]interface{} {
	d := map[string]interface{}{
		"workflow.response_window_hours": 48,
		"workflow.reminder_lead_hours":   24,
		"scheduler.interval_seconds":     300,
		"scheduler.max_concurrency":      8,
		"store.driver":                   "",
		"store.dsn":                      "claimflow.db",
		"api.port":                       8888,
		"api.guest_rate_per_second":      5.0,
		"api.guest_burst":                10,
		"queue.max_workers":              10,
		"queue.max_attempts":             25,
		"notifications.fleet_recipient":  "fleet-admins",
		"commission.default_tier":        money.TierStandard,
		"log.level":                      "info",
		"log.pretty":                     false,
		"telemetry.service_name":         "claimflow",
	}
	for tier, rate := range money.DefaultTierRates() {
		d["commission.tiers."+tier] = rate
	}
	return d
}

// Plain environment names accepted alongside the CLAIMFLOW_ prefix.
var plainEnv = map[string]string{
	"RESPONSE_WINDOW_HOURS":      "workflow.response_window_hours",
	"REMINDER_LEAD_HOURS":        "workflow.reminder_lead_hours",
	"SCHEDULER_INTERVAL_SECONDS": "scheduler.interval_seconds",
	"DATABASE_URL":               "store.dsn",
}

// LoadConfig loads defaults, then the TOML file, then the environment.
// CLAIMFLOW_<SECTION>__<KEY> maps to section.key.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./" + DefaultPath, "$HOME/.claimflow.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("", ".", func(s string) string {
		return plainEnv[s]
	}), nil)

	k.Load(env.Provider("CLAIMFLOW_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "CLAIMFLOW_"))
		return strings.Replace(s, "__", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if config.Store.Driver == "" {
		config.Store.Driver = inferDriver(config.Store.DSN)
	}

	return &config, nil
}

func inferDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// ResponseWindow is the guest response window as a duration.
func (c *Config) ResponseWindow() time.Duration {
	return time.Duration(c.Workflow.ResponseWindowHours) * time.Hour
}

// ReminderLead is how long before the deadline reminders go out.
func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.Workflow.ReminderLeadHours) * time.Hour
}

// SchedulerInterval is the delay between deadline sweeps.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// CommissionTiers builds the host commission lookup.
func (c *Config) CommissionTiers() (*money.Tiers, error) {
	return money.NewTiers(c.Commission.Tiers, c.Commission.Hosts, c.Commission.DefaultTier)
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# claimflow configuration

[workflow]
response_window_hours = 48
reminder_lead_hours = 24

[scheduler]
interval_seconds = 300
# 1 runs each tick as one sequential sweep
max_concurrency = 8

[store]
# "sqlite" or "postgres"; inferred from dsn when empty
driver = "sqlite"
dsn = "claimflow.db"

[api]
port = 8888
guest_rate_per_second = 5
guest_burst = 10

[queue]
max_workers = 10
max_attempts = 25

[notifications]
webhook_url = ""
fleet_recipient = "fleet-admins"

[payments]
webhook_url = ""

[commission]
default_tier = "standard"

[commission.tiers]
standard = "0.20"
plus = "0.15"
premier = "0.10"

[commission.hosts]
# host-123 = "premier"

[log]
level = "info"
pretty = false

[telemetry]
otlp_endpoint = ""
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Workflow.ResponseWindowHours <= 0 {
		return fmt.Errorf("workflow.response_window_hours must be positive, got %d", config.Workflow.ResponseWindowHours)
	}
	if config.Workflow.ReminderLeadHours <= 0 {
		return fmt.Errorf("workflow.reminder_lead_hours must be positive, got %d", config.Workflow.ReminderLeadHours)
	}
	if config.Workflow.ReminderLeadHours >= config.Workflow.ResponseWindowHours {
		return fmt.Errorf("workflow.reminder_lead_hours (%d) must be less than response_window_hours (%d)",
			config.Workflow.ReminderLeadHours, config.Workflow.ResponseWindowHours)
	}
	if config.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be positive, got %d", config.Scheduler.IntervalSeconds)
	}
	if config.Scheduler.MaxConcurrency <= 0 {
		return fmt.Errorf("scheduler.max_concurrency must be positive, got %d", config.Scheduler.MaxConcurrency)
	}

	switch config.Store.Driver {
	case "sqlite":
	case "postgres":
		if config.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", config.Store.Driver)
	}

	if config.API.Port <= 0 || config.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", config.API.Port)
	}
	if config.API.GuestRatePerSecond < 0 {
		return fmt.Errorf("api.guest_rate_per_second must not be negative")
	}

	if _, err := config.CommissionTiers(); err != nil {
		return fmt.Errorf("commission: %w", err)
	}

	return nil
}
