package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"

	"github.com/claimflow/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Driver   string
}

// CheckRequiredConfig reports settings a deployment of cfg depends on.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Present: make(map[string]string),
		Driver:  cfg.Store.Driver,
	}

	if cfg.Store.Driver == "postgres" {
		if cfg.Store.DSN == "" {
			result.Missing = append(result.Missing, "DATABASE_URL")
		} else {
			result.Present["DATABASE_URL"] = maskDSN(cfg.Store.DSN)
		}
	}

	if cfg.Notifications.WebhookURL == "" {
		result.Warnings = append(result.Warnings, "notifications.webhook_url is empty; notifications will only be logged")
	} else {
		result.Present["notifications.webhook_url"] = cfg.Notifications.WebhookURL
	}
	if cfg.Payments.WebhookURL == "" {
		result.Warnings = append(result.Warnings, "payments.webhook_url is empty; payment instructions will only be logged")
	} else {
		result.Present["payments.webhook_url"] = cfg.Payments.WebhookURL
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		result.Present["telemetry.otlp_endpoint"] = cfg.Telemetry.OTLPEndpoint
	}
	for _, name := range []string{"RESPONSE_WINDOW_HOURS", "REMINDER_LEAD_HOURS", "SCHEDULER_INTERVAL_SECONDS"} {
		if v := os.Getenv(name); v != "" {
			result.Present[name] = v
		}
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")
	fmt.Fprintf(w, "Store: %s\n\n", result.Driver)

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "Missing required settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w)
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "Configured:")
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "All required configuration is present")
	}
	fmt.Fprintln(w, "============================")
}

// maskDSN hides the password in a connection URL.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return maskSecret(dsn)
	}
	return u.Redacted()
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
