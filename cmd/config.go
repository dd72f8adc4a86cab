package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/claimflow/internal/config"
)

// ConfigCommand groups the configuration subcommands.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Write, inspect and check claimflow configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample claimflow.toml",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Destination `PATH`", Value: config.DefaultPath},
					&cli.BoolFlag{Name: "force", Usage: "Replace an existing file"},
				},
				Action: runConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the effective settings after defaults, file and environment are merged",
				Action: runConfigShow,
			},
			{
				Name:   "validate",
				Usage:  "Check workflow timings and report deployment settings",
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	path := c.String("output")
	if c.Bool("force") {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to replace %s: %w", path, err)
		}
	}
	if err := config.InitConfig(path); err != nil {
		return cli.Exit("Error: "+err.Error(), exitRejected)
	}
	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", path)
	return nil
}

// effectiveConfig is the shape printed by config show. A postgres DSN is
// printed with its password redacted.
type effectiveConfig struct {
	ResponseWindow    string            `json:"responseWindow"`
	ReminderLead      string            `json:"reminderLead"`
	SchedulerInterval string            `json:"schedulerInterval"`
	MaxConcurrency    int               `json:"maxConcurrency"`
	Driver            string            `json:"driver"`
	DSN               string            `json:"dsn"`
	APIPort           int               `json:"apiPort"`
	FleetRecipient    string            `json:"fleetRecipient"`
	NotificationHook  string            `json:"notificationWebhook,omitempty"`
	PaymentHook       string            `json:"paymentWebhook,omitempty"`
	DefaultTier       string            `json:"defaultTier"`
	Tiers             map[string]string `json:"tiers"`
	HostTiers         int               `json:"hostTierOverrides"`
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: failed to load config: %v", err), exitInvalidArgs)
	}
	view := effectiveConfig{
		ResponseWindow:    cfg.ResponseWindow().String(),
		ReminderLead:      cfg.ReminderLead().String(),
		SchedulerInterval: cfg.SchedulerInterval().String(),
		MaxConcurrency:    cfg.Scheduler.MaxConcurrency,
		Driver:            cfg.Store.Driver,
		DSN:               cfg.Store.DSN,
		APIPort:           cfg.API.Port,
		FleetRecipient:    cfg.Notifications.FleetRecipient,
		DefaultTier:       cfg.Commission.DefaultTier,
		Tiers:             cfg.Commission.Tiers,
		HostTiers:         len(cfg.Commission.Hosts),
		NotificationHook:  cfg.Notifications.WebhookURL,
		PaymentHook:       cfg.Payments.WebhookURL,
	}
	if cfg.Store.Driver == "postgres" {
		view.DSN = maskDSN(cfg.Store.DSN)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: failed to load config: %v", err), exitInvalidArgs)
	}
	if err := config.Validate(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("Error: invalid configuration: %v", err), exitInvalidArgs)
	}

	result := CheckRequiredConfig(cfg)
	PrintConfigCheck(c.App.Writer, result)
	if len(result.Missing) > 0 {
		return cli.Exit("Error: required configuration is missing", exitRejected)
	}
	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}
