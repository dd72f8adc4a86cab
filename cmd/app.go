package cmd

import (
	"github.com/urfave/cli/v2"
)

// Version is stamped at build time.
var Version = "0.1.0"

// NewApp assembles the claimflow command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "claimflow",
		Usage:   "Damage claim workflow for peer-to-peer car rentals",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CLAIMFLOW_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			ServeCommand(),
			SweepCommand(),
			MigrateCommand(),
			ClaimCommand(),
			ConfigCommand(),
		},
	}
}
