package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/claimflow/internal/claimstore/sqlstore"
	"github.com/claimflow/internal/jobqueue"
	"github.com/claimflow/internal/notify"
)

// MigrateCommand applies the claims schema and, on Postgres, River's.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			// Open applies the claims schema.
			store, err := sqlstore.Open(c.Context, cfg.Store.Driver, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			if cfg.Store.Driver == "postgres" {
				jq, err := jobqueue.NewJobQueue(c.Context, cfg.Store.DSN, nil, notify.LogDeliverer{}, false)
				if err != nil {
					return err
				}
				defer jq.Stop(c.Context)
				if err := jq.Migrate(c.Context); err != nil {
					return err
				}
			}

			fmt.Fprintf(c.App.Writer, "Migrations applied (%s)\n", cfg.Store.Driver)
			return nil
		},
	}
}
