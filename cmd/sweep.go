package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// SweepCommand runs one deadline pass and exits. Useful from cron when the
// long-running scheduler is disabled.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Send due reminders and suspend claims past their response deadline",
		Action: func(c *cli.Context) error {
			rt, err := bootstrap(c, false)
			if err != nil {
				return err
			}
			defer rt.Close(c.Context)

			report, err := rt.scheduler.Tick(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "checked=%d reminded=%d suspended=%d failed=%d\n",
				report.Checked, report.Reminded, report.Suspended, report.Failed)
			if report.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d claims failed their deadline check", report.Failed), 1)
			}
			return nil
		},
	}
}
