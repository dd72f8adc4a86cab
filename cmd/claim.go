package cmd

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/claimflow/internal/api"
	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/workflow"
	"github.com/claimflow/pkg/models"
)

// Exit codes for claim commands.
const (
	exitOK          = 0
	exitRejected    = 1
	exitInvalidArgs = 2
)

// ClaimCommand returns the claim operations command
func ClaimCommand() *cli.Command {
	return &cli.Command{
		Name:  "claim",
		Usage: "Inspect and act on damage claims",
		Subcommands: []*cli.Command{
			{
				Name:      "file",
				Usage:     "File a new claim against a booking",
				ArgsUsage: "<bookingId>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host", Usage: "Host `ID`"},
					&cli.StringFlag{Name: "guest", Usage: "Guest `ID`"},
					&cli.StringFlag{Name: "type", Usage: "Claim type (collision, damage, theft, ...)", Value: "damage"},
					&cli.Int64Flag{Name: "estimate", Usage: "Estimated repair cost in `CENTS`"},
					&cli.Int64Flag{Name: "deductible", Usage: "Protection plan deductible in `CENTS`"},
					&cli.Int64Flag{Name: "deposit", Usage: "Security deposit held in `CENTS`"},
					&cli.StringFlag{Name: "description", Usage: "Free-text description"},
				},
				Action: runClaimFile,
			},
			{
				Name:      "review",
				Usage:     "Start fleet review of a filed claim",
				ArgsUsage: "<claimId>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reviewer", Usage: "Fleet reviewer `ID`"},
				},
				Action: runClaimReview,
			},
			{
				Name:      "decide",
				Usage:     "Approve or deny a claim at fleet or final review",
				ArgsUsage: "<claimId>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "approve", Usage: "Approve the claim"},
					&cli.BoolFlag{Name: "deny", Usage: "Deny the claim"},
					&cli.Int64Flag{Name: "amount", Usage: "Approved amount (fleet review) or guest responsibility (final review) in `CENTS`"},
					&cli.StringFlag{Name: "notes", Usage: "Review notes"},
					&cli.StringFlag{Name: "reason", Usage: "Denial reason"},
					&cli.StringFlag{Name: "actor", Usage: "Operator `ID` recorded on the event"},
				},
				Action: runClaimDecide,
			},
			{
				Name:      "respond",
				Usage:     "Record a guest response on the guest's behalf",
				ArgsUsage: "<claimId>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Usage: "Response text"},
					&cli.IntFlag{Name: "evidence", Usage: "Number of evidence items attached"},
				},
				Action: runClaimRespond,
			},
			{
				Name:      "show",
				Usage:     "Print a claim as JSON",
				ArgsUsage: "<claimId>",
				Action:    runClaimShow,
			},
			{
				Name:      "events",
				Usage:     "Print a claim's audit log",
				ArgsUsage: "<claimId>",
				Action:    runClaimEvents,
			},
		},
	}
}

// exitCodeFor maps workflow errors to process exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, claims.ErrInvalidInput):
		return exitInvalidArgs
	}
	return exitRejected
}

func failure(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit("Error: "+err.Error(), exitCodeFor(err))
}

// positional returns the single id argument. Flags written after it are
// parsed here, since the flag package stops at the first positional.
func positional(c *cli.Context, what string) (string, error) {
	args := c.Args().Slice()
	if len(args) > 1 {
		rest, err := parseTrailingFlags(c, args[1:])
		if err != nil {
			return "", cli.Exit("Error: "+err.Error(), exitInvalidArgs)
		}
		args = append(args[:1], rest...)
	}
	if len(args) != 1 {
		return "", cli.Exit(fmt.Sprintf("Error: expected exactly one %s, got %d arguments", what, len(args)), exitInvalidArgs)
	}
	return args[0], nil
}

func parseTrailingFlags(c *cli.Context, rest []string) ([]string, error) {
	set := flag.NewFlagSet(c.Command.Name, flag.ContinueOnError)
	set.SetOutput(io.Discard)
	for _, f := range c.Command.Flags {
		if err := f.Apply(set); err != nil {
			return nil, err
		}
	}
	if err := set.Parse(rest); err != nil {
		return nil, err
	}
	var setErr error
	set.Visit(func(f *flag.Flag) {
		if err := c.Set(f.Name, f.Value.String()); err != nil && setErr == nil {
			setErr = err
		}
	})
	return set.Args(), setErr
}

func claimArg(c *cli.Context) (string, error) {
	return positional(c, "claim id")
}

func runClaimFile(c *cli.Context) error {
	bookingID, err := positional(c, "booking id")
	if err != nil {
		return err
	}
	rt, err := bootstrap(c, false)
	if err != nil {
		return err
	}
	defer rt.Close(c.Context)

	out, err := rt.engine.FileClaim(c.Context, workflow.FileClaimInput{
		BookingID:        bookingID,
		HostID:           c.String("host"),
		GuestID:          c.String("guest"),
		ClaimType:        c.String("type"),
		Description:      c.String("description"),
		EstimatedCost:    c.Int64("estimate"),
		DeductibleAmount: c.Int64("deductible"),
		DepositHeld:      c.Int64("deposit"),
	})
	if err != nil {
		return failure(err)
	}
	fmt.Fprintln(c.App.Writer, out.Claim.ID)
	return nil
}

func runClaimReview(c *cli.Context) error {
	id, err := claimArg(c)
	if err != nil {
		return err
	}
	rt, err := bootstrap(c, false)
	if err != nil {
		return err
	}
	defer rt.Close(c.Context)

	out, err := rt.engine.StartFleetReview(c.Context, id, c.String("reviewer"))
	if err != nil {
		return failure(err)
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", out.Claim.ID, out.Claim.State)
	return nil
}

func runClaimDecide(c *cli.Context) error {
	id, err := claimArg(c)
	if err != nil {
		return err
	}
	approve, deny := c.Bool("approve"), c.Bool("deny")
	if approve == deny {
		return cli.Exit("Error: exactly one of --approve or --deny is required", exitInvalidArgs)
	}

	d := workflow.AdminDecision{ClaimID: id, Approve: approve, Actor: c.String("actor")}
	if c.IsSet("amount") {
		d.Amount = claims.Ptr(c.Int64("amount"))
	}
	if c.IsSet("notes") {
		d.Notes = claims.Ptr(c.String("notes"))
	}
	if c.IsSet("reason") {
		d.Reason = claims.Ptr(c.String("reason"))
	}

	rt, err := bootstrap(c, false)
	if err != nil {
		return err
	}
	defer rt.Close(c.Context)

	out, err := rt.engine.Decide(c.Context, d)
	if err != nil {
		return failure(err)
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", out.Claim.ID, out.Claim.State)
	return nil
}

func runClaimRespond(c *cli.Context) error {
	id, err := claimArg(c)
	if err != nil {
		return err
	}
	rt, err := bootstrap(c, false)
	if err != nil {
		return err
	}
	defer rt.Close(c.Context)

	out, err := rt.engine.RecordGuestResponse(c.Context, workflow.GuestResponse{
		ClaimID:       id,
		Text:          c.String("text"),
		EvidenceCount: c.Int("evidence"),
	})
	if err != nil {
		return failure(err)
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", out.Claim.ID, out.Claim.State)
	return nil
}

func runClaimShow(c *cli.Context) error {
	id, err := claimArg(c)
	if err != nil {
		return err
	}
	rt, err := bootstrap(c, false)
	if err != nil {
		return err
	}
	defer rt.Close(c.Context)

	claim, err := rt.engine.Get(c.Context, id)
	if err != nil {
		return failure(err)
	}
	return printJSON(c, api.ClaimView(claim, rt.clock.Now()))
}

func runClaimEvents(c *cli.Context) error {
	id, err := claimArg(c)
	if err != nil {
		return err
	}
	rt, err := bootstrap(c, false)
	if err != nil {
		return err
	}
	defer rt.Close(c.Context)

	events, err := rt.engine.Events(c.Context, id)
	if err != nil {
		return failure(err)
	}
	for _, ev := range events {
		line := fmt.Sprintf("%4d  %s  %-24s %-28s %s", ev.Seq, ev.OccurredAt.Format(time.RFC3339), ev.Cause, ev.ToState, ev.Actor)
		if ev.IntentKey != "" {
			line += "  " + ev.IntentKey
		}
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}

func printJSON(c *cli.Context, v models.ClaimView) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
