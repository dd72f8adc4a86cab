package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/claimflow/internal/claims"
)

// DeadlineAction says what a deadline check did to one claim.
type DeadlineAction string

const (
	ActionNone      DeadlineAction = "none"
	ActionReminded  DeadlineAction = "reminded"
	ActionSuspended DeadlineAction = "suspended"
)

// errAlreadyReminded aborts a reminder swap that found the reminder stamped.
var errAlreadyReminded = errors.New("reminder already sent")

// SweepReport summarises one pass over awaiting claims.
type SweepReport struct {
	Checked   int
	Reminded  int
	Suspended int
	Failed    int
	Intents   []claims.Intent
}

// Add folds a single claim's result into the report.
func (r *SweepReport) Add(action DeadlineAction, out Outcome, err error) {
	r.Checked++
	switch {
	case err != nil:
		r.Failed++
	case action == ActionReminded:
		r.Reminded++
	case action == ActionSuspended:
		r.Suspended++
	}
	r.Intents = append(r.Intents, out.Intents...)
}

// CheckDeadline evaluates one claim at now. A claim past its deadline is
// suspended; otherwise one inside the reminder lead that has not been
// reminded gets its reminder. The two never happen in the same call, and a
// repeat call at the same instant does nothing.
func (e *Engine) CheckDeadline(ctx context.Context, claimID string, now time.Time) (action DeadlineAction, out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "check_deadline", claimID)
	defer func() { endSpan(span, err) }()
	now = now.Truncate(time.Millisecond)

	c, err := e.store.Get(ctx, claimID)
	if err != nil {
		return ActionNone, Outcome{}, err
	}
	if c.State != claims.StateAwaitingGuestResponse {
		return ActionNone, Outcome{Claim: c}, nil
	}
	if c.ResponseDeadline == nil {
		return ActionNone, Outcome{Claim: c}, fmt.Errorf("claim %s awaiting response without a deadline", c.ID)
	}
	deadline := *c.ResponseDeadline

	switch {
	case !now.Before(deadline):
		out, err := e.suspend(ctx, c, now)
		if err != nil {
			return ActionNone, Outcome{}, err
		}
		return ActionSuspended, out, nil

	case c.ReminderSentAt == nil && deadline.Sub(now) <= e.lead:
		out, err := e.remind(ctx, c, now)
		if errors.Is(err, errAlreadyReminded) {
			return ActionNone, Outcome{Claim: c}, nil
		}
		if err != nil {
			return ActionNone, Outcome{}, err
		}
		return ActionReminded, out, nil
	}
	return ActionNone, Outcome{Claim: c}, nil
}

// Due yields every awaiting claim whose deadline or reminder threshold falls
// at or before now.
func (e *Engine) Due(ctx context.Context, now time.Time) iter.Seq2[*claims.Claim, error] {
	return e.store.QueryAwaitingResponse(ctx, now.Add(e.lead))
}

// CheckDeadlines runs CheckDeadline over every claim Due at now, one at a
// time. Per-claim failures are logged and counted; the pass carries on.
func (e *Engine) CheckDeadlines(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	for c, err := range e.Due(ctx, now) {
		if err != nil {
			return report, fmt.Errorf("scan awaiting claims: %w", err)
		}
		action, out, err := e.CheckDeadline(ctx, c.ID, now)
		if err != nil {
			log.Warn().Err(err).Str("claim_id", c.ID).Msg("Deadline check failed")
		}
		report.Add(action, out, err)
	}
	return report, nil
}

func (e *Engine) suspend(ctx context.Context, c *claims.Claim, now time.Time) (Outcome, error) {
	updated, err := e.swap(ctx, c.ID, claims.StateAwaitingGuestResponse, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		if !windowClosed(c, now) {
			return nil, fmt.Errorf("%w: claim %s window still open", claims.ErrInvalidTransition, c.ID)
		}
		ev, err := c.TransitionTo(claims.StateAutoSuspended, claims.CauseGuestUnresponsive, schedulerActor, now)
		if err != nil {
			return nil, err
		}
		return []claims.ClaimEvent{ev}, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	fleet := e.fleetRecipient
	if updated.FleetReviewerID != nil {
		fleet = *updated.FleetReviewerID
	}
	deadline := updated.ResponseDeadline.Format(time.RFC3339)
	intents := []claims.Intent{
		claims.Notify(updated.ID, claims.CauseGuestUnresponsive, updated.GuestID, claims.TemplateNotifyGuest, map[string]string{
			"claimId":          updated.ID,
			"bookingId":        updated.BookingID,
			"status":           "suspended",
			"responseDeadline": deadline,
			"hoursRemaining":   "0",
		}),
		claims.Notify(updated.ID, claims.CauseGuestUnresponsive, fleet, claims.TemplateUnresponsiveFleet, map[string]string{
			"claimId":          updated.ID,
			"bookingId":        updated.BookingID,
			"guestId":          updated.GuestID,
			"responseDeadline": deadline,
		}),
	}
	return e.finish(ctx, "suspend", updated, intents), nil
}

func (e *Engine) remind(ctx context.Context, c *claims.Claim, now time.Time) (Outcome, error) {
	updated, err := e.swap(ctx, c.ID, claims.StateAwaitingGuestResponse, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		if c.ReminderSentAt != nil {
			return nil, errAlreadyReminded
		}
		if err := c.SetOnce(&c.ReminderSentAt, now); err != nil {
			return nil, err
		}
		return []claims.ClaimEvent{c.Note(claims.CauseReminderSent, schedulerActor, now)}, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	intents := []claims.Intent{
		claims.Notify(updated.ID, claims.CauseReminderSent, updated.GuestID, claims.TemplateReminderGuest, map[string]string{
			"claimId":          updated.ID,
			"bookingId":        updated.BookingID,
			"responseDeadline": updated.ResponseDeadline.Format(time.RFC3339),
			"hoursRemaining":   strconv.Itoa(updated.HoursRemaining(now)),
		}),
	}
	return e.finish(ctx, "remind", updated, intents), nil
}
