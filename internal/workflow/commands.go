package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/money"
)

const maxResponseText = 10_000

// FileClaimInput is a host's first notice of loss.
type FileClaimInput struct {
	BookingID        string
	HostID           string
	GuestID          string
	ClaimType        string
	Description      string
	IncidentAt       *time.Time
	EstimatedCost    int64
	DeductibleAmount int64
	DepositHeld      int64
}

// FleetDecision is a fleet reviewer's verdict on a claim under review.
type FleetDecision struct {
	ClaimID        string
	Approve        bool
	ApprovedAmount *int64
	ReviewNotes    *string
	DenialReason   *string
	Actor          string
}

// GuestResponse is the guest's answer inside the response window.
type GuestResponse struct {
	ClaimID       string
	Text          string
	EvidenceCount int
}

// FinalDecision closes a claim after the guest has responded.
type FinalDecision struct {
	ClaimID             string
	Approve             bool
	GuestResponsibility *int64
	DenialReason        *string
	ReviewNotes         *string
	Actor               string
}

// FileClaim creates a claim in FILED and notifies the fleet.
func (e *Engine) FileClaim(ctx context.Context, in FileClaimInput) (out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "file_claim", "")
	defer func() { endSpan(span, err) }()

	in.BookingID = strings.TrimSpace(in.BookingID)
	in.HostID = strings.TrimSpace(in.HostID)
	in.GuestID = strings.TrimSpace(in.GuestID)
	switch {
	case in.BookingID == "":
		return Outcome{}, claims.InvalidInput("booking id is required")
	case in.HostID == "":
		return Outcome{}, claims.InvalidInput("host id is required")
	case in.GuestID == "":
		return Outcome{}, claims.InvalidInput("guest id is required")
	case in.EstimatedCost <= 0:
		return Outcome{}, claims.InvalidInput("estimated cost must be positive, got %d", in.EstimatedCost)
	case in.DeductibleAmount < 0:
		return Outcome{}, claims.InvalidInput("deductible must not be negative, got %d", in.DeductibleAmount)
	case in.DepositHeld < 0:
		return Outcome{}, claims.InvalidInput("deposit held must not be negative, got %d", in.DepositHeld)
	}
	claimType, err := claims.ParseClaimType(in.ClaimType)
	if err != nil {
		return Outcome{}, err
	}

	now := e.now()
	if in.IncidentAt != nil && in.IncidentAt.After(now) {
		return Outcome{}, claims.InvalidInput("incident time %s is in the future", in.IncidentAt.Format(time.RFC3339))
	}

	potential := money.ComputeFinancialImpact(in.DeductibleAmount, in.DepositHeld)
	c, created := claims.NewClaim(in.BookingID, in.HostID, in.GuestID, claimType,
		in.EstimatedCost, in.DeductibleAmount, in.DepositHeld, potential, in.HostID, now)
	c.Description = strings.TrimSpace(in.Description)
	c.IncidentAt = in.IncidentAt
	span.SetAttributes(claimAttr(c.ID))

	if err := e.store.Insert(ctx, c, created); err != nil {
		return Outcome{}, err
	}

	intents := []claims.Intent{
		claims.Notify(c.ID, claims.CauseFiled, e.fleetRecipient, claims.TemplateFiledFleet, map[string]string{
			"claimId":         c.ID,
			"bookingId":       c.BookingID,
			"hostId":          c.HostID,
			"claimType":       string(c.ClaimType),
			"priority":        string(c.Priority),
			"estimatedCost":   claims.Cents(c.EstimatedCost),
			"potentialCharge": claims.Cents(c.PotentialCharge),
		}),
	}
	return e.finish(ctx, "file_claim", c, intents), nil
}

// StartFleetReview assigns a reviewer and moves FILED to FLEET_REVIEWING.
func (e *Engine) StartFleetReview(ctx context.Context, claimID, reviewerID string) (out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "start_fleet_review", claimID)
	defer func() { endSpan(span, err) }()

	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return Outcome{}, claims.InvalidInput("reviewer id is required")
	}
	if _, err := e.load(ctx, claimID, claims.StateFiled, claims.StateFleetReviewing); err != nil {
		return Outcome{}, err
	}

	now := e.now()
	updated, err := e.swap(ctx, claimID, claims.StateFiled, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		c.FleetReviewerID = &reviewerID
		ev, err := c.TransitionTo(claims.StateFleetReviewing, claims.CauseFleetReviewStarted, reviewerID, now)
		if err != nil {
			return nil, err
		}
		return []claims.ClaimEvent{ev}, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return e.finish(ctx, "start_fleet_review", updated, nil), nil
}

// FleetDecide records the fleet verdict. Approval opens the guest response
// window in the same write; denial dismisses the claim.
func (e *Engine) FleetDecide(ctx context.Context, d FleetDecision) (out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "fleet_decide", d.ClaimID)
	span.SetAttributes(approveAttr(d.Approve))
	defer func() { endSpan(span, err) }()

	if d.Approve {
		if d.ApprovedAmount == nil {
			return Outcome{}, claims.InvalidInput("approved amount is required to approve")
		}
		if *d.ApprovedAmount <= 0 {
			return Outcome{}, claims.InvalidInput("approved amount must be positive, got %d", *d.ApprovedAmount)
		}
	}

	target := claims.StateFleetDenied
	if d.Approve {
		target = claims.StateFleetApproved
	}
	current, err := e.load(ctx, d.ClaimID, claims.StateFleetReviewing, target)
	if err != nil {
		return Outcome{}, err
	}
	actor := d.Actor
	if actor == "" && current.FleetReviewerID != nil {
		actor = *current.FleetReviewerID
	}

	now := e.now()
	if !d.Approve {
		updated, err := e.swap(ctx, d.ClaimID, claims.StateFleetReviewing, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
			c.DenialReason = trimmed(d.DenialReason)
			c.ReviewNotes = trimmed(d.ReviewNotes)
			if err := c.SetOnce(&c.FleetDecisionAt, now); err != nil {
				return nil, err
			}
			ev, err := c.TransitionTo(claims.StateFleetDenied, claims.CauseFleetDenied, actor, now)
			if err != nil {
				return nil, err
			}
			return []claims.ClaimEvent{ev}, nil
		})
		if err != nil {
			return Outcome{}, err
		}
		intents := []claims.Intent{
			claims.Notify(updated.ID, claims.CauseFleetDenied, updated.HostID, claims.TemplateDeniedHost, map[string]string{
				"claimId":      updated.ID,
				"bookingId":    updated.BookingID,
				"denialReason": deref(updated.DenialReason),
			}),
		}
		return e.finish(ctx, "fleet_decide", updated, intents), nil
	}

	deadline := now.Add(e.window)
	updated, err := e.swap(ctx, d.ClaimID, claims.StateFleetReviewing, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		c.ApprovedAmount = claims.Ptr(*d.ApprovedAmount)
		c.ReviewNotes = trimmed(d.ReviewNotes)
		if err := c.SetOnce(&c.FleetDecisionAt, now); err != nil {
			return nil, err
		}
		approved, err := c.TransitionTo(claims.StateFleetApproved, claims.CauseFleetApproved, actor, now)
		if err != nil {
			return nil, err
		}
		if err := c.SetOnce(&c.ResponseDeadline, deadline); err != nil {
			return nil, err
		}
		if err := c.SetOnce(&c.GuestNotifiedAt, now); err != nil {
			return nil, err
		}
		opened, err := c.TransitionTo(claims.StateAwaitingGuestResponse, claims.CauseGuestWindowOpened, actor, now)
		if err != nil {
			return nil, err
		}
		return []claims.ClaimEvent{approved, opened}, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	intents := []claims.Intent{
		claims.Notify(updated.ID, claims.CauseGuestWindowOpened, updated.GuestID, claims.TemplateNotifyGuest, map[string]string{
			"claimId":          updated.ID,
			"bookingId":        updated.BookingID,
			"status":           "awaiting_response",
			"approvedAmount":   claims.Cents(*updated.ApprovedAmount),
			"deductibleAmount": claims.Cents(updated.DeductibleAmount),
			"depositHeld":      claims.Cents(updated.DepositHeld),
			"potentialCharge":  claims.Cents(updated.PotentialCharge),
			"responseDeadline": deadline.Format(time.RFC3339),
			"hoursRemaining":   strconv.Itoa(int(e.window / time.Hour)),
		}),
		claims.Notify(updated.ID, claims.CauseFleetApproved, updated.HostID, claims.TemplateApprovedHost, map[string]string{
			"claimId":        updated.ID,
			"bookingId":      updated.BookingID,
			"approvedAmount": claims.Cents(*updated.ApprovedAmount),
		}),
	}
	return e.finish(ctx, "fleet_decide", updated, intents), nil
}

// RecordGuestResponse captures the guest's answer and sends the claim
// straight to final review. After the deadline it fails with
// ErrDeadlinePassed, even if the scheduler has not suspended the claim yet.
func (e *Engine) RecordGuestResponse(ctx context.Context, r GuestResponse) (out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "record_guest_response", r.ClaimID)
	defer func() { endSpan(span, err) }()

	if r.ClaimID == "" {
		return Outcome{}, claims.InvalidInput("claim id is required")
	}
	if r.EvidenceCount < 0 {
		return Outcome{}, claims.InvalidInput("evidence count must not be negative, got %d", r.EvidenceCount)
	}
	text := strings.TrimSpace(r.Text)
	if len(text) > maxResponseText {
		return Outcome{}, claims.InvalidInput("response text exceeds %d characters", maxResponseText)
	}

	c, err := e.store.Get(ctx, r.ClaimID)
	if err != nil {
		return Outcome{}, err
	}
	now := e.now()
	switch {
	case c.State == claims.StateAutoSuspended:
		return Outcome{}, fmt.Errorf("%w: claim %s was suspended at %s", claims.ErrDeadlinePassed, c.ID, c.UpdatedAt.Format(time.RFC3339))
	case c.State != claims.StateAwaitingGuestResponse:
		return Outcome{}, claims.InvalidTransition(c.State, claims.StateGuestResponded)
	case windowClosed(c, now):
		return Outcome{}, deadlinePassed(c)
	}

	updated, err := e.swap(ctx, r.ClaimID, claims.StateAwaitingGuestResponse, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		if windowClosed(c, now) {
			return nil, deadlinePassed(c)
		}
		c.GuestResponseText = &text
		c.GuestEvidenceCount = claims.Ptr(r.EvidenceCount)
		if err := c.SetOnce(&c.GuestRespondedAt, now); err != nil {
			return nil, err
		}
		responded, err := c.TransitionTo(claims.StateGuestResponded, claims.CauseGuestResponded, c.GuestID, now)
		if err != nil {
			return nil, err
		}
		review, err := c.TransitionTo(claims.StateUnderFinalReview, claims.CauseFinalReviewStarted, c.GuestID, now)
		if err != nil {
			return nil, err
		}
		return []claims.ClaimEvent{responded, review}, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	intents := []claims.Intent{
		claims.Notify(updated.ID, claims.CauseGuestResponded, updated.GuestID, claims.TemplateResponseAck, map[string]string{
			"claimId":       updated.ID,
			"bookingId":     updated.BookingID,
			"evidenceCount": strconv.Itoa(r.EvidenceCount),
			"respondedAt":   now.Format(time.RFC3339),
		}),
	}
	return e.finish(ctx, "record_guest_response", updated, intents), nil
}

// FinalDecide settles a claim under final review. Approval splits the
// approved amount between guest charge and host payout at the host's current
// commission rate.
func (e *Engine) FinalDecide(ctx context.Context, d FinalDecision) (out Outcome, err error) {
	ctx, span := e.startSpan(ctx, "final_decide", d.ClaimID)
	span.SetAttributes(approveAttr(d.Approve))
	defer func() { endSpan(span, err) }()

	if d.Approve && d.GuestResponsibility == nil {
		return Outcome{}, claims.InvalidInput("guest responsibility is required to approve")
	}
	target := claims.StateDeniedClosed
	if d.Approve {
		target = claims.StateApprovedPaid
	}
	current, err := e.load(ctx, d.ClaimID, claims.StateUnderFinalReview, target)
	if err != nil {
		return Outcome{}, err
	}
	actor := d.Actor
	if actor == "" && current.FleetReviewerID != nil {
		actor = *current.FleetReviewerID
	}
	now := e.now()

	if !d.Approve {
		updated, err := e.swap(ctx, d.ClaimID, claims.StateUnderFinalReview, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
			c.DenialReason = trimmed(d.DenialReason)
			if notes := trimmed(d.ReviewNotes); notes != nil {
				c.ReviewNotes = notes
			}
			if err := c.SetOnce(&c.FinalDecisionAt, now); err != nil {
				return nil, err
			}
			ev, err := c.TransitionTo(claims.StateDeniedClosed, claims.CauseFinalDenied, actor, now)
			if err != nil {
				return nil, err
			}
			return []claims.ClaimEvent{ev}, nil
		})
		if err != nil {
			return Outcome{}, err
		}
		intents := []claims.Intent{
			claims.Payment(updated.ID, claims.CauseFinalDenied, claims.KindReleaseHold, updated.GuestID, updated.DepositHeld, map[string]string{
				"bookingId": updated.BookingID,
			}),
			claims.Notify(updated.ID, claims.CauseFinalDenied, updated.GuestID, claims.TemplateDecisionGuest, map[string]string{
				"claimId":      updated.ID,
				"bookingId":    updated.BookingID,
				"decision":     "denied",
				"denialReason": deref(updated.DenialReason),
				"depositHeld":  claims.Cents(updated.DepositHeld),
			}),
		}
		return e.finish(ctx, "final_decide", updated, intents), nil
	}

	approved := int64(0)
	if current.ApprovedAmount != nil {
		approved = *current.ApprovedAmount
	}
	responsibility := *d.GuestResponsibility
	if responsibility < 0 || responsibility > approved {
		return Outcome{}, claims.InvalidInput("guest responsibility %d outside [0, %d]", responsibility, approved)
	}

	rate, err := e.commission.RateFor(ctx, current.HostID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve commission for host %s: %w", current.HostID, err)
	}
	payout, err := money.SplitPayout(approved, rate)
	if err != nil {
		return Outcome{}, claims.InvalidInput("compute host payout: %v", err)
	}
	settlement, err := money.SettleDeposit(responsibility, current.DepositHeld)
	if err != nil {
		return Outcome{}, claims.InvalidInput("settle deposit: %v", err)
	}

	updated, err := e.swap(ctx, d.ClaimID, claims.StateUnderFinalReview, func(c *claims.Claim) ([]claims.ClaimEvent, error) {
		c.GuestResponsibility = claims.Ptr(responsibility)
		c.HostPayout = claims.Ptr(payout)
		c.CommissionRate = rate.String()
		if notes := trimmed(d.ReviewNotes); notes != nil {
			c.ReviewNotes = notes
		}
		if err := c.SetOnce(&c.FinalDecisionAt, now); err != nil {
			return nil, err
		}
		ev, err := c.TransitionTo(claims.StateApprovedPaid, claims.CauseFinalApproved, actor, now)
		if err != nil {
			return nil, err
		}
		return []claims.ClaimEvent{ev}, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	intents := []claims.Intent{
		claims.Payment(updated.ID, claims.CauseFinalApproved, claims.KindChargeGuest, updated.GuestID, responsibility, map[string]string{
			"bookingId":        updated.BookingID,
			"fromDeposit":      claims.Cents(settlement.FromDeposit),
			"additionalCharge": claims.Cents(settlement.AdditionalCharge),
			"depositRefund":    claims.Cents(settlement.DepositRefund),
		}),
		claims.Payment(updated.ID, claims.CauseFinalApproved, claims.KindPayHost, updated.HostID, payout, map[string]string{
			"bookingId":      updated.BookingID,
			"approvedAmount": claims.Cents(approved),
			"commissionRate": rate.String(),
		}),
		claims.Notify(updated.ID, claims.CauseFinalApproved, updated.GuestID, claims.TemplateDecisionGuest, map[string]string{
			"claimId":             updated.ID,
			"bookingId":           updated.BookingID,
			"decision":            "approved",
			"guestResponsibility": claims.Cents(responsibility),
			"additionalCharge":    claims.Cents(settlement.AdditionalCharge),
			"depositRefund":       claims.Cents(settlement.DepositRefund),
		}),
	}
	return e.finish(ctx, "final_decide", updated, intents), nil
}

// AdminDecision is the operator's approve/deny, routed by claim state.
type AdminDecision struct {
	ClaimID string
	Approve bool
	// Amount is the approved amount at fleet review and the guest
	// responsibility at final review.
	Amount *int64
	Notes  *string
	Reason *string
	Actor  string
}

// Decide applies an operator decision to whichever review the claim is in.
func (e *Engine) Decide(ctx context.Context, d AdminDecision) (Outcome, error) {
	if d.ClaimID == "" {
		return Outcome{}, claims.InvalidInput("claim id is required")
	}
	if d.Amount != nil && *d.Amount < 0 {
		return Outcome{}, claims.InvalidInput("amount must not be negative, got %d", *d.Amount)
	}
	c, err := e.store.Get(ctx, d.ClaimID)
	if err != nil {
		return Outcome{}, err
	}
	switch c.State {
	case claims.StateFleetReviewing:
		return e.FleetDecide(ctx, FleetDecision{
			ClaimID:        d.ClaimID,
			Approve:        d.Approve,
			ApprovedAmount: d.Amount,
			ReviewNotes:    d.Notes,
			DenialReason:   d.Reason,
			Actor:          d.Actor,
		})
	case claims.StateUnderFinalReview:
		return e.FinalDecide(ctx, FinalDecision{
			ClaimID:             d.ClaimID,
			Approve:             d.Approve,
			GuestResponsibility: d.Amount,
			DenialReason:        d.Reason,
			ReviewNotes:         d.Notes,
			Actor:               d.Actor,
		})
	}
	return Outcome{}, fmt.Errorf("%w: claim %s is %s, not awaiting a decision", claims.ErrInvalidTransition, c.ID, c.State)
}

func windowClosed(c *claims.Claim, now time.Time) bool {
	return c.ResponseDeadline == nil || !now.Before(*c.ResponseDeadline)
}

func deadlinePassed(c *claims.Claim) error {
	if c.ResponseDeadline == nil {
		return fmt.Errorf("%w: claim %s has no response window", claims.ErrDeadlinePassed, c.ID)
	}
	return fmt.Errorf("%w: claim %s closed at %s", claims.ErrDeadlinePassed, c.ID, c.ResponseDeadline.Format(time.RFC3339))
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
