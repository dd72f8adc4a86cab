package claims

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClaimType is the kind of loss being claimed.
type ClaimType string

const (
	TypeCollision  ClaimType = "collision"
	TypeDamage     ClaimType = "damage"
	TypeTheft      ClaimType = "theft"
	TypeVandalism  ClaimType = "vandalism"
	TypeMechanical ClaimType = "mechanical"
	TypeCleaning   ClaimType = "cleaning"
	TypeOther      ClaimType = "other"
)

var claimTypes = []ClaimType{TypeCollision, TypeDamage, TypeTheft, TypeVandalism, TypeMechanical, TypeCleaning, TypeOther}

// ParseClaimType validates a claim type string.
func ParseClaimType(raw string) (ClaimType, error) {
	t := ClaimType(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(claimTypes, t) {
		return "", InvalidInput("unknown claim type %q", raw)
	}
	return t, nil
}

// Priority routes notifications; it never affects transitions.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priority thresholds in cents.
const (
	mediumPriorityFrom int64 = 50_000
	highPriorityFrom   int64 = 250_000
)

// PriorityFor classifies a claim by its estimated cost.
func PriorityFor(estimatedCost int64) Priority {
	switch {
	case estimatedCost >= highPriorityFrom:
		return PriorityHigh
	case estimatedCost >= mediumPriorityFrom:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Claim is the aggregate root. Money fields are integer cents.
type Claim struct {
	ID              string    `json:"id"`
	BookingID       string    `json:"bookingId"`
	HostID          string    `json:"hostId"`
	GuestID         string    `json:"guestId"`
	FleetReviewerID *string   `json:"fleetReviewerId,omitempty"`
	State           State     `json:"state"`
	ClaimType       ClaimType `json:"claimType"`
	Description     string    `json:"description,omitempty"`
	Priority        Priority  `json:"priority"`

	EstimatedCost       int64  `json:"estimatedCost"`
	ApprovedAmount      *int64 `json:"approvedAmount,omitempty"`
	DeductibleAmount    int64  `json:"deductibleAmount"`
	DepositHeld         int64  `json:"depositHeld"`
	PotentialCharge     int64  `json:"potentialCharge"`
	GuestResponsibility *int64 `json:"guestResponsibility,omitempty"`
	HostPayout          *int64 `json:"hostPayout,omitempty"`
	CommissionRate      string `json:"commissionRate,omitempty"`

	IncidentAt       *time.Time `json:"incidentAt,omitempty"`
	FiledAt          time.Time  `json:"filedAt"`
	FleetDecisionAt  *time.Time `json:"fleetDecisionAt,omitempty"`
	GuestNotifiedAt  *time.Time `json:"guestNotifiedAt,omitempty"`
	ResponseDeadline *time.Time `json:"responseDeadline,omitempty"`
	ReminderSentAt   *time.Time `json:"reminderSentAt,omitempty"`
	GuestRespondedAt *time.Time `json:"guestRespondedAt,omitempty"`
	FinalDecisionAt  *time.Time `json:"finalDecisionAt,omitempty"`

	GuestResponseText  *string `json:"guestResponseText,omitempty"`
	GuestEvidenceCount *int    `json:"guestEvidenceCount,omitempty"`
	DenialReason       *string `json:"denialReason,omitempty"`
	ReviewNotes        *string `json:"reviewNotes,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewClaim builds a FILED claim and its creation event. Input validation is
// the caller's job.
func NewClaim(bookingID, hostID, guestID string, claimType ClaimType, estimatedCost, deductible, deposit, potentialCharge int64, actor string, at time.Time) (*Claim, ClaimEvent) {
	c := &Claim{
		ID:               uuid.NewString(),
		BookingID:        bookingID,
		HostID:           hostID,
		GuestID:          guestID,
		State:            StateFiled,
		ClaimType:        claimType,
		Priority:         PriorityFor(estimatedCost),
		EstimatedCost:    estimatedCost,
		DeductibleAmount: deductible,
		DepositHeld:      deposit,
		PotentialCharge:  potentialCharge,
		FiledAt:          at,
		UpdatedAt:        at,
		Version:          1,
	}
	ev := ClaimEvent{
		ID:         uuid.NewString(),
		ClaimID:    c.ID,
		ToState:    StateFiled,
		Cause:      CauseFiled,
		Actor:      actor,
		OccurredAt: at,
	}
	return c, ev
}

// TransitionTo moves the claim along one lifecycle edge and returns the
// event recording it. A non-edge leaves the claim untouched.
func (c *Claim) TransitionTo(to State, cause Cause, actor string, at time.Time) (ClaimEvent, error) {
	if !CanTransition(c.State, to) {
		return ClaimEvent{}, InvalidTransition(c.State, to)
	}
	if at.Before(c.UpdatedAt) {
		return ClaimEvent{}, fmt.Errorf("%w: transition at %s precedes last update %s", ErrInvalidInput, at.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339))
	}
	ev := ClaimEvent{
		ID:         uuid.NewString(),
		ClaimID:    c.ID,
		FromState:  c.State,
		ToState:    to,
		Cause:      cause,
		Actor:      actor,
		OccurredAt: at,
	}
	c.State = to
	c.UpdatedAt = at
	return ev, nil
}

// Note records an event that leaves the state where it is, such as a
// reminder going out.
func (c *Claim) Note(cause Cause, actor string, at time.Time) ClaimEvent {
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	return ClaimEvent{
		ID:         uuid.NewString(),
		ClaimID:    c.ID,
		FromState:  c.State,
		ToState:    c.State,
		Cause:      cause,
		Actor:      actor,
		OccurredAt: at,
	}
}

// SetOnce stamps a lifecycle timestamp. Each may be written exactly once
// and never earlier than the claim was filed.
func (c *Claim) SetOnce(field **time.Time, at time.Time) error {
	if *field != nil {
		return fmt.Errorf("%w: timestamp already set at %s", ErrInvalidTransition, (*field).Format(time.RFC3339))
	}
	if at.Before(c.FiledAt) {
		return fmt.Errorf("%w: timestamp %s precedes filing", ErrInvalidInput, at.Format(time.RFC3339))
	}
	t := at
	*field = &t
	return nil
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	cp := *c
	cp.FleetReviewerID = clonePtr(c.FleetReviewerID)
	cp.ApprovedAmount = clonePtr(c.ApprovedAmount)
	cp.GuestResponsibility = clonePtr(c.GuestResponsibility)
	cp.HostPayout = clonePtr(c.HostPayout)
	cp.IncidentAt = clonePtr(c.IncidentAt)
	cp.FleetDecisionAt = clonePtr(c.FleetDecisionAt)
	cp.GuestNotifiedAt = clonePtr(c.GuestNotifiedAt)
	cp.ResponseDeadline = clonePtr(c.ResponseDeadline)
	cp.ReminderSentAt = clonePtr(c.ReminderSentAt)
	cp.GuestRespondedAt = clonePtr(c.GuestRespondedAt)
	cp.FinalDecisionAt = clonePtr(c.FinalDecisionAt)
	cp.GuestResponseText = clonePtr(c.GuestResponseText)
	cp.GuestEvidenceCount = clonePtr(c.GuestEvidenceCount)
	cp.DenialReason = clonePtr(c.DenialReason)
	cp.ReviewNotes = clonePtr(c.ReviewNotes)
	return &cp
}

// IsOpen reports whether the claim still blocks a new claim on its booking.
func (c *Claim) IsOpen() bool { return !c.State.IsTerminal() }

// HoursRemaining is the whole hours left in the response window at now,
// rounded up. It is zero once the deadline has passed or no window is open.
func (c *Claim) HoursRemaining(now time.Time) int {
	if c.ResponseDeadline == nil || !now.Before(*c.ResponseDeadline) {
		return 0
	}
	left := c.ResponseDeadline.Sub(now)
	hours := int(left / time.Hour)
	if left%time.Hour != 0 {
		hours++
	}
	return hours
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
