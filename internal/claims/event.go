package claims

import "time"

// Cause names why a ClaimEvent was recorded.
type Cause string

const (
	CauseFiled              Cause = "claim_filed"
	CauseFleetReviewStarted Cause = "fleet_review_started"
	CauseFleetApproved      Cause = "fleet_approved"
	CauseGuestWindowOpened  Cause = "guest_window_opened"
	CauseFleetDenied        Cause = "fleet_denied"
	CauseGuestResponded     Cause = "guest_responded"
	CauseFinalReviewStarted Cause = "final_review_started"
	CauseReminderSent       Cause = "reminder_sent"
	CauseGuestUnresponsive  Cause = "guest_unresponsive"
	CauseFinalApproved      Cause = "final_approved"
	CauseFinalDenied        Cause = "final_denied"
	CauseIntentDispatched   Cause = "intent_dispatched"
)

// ClaimEvent is one immutable entry in a claim's audit log. Seq is assigned
// by the store and orders events globally. Events with Cause
// CauseIntentDispatched form the dispatch ledger: at most one per
// (ClaimID, IntentKey).
type ClaimEvent struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	ClaimID    string    `json:"claimId"`
	FromState  State     `json:"fromState,omitempty"`
	ToState    State     `json:"toState"`
	Cause      Cause     `json:"cause"`
	Actor      string    `json:"actor"`
	IntentKey  string    `json:"intentKey,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// IsTransition reports whether the event records a state change rather than
// a reminder or dispatch marker.
func (e ClaimEvent) IsTransition() bool {
	return e.FromState != e.ToState
}
