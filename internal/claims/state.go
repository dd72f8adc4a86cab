// Package claims defines the insurance claim aggregate, its lifecycle states,
// the audit events recorded on every transition, and the side-effect intents
// a transition asks the outside world to carry out.
package claims

import "fmt"

// State is a claim's position in the lifecycle. It is the single source of
// truth for where a claim is; optional timestamps never imply a state.
type State string

const (
	StateFiled                 State = "FILED"
	StateFleetReviewing        State = "FLEET_REVIEWING"
	StateFleetApproved         State = "FLEET_APPROVED"
	StateFleetDenied           State = "FLEET_DENIED"
	StateAwaitingGuestResponse State = "AWAITING_GUEST_RESPONSE"
	StateGuestResponded        State = "GUEST_RESPONDED"
	StateAutoSuspended         State = "AUTO_SUSPENDED"
	StateUnderFinalReview      State = "UNDER_FINAL_REVIEW"
	StateApprovedPaid          State = "APPROVED_PAID"
	StateDeniedClosed          State = "DENIED_CLOSED"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateFiled,
	StateFleetReviewing,
	StateFleetApproved,
	StateFleetDenied,
	StateAwaitingGuestResponse,
	StateGuestResponded,
	StateAutoSuspended,
	StateUnderFinalReview,
	StateApprovedPaid,
	StateDeniedClosed,
}

var edges = map[State][]State{
	StateFiled:                 {StateFleetReviewing},
	StateFleetReviewing:        {StateFleetApproved, StateFleetDenied},
	StateFleetApproved:         {StateAwaitingGuestResponse},
	StateAwaitingGuestResponse: {StateGuestResponded, StateAutoSuspended},
	StateGuestResponded:        {StateUnderFinalReview},
	StateUnderFinalReview:      {StateApprovedPaid, StateDeniedClosed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the states reachable from s in one step.
func (s State) Next() []State {
	return append([]State(nil), edges[s]...)
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	switch s {
	case StateFleetDenied, StateApprovedPaid, StateDeniedClosed, StateAutoSuspended:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState converts a stored or user-supplied string into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown claim state %q", ErrInvalidInput, raw)
	}
	return s, nil
}
