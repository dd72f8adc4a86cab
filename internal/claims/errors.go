package claims

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed command arguments. Nothing is written.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition marks a command that the claim's current state
	// does not allow. Callers should re-read the claim; the engine never
	// retries.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDeadlinePassed marks a guest response after the window closed.
	ErrDeadlinePassed = errors.New("response window closed")
	// ErrConcurrencyConflict marks a lost compare-and-swap.
	ErrConcurrencyConflict = errors.New("concurrent modification")
	// ErrDelivery marks a notification or payment dispatch failure.
	ErrDelivery = errors.New("delivery failed")
	ErrNotFound = errors.New("claim not found")
)

// InvalidInput wraps ErrInvalidInput with detail.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// InvalidTransition wraps ErrInvalidTransition for an attempted move.
func InvalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// LostRace reports a compare-and-swap loss. The result matches both
// ErrInvalidTransition and ErrConcurrencyConflict: the command is no longer
// valid for the claim as it now stands, and the cause was a concurrent write.
func LostRace(claimID string, expected State) error {
	return fmt.Errorf("%w: claim %s left %s: %w", ErrInvalidTransition, claimID, expected, ErrConcurrencyConflict)
}

// DeliveryError carries the intent that could not be delivered. Permanent
// failures should not be retried by the gateway.
type DeliveryError struct {
	IntentKey string
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.IntentKey, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

// IsPermanent reports whether err is a delivery failure that retrying will
// not fix.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
