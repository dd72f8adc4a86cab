package claims

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// Mutator edits a claim copy inside a compare-and-swap and returns the
// events the edit produced. Returning an error aborts the swap with nothing
// written.
type Mutator func(c *Claim) ([]ClaimEvent, error)

// Store is durable storage for claims and their event log.
type Store interface {
	// Insert stores a new claim with its creation event. It fails with
	// ErrInvalidInput when the booking already has an open claim.
	Insert(ctx context.Context, c *Claim, created ClaimEvent) error
	Get(ctx context.Context, id string) (*Claim, error)
	// CompareAndSwap applies mutate to the claim if, and only if, it is
	// still in expected. It is the only way to change a stored claim. A
	// claim that moved on fails with ErrConcurrencyConflict.
	CompareAndSwap(ctx context.Context, id string, expected State, mutate Mutator) (*Claim, error)
	// QueryAwaitingResponse yields claims in AWAITING_GUEST_RESPONSE whose
	// deadline is at or before the given instant. Each range over the
	// sequence starts a fresh scan.
	QueryAwaitingResponse(ctx context.Context, before time.Time) iter.Seq2[*Claim, error]
	Events(ctx context.Context, id string) ([]ClaimEvent, error)
	// RecordDispatch appends an intent_dispatched event unless one already
	// exists for (claimID, intentKey). It reports whether this call won.
	RecordDispatch(ctx context.Context, claimID, intentKey string, at time.Time) (bool, error)
}

// NotificationGateway delivers templated notifications. It owns retries.
type NotificationGateway interface {
	Send(ctx context.Context, recipientID string, template TemplateKey, payload map[string]string) error
}

// PaymentGateway moves money. It owns retries and idempotency downstream.
type PaymentGateway interface {
	Submit(ctx context.Context, instruction PaymentInstruction) error
}

// CommissionSource resolves the commission rate a host pays right now.
type CommissionSource interface {
	RateFor(ctx context.Context, hostID string) (decimal.Decimal, error)
}
