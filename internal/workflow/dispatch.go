package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/clock"
)

// DispatchResult counts what happened to a batch of intents.
type DispatchResult struct {
	Sent       int
	Duplicates int
	Failed     int
}

// Dispatcher hands committed intents to the gateways. Each intent is first
// recorded in the claim's event log; an intent already recorded is skipped,
// which keeps every transition to at most one logical send.
type Dispatcher struct {
	store    claims.Store
	notifier claims.NotificationGateway
	payments claims.PaymentGateway
	clock    clock.Clock
}

// NewDispatcher wires the gateways used for notify and payment intents.
func NewDispatcher(store claims.Store, notifier claims.NotificationGateway, payments claims.PaymentGateway, clk clock.Clock) *Dispatcher {
	return &Dispatcher{store: store, notifier: notifier, payments: payments, clock: clk}
}

// Dispatch delivers intents in order. Failures are logged and counted but
// never returned: the transition that produced them has already committed.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []claims.Intent) DispatchResult {
	var res DispatchResult
	for _, intent := range intents {
		logger := log.With().
			Str("claim_id", intent.ClaimID).
			Str("intent_key", intent.Key).
			Str("kind", string(intent.Kind)).
			Logger()

		won, err := d.store.RecordDispatch(ctx, intent.ClaimID, intent.Key, d.clock.Now())
		if err != nil {
			res.Failed++
			logger.Error().Err(err).Msg("Failed to record intent dispatch")
			continue
		}
		if !won {
			res.Duplicates++
			logger.Debug().Msg("Intent already dispatched, skipping")
			continue
		}

		if err := d.deliver(ctx, intent); err != nil {
			res.Failed++
			logger.Warn().Err(err).Msg("Intent delivery failed; gateway retry policy applies")
			continue
		}
		res.Sent++
		logger.Debug().Str("template", string(intent.Template)).Str("recipient", intent.RecipientID).Msg("Intent dispatched")
	}
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, intent claims.Intent) error {
	var err error
	if intent.Kind.IsPayment() {
		if d.payments == nil {
			return &claims.DeliveryError{IntentKey: intent.Key, Permanent: true, Err: fmt.Errorf("no payment gateway configured")}
		}
		err = d.payments.Submit(ctx, intent.Instruction())
	} else {
		if d.notifier == nil {
			return &claims.DeliveryError{IntentKey: intent.Key, Permanent: true, Err: fmt.Errorf("no notification gateway configured")}
		}
		err = d.notifier.Send(ctx, intent.RecipientID, intent.Template, intent.Payload)
	}
	if err != nil {
		return &claims.DeliveryError{IntentKey: intent.Key, Permanent: claims.IsPermanent(err), Err: err}
	}
	return nil
}
