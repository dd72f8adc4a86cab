// Package workflow drives insurance claims through their lifecycle.
//
// Every command follows the same shape: validate input, read the claim,
// check its state, apply exactly one compare-and-swap, then hand the
// resulting intents to the dispatcher. Dispatch failures are logged and never
// undo a committed transition.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/clock"
)

const (
	DefaultResponseWindow = 48 * time.Hour
	DefaultReminderLead   = 24 * time.Hour
	DefaultFleetRecipient = "fleet-admins"

	schedulerActor = "scheduler"
)

// Outcome is the committed claim and the intents its transition produced.
type Outcome struct {
	Claim   *claims.Claim
	Intents []claims.Intent
}

// Engine owns every write to claim state.
type Engine struct {
	store          claims.Store
	clock          clock.Clock
	commission     claims.CommissionSource
	dispatcher     *Dispatcher
	window         time.Duration
	lead           time.Duration
	fleetRecipient string
	tracer         trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithResponseWindow sets how long a guest has to respond after fleet
// approval.
func WithResponseWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithReminderLead sets how long before the deadline the reminder goes out.
func WithReminderLead(d time.Duration) Option {
	return func(e *Engine) { e.lead = d }
}

// WithDispatcher executes intents after each committed transition. Without
// one the engine only returns them.
func WithDispatcher(d *Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithFleetRecipient sets who receives fleet-wide notices.
func WithFleetRecipient(id string) Option {
	return func(e *Engine) { e.fleetRecipient = id }
}

// WithTracer sets the tracer for command spans. The default is the global
// provider's "claimflow/workflow" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine builds an engine over store. commission supplies the host rate
// at final decision time.
func NewEngine(store claims.Store, clk clock.Clock, commission claims.CommissionSource, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:          store,
		clock:          clk,
		commission:     commission,
		window:         DefaultResponseWindow,
		lead:           DefaultReminderLead,
		fleetRecipient: DefaultFleetRecipient,
		tracer:         otel.Tracer("claimflow/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		return nil, errors.New("tracer must not be nil")
	}
	if e.window <= 0 {
		return nil, fmt.Errorf("response window must be positive, got %s", e.window)
	}
	if e.lead <= 0 || e.lead >= e.window {
		return nil, fmt.Errorf("reminder lead %s must be positive and shorter than the response window %s", e.lead, e.window)
	}
	return e, nil
}

// ResponseWindow reports the configured guest response window.
func (e *Engine) ResponseWindow() time.Duration { return e.window }

// ReminderLead reports how early before the deadline reminders fire.
func (e *Engine) ReminderLead() time.Duration { return e.lead }

// now is the engine's notion of the current instant. SQL stores keep
// milliseconds, so commands never stamp finer times than a reload returns.
func (e *Engine) now() time.Time { return e.clock.Now().Truncate(time.Millisecond) }

// Get returns the current claim.
func (e *Engine) Get(ctx context.Context, claimID string) (*claims.Claim, error) {
	return e.store.Get(ctx, claimID)
}

// Events returns the claim's audit log.
func (e *Engine) Events(ctx context.Context, claimID string) ([]claims.ClaimEvent, error) {
	return e.store.Events(ctx, claimID)
}

// swap runs one compare-and-swap from expected. A lost race is reported as
// an invalid transition caused by a concurrency conflict.
func (e *Engine) swap(ctx context.Context, claimID string, expected claims.State, mutate claims.Mutator) (*claims.Claim, error) {
	updated, err := e.store.CompareAndSwap(ctx, claimID, expected, mutate)
	if errors.Is(err, claims.ErrConcurrencyConflict) {
		return nil, claims.LostRace(claimID, expected)
	}
	return updated, err
}

// load reads a claim and checks it is in want before a command proceeds.
func (e *Engine) load(ctx context.Context, claimID string, want, target claims.State) (*claims.Claim, error) {
	if claimID == "" {
		return nil, claims.InvalidInput("claim id is required")
	}
	c, err := e.store.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if c.State != want {
		return nil, claims.InvalidTransition(c.State, target)
	}
	return c, nil
}

// finish dispatches intents for a committed transition and logs it.
func (e *Engine) finish(ctx context.Context, op string, c *claims.Claim, intents []claims.Intent) Outcome {
	log.Info().
		Str("op", op).
		Str("claim_id", c.ID).
		Str("state", string(c.State)).
		Int("intents", len(intents)).
		Msg("Claim transition committed")

	if e.dispatcher != nil && len(intents) > 0 {
		e.dispatcher.Dispatch(ctx, intents)
	}
	return Outcome{Claim: c, Intents: intents}
}

func (e *Engine) startSpan(ctx context.Context, op, claimID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "workflow."+op, trace.WithAttributes(attribute.String("claim.id", claimID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func claimAttr(id string) attribute.KeyValue { return attribute.String("claim.id", id) }

func approveAttr(approve bool) attribute.KeyValue { return attribute.Bool("decision.approve", approve) }
