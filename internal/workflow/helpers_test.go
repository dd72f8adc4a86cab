package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/claimstore/memory"
	"github.com/claimflow/internal/clock"
	"github.com/claimflow/internal/money"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type sentNotification struct {
	Recipient string
	Template  claims.TemplateKey
	Payload   map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	fail error
}

func (n *recordingNotifier) Send(_ context.Context, recipient string, template claims.TemplateKey, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sentNotification{Recipient: recipient, Template: template, Payload: payload})
	return nil
}

func (n *recordingNotifier) templates() []claims.TemplateKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]claims.TemplateKey, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Template)
	}
	return out
}

type recordingPayments struct {
	mu           sync.Mutex
	instructions []claims.PaymentInstruction
}

func (p *recordingPayments) Submit(_ context.Context, in claims.PaymentInstruction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instructions = append(p.instructions, in)
	return nil
}

type harness struct {
	engine   *Engine
	store    claims.Store
	clock    *clock.Virtual
	notifier *recordingNotifier
	payments *recordingPayments
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.New())
}

func newHarnessWithStore(t *testing.T, store claims.Store) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		clock:    clock.NewVirtual(t0),
		notifier: &recordingNotifier{},
		payments: &recordingPayments{},
	}
	dispatcher := NewDispatcher(store, h.notifier, h.payments, h.clock)
	engine, err := NewEngine(store, h.clock, money.FlatRate(decimal.RequireFromString("0.20")),
		WithDispatcher(dispatcher),
		WithFleetRecipient("fleet-ops"),
	)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) file(t *testing.T, booking string) *claims.Claim {
	t.Helper()
	out, err := h.engine.FileClaim(context.Background(), FileClaimInput{
		BookingID:        booking,
		HostID:           "host-1",
		GuestID:          "guest-1",
		ClaimType:        "collision",
		EstimatedCost:    150000,
		DeductibleAmount: 50000,
		DepositHeld:      25000,
	})
	require.NoError(t, err)
	return out.Claim
}

func (h *harness) underReview(t *testing.T, booking string) *claims.Claim {
	t.Helper()
	c := h.file(t, booking)
	out, err := h.engine.StartFleetReview(context.Background(), c.ID, "fleet-7")
	require.NoError(t, err)
	return out.Claim
}

func (h *harness) awaiting(t *testing.T, booking string) (*claims.Claim, Outcome) {
	t.Helper()
	c := h.underReview(t, booking)
	out, err := h.engine.FleetDecide(context.Background(), FleetDecision{
		ClaimID:        c.ID,
		Approve:        true,
		ApprovedAmount: claims.Ptr(int64(120000)),
	})
	require.NoError(t, err)
	return out.Claim, out
}

func (h *harness) state(t *testing.T, id string) claims.State {
	t.Helper()
	c, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return c.State
}

func intentsWith(intents []claims.Intent, template claims.TemplateKey) []claims.Intent {
	var out []claims.Intent
	for _, i := range intents {
		if i.Template == template {
			out = append(out, i)
		}
	}
	return out
}

func intentsOfKind(intents []claims.Intent, kind claims.IntentKind) []claims.Intent {
	var out []claims.Intent
	for _, i := range intents {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}
