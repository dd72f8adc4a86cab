package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/retry"
)

func fastWebhook(notifyURL, payURL string) *WebhookDeliverer {
	w := NewWebhookDeliverer(notifyURL, payURL)
	w.Retry = retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	return w
}

func TestDedupeKeyIsStable(t *testing.T) {
	a := DedupeKey("guest-1", claims.TemplateNotifyGuest, map[string]string{"claimId": "c1", "status": "awaiting_response"})
	b := DedupeKey("guest-1", claims.TemplateNotifyGuest, map[string]string{"status": "awaiting_response", "claimId": "c1"})
	c := DedupeKey("guest-1", claims.TemplateNotifyGuest, map[string]string{"claimId": "c1", "status": "suspended"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestWebhookDeliversNotification(t *testing.T) {
	var got webhookEnvelope
	var idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	gw := NewDirectGateway(fastWebhook(srv.URL, ""))
	err := gw.Send(context.Background(), "guest-1", claims.TemplateReminderGuest, map[string]string{"claimId": "c1", "hoursRemaining": "24"})
	require.NoError(t, err)

	assert.Equal(t, "notification", got.Type)
	require.NotNil(t, got.Notification)
	assert.Equal(t, claims.TemplateReminderGuest, got.Notification.Template)
	assert.Equal(t, "24", got.Notification.Payload["hoursRemaining"])
	assert.Equal(t, got.Notification.DedupeKey, idem)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastWebhook("", srv.URL).DeliverPayment(context.Background(), claims.PaymentInstruction{
		IdempotencyKey: "c1/final_approved/pay_host/host-1",
		ClaimID:        "c1",
		Kind:           claims.KindPayHost,
		PartyID:        "host-1",
		Amount:         96000,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown recipient", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL, "").DeliverNotification(context.Background(), NewNotification("nobody", claims.TemplateResponseAck, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, claims.ErrDelivery)
	assert.True(t, claims.IsPermanent(err))
	assert.Contains(t, err.Error(), "unknown recipient")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookExhaustedRetriesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL, "").DeliverNotification(context.Background(), NewNotification("guest", claims.TemplateResponseAck, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, claims.ErrDelivery)
	assert.False(t, claims.IsPermanent(err))
}

func TestLogDelivererFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	d := LogDeliverer{Logger: &logger}

	require.NoError(t, d.DeliverNotification(context.Background(), NewNotification("guest-9", claims.TemplateDecisionGuest, map[string]string{"claimId": "c9"})))
	require.NoError(t, d.DeliverPayment(context.Background(), claims.PaymentInstruction{ClaimID: "c9", Kind: claims.KindReleaseHold, Amount: 2500}))

	out := buf.String()
	assert.Contains(t, out, `"template":"CLAIM_DECISION_GUEST"`)
	assert.Contains(t, out, `"claim_id":"c9"`)
	assert.Contains(t, out, `"kind":"release_hold"`)
}

type fakeQueue struct {
	notifications []Notification
	payments      []claims.PaymentInstruction
	err           error
}

func (q *fakeQueue) EnqueueNotification(_ context.Context, n Notification) error {
	q.notifications = append(q.notifications, n)
	return q.err
}

func (q *fakeQueue) EnqueuePayment(_ context.Context, p claims.PaymentInstruction) error {
	q.payments = append(q.payments, p)
	return q.err
}

func TestQueueGatewayEnqueues(t *testing.T) {
	q := &fakeQueue{}
	gw := NewQueueGateway(q)
	ctx := context.Background()

	require.NoError(t, gw.Send(ctx, "host-1", claims.TemplateApprovedHost, map[string]string{"claimId": "c1"}))
	require.NoError(t, gw.Submit(ctx, claims.PaymentInstruction{ClaimID: "c1", Kind: claims.KindChargeGuest, Amount: 100}))

	require.Len(t, q.notifications, 1)
	assert.Equal(t, DedupeKey("host-1", claims.TemplateApprovedHost, map[string]string{"claimId": "c1"}), q.notifications[0].DedupeKey)
	require.Len(t, q.payments, 1)

	q.err = errors.New("queue down")
	assert.Error(t, gw.Send(ctx, "host-1", claims.TemplateApprovedHost, nil))
}
