package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/retry"
)

// WebhookDeliverer POSTs deliveries as JSON to provider endpoints.
type WebhookDeliverer struct {
	NotificationURL string
	PaymentURL      string
	Client          *http.Client
	Retry           retry.Config
}

// NewWebhookDeliverer returns a deliverer with the delivery retry policy.
// Either URL may be empty, in which case that kind falls back to logging.
func NewWebhookDeliverer(notificationURL, paymentURL string) *WebhookDeliverer {
	return &WebhookDeliverer{
		NotificationURL: notificationURL,
		PaymentURL:      paymentURL,
		Client:          &http.Client{Timeout: 15 * time.Second},
		Retry:           retry.DeliveryConfig(),
	}
}

type webhookEnvelope struct {
	Type         string                     `json:"type"`
	Notification *Notification              `json:"notification,omitempty"`
	Payment      *claims.PaymentInstruction `json:"payment,omitempty"`
	SentAt       time.Time                  `json:"sentAt"`
}

func (w *WebhookDeliverer) DeliverNotification(ctx context.Context, n Notification) error {
	if w.NotificationURL == "" {
		return LogDeliverer{}.DeliverNotification(ctx, n)
	}
	return w.post(ctx, w.NotificationURL, n.DedupeKey, webhookEnvelope{Type: "notification", Notification: &n, SentAt: time.Now().UTC()})
}

func (w *WebhookDeliverer) DeliverPayment(ctx context.Context, p claims.PaymentInstruction) error {
	if w.PaymentURL == "" {
		return LogDeliverer{}.DeliverPayment(ctx, p)
	}
	return w.post(ctx, w.PaymentURL, p.IdempotencyKey, webhookEnvelope{Type: "payment", Payment: &p, SentAt: time.Now().UTC()})
}

func (w *WebhookDeliverer) post(ctx context.Context, url, key string, env webhookEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return &claims.DeliveryError{IntentKey: key, Permanent: true, Err: fmt.Errorf("encode webhook body: %w", err)}
	}

	logger := log.With().Str("url", url).Str("delivery_key", key).Str("type", env.Type).Logger()
	result := retry.Do(ctx, w.Retry, logger, func(ctx context.Context) error {
		return w.attempt(ctx, url, key, body)
	}, claims.IsPermanent)
	if result.Success {
		logger.Debug().Int("attempts", result.Attempts).Msg("Webhook delivered")
		return nil
	}
	if claims.IsPermanent(result.LastError) {
		return result.LastError
	}
	return &claims.DeliveryError{IntentKey: key, Err: fmt.Errorf("after %d attempts: %w", result.Attempts, result.LastError)}
}

func (w *WebhookDeliverer) attempt(ctx context.Context, url, key string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &claims.DeliveryError{IntentKey: key, Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	default:
		return &claims.DeliveryError{
			IntentKey: key,
			Permanent: true,
			Err:       fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}
}

// LogDeliverer writes deliveries to the log instead of sending them.
type LogDeliverer struct {
	Logger *zerolog.Logger
}

func (l LogDeliverer) logger() *zerolog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return &log.Logger
}

func (l LogDeliverer) DeliverNotification(_ context.Context, n Notification) error {
	ev := l.logger().Info().
		Str("recipient", n.RecipientID).
		Str("template", string(n.Template)).
		Str("dedupe_key", n.DedupeKey)
	if claimID, ok := n.Payload["claimId"]; ok {
		ev = ev.Str("claim_id", claimID)
	}
	ev.Msg("Notification")
	return nil
}

func (l LogDeliverer) DeliverPayment(_ context.Context, p claims.PaymentInstruction) error {
	l.logger().Info().
		Str("claim_id", p.ClaimID).
		Str("kind", string(p.Kind)).
		Str("party", p.PartyID).
		Int64("amount", p.Amount).
		Str("idempotency_key", p.IdempotencyKey).
		Msg("Payment instruction")
	return nil
}
