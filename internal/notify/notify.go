// Package notify delivers claim notifications and payment instructions to
// downstream providers, either inline or through the job queue.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/claimflow/internal/claims"
)

// Notification is one templated message to one recipient.
type Notification struct {
	RecipientID string             `json:"recipientId"`
	Template    claims.TemplateKey `json:"template"`
	Payload     map[string]string  `json:"payload,omitempty"`
	DedupeKey   string             `json:"dedupeKey"`
}

// NewNotification fills in the dedupe key.
func NewNotification(recipient string, template claims.TemplateKey, payload map[string]string) Notification {
	return Notification{
		RecipientID: recipient,
		Template:    template,
		Payload:     payload,
		DedupeKey:   DedupeKey(recipient, template, payload),
	}
}

// DedupeKey is a stable digest of a notification's content.
func DedupeKey(recipient string, template claims.TemplateKey, payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(recipient))
	h.Write([]byte{0})
	h.Write([]byte(template))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(payload[k]))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Deliverer talks to the actual notification and payment providers.
type Deliverer interface {
	DeliverNotification(ctx context.Context, n Notification) error
	DeliverPayment(ctx context.Context, p claims.PaymentInstruction) error
}

// DirectGateway delivers synchronously on the caller's goroutine.
type DirectGateway struct {
	deliverer Deliverer
}

// NewDirectGateway wraps d as both notification and payment gateway.
func NewDirectGateway(d Deliverer) *DirectGateway {
	return &DirectGateway{deliverer: d}
}

func (g *DirectGateway) Send(ctx context.Context, recipient string, template claims.TemplateKey, payload map[string]string) error {
	return g.deliverer.DeliverNotification(ctx, NewNotification(recipient, template, payload))
}

func (g *DirectGateway) Submit(ctx context.Context, p claims.PaymentInstruction) error {
	return g.deliverer.DeliverPayment(ctx, p)
}

// Enqueuer persists delivery work for asynchronous workers.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, n Notification) error
	EnqueuePayment(ctx context.Context, p claims.PaymentInstruction) error
}

// QueueGateway hands deliveries to the job queue. A successful Send or
// Submit means the work is durably queued, not yet delivered.
type QueueGateway struct {
	queue Enqueuer
}

func NewQueueGateway(q Enqueuer) *QueueGateway {
	return &QueueGateway{queue: q}
}

func (g *QueueGateway) Send(ctx context.Context, recipient string, template claims.TemplateKey, payload map[string]string) error {
	return g.queue.EnqueueNotification(ctx, NewNotification(recipient, template, payload))
}

func (g *QueueGateway) Submit(ctx context.Context, p claims.PaymentInstruction) error {
	return g.queue.EnqueuePayment(ctx, p)
}

var (
	_ claims.NotificationGateway = (*DirectGateway)(nil)
	_ claims.PaymentGateway      = (*DirectGateway)(nil)
	_ claims.NotificationGateway = (*QueueGateway)(nil)
	_ claims.PaymentGateway      = (*QueueGateway)(nil)
)
