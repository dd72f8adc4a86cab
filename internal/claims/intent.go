package claims

import (
	"fmt"
	"strconv"
)

// TemplateKey identifies a notification template. Rendering happens outside
// the workflow; only the key and a flat payload cross the boundary.
type TemplateKey string

const (
	TemplateFiledFleet        TemplateKey = "CLAIM_FILED_FLEET"
	TemplateApprovedHost      TemplateKey = "CLAIM_APPROVED_HOST"
	TemplateNotifyGuest       TemplateKey = "CLAIM_NOTIFY_GUEST"
	TemplateReminderGuest     TemplateKey = "CLAIM_REMINDER_GUEST"
	TemplateDecisionGuest     TemplateKey = "CLAIM_DECISION_GUEST"
	TemplateResponseAck       TemplateKey = "CLAIM_RESPONSE_ACK"
	TemplateDeniedHost        TemplateKey = "CLAIM_DENIED_HOST"
	TemplateUnresponsiveFleet TemplateKey = "CLAIM_UNRESPONSIVE_FLEET"
)

// IntentKind says which gateway executes an intent.
type IntentKind string

const (
	KindNotify      IntentKind = "notify"
	KindChargeGuest IntentKind = "charge_guest"
	KindPayHost     IntentKind = "pay_host"
	KindReleaseHold IntentKind = "release_hold"
)

// IsPayment reports whether the intent goes to the payment gateway.
func (k IntentKind) IsPayment() bool { return k != KindNotify }

// Intent is a side effect requested by a committed transition. Key is unique
// per claim transition and is what the dispatch ledger deduplicates on.
type Intent struct {
	Key         string            `json:"key"`
	ClaimID     string            `json:"claimId"`
	Kind        IntentKind        `json:"kind"`
	RecipientID string            `json:"recipientId"`
	Template    TemplateKey       `json:"template,omitempty"`
	Amount      int64             `json:"amount,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// Notify builds a notification intent for the transition identified by cause.
func Notify(claimID string, cause Cause, recipient string, template TemplateKey, payload map[string]string) Intent {
	return Intent{
		Key:         intentKey(claimID, cause, KindNotify, string(template), recipient),
		ClaimID:     claimID,
		Kind:        KindNotify,
		RecipientID: recipient,
		Template:    template,
		Payload:     payload,
	}
}

// Payment builds a money-movement intent.
func Payment(claimID string, cause Cause, kind IntentKind, party string, amount int64, payload map[string]string) Intent {
	return Intent{
		Key:         intentKey(claimID, cause, kind, "", party),
		ClaimID:     claimID,
		Kind:        kind,
		RecipientID: party,
		Amount:      amount,
		Payload:     payload,
	}
}

func intentKey(claimID string, cause Cause, kind IntentKind, template, recipient string) string {
	if template == "" {
		return fmt.Sprintf("%s/%s/%s/%s", claimID, cause, kind, recipient)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", claimID, cause, kind, template, recipient)
}

// PaymentInstruction is what the payment gateway receives.
type PaymentInstruction struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	ClaimID        string            `json:"claimId"`
	Kind           IntentKind        `json:"kind"`
	PartyID        string            `json:"partyId"`
	Amount         int64             `json:"amount"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Instruction converts a payment intent for the payment gateway.
func (i Intent) Instruction() PaymentInstruction {
	return PaymentInstruction{
		IdempotencyKey: i.Key,
		ClaimID:        i.ClaimID,
		Kind:           i.Kind,
		PartyID:        i.RecipientID,
		Amount:         i.Amount,
		Metadata:       i.Payload,
	}
}

// Cents formats an amount for a notification payload.
func Cents(v int64) string { return strconv.FormatInt(v, 10) }
