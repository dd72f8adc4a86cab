package models

import (
	"time"
)

// Request bodies

// FileClaimRequest is the body of POST /claims.
type FileClaimRequest struct {
	BookingID        string     `json:"bookingId"`
	HostID           string     `json:"hostId"`
	GuestID          string     `json:"guestId"`
	ClaimType        string     `json:"claimType"`
	Description      string     `json:"description,omitempty"`
	IncidentAt       *time.Time `json:"incidentAt,omitempty"`
	EstimatedCost    int64      `json:"estimatedCost"`
	DeductibleAmount int64      `json:"deductibleAmount"`
	DepositHeld      int64      `json:"depositHeld"`
}

// StartReviewRequest assigns a fleet reviewer.
type StartReviewRequest struct {
	ReviewerID string `json:"reviewerId"`
}

// FleetDecisionRequest approves or denies a claim under fleet review.
type FleetDecisionRequest struct {
	Approve        bool    `json:"approve"`
	ApprovedAmount *int64  `json:"approvedAmount,omitempty"`
	ReviewNotes    *string `json:"reviewNotes,omitempty"`
	DenialReason   *string `json:"denialReason,omitempty"`
	Actor          string  `json:"actor,omitempty"`
}

// GuestResponseRequest is the guest's answer to an approved claim.
type GuestResponseRequest struct {
	ResponseText  string `json:"responseText"`
	EvidenceCount int    `json:"evidenceCount"`
}

// FinalDecisionRequest settles a claim under final review.
type FinalDecisionRequest struct {
	Approve             bool    `json:"approve"`
	GuestResponsibility *int64  `json:"guestResponsibility,omitempty"`
	ReviewNotes         *string `json:"reviewNotes,omitempty"`
	DenialReason        *string `json:"denialReason,omitempty"`
	Actor               string  `json:"actor,omitempty"`
}

// Responses

// ClaimView is a claim as returned by the API. Amounts are integer cents.
type ClaimView struct {
	ID                  string     `json:"id"`
	BookingID           string     `json:"bookingId"`
	HostID              string     `json:"hostId"`
	GuestID             string     `json:"guestId"`
	ClaimType           string     `json:"claimType"`
	State               string     `json:"state"`
	Priority            string     `json:"priority"`
	Description         string     `json:"description,omitempty"`
	IncidentAt          *time.Time `json:"incidentAt,omitempty"`
	EstimatedCost       int64      `json:"estimatedCost"`
	DeductibleAmount    int64      `json:"deductibleAmount"`
	DepositHeld         int64      `json:"depositHeld"`
	PotentialCharge     int64      `json:"potentialCharge"`
	ApprovedAmount      *int64     `json:"approvedAmount,omitempty"`
	GuestResponsibility *int64     `json:"guestResponsibility,omitempty"`
	HostPayout          *int64     `json:"hostPayout,omitempty"`
	CommissionRate      string     `json:"commissionRate,omitempty"`
	FleetReviewerID     *string    `json:"fleetReviewerId,omitempty"`
	ReviewNotes         *string    `json:"reviewNotes,omitempty"`
	DenialReason        *string    `json:"denialReason,omitempty"`
	GuestResponseText   *string    `json:"guestResponseText,omitempty"`
	GuestEvidenceCount  *int       `json:"guestEvidenceCount,omitempty"`
	FiledAt             time.Time  `json:"filedAt"`
	FleetDecisionAt     *time.Time `json:"fleetDecisionAt,omitempty"`
	GuestNotifiedAt     *time.Time `json:"guestNotifiedAt,omitempty"`
	ResponseDeadline    *time.Time `json:"responseDeadline,omitempty"`
	ReminderSentAt      *time.Time `json:"reminderSentAt,omitempty"`
	GuestRespondedAt    *time.Time `json:"guestRespondedAt,omitempty"`
	FinalDecisionAt     *time.Time `json:"finalDecisionAt,omitempty"`
	HoursRemaining      *int       `json:"hoursRemaining,omitempty"`
	Terminal            bool       `json:"terminal"`
	Version             int64      `json:"version"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// EventView is one audit log entry.
type EventView struct {
	Seq        int64     `json:"seq"`
	FromState  string    `json:"fromState,omitempty"`
	ToState    string    `json:"toState"`
	Cause      string    `json:"cause"`
	Actor      string    `json:"actor"`
	IntentKey  string    `json:"intentKey,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// CommandResponse is returned by every state-changing endpoint.
type CommandResponse struct {
	Claim   ClaimView `json:"claim"`
	Intents int       `json:"intents"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
