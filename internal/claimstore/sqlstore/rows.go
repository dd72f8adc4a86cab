package sqlstore

import (
	"database/sql"
	"time"

	"github.com/claimflow/internal/claims"
)

type claimRow struct {
	ID                  string         `db:"id"`
	BookingID           string         `db:"booking_id"`
	HostID              string         `db:"host_id"`
	GuestID             string         `db:"guest_id"`
	FleetReviewerID     sql.NullString `db:"fleet_reviewer_id"`
	State               string         `db:"state"`
	ClaimType           string         `db:"claim_type"`
	Description         string         `db:"description"`
	Priority            string         `db:"priority"`
	EstimatedCost       int64          `db:"estimated_cost"`
	ApprovedAmount      sql.NullInt64  `db:"approved_amount"`
	DeductibleAmount    int64          `db:"deductible_amount"`
	DepositHeld         int64          `db:"deposit_held"`
	PotentialCharge     int64          `db:"potential_charge"`
	GuestResponsibility sql.NullInt64  `db:"guest_responsibility"`
	HostPayout          sql.NullInt64  `db:"host_payout"`
	CommissionRate      string         `db:"commission_rate"`
	IncidentAt          sql.NullInt64  `db:"incident_at"`
	FiledAt             int64          `db:"filed_at"`
	FleetDecisionAt     sql.NullInt64  `db:"fleet_decision_at"`
	GuestNotifiedAt     sql.NullInt64  `db:"guest_notified_at"`
	ResponseDeadline    sql.NullInt64  `db:"response_deadline"`
	ReminderSentAt      sql.NullInt64  `db:"reminder_sent_at"`
	GuestRespondedAt    sql.NullInt64  `db:"guest_responded_at"`
	FinalDecisionAt     sql.NullInt64  `db:"final_decision_at"`
	GuestResponseText   sql.NullString `db:"guest_response_text"`
	GuestEvidenceCount  sql.NullInt64  `db:"guest_evidence_count"`
	DenialReason        sql.NullString `db:"denial_reason"`
	ReviewNotes         sql.NullString `db:"review_notes"`
	Version             int64          `db:"version"`
	UpdatedAt           int64          `db:"updated_at"`

	// PrevVersion guards optimistic updates; it is not a column.
	PrevVersion int64 `db:"prev_version"`
}

type eventRow struct {
	Seq        int64  `db:"seq"`
	ID         string `db:"id"`
	ClaimID    string `db:"claim_id"`
	FromState  string `db:"from_state"`
	ToState    string `db:"to_state"`
	Cause      string `db:"cause"`
	Actor      string `db:"actor"`
	IntentKey  string `db:"intent_key"`
	OccurredAt int64  `db:"occurred_at"`
}

func toRow(c *claims.Claim) claimRow {
	row := claimRow{
		ID:                  c.ID,
		BookingID:           c.BookingID,
		HostID:              c.HostID,
		GuestID:             c.GuestID,
		FleetReviewerID:     nullString(c.FleetReviewerID),
		State:               string(c.State),
		ClaimType:           string(c.ClaimType),
		Description:         c.Description,
		Priority:            string(c.Priority),
		EstimatedCost:       c.EstimatedCost,
		ApprovedAmount:      nullInt(c.ApprovedAmount),
		DeductibleAmount:    c.DeductibleAmount,
		DepositHeld:         c.DepositHeld,
		PotentialCharge:     c.PotentialCharge,
		GuestResponsibility: nullInt(c.GuestResponsibility),
		HostPayout:          nullInt(c.HostPayout),
		CommissionRate:      c.CommissionRate,
		IncidentAt:          nullMillis(c.IncidentAt),
		FiledAt:             toMillis(c.FiledAt),
		FleetDecisionAt:     nullMillis(c.FleetDecisionAt),
		GuestNotifiedAt:     nullMillis(c.GuestNotifiedAt),
		ResponseDeadline:    nullMillis(c.ResponseDeadline),
		ReminderSentAt:      nullMillis(c.ReminderSentAt),
		GuestRespondedAt:    nullMillis(c.GuestRespondedAt),
		FinalDecisionAt:     nullMillis(c.FinalDecisionAt),
		GuestResponseText:   nullString(c.GuestResponseText),
		DenialReason:        nullString(c.DenialReason),
		ReviewNotes:         nullString(c.ReviewNotes),
		Version:             c.Version,
		UpdatedAt:           toMillis(c.UpdatedAt),
	}
	if c.GuestEvidenceCount != nil {
		row.GuestEvidenceCount = sql.NullInt64{Int64: int64(*c.GuestEvidenceCount), Valid: true}
	}
	return row
}

func (r claimRow) toClaim() (*claims.Claim, error) {
	state, err := claims.ParseState(r.State)
	if err != nil {
		return nil, err
	}
	c := &claims.Claim{
		ID:                  r.ID,
		BookingID:           r.BookingID,
		HostID:              r.HostID,
		GuestID:             r.GuestID,
		FleetReviewerID:     stringPtr(r.FleetReviewerID),
		State:               state,
		ClaimType:           claims.ClaimType(r.ClaimType),
		Description:         r.Description,
		Priority:            claims.Priority(r.Priority),
		EstimatedCost:       r.EstimatedCost,
		ApprovedAmount:      intPtr(r.ApprovedAmount),
		DeductibleAmount:    r.DeductibleAmount,
		DepositHeld:         r.DepositHeld,
		PotentialCharge:     r.PotentialCharge,
		GuestResponsibility: intPtr(r.GuestResponsibility),
		HostPayout:          intPtr(r.HostPayout),
		CommissionRate:      r.CommissionRate,
		IncidentAt:          timePtr(r.IncidentAt),
		FiledAt:             fromMillis(r.FiledAt),
		FleetDecisionAt:     timePtr(r.FleetDecisionAt),
		GuestNotifiedAt:     timePtr(r.GuestNotifiedAt),
		ResponseDeadline:    timePtr(r.ResponseDeadline),
		ReminderSentAt:      timePtr(r.ReminderSentAt),
		GuestRespondedAt:    timePtr(r.GuestRespondedAt),
		FinalDecisionAt:     timePtr(r.FinalDecisionAt),
		GuestResponseText:   stringPtr(r.GuestResponseText),
		DenialReason:        stringPtr(r.DenialReason),
		ReviewNotes:         stringPtr(r.ReviewNotes),
		Version:             r.Version,
		UpdatedAt:           fromMillis(r.UpdatedAt),
	}
	if r.GuestEvidenceCount.Valid {
		n := int(r.GuestEvidenceCount.Int64)
		c.GuestEvidenceCount = &n
	}
	return c, nil
}

func fromEvent(claimID string, ev claims.ClaimEvent) eventRow {
	return eventRow{
		ID:         ev.ID,
		ClaimID:    claimID,
		FromState:  string(ev.FromState),
		ToState:    string(ev.ToState),
		Cause:      string(ev.Cause),
		Actor:      ev.Actor,
		IntentKey:  ev.IntentKey,
		OccurredAt: toMillis(ev.OccurredAt),
	}
}

func (r eventRow) toEvent() claims.ClaimEvent {
	return claims.ClaimEvent{
		ID:         r.ID,
		Seq:        r.Seq,
		ClaimID:    r.ClaimID,
		FromState:  claims.State(r.FromState),
		ToState:    claims.State(r.ToState),
		Cause:      claims.Cause(r.Cause),
		Actor:      r.Actor,
		IntentKey:  r.IntentKey,
		OccurredAt: fromMillis(r.OccurredAt),
	}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
