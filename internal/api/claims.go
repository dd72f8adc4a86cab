package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/workflow"
	"github.com/claimflow/pkg/models"
)

func (s *Server) fileClaim(c echo.Context) error {
	var req models.FileClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.engine.FileClaim(c.Request().Context(), workflow.FileClaimInput{
		BookingID:        req.BookingID,
		HostID:           req.HostID,
		GuestID:          req.GuestID,
		ClaimType:        req.ClaimType,
		Description:      req.Description,
		IncidentAt:       req.IncidentAt,
		EstimatedCost:    req.EstimatedCost,
		DeductibleAmount: req.DeductibleAmount,
		DepositHeld:      req.DepositHeld,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s.commandResponse(out))
}

func (s *Server) getClaim(c echo.Context) error {
	claim, err := s.engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(claim))
}

func (s *Server) getClaimEvents(c echo.Context) error {
	events, err := s.engine.Events(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	views := make([]models.EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, models.EventView{
			Seq:        ev.Seq,
			FromState:  string(ev.FromState),
			ToState:    string(ev.ToState),
			Cause:      string(ev.Cause),
			Actor:      ev.Actor,
			IntentKey:  ev.IntentKey,
			OccurredAt: ev.OccurredAt,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) startReview(c echo.Context) error {
	var req models.StartReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.engine.StartFleetReview(c.Request().Context(), c.Param("id"), req.ReviewerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.commandResponse(out))
}

func (s *Server) fleetDecision(c echo.Context) error {
	var req models.FleetDecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.engine.FleetDecide(c.Request().Context(), workflow.FleetDecision{
		ClaimID:        c.Param("id"),
		Approve:        req.Approve,
		ApprovedAmount: req.ApprovedAmount,
		ReviewNotes:    req.ReviewNotes,
		DenialReason:   req.DenialReason,
		Actor:          req.Actor,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.commandResponse(out))
}

func (s *Server) guestResponse(c echo.Context) error {
	var req models.GuestResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.engine.RecordGuestResponse(c.Request().Context(), workflow.GuestResponse{
		ClaimID:       c.Param("id"),
		Text:          req.ResponseText,
		EvidenceCount: req.EvidenceCount,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.commandResponse(out))
}

func (s *Server) finalDecision(c echo.Context) error {
	var req models.FinalDecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.engine.FinalDecide(c.Request().Context(), workflow.FinalDecision{
		ClaimID:             c.Param("id"),
		Approve:             req.Approve,
		GuestResponsibility: req.GuestResponsibility,
		ReviewNotes:         req.ReviewNotes,
		DenialReason:        req.DenialReason,
		Actor:               req.Actor,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.commandResponse(out))
}

func (s *Server) commandResponse(out workflow.Outcome) models.CommandResponse {
	return models.CommandResponse{Claim: s.view(out.Claim), Intents: len(out.Intents)}
}

func (s *Server) view(c *claims.Claim) models.ClaimView {
	return ClaimView(c, s.clock.Now())
}

// ClaimView renders a claim for API and CLI output.
func ClaimView(c *claims.Claim, now time.Time) models.ClaimView {
	v := models.ClaimView{
		ID:                  c.ID,
		BookingID:           c.BookingID,
		HostID:              c.HostID,
		GuestID:             c.GuestID,
		ClaimType:           string(c.ClaimType),
		State:               string(c.State),
		Priority:            string(c.Priority),
		Description:         c.Description,
		IncidentAt:          c.IncidentAt,
		EstimatedCost:       c.EstimatedCost,
		DeductibleAmount:    c.DeductibleAmount,
		DepositHeld:         c.DepositHeld,
		PotentialCharge:     c.PotentialCharge,
		ApprovedAmount:      c.ApprovedAmount,
		GuestResponsibility: c.GuestResponsibility,
		HostPayout:          c.HostPayout,
		CommissionRate:      c.CommissionRate,
		FleetReviewerID:     c.FleetReviewerID,
		ReviewNotes:         c.ReviewNotes,
		DenialReason:        c.DenialReason,
		GuestResponseText:   c.GuestResponseText,
		GuestEvidenceCount:  c.GuestEvidenceCount,
		FiledAt:             c.FiledAt,
		FleetDecisionAt:     c.FleetDecisionAt,
		GuestNotifiedAt:     c.GuestNotifiedAt,
		ResponseDeadline:    c.ResponseDeadline,
		ReminderSentAt:      c.ReminderSentAt,
		GuestRespondedAt:    c.GuestRespondedAt,
		FinalDecisionAt:     c.FinalDecisionAt,
		Terminal:            c.State.IsTerminal(),
		Version:             c.Version,
		UpdatedAt:           c.UpdatedAt,
	}
	if c.State == claims.StateAwaitingGuestResponse {
		v.HoursRemaining = claims.Ptr(c.HoursRemaining(now))
	}
	return v
}
