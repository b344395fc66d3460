package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

// CredentialHandler serves entry validation for staff and credential
// resets for admins.
type CredentialHandler struct {
	svc *service.CredentialService
}

func NewCredentialHandler(svc *service.CredentialService) *CredentialHandler {
	return &CredentialHandler{svc: svc}
}

type credentialView struct {
	ID                string     `json:"credential_id"`
	ReservationUnitID uint64     `json:"reservation_unit_id"`
	EventID           uint64     `json:"event_id"`
	IssuedAt          time.Time  `json:"issued_at"`
	Used              bool       `json:"used"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
}

func viewCredential(c model.Credential) credentialView {
	return credentialView{
		ID:                c.ID,
		ReservationUnitID: c.ReservationUnitID,
		EventID:           c.EventID,
		IssuedAt:          c.IssuedAt,
		Used:              c.Used,
		UsedAt:            c.UsedAt,
	}
}

// Validate handles POST /v1/qr/validate.
func (h *CredentialHandler) Validate(c echo.Context) error {
	staff, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Token   string `json:"token"`
		EventID uint64 `json:"event_id"`
	}
	if err := c.Bind(&body); err != nil || body.Token == "" || body.EventID == 0 {
		return badRequest(c, "token and event_id are required")
	}
	cred, err := h.svc.Validate(c.Request().Context(), body.Token, body.EventID, staff)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true, "credential": viewCredential(cred)})
}

// CheckInStats handles GET /v1/events/:id/check-in-stats.
func (h *CredentialHandler) CheckInStats(c echo.Context) error {
	eventID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	st, err := h.svc.CheckInStats(c.Request().Context(), eventID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Reset handles POST /v1/tickets/:id/reset.
func (h *CredentialHandler) Reset(c echo.Context) error {
	operator, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	ruID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid ticket id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&body)
	cred, err := h.svc.Reset(c.Request().Context(), ruID, operator, body.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewCredential(cred))
}
