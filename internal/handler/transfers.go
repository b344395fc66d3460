package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

// TransferHandler exposes ticket ownership transfers.
type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// Initiate handles POST /v1/tickets/:id/transfers.
func (h *TransferHandler) Initiate(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	ruID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid ticket id")
	}
	var body struct {
		ToUserID uint64 `json:"to_user_id"`
	}
	if err := c.Bind(&body); err != nil || body.ToUserID == 0 {
		return badRequest(c, "to_user_id is required")
	}
	t, err := h.svc.Initiate(c.Request().Context(), ruID, uid, body.ToUserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"transfer_id":         t.ID,
		"reservation_unit_id": t.ReservationUnitID,
		"to_user_id":          t.ToUserID,
		"token":               t.Token,
		"status":              t.Status,
		"expires_at":          t.ExpiresAt,
	})
}

// Accept handles POST /v1/transfers/accept.
func (h *TransferHandler) Accept(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil || body.Token == "" {
		return badRequest(c, "token is required")
	}
	ru, cred, err := h.svc.Accept(c.Request().Context(), body.Token, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservation_unit_id": ru.ID,
		"status":              ru.Status,
		"credential":          viewCredential(cred),
		"qr_token":            cred.Token,
	})
}

// Cancel handles DELETE /v1/transfers/:token.
func (h *TransferHandler) Cancel(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.svc.Cancel(c.Request().Context(), c.Param("token"), uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// History handles GET /v1/tickets/:id/transfers.
func (h *TransferHandler) History(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	ruID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid ticket id")
	}
	logs, err := h.svc.History(c.Request().Context(), ruID, uid)
	if err != nil {
		return writeError(c, err)
	}
	if logs == nil {
		logs = []model.TransferLog{}
	}
	return c.JSON(http.StatusOK, echo.Map{"transfers": logs})
}
