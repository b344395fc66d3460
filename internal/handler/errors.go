package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order; the first match wins.
var errorTable = []errorMapping{
	{service.ErrInsufficientInventory, http.StatusConflict, "insufficient_inventory"},
	{service.ErrAlreadyProcessed, http.StatusConflict, "already_processed"},
	{service.ErrTransferAlreadyPending, http.StatusConflict, "transfer_already_pending"},
	{service.ErrAlreadyUsed, http.StatusConflict, "already_used"},
	{service.ErrCredentialSuperseded, http.StatusConflict, "credential_superseded"},
	{service.ErrNotTransferable, http.StatusConflict, "not_transferable"},
	{service.ErrPromotionInvalid, http.StatusUnprocessableEntity, "promotion_invalid"},
	{service.ErrNoApplicableRule, http.StatusUnprocessableEntity, "no_applicable_rule"},
	{service.ErrReservationExpired, http.StatusGone, "reservation_expired"},
	{service.ErrTransferExpired, http.StatusGone, "transfer_expired"},
	{service.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{service.ErrBadSignature, http.StatusUnauthorized, "bad_signature"},
	{service.ErrWrongEvent, http.StatusBadRequest, "wrong_event"},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{service.ErrTransferNotFound, http.StatusNotFound, "transfer_not_found"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
}

// writeError renders err as {"error": code, "message": text}.  Unknown
// errors become a 500 without leaking their text; the request logger
// records the cause.
func writeError(c echo.Context, err error) error {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return c.JSON(m.status, echo.Map{"error": m.code, "message": err.Error()})
		}
	}
	middleware.RecordError(c, err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}

func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing user"})
}
