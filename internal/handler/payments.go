package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Gateway-Signature"

const maxWebhookBody = 64 << 10

// PaymentHandler receives payment gateway notifications.
type PaymentHandler struct {
	rec    *service.PaymentReconciler
	secret []byte
}

// NewPaymentHandler returns a handler.  An empty secret accepts unsigned
// requests.
func NewPaymentHandler(rec *service.PaymentReconciler, secret string) *PaymentHandler {
	return &PaymentHandler{rec: rec, secret: []byte(secret)}
}

type gatewayNotification struct {
	EventID       string `json:"event_id"`
	TransactionID string `json:"transaction_id"`
	ReservationID uint64 `json:"reservation_id"`
	Outcome       string `json:"outcome"`
}

// Webhook handles POST /v1/payments/events.  Every recorded event,
// duplicates included, is answered with 200 so the gateway stops retrying.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	if len(h.secret) > 0 && !h.verify(body, c.Request().Header.Get(SignatureHeader)) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "bad_signature", "message": "invalid gateway signature"})
	}
	var n gatewayNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return badRequest(c, "invalid JSON")
	}
	eventID := n.EventID
	if eventID == "" {
		eventID = n.TransactionID
	}
	result, err := h.rec.Handle(c.Request().Context(), service.GatewayEvent{
		EventID:       eventID,
		Outcome:       n.Outcome,
		ReservationID: n.ReservationID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": eventID, "result": result})
}

func (h *PaymentHandler) verify(body []byte, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
