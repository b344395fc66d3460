package model

import "time"

// Gateway outcomes understood by the reconciler.
const (
	PaymentApproved = "approved"
	PaymentDeclined = "declined"
	PaymentVoided   = "voided"
	PaymentPending  = "pending"
	PaymentError    = "error"
	PaymentRefunded = "refunded"
)

// PaymentEvent records a processed gateway event.  EventID is the
// idempotency key derived from the gateway transaction id.
type PaymentEvent struct {
	EventID       string    // payment_events.event_id
	ReservationID uint64    // payment_events.reservation_id
	Outcome       string    // payment_events.outcome
	Result        string    // payment_events.result
	ProcessedAt   time.Time // payment_events.processed_at
}
