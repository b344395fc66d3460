// Package queue defines message payloads exchanged over the message broker.
package queue

// TicketsIssuedEvent is published after a reservation is confirmed and its
// credentials were issued.  It carries everything the mailer needs so it
// never has to query the primary database.
type TicketsIssuedEvent struct {
	ReservationID uint64             `json:"reservation_id"`
	UserID        uint64             `json:"user_id"`
	EventID       uint64             `json:"event_id"`
	Credentials   []IssuedCredential `json:"credentials"`
	Total         string             `json:"total"`
	ConfirmedAt   string             `json:"confirmed_at"`
}

// IssuedCredential is one entry credential inside TicketsIssuedEvent.
type IssuedCredential struct {
	CredentialID      string `json:"credential_id"`
	ReservationUnitID uint64 `json:"reservation_unit_id"`
	UnitID            uint64 `json:"unit_id"`
	Token             string `json:"token"`
}
