package model

import "time"

// Credential is the signed entry token bound 1:1 to a ReservationUnit.
// Superseded credentials are kept (never deleted) and can never validate.
type Credential struct {
	ID                string     // credentials.id (uuid)
	ReservationUnitID uint64     // credentials.reservation_unit_id
	EventID           uint64     // credentials.event_id
	Token             string     // credentials.token
	IssuedAt          time.Time  // credentials.issued_at
	Used              bool       // credentials.used
	UsedAt            *time.Time // credentials.used_at (nullable)
	Superseded        bool       // credentials.superseded
	SupersededAt      *time.Time // credentials.superseded_at (nullable)
}

// CheckInStats summarises entry validation for one event.
type CheckInStats struct {
	EventID           uint64     `json:"event_id"`
	TotalTickets      int        `json:"total_tickets"`
	CheckedIn         int        `json:"checked_in"`
	Pending           int        `json:"pending"`
	CheckInPercentage float64    `json:"check_in_percentage"`
	LastCheckIn       *time.Time `json:"last_check_in,omitempty"`
}
