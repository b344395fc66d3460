package model

import "time"

// TransferStatus is the lifecycle state of an ownership transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferExpired   TransferStatus = "expired"
	TransferCancelled TransferStatus = "cancelled"
)

// Transfer is a single-use offer to move a confirmed unit to another user.
type Transfer struct {
	ID                uint64         // transfers.id
	ReservationUnitID uint64         // transfers.reservation_unit_id
	FromUserID        uint64         // transfers.from_user_id
	ToUserID          uint64         // transfers.to_user_id
	Token             string         // transfers.token
	Status            TransferStatus // transfers.status
	ExpiresAt         time.Time      // transfers.expires_at
	CreatedAt         time.Time      // transfers.created_at
	ResolvedAt        *time.Time     // transfers.resolved_at (nullable)
}

// TransferLog is an append-only ownership change record.
type TransferLog struct {
	ID                uint64    `json:"id"`                  // transfer_logs.id
	ReservationUnitID uint64    `json:"reservation_unit_id"` // transfer_logs.reservation_unit_id
	FromUserID        uint64    `json:"from_user_id"`        // transfer_logs.from_user_id
	ToUserID          uint64    `json:"to_user_id"`          // transfer_logs.to_user_id
	Reason            string    `json:"reason"`              // transfer_logs.reason
	CreatedAt         time.Time `json:"created_at"`          // transfer_logs.created_at
}
