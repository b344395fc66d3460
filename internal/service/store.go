package service

import (
	"context"
	"time"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// Transactor runs fn inside one storage transaction.  Nested calls join the
// transaction already carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InventoryStore reads pricing rules and moves units between states.
type InventoryStore interface {
	GetAreas(ctx context.Context, ids []uint64) (map[uint64]model.Area, error)
	// ListSaleStages returns the active stages covering any of areaIDs.
	// With forUpdate the rows stay locked until the transaction ends.
	ListSaleStages(ctx context.Context, eventID uint64, areaIDs []uint64, forUpdate bool) ([]model.SaleStage, error)
	GetPromotionByCode(ctx context.Context, eventID uint64, code string, forUpdate bool) (model.Promotion, error)
	// LockAvailableUnits selects up to limit available units of the area in
	// nomenclature order and locks them for the current transaction.
	LockAvailableUnits(ctx context.Context, areaID uint64, limit int) ([]model.Unit, error)
	// SetUnitsStatus moves every unit from one status to another and
	// returns how many rows changed.
	SetUnitsStatus(ctx context.Context, unitIDs []uint64, from, to model.UnitStatus) (int64, error)
	// IncrementStageSold adds n to quantity_sold only while n units remain.
	IncrementStageSold(ctx context.Context, stageID uint64, n int) (bool, error)
	DecrementStageSold(ctx context.Context, stageID uint64, n int) error
	// IncrementPromotionUses adds n to uses_count only while n uses remain.
	IncrementPromotionUses(ctx context.Context, promotionID uint64, n int) (bool, error)
	DecrementPromotionUses(ctx context.Context, promotionID uint64, n int) error
}

// ReservationStore persists reservations and their units.
type ReservationStore interface {
	Transactor
	InventoryStore
	CreateReservation(ctx context.Context, r *model.Reservation) error
	CreateReservationUnit(ctx context.Context, ru *model.ReservationUnit) error
	GetReservation(ctx context.Context, id uint64, forUpdate bool) (model.Reservation, error)
	// TransitionReservation moves a reservation between states only when it
	// is currently in from.  It reports whether the row changed.
	TransitionReservation(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time) (bool, error)
	SetReservationUnitsStatus(ctx context.Context, reservationID uint64, from, to model.ReservationUnitStatus) (int64, error)
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]uint64, error)
	ListTicketsByUser(ctx context.Context, userID uint64) ([]model.Ticket, error)
	InsertStatusChange(ctx context.Context, c model.UnitStatusChange) error
}

// CredentialStore persists entry credentials.
type CredentialStore interface {
	Transactor
	InsertCredential(ctx context.Context, c model.Credential) error
	GetCredential(ctx context.Context, id string) (model.Credential, error)
	GetActiveCredential(ctx context.Context, reservationUnitID uint64) (model.Credential, error)
	// MarkCredentialUsed flips used=false to true on a non-superseded
	// credential and reports whether this call won.
	MarkCredentialUsed(ctx context.Context, id string, at time.Time) (bool, error)
	ResetCredential(ctx context.Context, id string) (bool, error)
	SupersedeCredentials(ctx context.Context, reservationUnitID uint64, at time.Time) (int64, error)
	GetReservationUnit(ctx context.Context, id uint64, forUpdate bool) (model.ReservationUnit, error)
	UpdateReservationUnitStatus(ctx context.Context, id uint64, from, to model.ReservationUnitStatus) (bool, error)
	SetUnitsStatus(ctx context.Context, unitIDs []uint64, from, to model.UnitStatus) (int64, error)
	InsertStatusChange(ctx context.Context, c model.UnitStatusChange) error
	CheckInStats(ctx context.Context, eventID uint64) (model.CheckInStats, error)
}

// TransferStore persists ownership transfers.
type TransferStore interface {
	Transactor
	GetReservationUnit(ctx context.Context, id uint64, forUpdate bool) (model.ReservationUnit, error)
	GetPendingTransfer(ctx context.Context, reservationUnitID uint64) (model.Transfer, error)
	CreateTransfer(ctx context.Context, t *model.Transfer) error
	GetTransferByToken(ctx context.Context, token string, forUpdate bool) (model.Transfer, error)
	ResolveTransfer(ctx context.Context, id uint64, to model.TransferStatus, at time.Time) (bool, error)
	// ReassignReservationUnit changes the holder in place when the unit is
	// still held by from, recording lineage.
	ReassignReservationUnit(ctx context.Context, id, from, to uint64, at time.Time) (bool, error)
	UpdateReservationUnitStatus(ctx context.Context, id uint64, from, to model.ReservationUnitStatus) (bool, error)
	SetUnitsStatus(ctx context.Context, unitIDs []uint64, from, to model.UnitStatus) (int64, error)
	InsertTransferLog(ctx context.Context, l model.TransferLog) error
	ListTransferLogs(ctx context.Context, reservationUnitID uint64) ([]model.TransferLog, error)
	ExpirePendingTransfers(ctx context.Context, now time.Time) (int64, error)
	SupersedeCredentials(ctx context.Context, reservationUnitID uint64, at time.Time) (int64, error)
	InsertStatusChange(ctx context.Context, c model.UnitStatusChange) error
}

// PaymentStore records processed gateway events.
type PaymentStore interface {
	Transactor
	// InsertPaymentEvent fails with repository.ErrDuplicate when the event
	// id was already recorded.
	InsertPaymentEvent(ctx context.Context, e model.PaymentEvent) error
	// ReplaceIgnoredPaymentEvent overwrites the outcome of an event whose
	// recorded result is "ignored" and reports whether it did.
	ReplaceIgnoredPaymentEvent(ctx context.Context, e model.PaymentEvent) (bool, error)
	UpdatePaymentEventResult(ctx context.Context, eventID, result string) error
}

// ConsistencyStore finds and isolates inconsistent units.
type ConsistencyStore interface {
	Transactor
	FindInconsistentUnits(ctx context.Context, limit int) ([]model.UnitMismatch, error)
	QuarantineUnit(ctx context.Context, unitID uint64, expected model.UnitStatus, reason string) (bool, error)
}
