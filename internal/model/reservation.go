package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a reservation row.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a buyer's hold over a set of units that later becomes an
// order.  It exclusively owns its ReservationUnit rows.
//
// Fields:
//  ID                – primary key identifier.
//  UserID            – buyer.
//  EventID           – event every unit belongs to.
//  Status            – active, confirmed, cancelled or expired.
//  PromotionID       – promotion applied to the combo lines, if any.
//  PromotionPackages – packages of the promotion consumed.
//  PromoterCode      – attribution code supplied at checkout (nullable).
//  ExpiresAt         – end of the hold window.
//  ConfirmedAt       – set when payment confirmed the reservation.
type Reservation struct {
	ID                uint64            // reservations.id
	UserID            uint64            // reservations.user_id
	EventID           uint64            // reservations.event_id
	Status            ReservationStatus // reservations.status
	PromotionID       *uint64           // reservations.promotion_id (nullable)
	PromotionPackages int               // reservations.promotion_packages
	PromoterCode      *string           // reservations.promoter_code (nullable)
	CreatedAt         time.Time         // reservations.created_at
	ExpiresAt         time.Time         // reservations.expires_at
	ConfirmedAt       *time.Time        // reservations.confirmed_at (nullable)
	UpdatedAt         time.Time         // reservations.updated_at
	Units             []ReservationUnit
}

// Total sums unit price plus service fee over every unit.
func (r Reservation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, ru := range r.Units {
		total = total.Add(ru.Snapshot.UnitPricePaid).Add(ru.Snapshot.ServiceFee)
	}
	return total
}

// ReservationUnitStatus tracks one unit inside a reservation.  It mirrors the
// unit's own status while the reservation holds it; "released" rows are
// kept for history once the hold was cancelled or expired.
type ReservationUnitStatus string

const (
	RUReserved    ReservationUnitStatus = "reserved"
	RUConfirmed   ReservationUnitStatus = "confirmed"
	RUUsed        ReservationUnitStatus = "used"
	RUTransferred ReservationUnitStatus = "transferred"
	RUReleased    ReservationUnitStatus = "released"
)

// ReservationUnit joins a Reservation with a Unit and carries the frozen
// price snapshot plus transfer lineage.  UserID is the current holder and
// changes in place on transfer.
type ReservationUnit struct {
	ID                 uint64                // reservation_units.id
	ReservationID      uint64                // reservation_units.reservation_id
	UnitID             uint64                // reservation_units.unit_id
	AreaID             uint64                // reservation_units.area_id
	EventID            uint64                // reservation_units.event_id
	UserID             uint64                // reservation_units.user_id
	Status             ReservationUnitStatus // reservation_units.status
	Snapshot           PriceSnapshot
	AppliedSaleStageID *uint64    // reservation_units.applied_sale_stage_id (nullable)
	AppliedPromotionID *uint64    // reservation_units.applied_promotion_id (nullable)
	OriginalUserID     *uint64    // reservation_units.original_user_id (nullable)
	TransferDate       *time.Time // reservation_units.transfer_date (nullable)
	CreatedAt          time.Time  // reservation_units.created_at
	UpdatedAt          time.Time  // reservation_units.updated_at
}

// Discount attribution kinds stored in PriceSnapshot.DiscountType.
const (
	DiscountNone      = "none"
	DiscountSaleStage = "sale_stage"
	DiscountPromotion = "promotion"
)

// PriceSnapshot is the immutable pricing record written once per
// ReservationUnit.  Invoices read it verbatim; later rule edits never
// touch it.
type PriceSnapshot struct {
	BasePrice       decimal.Decimal `json:"base_price"`
	UnitPricePaid   decimal.Decimal `json:"unit_price_paid"`
	ServiceFee      decimal.Decimal `json:"service_fee"`
	DiscountType    string          `json:"discount_type"`
	DiscountName    string          `json:"discount_name,omitempty"`
	AdjustmentType  string          `json:"adjustment_type,omitempty"`
	AdjustmentValue decimal.Decimal `json:"adjustment_value"`
	BundleSize      int             `json:"bundle_size"`
}

// UnitStatusChange is one row of the append-only status history of a
// ReservationUnit.
type UnitStatusChange struct {
	ID                uint64    // reservation_unit_status_history.id
	ReservationUnitID uint64    // reservation_unit_status_history.reservation_unit_id
	FromStatus        string    // reservation_unit_status_history.from_status
	ToStatus          string    // reservation_unit_status_history.to_status
	ActorUserID       *uint64   // reservation_unit_status_history.actor_user_id (nullable)
	Reason            string    // reservation_unit_status_history.reason
	CreatedAt         time.Time // reservation_unit_status_history.created_at
}

// Ticket is a held unit as shown to its owner.
type Ticket struct {
	ReservationUnitID uint64                `json:"reservation_unit_id"`
	ReservationID     uint64                `json:"reservation_id"`
	UnitID            uint64                `json:"unit_id"`
	EventID           uint64                `json:"event_id"`
	AreaName          string                `json:"area_name"`
	DisplayName       string                `json:"unit_display_name"`
	Status            ReservationUnitStatus `json:"status"`
	CanTransfer       bool                  `json:"can_transfer"`
	Token             string                `json:"qr_token,omitempty"`
}
