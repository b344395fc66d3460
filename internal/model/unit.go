package model

import (
	"fmt"
	"time"
)

// UnitStatus is the lifecycle state of a sellable unit.
type UnitStatus string

const (
	UnitAvailable   UnitStatus = "available"
	UnitReserved    UnitStatus = "reserved"
	UnitConfirmed   UnitStatus = "confirmed"
	UnitUsed        UnitStatus = "used"
	UnitTransferred UnitStatus = "transferred"
	// UnitQuarantined units disagreed with their owning reservation and are
	// excluded from allocation until an operator resolves them.
	UnitQuarantined UnitStatus = "quarantined"
)

// Unit is one individually trackable ticket belonging to an Area.  The
// nomenclature is display-only; allocation order is (letter, number, id).
type Unit struct {
	ID                 uint64     // units.id
	AreaID             uint64     // units.area_id
	EventID            uint64     // units.event_id
	NomenclatureLetter string     // units.nomenclature_letter
	NomenclatureNumber int        // units.nomenclature_number
	Status             UnitStatus // units.status
	QuarantineReason   *string    // units.quarantine_reason (nullable)
	UpdatedAt          time.Time  // units.updated_at
}

// DisplayName renders the nomenclature as "A-12", falling back to the id.
func (u Unit) DisplayName() string {
	if u.NomenclatureLetter == "" {
		return fmt.Sprintf("%d", u.NomenclatureNumber)
	}
	return fmt.Sprintf("%s-%d", u.NomenclatureLetter, u.NomenclatureNumber)
}

// UnitMismatch is a unit whose status disagrees with the reservation that
// last held it.  ReservationID is nil when no reservation row references it.
type UnitMismatch struct {
	UnitID            uint64
	UnitStatus        UnitStatus
	ReservationID     *uint64
	ReservationStatus *ReservationStatus
}
