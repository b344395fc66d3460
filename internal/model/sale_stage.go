package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Adjustment kinds for sale stages.
const (
	AdjustPercentage = "percentage"
	AdjustFixed      = "fixed"
	AdjustFixedPrice = "fixed_price"
)

// SaleStage is a time-boxed, priority-ordered price adjustment for a set of
// areas of one event.  Its sold counter is capped independently of the
// areas' unit inventory.
//
// Fields:
//  AdjustmentType    – percentage, fixed or fixed_price.
//  AdjustmentValue   – signed delta (percentage/fixed) or bundle price.
//  BundleSize        – N in "N units for the bundle price"; at least 1.
//  QuantityAvailable – cap on units sold through this stage.
//  QuantitySold      – units currently consumed by active/confirmed reservations.
//  PriorityOrder     – lower value wins.
//  EndTime           – nil means open-ended.
type SaleStage struct {
	ID                uint64          // sale_stages.id
	EventID           uint64          // sale_stages.event_id
	Name              string          // sale_stages.name
	AdjustmentType    string          // sale_stages.adjustment_type
	AdjustmentValue   decimal.Decimal // sale_stages.adjustment_value
	BundleSize        int             // sale_stages.bundle_size
	QuantityAvailable int             // sale_stages.quantity_available
	QuantitySold      int             // sale_stages.quantity_sold
	PriorityOrder     int             // sale_stages.priority_order
	IsActive          bool            // sale_stages.is_active
	StartTime         time.Time       // sale_stages.start_time
	EndTime           *time.Time      // sale_stages.end_time (nullable)
	CreatedAt         time.Time       // sale_stages.created_at
	AreaIDs           []uint64        // sale_stage_areas.area_id
}

// Remaining returns how many units the stage can still sell.
func (s SaleStage) Remaining() int {
	if r := s.QuantityAvailable - s.QuantitySold; r > 0 {
		return r
	}
	return 0
}

// AppliesTo reports whether the stage is scoped to the area.
func (s SaleStage) AppliesTo(areaID uint64) bool {
	for _, id := range s.AreaIDs {
		if id == areaID {
			return true
		}
	}
	return false
}
