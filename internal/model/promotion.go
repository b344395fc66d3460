package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Promotion pricing kinds.
const (
	PromoPercentage    = "percentage"
	PromoFixedDiscount = "fixed_discount"
	PromoFixedPrice    = "fixed_price"
)

// Promotion is an event-scoped, optionally code-gated discount.  Its items
// define a combo: every item must be requested together, in exact
// multiples of the item quantities, for the promotion to apply.
// UsesCount counts applied packages, not units.
type Promotion struct {
	ID                uint64          // promotions.id
	EventID           uint64          // promotions.event_id
	Name              string          // promotions.name
	Code              *string         // promotions.code (nullable)
	PricingType       string          // promotions.pricing_type
	PricingValue      decimal.Decimal // promotions.pricing_value
	QuantityAvailable int             // promotions.quantity_available
	UsesCount         int             // promotions.uses_count
	IsActive          bool            // promotions.is_active
	StartTime         time.Time       // promotions.start_time
	EndTime           *time.Time      // promotions.end_time (nullable)
	Items             []PromotionItem
}

// PromotionItem is one (area, quantity) requirement of a combo.
type PromotionItem struct {
	PromotionID uint64 // promotion_items.promotion_id
	AreaID      uint64 // promotion_items.area_id
	Quantity    int    // promotion_items.quantity
}

// UnitsPerPackage is the number of units one package of the combo covers.
func (p Promotion) UnitsPerPackage() int {
	n := 0
	for _, it := range p.Items {
		n += it.Quantity
	}
	return n
}
