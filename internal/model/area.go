package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Area is a priced zone within an event.  Units are generated per area and
// inherit its base price and service fee at the moment they are priced.
//
// Fields:
//  ID         – primary key identifier.
//  EventID    – event (cluster) owning the area.
//  Name       – display name (e.g. "VIP").
//  BasePrice  – list price of one unit; NULL when the area is not yet priced.
//  ServiceFee – absolute per-unit fee charged on top of the unit price.
//  Capacity   – number of units generated for the area.
type Area struct {
	ID         uint64              // areas.id
	EventID    uint64              // areas.event_id
	Name       string              // areas.name
	BasePrice  decimal.NullDecimal // areas.base_price (nullable)
	ServiceFee decimal.Decimal     // areas.service_fee
	Capacity   int                 // areas.capacity
	CreatedAt  time.Time           // areas.created_at
	UpdatedAt  time.Time           // areas.updated_at
}
