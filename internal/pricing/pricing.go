// Package pricing resolves the per-unit price of an area at a point in time.
// It is a pure function of the rule tables handed to it: it performs no
// writes and consumes no stage or promotion quantity.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

var (
	// ErrNoApplicableRule is returned when an area has no base price.
	ErrNoApplicableRule = errors.New("no applicable pricing rule")
	// ErrPromotionInvalid is returned when a supplied promotion cannot apply.
	ErrPromotionInvalid = errors.New("promotion invalid")
)

// MaxPromotionPackages caps how many combo packages one reservation may buy.
const MaxPromotionPackages = 5

var hundred = decimal.NewFromInt(100)

// SourceKind tags where a unit's discount came from.
type SourceKind string

const (
	SourceNone      SourceKind = model.DiscountNone
	SourceSaleStage SourceKind = model.DiscountSaleStage
	SourcePromotion SourceKind = model.DiscountPromotion
)

// Source is the discount attribution of a decision.  ID is zero for
// SourceNone.
type Source struct {
	Kind SourceKind
	ID   uint64
	Name string
}

// Decision is the resolved price of every unit of one requested line.
type Decision struct {
	AreaID          uint64
	Quantity        int
	BasePrice       decimal.Decimal
	ServiceFee      decimal.Decimal
	UnitPrice       decimal.Decimal
	Source          Source
	AdjustmentType  string
	AdjustmentValue decimal.Decimal
	BundleSize      int
}

// Snapshot freezes the decision into the record stored per unit.
func (d Decision) Snapshot() model.PriceSnapshot {
	return model.PriceSnapshot{
		BasePrice:       d.BasePrice,
		UnitPricePaid:   d.UnitPrice,
		ServiceFee:      d.ServiceFee,
		DiscountType:    string(d.Source.Kind),
		DiscountName:    d.Source.Name,
		AdjustmentType:  d.AdjustmentType,
		AdjustmentValue: d.AdjustmentValue,
		BundleSize:      d.BundleSize,
	}
}

// StageID returns the applied sale stage, if any.
func (d Decision) StageID() *uint64 {
	if d.Source.Kind != SourceSaleStage {
		return nil
	}
	id := d.Source.ID
	return &id
}

// PromotionID returns the applied promotion, if any.
func (d Decision) PromotionID() *uint64 {
	if d.Source.Kind != SourcePromotion {
		return nil
	}
	id := d.Source.ID
	return &id
}

// Line is one requested (area, quantity) pair.
type Line struct {
	AreaID   uint64
	Quantity int
}

// Request carries everything Quote needs.  Promotion is nil when no code
// was supplied; CodeSupplied distinguishes "no code" from "unknown code".
type Request struct {
	Lines        []Line
	At           time.Time
	Areas        map[uint64]model.Area
	Stages       []model.SaleStage
	CodeSupplied bool
	Promotion    *model.Promotion
}

// Quote is the outcome of pricing a whole reservation attempt.  Decisions
// follow the order of Request.Lines.
type Quote struct {
	Decisions         []Decision
	PromotionPackages int
}

// Total returns the sum of unit price plus fee for every unit.
func (q Quote) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range q.Decisions {
		n := decimal.NewFromInt(int64(d.Quantity))
		total = total.Add(d.UnitPrice.Add(d.ServiceFee).Mul(n))
	}
	return total
}

// QuoteCart prices every line.  A valid promotion covers all of its combo
// lines; the remaining lines fall back to the best sale stage or the base
// price.  Combo application is all-or-nothing.
func QuoteCart(req Request) (Quote, error) {
	var (
		promo    *model.Promotion
		packages int
	)
	if req.CodeSupplied {
		n, err := ValidatePromotion(req.Promotion, req.Lines, req.Areas, req.At)
		if err != nil {
			return Quote{}, err
		}
		promo, packages = req.Promotion, n
	}

	out := Quote{Decisions: make([]Decision, 0, len(req.Lines)), PromotionPackages: packages}
	for _, ln := range req.Lines {
		area, ok := req.Areas[ln.AreaID]
		if !ok {
			return Quote{}, fmt.Errorf("area %d: %w", ln.AreaID, ErrNoApplicableRule)
		}
		var (
			d   Decision
			err error
		)
		if promo != nil && promotionCovers(promo, ln.AreaID) {
			d, err = applyPromotion(area, promo, ln.Quantity, packages)
		} else {
			d, err = Resolve(area, req.Stages, req.At, ln.Quantity)
		}
		if err != nil {
			return Quote{}, err
		}
		out.Decisions = append(out.Decisions, d)
	}
	return out, nil
}

// Resolve prices quantity units of area without a promotion: the winning
// active sale stage if one exists, else the undiscounted base price.
func Resolve(area model.Area, stages []model.SaleStage, at time.Time, quantity int) (Decision, error) {
	if !area.BasePrice.Valid {
		return Decision{}, fmt.Errorf("area %d has no base price: %w", area.ID, ErrNoApplicableRule)
	}
	base := area.BasePrice.Decimal
	d := Decision{
		AreaID:          area.ID,
		Quantity:        quantity,
		BasePrice:       base,
		ServiceFee:      area.ServiceFee,
		UnitPrice:       base,
		Source:          Source{Kind: SourceNone},
		AdjustmentValue: decimal.Zero,
		BundleSize:      1,
	}
	st, ok := ActiveStage(stages, area.ID, at, quantity)
	if !ok {
		return d, nil
	}
	d.UnitPrice = StagePrice(base, st)
	d.Source = Source{Kind: SourceSaleStage, ID: st.ID, Name: st.Name}
	d.AdjustmentType = st.AdjustmentType
	d.AdjustmentValue = st.AdjustmentValue
	d.BundleSize = bundleSize(st)
	return d, nil
}

// ActiveStage picks the sale stage that applies to areaID at the given
// instant with room for quantity more units.  Bundle stages sell whole
// bundles only, so quantity must be a multiple of the bundle size.  Lowest
// priority_order wins; on a tie the earlier created stage wins, then the
// lower id.
func ActiveStage(stages []model.SaleStage, areaID uint64, at time.Time, quantity int) (model.SaleStage, bool) {
	var eligible []model.SaleStage
	for _, st := range stages {
		if !st.IsActive || !st.AppliesTo(areaID) {
			continue
		}
		if at.Before(st.StartTime) {
			continue
		}
		if st.EndTime != nil && !at.Before(*st.EndTime) {
			continue
		}
		if st.Remaining() < quantity || st.Remaining() == 0 {
			continue
		}
		if quantity%bundleSize(st) != 0 {
			continue
		}
		eligible = append(eligible, st)
	}
	if len(eligible) == 0 {
		return model.SaleStage{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.PriorityOrder != b.PriorityOrder {
			return a.PriorityOrder < b.PriorityOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return eligible[0], true
}

// StagePrice applies a stage adjustment to the base price, floored at zero.
func StagePrice(base decimal.Decimal, st model.SaleStage) decimal.Decimal {
	q := decimal.NewFromInt(int64(bundleSize(st)))
	v := st.AdjustmentValue
	var p decimal.Decimal
	switch st.AdjustmentType {
	case model.AdjustPercentage:
		p = base.Mul(decimal.NewFromInt(1).Add(v.Div(hundred)))
	case model.AdjustFixed:
		p = base.Mul(q).Add(v).Div(q)
	case model.AdjustFixedPrice:
		p = v.Div(q)
	default:
		p = base
	}
	return money(p)
}

// ValidatePromotion checks that p can apply to the requested lines and
// returns how many combo packages they represent.
func ValidatePromotion(p *model.Promotion, lines []Line, areas map[uint64]model.Area, at time.Time) (int, error) {
	switch {
	case p == nil:
		return 0, fmt.Errorf("%w: code not found", ErrPromotionInvalid)
	case !p.IsActive:
		return 0, fmt.Errorf("%w: inactive", ErrPromotionInvalid)
	case at.Before(p.StartTime), p.EndTime != nil && !at.Before(*p.EndTime):
		return 0, fmt.Errorf("%w: outside validity window", ErrPromotionInvalid)
	case p.UsesCount >= p.QuantityAvailable:
		return 0, fmt.Errorf("%w: usage limit reached", ErrPromotionInvalid)
	case len(p.Items) == 0:
		return 0, fmt.Errorf("%w: promotion has no items", ErrPromotionInvalid)
	}

	requested := make(map[uint64]int, len(lines))
	for _, ln := range lines {
		requested[ln.AreaID] += ln.Quantity
	}
	packages := 0
	for _, it := range p.Items {
		if a, ok := areas[it.AreaID]; ok && a.EventID != p.EventID {
			return 0, fmt.Errorf("%w: area %d belongs to another event", ErrPromotionInvalid, it.AreaID)
		}
		got := requested[it.AreaID]
		if it.Quantity <= 0 || got == 0 || got%it.Quantity != 0 {
			return 0, fmt.Errorf("%w: combo requires %d units of area %d", ErrPromotionInvalid, it.Quantity, it.AreaID)
		}
		n := got / it.Quantity
		if packages != 0 && n != packages {
			return 0, fmt.Errorf("%w: combo quantities do not match", ErrPromotionInvalid)
		}
		packages = n
	}
	if packages > MaxPromotionPackages {
		return 0, fmt.Errorf("%w: at most %d packages per reservation", ErrPromotionInvalid, MaxPromotionPackages)
	}
	if p.UsesCount+packages > p.QuantityAvailable {
		return 0, fmt.Errorf("%w: only %d uses left", ErrPromotionInvalid, p.QuantityAvailable-p.UsesCount)
	}
	return packages, nil
}

// PromotionPrice applies a promotion to one unit of the given base price.
// comboUnits is the number of units the whole purchase of packages covers.
func PromotionPrice(base decimal.Decimal, p *model.Promotion, packages, comboUnits int) decimal.Decimal {
	v := p.PricingValue
	var price decimal.Decimal
	switch p.PricingType {
	case model.PromoPercentage:
		price = base.Mul(decimal.NewFromInt(1).Sub(v.Div(hundred)))
	case model.PromoFixedDiscount:
		price = base.Sub(v)
	case model.PromoFixedPrice:
		if comboUnits <= 0 {
			comboUnits = 1
		}
		price = v.Mul(decimal.NewFromInt(int64(packages))).Div(decimal.NewFromInt(int64(comboUnits)))
	default:
		price = base
	}
	return money(price)
}

func applyPromotion(area model.Area, p *model.Promotion, quantity, packages int) (Decision, error) {
	if !area.BasePrice.Valid {
		return Decision{}, fmt.Errorf("area %d has no base price: %w", area.ID, ErrNoApplicableRule)
	}
	base := area.BasePrice.Decimal
	return Decision{
		AreaID:          area.ID,
		Quantity:        quantity,
		BasePrice:       base,
		ServiceFee:      area.ServiceFee,
		UnitPrice:       PromotionPrice(base, p, packages, p.UnitsPerPackage()*packages),
		Source:          Source{Kind: SourcePromotion, ID: p.ID, Name: p.Name},
		AdjustmentType:  p.PricingType,
		AdjustmentValue: p.PricingValue,
		BundleSize:      p.UnitsPerPackage(),
	}, nil
}

func promotionCovers(p *model.Promotion, areaID uint64) bool {
	for _, it := range p.Items {
		if it.AreaID == areaID {
			return true
		}
	}
	return false
}

func bundleSize(st model.SaleStage) int {
	if st.BundleSize < 1 {
		return 1
	}
	return st.BundleSize
}

// money rounds to cents and floors at zero.
func money(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
