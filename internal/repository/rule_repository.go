package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// RuleRepo reads areas, sale stages and promotions and maintains the
// stage and promotion consumption counters.
type RuleRepo struct {
	db *sql.DB
}

// NewRuleRepo returns a RuleRepo bound to the given database.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// GetAreas loads the areas with the given ids keyed by id.  Missing ids are
// simply absent from the map.
func (r *RuleRepo) GetAreas(ctx context.Context, ids []uint64) (map[uint64]model.Area, error) {
	out := make(map[uint64]model.Area, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT id, event_id, name, base_price, service_fee, capacity, created_at, updated_at
	      FROM areas WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Area
		if err := rows.Scan(&a.ID, &a.EventID, &a.Name, &a.BasePrice, &a.ServiceFee, &a.Capacity, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

// ListSaleStages returns the active stages of an event that cover any of
// the given areas, each with its full area list.  Time window and quantity
// filtering is left to the pricing resolver.  With forUpdate the stage rows
// are locked in id order and their counters re-read, so the caller prices
// against the latest committed quantity_sold.
func (r *RuleRepo) ListSaleStages(ctx context.Context, eventID uint64, areaIDs []uint64, forUpdate bool) ([]model.SaleStage, error) {
	if len(areaIDs) == 0 {
		return nil, nil
	}
	q := `SELECT DISTINCT s.id, s.event_id, s.name, s.adjustment_type, s.adjustment_value, s.bundle_size,
	             s.quantity_available, s.quantity_sold, s.priority_order, s.is_active,
	             s.start_time, s.end_time, s.created_at
	      FROM sale_stages s
	      JOIN sale_stage_areas sa ON sa.sale_stage_id = s.id
	      WHERE s.event_id = ? AND s.is_active = 1 AND sa.area_id IN (` + placeholders(len(areaIDs)) + `)
	      ORDER BY s.priority_order, s.created_at, s.id`
	args := append([]any{eventID}, idArgs(areaIDs)...)
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var stages []model.SaleStage
	for rows.Next() {
		var (
			s   model.SaleStage
			end sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.EventID, &s.Name, &s.AdjustmentType, &s.AdjustmentValue, &s.BundleSize,
			&s.QuantityAvailable, &s.QuantitySold, &s.PriorityOrder, &s.IsActive,
			&s.StartTime, &end, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if end.Valid {
			t := end.Time
			s.EndTime = &t
		}
		stages = append(stages, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return stages, nil
	}

	ids := make([]uint64, len(stages))
	index := make(map[uint64]int, len(stages))
	for i, s := range stages {
		ids[i] = s.ID
		index[s.ID] = i
	}
	if forUpdate {
		if stages, err = r.lockStageCounters(ctx, stages, ids, index); err != nil {
			return nil, err
		}
		if len(stages) == 0 {
			return stages, nil
		}
		ids = ids[:0]
		for i, s := range stages {
			ids = append(ids, s.ID)
			index[s.ID] = i
		}
	}
	arows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT sale_stage_id, area_id FROM sale_stage_areas WHERE sale_stage_id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var sid, aid uint64
		if err := arows.Scan(&sid, &aid); err != nil {
			return nil, err
		}
		i := index[sid]
		stages[i].AreaIDs = append(stages[i].AreaIDs, aid)
	}
	return stages, arows.Err()
}

// lockStageCounters locks the listed stage rows and refreshes their
// counters from the locking read.  Stages deactivated since the first read
// are dropped.
func (r *RuleRepo) lockStageCounters(ctx context.Context, stages []model.SaleStage, ids []uint64, index map[uint64]int) ([]model.SaleStage, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, quantity_available, quantity_sold, is_active
		 FROM sale_stages WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`+lockClause(true),
		idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	active := make(map[uint64]bool, len(ids))
	for rows.Next() {
		var (
			id              uint64
			available, sold int
			isActive        bool
		)
		if err := rows.Scan(&id, &available, &sold, &isActive); err != nil {
			return nil, err
		}
		i := index[id]
		stages[i].QuantityAvailable = available
		stages[i].QuantitySold = sold
		active[id] = isActive
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := stages[:0]
	for _, s := range stages {
		if active[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetPromotionByCode loads a promotion of the event by its code together
// with its combo items.  With forUpdate the promotion row stays locked
// until the surrounding transaction ends.
func (r *RuleRepo) GetPromotionByCode(ctx context.Context, eventID uint64, code string, forUpdate bool) (model.Promotion, error) {
	q := `SELECT id, event_id, name, code, pricing_type, pricing_value, quantity_available, uses_count,
	             is_active, start_time, end_time
	      FROM promotions WHERE event_id = ? AND code = ?` + lockClause(forUpdate)
	var (
		p       model.Promotion
		pcode   sql.NullString
		endTime sql.NullTime
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, q, eventID, code).Scan(
		&p.ID, &p.EventID, &p.Name, &pcode, &p.PricingType, &p.PricingValue, &p.QuantityAvailable, &p.UsesCount,
		&p.IsActive, &p.StartTime, &endTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Promotion{}, ErrNotFound
	}
	if err != nil {
		return model.Promotion{}, err
	}
	if pcode.Valid {
		c := pcode.String
		p.Code = &c
	}
	if endTime.Valid {
		t := endTime.Time
		p.EndTime = &t
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT promotion_id, area_id, quantity FROM promotion_items WHERE promotion_id = ? ORDER BY area_id`, p.ID)
	if err != nil {
		return model.Promotion{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it model.PromotionItem
		if err := rows.Scan(&it.PromotionID, &it.AreaID, &it.Quantity); err != nil {
			return model.Promotion{}, err
		}
		p.Items = append(p.Items, it)
	}
	return p, rows.Err()
}

// IncrementStageSold consumes n units of a stage only if n remain.
func (r *RuleRepo) IncrementStageSold(ctx context.Context, stageID uint64, n int) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sale_stages SET quantity_sold = quantity_sold + ?
		 WHERE id = ? AND quantity_available - quantity_sold >= ?`, n, stageID, n)
	if err != nil {
		return false, err
	}
	rows, err := affected(res)
	return rows == 1, err
}

// DecrementStageSold gives n units back to a stage, never below zero.
func (r *RuleRepo) DecrementStageSold(ctx context.Context, stageID uint64, n int) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sale_stages SET quantity_sold = GREATEST(quantity_sold - ?, 0) WHERE id = ?`, n, stageID)
	if err != nil {
		return fmt.Errorf("decrement stage %d: %w", stageID, err)
	}
	return nil
}

// IncrementPromotionUses consumes n packages of a promotion only if n remain.
func (r *RuleRepo) IncrementPromotionUses(ctx context.Context, promotionID uint64, n int) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE promotions SET uses_count = uses_count + ?
		 WHERE id = ? AND uses_count + ? <= quantity_available`, n, promotionID, n)
	if err != nil {
		return false, err
	}
	rows, err := affected(res)
	return rows == 1, err
}

// DecrementPromotionUses gives n packages back to a promotion.
func (r *RuleRepo) DecrementPromotionUses(ctx context.Context, promotionID uint64, n int) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE promotions SET uses_count = GREATEST(uses_count - ?, 0) WHERE id = ?`, n, promotionID)
	if err != nil {
		return fmt.Errorf("decrement promotion %d: %w", promotionID, err)
	}
	return nil
}
