package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// ReservationRepo persists reservations, their reservation_units rows with
// the frozen price snapshot, and the per-unit status history.  All
// timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationUnitColumns = `id, reservation_id, unit_id, area_id, event_id, user_id, status,
	base_price, unit_price_paid, service_fee, discount_type, discount_name, adjustment_type,
	adjustment_value, bundle_size, applied_sale_stage_id, applied_promotion_id,
	original_user_id, transfer_date, created_at, updated_at`

// CreateReservation inserts r and populates its generated id.
func (r *ReservationRepo) CreateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations
	           (user_id, event_id, status, promotion_id, promotion_packages, promoter_code, created_at, expires_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		res.UserID, res.EventID, string(res.Status), res.PromotionID, res.PromotionPackages, res.PromoterCode,
		res.CreatedAt, res.ExpiresAt, res.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// CreateReservationUnit inserts one reservation unit with its snapshot.  The
// snapshot columns are never updated afterwards.
func (r *ReservationRepo) CreateReservationUnit(ctx context.Context, ru *model.ReservationUnit) error {
	const q = `INSERT INTO reservation_units
	           (reservation_id, unit_id, area_id, event_id, user_id, status,
	            base_price, unit_price_paid, service_fee, discount_type, discount_name, adjustment_type,
	            adjustment_value, bundle_size, applied_sale_stage_id, applied_promotion_id, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	s := ru.Snapshot
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		ru.ReservationID, ru.UnitID, ru.AreaID, ru.EventID, ru.UserID, string(ru.Status),
		s.BasePrice, s.UnitPricePaid, s.ServiceFee, s.DiscountType, s.DiscountName, s.AdjustmentType,
		s.AdjustmentValue, s.BundleSize, ru.AppliedSaleStageID, ru.AppliedPromotionID, ru.CreatedAt, ru.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	ru.ID = uint64(id)
	return nil
}

// GetReservation loads a reservation and its units.  With forUpdate both
// the reservation and its unit rows stay locked for the transaction.
func (r *ReservationRepo) GetReservation(ctx context.Context, id uint64, forUpdate bool) (model.Reservation, error) {
	q := `SELECT id, user_id, event_id, status, promotion_id, promotion_packages, promoter_code,
	             created_at, expires_at, confirmed_at, updated_at
	      FROM reservations WHERE id = ?` + lockClause(forUpdate)
	var (
		res         model.Reservation
		promotionID sql.NullInt64
		promoter    sql.NullString
		confirmedAt sql.NullTime
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, q, id).Scan(
		&res.ID, &res.UserID, &res.EventID, &res.Status, &promotionID, &res.PromotionPackages, &promoter,
		&res.CreatedAt, &res.ExpiresAt, &confirmedAt, &res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	if err != nil {
		return model.Reservation{}, err
	}
	res.PromotionID = nullUint(promotionID)
	if promoter.Valid {
		s := promoter.String
		res.PromoterCode = &s
	}
	res.ConfirmedAt = nullTime(confirmedAt)

	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+reservationUnitColumns+` FROM reservation_units WHERE reservation_id = ? ORDER BY id`+lockClause(forUpdate), id)
	if err != nil {
		return model.Reservation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		ru, err := scanReservationUnit(rows)
		if err != nil {
			return model.Reservation{}, err
		}
		res.Units = append(res.Units, ru)
	}
	return res, rows.Err()
}

// TransitionReservation moves a reservation from one status to another.  It
// reports false when the reservation was no longer in from.
func (r *ReservationRepo) TransitionReservation(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time) (bool, error) {
	const q = `UPDATE reservations
	           SET status = ?, updated_at = ?,
	               confirmed_at = CASE WHEN ? = 'confirmed' THEN ? ELSE confirmed_at END
	           WHERE id = ? AND status = ?`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, string(to), at, string(to), at, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// SetReservationUnitsStatus moves every unit row of a reservation that is in
// from to to.
func (r *ReservationRepo) SetReservationUnitsStatus(ctx context.Context, reservationID uint64, from, to model.ReservationUnitStatus) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE reservation_units SET status = ?, updated_at = UTC_TIMESTAMP(6)
		 WHERE reservation_id = ? AND status = ?`, string(to), reservationID, string(from))
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// ListExpiredReservations returns active reservations whose hold ended
// before now, oldest deadline first.
func (r *ReservationRepo) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id FROM reservations WHERE status = 'active' AND expires_at <= ? ORDER BY expires_at LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTicketsByUser returns the confirmed, transferred and used units a
// user holds with the token of their current credential.
func (r *ReservationRepo) ListTicketsByUser(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	const q = `SELECT ru.id, ru.reservation_id, ru.unit_id, ru.event_id, a.name,
	                  u.nomenclature_letter, u.nomenclature_number, ru.status, COALESCE(c.token, '')
	           FROM reservation_units ru
	           JOIN units u ON u.id = ru.unit_id
	           JOIN areas a ON a.id = ru.area_id
	           LEFT JOIN credentials c ON c.reservation_unit_id = ru.id AND c.superseded = 0
	           WHERE ru.user_id = ? AND ru.status IN ('confirmed', 'transferred', 'used')
	           ORDER BY ru.event_id, ru.id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		var (
			t model.Ticket
			u model.Unit
		)
		if err := rows.Scan(&t.ReservationUnitID, &t.ReservationID, &t.UnitID, &t.EventID, &t.AreaName,
			&u.NomenclatureLetter, &u.NomenclatureNumber, &t.Status, &t.Token); err != nil {
			return nil, err
		}
		t.DisplayName = u.DisplayName()
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertStatusChange appends one row to the status history.
func (r *ReservationRepo) InsertStatusChange(ctx context.Context, c model.UnitStatusChange) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO reservation_unit_status_history
		 (reservation_unit_id, from_status, to_status, actor_user_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ReservationUnitID, c.FromStatus, c.ToStatus, c.ActorUserID, c.Reason, c.CreatedAt)
	return err
}

// GetReservationUnit loads a single reservation unit.
func (r *ReservationRepo) GetReservationUnit(ctx context.Context, id uint64, forUpdate bool) (model.ReservationUnit, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reservationUnitColumns+` FROM reservation_units WHERE id = ?`+lockClause(forUpdate), id)
	ru, err := scanReservationUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReservationUnit{}, ErrNotFound
	}
	return ru, err
}

// UpdateReservationUnitStatus moves one reservation unit between states.
func (r *ReservationRepo) UpdateReservationUnitStatus(ctx context.Context, id uint64, from, to model.ReservationUnitStatus) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE reservation_units SET status = ?, updated_at = UTC_TIMESTAMP(6) WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// ReassignReservationUnit changes the holder in place.  original_user_id
// keeps the first holder across repeated transfers.
func (r *ReservationRepo) ReassignReservationUnit(ctx context.Context, id, from, to uint64, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE reservation_units
		 SET user_id = ?, original_user_id = COALESCE(original_user_id, ?), transfer_date = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`, to, from, at, at, id, from)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReservationUnit(s scanner) (model.ReservationUnit, error) {
	var (
		ru           model.ReservationUnit
		discountName sql.NullString
		adjustType   sql.NullString
		stageID      sql.NullInt64
		promotionID  sql.NullInt64
		originalUser sql.NullInt64
		transferDate sql.NullTime
	)
	err := s.Scan(
		&ru.ID, &ru.ReservationID, &ru.UnitID, &ru.AreaID, &ru.EventID, &ru.UserID, &ru.Status,
		&ru.Snapshot.BasePrice, &ru.Snapshot.UnitPricePaid, &ru.Snapshot.ServiceFee, &ru.Snapshot.DiscountType,
		&discountName, &adjustType, &ru.Snapshot.AdjustmentValue, &ru.Snapshot.BundleSize,
		&stageID, &promotionID, &originalUser, &transferDate, &ru.CreatedAt, &ru.UpdatedAt,
	)
	if err != nil {
		return model.ReservationUnit{}, err
	}
	ru.Snapshot.DiscountName = discountName.String
	ru.Snapshot.AdjustmentType = adjustType.String
	ru.AppliedSaleStageID = nullUint(stageID)
	ru.AppliedPromotionID = nullUint(promotionID)
	ru.OriginalUserID = nullUint(originalUser)
	ru.TransferDate = nullTime(transferDate)
	return ru, nil
}

func nullUint(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
