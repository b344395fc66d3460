package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// UnitRepo is the Inventory Store: the units table is the single source of
// truth for availability.  Every status change is a compare-and-swap on
// the current status.
type UnitRepo struct {
	db *sql.DB
}

// NewUnitRepo returns a UnitRepo bound to the given database.
func NewUnitRepo(db *sql.DB) *UnitRepo { return &UnitRepo{db: db} }

// LockAvailableUnits selects up to limit available units of an area, lowest
// nomenclature first, and row-locks them.  Units already locked by another
// in-flight reservation are skipped rather than waited on.
func (r *UnitRepo) LockAvailableUnits(ctx context.Context, areaID uint64, limit int) ([]model.Unit, error) {
	const q = `SELECT id, area_id, event_id, nomenclature_letter, nomenclature_number, status, quarantine_reason, updated_at
	           FROM units
	           WHERE area_id = ? AND status = 'available'
	           ORDER BY nomenclature_letter, nomenclature_number, id
	           LIMIT ?
	           FOR UPDATE SKIP LOCKED`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, areaID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []model.Unit
	for rows.Next() {
		var (
			u      model.Unit
			reason sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.AreaID, &u.EventID, &u.NomenclatureLetter, &u.NomenclatureNumber, &u.Status, &reason, &u.UpdatedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			s := reason.String
			u.QuarantineReason = &s
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// SetUnitsStatus moves the listed units from one status to another and
// returns how many actually changed.
func (r *UnitRepo) SetUnitsStatus(ctx context.Context, unitIDs []uint64, from, to model.UnitStatus) (int64, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}
	q := `UPDATE units SET status = ?, updated_at = UTC_TIMESTAMP(6)
	      WHERE status = ? AND id IN (` + placeholders(len(unitIDs)) + `)`
	args := append([]any{string(to), string(from)}, idArgs(unitIDs)...)
	res, err := conn(ctx, r.db).ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// FindInconsistentUnits compares every non-quarantined unit with the latest
// reservation row that references it.
func (r *UnitRepo) FindInconsistentUnits(ctx context.Context, limit int) ([]model.UnitMismatch, error) {
	const q = `SELECT u.id, u.status, res.id, res.status
	           FROM units u
	           LEFT JOIN reservation_units ru
	                  ON ru.id = (SELECT MAX(x.id) FROM reservation_units x WHERE x.unit_id = u.id)
	           LEFT JOIN reservations res ON res.id = ru.reservation_id
	           WHERE u.status <> 'quarantined' AND NOT (
	                 (u.status = 'available' AND COALESCE(ru.status, 'released') = 'released')
	              OR (u.status = 'reserved' AND COALESCE(ru.status, '') = 'reserved' AND COALESCE(res.status, '') = 'active')
	              OR (u.status IN ('confirmed', 'used', 'transferred')
	                  AND COALESCE(ru.status, '') = u.status AND COALESCE(res.status, '') = 'confirmed')
	           )
	           ORDER BY u.id
	           LIMIT ?`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UnitMismatch
	for rows.Next() {
		var (
			m         model.UnitMismatch
			resID     sql.NullInt64
			resStatus sql.NullString
		)
		if err := rows.Scan(&m.UnitID, &m.UnitStatus, &resID, &resStatus); err != nil {
			return nil, err
		}
		if resID.Valid {
			id := uint64(resID.Int64)
			m.ReservationID = &id
		}
		if resStatus.Valid {
			st := model.ReservationStatus(resStatus.String)
			m.ReservationStatus = &st
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// QuarantineUnit isolates a unit that is still in the expected status.
func (r *UnitRepo) QuarantineUnit(ctx context.Context, unitID uint64, expected model.UnitStatus, reason string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE units SET status = 'quarantined', quarantine_reason = ?, updated_at = UTC_TIMESTAMP(6)
		 WHERE id = ? AND status = ?`, reason, unitID, string(expected))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}
