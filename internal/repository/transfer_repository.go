package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// TransferRepo persists transfer offers and the append-only transfer log.
type TransferRepo struct {
	db *sql.DB
}

// NewTransferRepo returns a TransferRepo bound to the given database.
func NewTransferRepo(db *sql.DB) *TransferRepo { return &TransferRepo{db: db} }

const transferColumns = `id, reservation_unit_id, from_user_id, to_user_id, token, status, expires_at, created_at, resolved_at`

// GetPendingTransfer returns the most recent pending transfer of a unit.
func (r *TransferRepo) GetPendingTransfer(ctx context.Context, reservationUnitID uint64) (model.Transfer, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers
		 WHERE reservation_unit_id = ? AND status = 'pending'
		 ORDER BY id DESC LIMIT 1`+lockClause(txFromContext(ctx) != nil), reservationUnitID)
	return scanTransfer(row)
}

// CreateTransfer inserts t and populates its id.
func (r *TransferRepo) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO transfers (reservation_unit_id, from_user_id, to_user_id, token, status, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ReservationUnitID, t.FromUserID, t.ToUserID, t.Token, string(t.Status), t.ExpiresAt, t.CreatedAt)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

func (r *TransferRepo) GetTransferByToken(ctx context.Context, token string, forUpdate bool) (model.Transfer, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE token = ?`+lockClause(forUpdate), token)
	return scanTransfer(row)
}

// ResolveTransfer moves a pending transfer to a final status.
func (r *TransferRepo) ResolveTransfer(ctx context.Context, id uint64, to model.TransferStatus, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE transfers SET status = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`, string(to), at, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *TransferRepo) InsertTransferLog(ctx context.Context, l model.TransferLog) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO transfer_logs (reservation_unit_id, from_user_id, to_user_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)`, l.ReservationUnitID, l.FromUserID, l.ToUserID, l.Reason, l.CreatedAt)
	return err
}

func (r *TransferRepo) ListTransferLogs(ctx context.Context, reservationUnitID uint64) ([]model.TransferLog, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, reservation_unit_id, from_user_id, to_user_id, reason, created_at
		 FROM transfer_logs WHERE reservation_unit_id = ? ORDER BY id`, reservationUnitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TransferLog
	for rows.Next() {
		var l model.TransferLog
		if err := rows.Scan(&l.ID, &l.ReservationUnitID, &l.FromUserID, &l.ToUserID, &l.Reason, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ExpirePendingTransfers marks overdue pending transfers expired.
func (r *TransferRepo) ExpirePendingTransfers(ctx context.Context, now time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE transfers SET status = 'expired', resolved_at = ? WHERE status = 'pending' AND expires_at <= ?`, now, now)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func scanTransfer(s scanner) (model.Transfer, error) {
	var (
		t        model.Transfer
		resolved sql.NullTime
	)
	err := s.Scan(&t.ID, &t.ReservationUnitID, &t.FromUserID, &t.ToUserID, &t.Token, &t.Status, &t.ExpiresAt, &t.CreatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transfer{}, ErrNotFound
	}
	if err != nil {
		return model.Transfer{}, err
	}
	t.ResolvedAt = nullTime(resolved)
	return t, nil
}
