package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// CredentialRepo persists entry credentials.  Rows are never deleted:
// transfers supersede them and validation only flips used.
type CredentialRepo struct {
	db *sql.DB
}

// NewCredentialRepo returns a CredentialRepo bound to the given database.
func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{db: db} }

const credentialColumns = `id, reservation_unit_id, event_id, token, issued_at, used, used_at, superseded, superseded_at`

func (r *CredentialRepo) InsertCredential(ctx context.Context, c model.Credential) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO credentials (id, reservation_unit_id, event_id, token, issued_at, used, superseded)
		 VALUES (?, ?, ?, ?, ?, 0, 0)`,
		c.ID, c.ReservationUnitID, c.EventID, c.Token, c.IssuedAt)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (r *CredentialRepo) GetCredential(ctx context.Context, id string) (model.Credential, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	return scanCredential(row)
}

// GetActiveCredential returns the non-superseded credential of a unit.
func (r *CredentialRepo) GetActiveCredential(ctx context.Context, reservationUnitID uint64) (model.Credential, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		 WHERE reservation_unit_id = ? AND superseded = 0
		 ORDER BY issued_at DESC LIMIT 1`, reservationUnitID)
	return scanCredential(row)
}

// MarkCredentialUsed is the single atomic check-and-set behind entry
// validation: it succeeds for exactly one caller.
func (r *CredentialRepo) MarkCredentialUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE credentials SET used = 1, used_at = ? WHERE id = ? AND used = 0 AND superseded = 0`, at, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

func (r *CredentialRepo) ResetCredential(ctx context.Context, id string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE credentials SET used = 0, used_at = NULL WHERE id = ? AND used = 1 AND superseded = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// SupersedeCredentials invalidates every live credential of a unit.
func (r *CredentialRepo) SupersedeCredentials(ctx context.Context, reservationUnitID uint64, at time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE credentials SET superseded = 1, superseded_at = ? WHERE reservation_unit_id = ? AND superseded = 0`,
		at, reservationUnitID)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// CheckInStats counts the live credentials of an event by entry state.
func (r *CredentialRepo) CheckInStats(ctx context.Context, eventID uint64) (model.CheckInStats, error) {
	const q = `SELECT COUNT(*),
	                  COALESCE(SUM(c.used = 1), 0),
	                  COALESCE(SUM(c.used = 0), 0),
	                  MAX(c.used_at)
	           FROM credentials c
	           WHERE c.event_id = ? AND c.superseded = 0`
	var (
		st   model.CheckInStats
		last sql.NullTime
	)
	if err := conn(ctx, r.db).QueryRowContext(ctx, q, eventID).Scan(&st.TotalTickets, &st.CheckedIn, &st.Pending, &last); err != nil {
		return model.CheckInStats{}, err
	}
	st.EventID = eventID
	st.LastCheckIn = nullTime(last)
	return st, nil
}

func scanCredential(s scanner) (model.Credential, error) {
	var (
		c            model.Credential
		usedAt       sql.NullTime
		supersededAt sql.NullTime
	)
	err := s.Scan(&c.ID, &c.ReservationUnitID, &c.EventID, &c.Token, &c.IssuedAt, &c.Used, &usedAt, &c.Superseded, &supersededAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrNotFound
	}
	if err != nil {
		return model.Credential{}, err
	}
	c.UsedAt = nullTime(usedAt)
	c.SupersededAt = nullTime(supersededAt)
	return c, nil
}
