package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
)

// PaymentRepo stores processed gateway events keyed by event id.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// InsertPaymentEvent records e.  A repeated event id returns ErrDuplicate,
// which makes webhook redelivery a no-op.
func (r *PaymentRepo) InsertPaymentEvent(ctx context.Context, e model.PaymentEvent) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO payment_events (event_id, reservation_id, outcome, result, processed_at)
		 VALUES (?, ?, ?, ?, ?)`, e.EventID, e.ReservationID, e.Outcome, e.Result, e.ProcessedAt)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// ReplaceIgnoredPaymentEvent claims the row of an event that was only
// acknowledged so a later terminal outcome for the same id is applied.
// Concurrent redeliveries serialize on the row lock; the loser sees a
// result other than ignored and matches nothing.
func (r *PaymentRepo) ReplaceIgnoredPaymentEvent(ctx context.Context, e model.PaymentEvent) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payment_events SET outcome = ?, result = ?, processed_at = ?
		 WHERE event_id = ? AND reservation_id = ? AND result = 'ignored'`,
		e.Outcome, e.Result, e.ProcessedAt, e.EventID, e.ReservationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PaymentRepo) UpdatePaymentEventResult(ctx context.Context, eventID, result string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payment_events SET result = ? WHERE event_id = ?`, result, eventID)
	return err
}
