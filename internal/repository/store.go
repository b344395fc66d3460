package repository

import (
	"context"
	"database/sql"
)

// Store bundles the MySQL repositories behind one transactional handle.
// Every repository reads the transaction from the context, so calls made
// inside WithTx share it.
type Store struct {
	db *sql.DB
	*RuleRepo
	*UnitRepo
	*ReservationRepo
	*CredentialRepo
	*TransferRepo
	*PaymentRepo
}

// NewStore wires every repository to db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:              db,
		RuleRepo:        NewRuleRepo(db),
		UnitRepo:        NewUnitRepo(db),
		ReservationRepo: NewReservationRepo(db),
		CredentialRepo:  NewCredentialRepo(db),
		TransferRepo:    NewTransferRepo(db),
		PaymentRepo:     NewPaymentRepo(db),
	}
}

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.db, fn)
}

// DB exposes the underlying pool for health checks and migrations.
func (s *Store) DB() *sql.DB { return s.db }
