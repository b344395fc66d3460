package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/repository"
)

const defaultTransferTTL = 48 * time.Hour

// TransferService moves ownership of confirmed units between users.
type TransferService struct {
	store TransferStore
	creds *CredentialService
	clock clock.Clock
	log   *zap.Logger
	ttl   time.Duration
}

// TransferOption customises a TransferService.
type TransferOption func(*TransferService)

// WithTransferTTL overrides how long a transfer token stays acceptable.
func WithTransferTTL(d time.Duration) TransferOption {
	return func(s *TransferService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func NewTransferService(store TransferStore, creds *CredentialService, clk clock.Clock, logger *zap.Logger, opts ...TransferOption) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TransferService{store: store, creds: creds, clock: clk, log: logger, ttl: defaultTransferTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate offers a held unit to another user and returns the pending
// transfer with its single-use token.
func (s *TransferService) Initiate(ctx context.Context, reservationUnitID, fromUser, toUser uint64) (model.Transfer, error) {
	if toUser == 0 || fromUser == toUser {
		return model.Transfer{}, fmt.Errorf("%w: recipient must be another user", ErrInvalidRequest)
	}
	now := s.clock.Now()
	var out model.Transfer
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		ru, err := s.store.GetReservationUnit(ctx, reservationUnitID, true)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reservation unit %d: %w", reservationUnitID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if ru.UserID != fromUser {
			return ErrNotOwner
		}
		if !transferable(ru.Status) {
			return fmt.Errorf("%w: ticket is %s", ErrNotTransferable, ru.Status)
		}

		pending, err := s.store.GetPendingTransfer(ctx, ru.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case now.Before(pending.ExpiresAt):
			return ErrTransferAlreadyPending
		default:
			if _, err := s.store.ResolveTransfer(ctx, pending.ID, model.TransferExpired, now); err != nil {
				return err
			}
		}

		token, err := newTransferToken()
		if err != nil {
			return err
		}
		t := model.Transfer{
			ReservationUnitID: ru.ID,
			FromUserID:        fromUser,
			ToUserID:          toUser,
			Token:             token,
			Status:            model.TransferPending,
			ExpiresAt:         now.Add(s.ttl),
			CreatedAt:         now,
		}
		if err := s.store.CreateTransfer(ctx, &t); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrTransferAlreadyPending
			}
			return fmt.Errorf("create transfer: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return model.Transfer{}, err
	}
	s.log.Info("transfer initiated",
		zap.Uint64("transfer_id", out.ID),
		zap.Uint64("reservation_unit_id", out.ReservationUnitID),
		zap.Uint64("from_user_id", fromUser),
		zap.Uint64("to_user_id", toUser),
	)
	return out, nil
}

// Accept completes a pending transfer for its recipient: the holder changes
// in place, the old credential is superseded and a new one is issued.
func (s *TransferService) Accept(ctx context.Context, token string, userID uint64) (model.ReservationUnit, model.Credential, error) {
	now := s.clock.Now()
	var (
		ru      model.ReservationUnit
		cred    model.Credential
		expired bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.store.GetTransferByToken(ctx, token, true)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTransferNotFound
		}
		if err != nil {
			return err
		}
		if t.Status != model.TransferPending {
			return fmt.Errorf("%w: transfer is %s", ErrTransferNotFound, t.Status)
		}
		if !now.Before(t.ExpiresAt) {
			expired = true
			_, err := s.store.ResolveTransfer(ctx, t.ID, model.TransferExpired, now)
			return err
		}
		if t.ToUserID != userID {
			return ErrNotOwner
		}

		cur, err := s.store.GetReservationUnit(ctx, t.ReservationUnitID, true)
		if err != nil {
			return err
		}
		if cur.UserID != t.FromUserID || !transferable(cur.Status) {
			return fmt.Errorf("%w: ticket changed since the transfer was offered", ErrNotTransferable)
		}
		ok, err := s.store.ReassignReservationUnit(ctx, cur.ID, t.FromUserID, t.ToUserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotOwner
		}
		if cur.Status == model.RUConfirmed {
			if _, err := s.store.UpdateReservationUnitStatus(ctx, cur.ID, model.RUConfirmed, model.RUTransferred); err != nil {
				return err
			}
			if _, err := s.store.SetUnitsStatus(ctx, []uint64{cur.UnitID}, model.UnitConfirmed, model.UnitTransferred); err != nil {
				return err
			}
		}
		if err := s.store.InsertTransferLog(ctx, model.TransferLog{
			ReservationUnitID: cur.ID,
			FromUserID:        t.FromUserID,
			ToUserID:          t.ToUserID,
			Reason:            "transfer accepted",
			CreatedAt:         now,
		}); err != nil {
			return fmt.Errorf("append transfer log: %w", err)
		}
		if err := s.store.InsertStatusChange(ctx, model.UnitStatusChange{
			ReservationUnitID: cur.ID,
			FromStatus:        string(cur.Status),
			ToStatus:          string(model.RUTransferred),
			ActorUserID:       &userID,
			Reason:            fmt.Sprintf("transferred from user %d", t.FromUserID),
			CreatedAt:         now,
		}); err != nil {
			return err
		}
		if _, err := s.store.SupersedeCredentials(ctx, cur.ID, now); err != nil {
			return fmt.Errorf("supersede credential: %w", err)
		}

		if cur.OriginalUserID == nil {
			from := t.FromUserID
			cur.OriginalUserID = &from
		}
		cur.UserID = t.ToUserID
		cur.Status = model.RUTransferred
		cur.TransferDate = &now
		c, err := s.creds.issue(ctx, cur)
		if err != nil {
			return err
		}
		if _, err := s.store.ResolveTransfer(ctx, t.ID, model.TransferAccepted, now); err != nil {
			return err
		}
		ru, cred = cur, c
		return nil
	})
	if err != nil {
		return model.ReservationUnit{}, model.Credential{}, err
	}
	if expired {
		return model.ReservationUnit{}, model.Credential{}, ErrTransferExpired
	}
	s.log.Info("transfer accepted",
		zap.Uint64("reservation_unit_id", ru.ID),
		zap.Uint64("to_user_id", ru.UserID),
		zap.String("credential_id", cred.ID),
	)
	return ru, cred, nil
}

// Cancel withdraws a pending transfer.  Only the offering user may cancel.
func (s *TransferService) Cancel(ctx context.Context, token string, userID uint64) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.store.GetTransferByToken(ctx, token, true)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTransferNotFound
		}
		if err != nil {
			return err
		}
		if t.FromUserID != userID {
			return ErrNotOwner
		}
		if t.Status != model.TransferPending {
			return fmt.Errorf("%w: transfer is %s", ErrTransferNotFound, t.Status)
		}
		ok, err := s.store.ResolveTransfer(ctx, t.ID, model.TransferCancelled, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransferNotFound
		}
		return nil
	})
}

// History lists the ownership changes of a unit.  Current and previous
// holders may read it.
func (s *TransferService) History(ctx context.Context, reservationUnitID, userID uint64) ([]model.TransferLog, error) {
	ru, err := s.store.GetReservationUnit(ctx, reservationUnitID, false)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("reservation unit %d: %w", reservationUnitID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListTransferLogs(ctx, reservationUnitID)
	if err != nil {
		return nil, err
	}
	if ru.UserID == userID {
		return logs, nil
	}
	for _, l := range logs {
		if l.FromUserID == userID || l.ToUserID == userID {
			return logs, nil
		}
	}
	return nil, ErrNotOwner
}

// ExpirePending marks every pending transfer past its deadline as expired.
func (s *TransferService) ExpirePending(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePendingTransfers(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire transfers: %w", err)
	}
	if n > 0 {
		s.log.Info("expired pending transfers", zap.Int64("count", n))
	}
	return n, nil
}

func transferable(s model.ReservationUnitStatus) bool {
	return s == model.RUConfirmed || s == model.RUTransferred
}

// newTransferToken returns 32 random bytes, URL-safe encoded.
func newTransferToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate transfer token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
