package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/repository"
)

// GatewayEvent is one already-verified payment gateway notification.
// EventID is derived from the gateway transaction id and is the
// idempotency key.  Only a non-terminal outcome (pending, error, refunded)
// recorded under an id may later be replaced by a terminal one.
type GatewayEvent struct {
	EventID       string
	Outcome       string
	ReservationID uint64
}

// Reconcile results recorded per processed event.
const (
	ResultConfirmed        = "confirmed"
	ResultCancelled        = "cancelled"
	ResultDuplicate        = "duplicate"
	ResultAlreadyProcessed = "already_processed"
	ResultExpired          = "reservation_expired"
	ResultNotFound         = "reservation_not_found"
	ResultIgnored          = "ignored"

	resultReceived = "received"
)

func terminalOutcome(outcome string) bool {
	switch outcome {
	case model.PaymentApproved, model.PaymentDeclined, model.PaymentVoided:
		return true
	}
	return false
}

// PaymentReconciler applies gateway outcomes to reservations exactly once
// per event id.
type PaymentReconciler struct {
	store        PaymentStore
	reservations *ReservationService
	clock        clock.Clock
	log          *zap.Logger
}

func NewPaymentReconciler(store PaymentStore, reservations *ReservationService, clk clock.Clock, logger *zap.Logger) *PaymentReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentReconciler{store: store, reservations: reservations, clock: clk, log: logger}
}

// Handle records the event and drives confirm or cancel in the same
// transaction.  Re-deliveries and events for reservations that already left
// the active state are acknowledged without error so the gateway stops
// retrying; only storage failures are returned.
func (p *PaymentReconciler) Handle(ctx context.Context, ev GatewayEvent) (string, error) {
	ev.EventID = strings.TrimSpace(ev.EventID)
	ev.Outcome = strings.ToLower(strings.TrimSpace(ev.Outcome))
	if ev.EventID == "" || ev.ReservationID == 0 {
		return "", fmt.Errorf("%w: event id and reservation are required", ErrInvalidRequest)
	}

	var (
		result    string
		confirmed model.Reservation
		issued    []model.Credential
	)
	err := p.store.WithTx(ctx, func(ctx context.Context) error {
		rec := model.PaymentEvent{
			EventID:       ev.EventID,
			ReservationID: ev.ReservationID,
			Outcome:       ev.Outcome,
			Result:        resultReceived,
			ProcessedAt:   p.clock.Now(),
		}
		err := p.store.InsertPaymentEvent(ctx, rec)
		if errors.Is(err, repository.ErrDuplicate) {
			// A pending or error notice does not settle the transaction; the
			// terminal outcome that follows under the same id takes its row.
			reopened := false
			if terminalOutcome(ev.Outcome) {
				reopened, err = p.store.ReplaceIgnoredPaymentEvent(ctx, rec)
				if err != nil {
					return fmt.Errorf("reopen payment event: %w", err)
				}
			}
			if !reopened {
				result = ResultDuplicate
				return nil
			}
		} else if err != nil {
			return fmt.Errorf("record payment event: %w", err)
		}

		switch ev.Outcome {
		case model.PaymentApproved:
			r, creds, err := p.reservations.confirm(ctx, ev.ReservationID)
			switch {
			case err == nil:
				result, confirmed, issued = ResultConfirmed, r, creds
			case errors.Is(err, ErrAlreadyProcessed):
				result = ResultAlreadyProcessed
			case errors.Is(err, ErrReservationExpired):
				result = ResultExpired
			case errors.Is(err, ErrNotFound):
				result = ResultNotFound
			default:
				return err
			}
		case model.PaymentDeclined, model.PaymentVoided:
			err := p.reservations.release(ctx, ev.ReservationID, model.ReservationCancelled)
			switch {
			case err == nil:
				result = ResultCancelled
			case errors.Is(err, ErrAlreadyProcessed):
				result = ResultAlreadyProcessed
			case errors.Is(err, ErrNotFound):
				result = ResultNotFound
			default:
				return err
			}
		default:
			result = ResultIgnored
		}
		return p.store.UpdatePaymentEventResult(ctx, ev.EventID, result)
	})
	if err != nil {
		return "", err
	}

	fields := []zap.Field{
		zap.String("event_id", ev.EventID),
		zap.String("outcome", ev.Outcome),
		zap.Uint64("reservation_id", ev.ReservationID),
		zap.String("result", result),
	}
	switch result {
	case ResultExpired:
		p.log.Warn("payment approved after hold expired", fields...)
	case ResultConfirmed, ResultCancelled:
		p.log.Info("payment event applied", fields...)
	default:
		p.log.Info("payment event acknowledged", fields...)
	}
	if result == ResultConfirmed {
		p.reservations.notify(ctx, confirmed, issued)
	}
	return result, nil
}
