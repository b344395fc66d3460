package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
	"github.com/iliyamo/ticket-reservation-engine/internal/queue"
	"github.com/iliyamo/ticket-reservation-engine/internal/testutil"
)

const testSecret = "test-credential-secret"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var (
	_ ReservationStore = (*testutil.Store)(nil)
	_ CredentialStore  = (*testutil.Store)(nil)
	_ TransferStore    = (*testutil.Store)(nil)
	_ PaymentStore     = (*testutil.Store)(nil)
	_ ConsistencyStore = (*testutil.Store)(nil)
)

type harness struct {
	store        *testutil.Store
	clock        *clock.Manual
	creds        *CredentialService
	reservations *ReservationService
	payments     *PaymentReconciler
	transfers    *TransferService
	consistency  *ConsistencyChecker
	notifier     *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{
		store:    testutil.NewStore(),
		clock:    clock.NewManual(t0),
		notifier: &recordingNotifier{},
	}
	creds, err := NewCredentialService(h.store, testSecret, h.clock, log)
	require.NoError(t, err)
	h.creds = creds
	h.reservations = NewReservationService(h.store, creds, h.clock, log, WithHoldTTL(15*time.Minute), WithNotifier(h.notifier))
	h.payments = NewPaymentReconciler(h.store, h.reservations, h.clock, log)
	h.transfers = NewTransferService(h.store, creds, h.clock, log, WithTransferTTL(48*time.Hour))
	h.consistency = NewConsistencyChecker(h.store, log)
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// area seeds an event area with capacity units lettered "A".
func (h *harness) area(eventID uint64, name, base, fee string, capacity int) model.Area {
	return h.store.AddArea(model.Area{
		EventID:    eventID,
		Name:       name,
		BasePrice:  decimal.NewNullDecimal(dec(base)),
		ServiceFee: dec(fee),
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}, capacity, "A")
}

func (h *harness) reserve(t *testing.T, userID uint64, lines ...pricing.Line) model.Reservation {
	t.Helper()
	r, err := h.reservations.Create(context.Background(), CreateReservationInput{UserID: userID, Lines: lines})
	require.NoError(t, err)
	return r
}

// confirmed reserves and pays for quantity units of area.
func (h *harness) confirmed(t *testing.T, userID uint64, a model.Area, quantity int) (model.Reservation, []model.Credential) {
	t.Helper()
	r := h.reserve(t, userID, pricing.Line{AreaID: a.ID, Quantity: quantity})
	out, creds, err := h.reservations.Confirm(context.Background(), r.ID)
	require.NoError(t, err)
	return out, creds
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.TicketsIssuedEvent
	err    error
}

func (n *recordingNotifier) TicketsIssued(_ context.Context, ev queue.TicketsIssuedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
