package worker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
	"github.com/iliyamo/ticket-reservation-engine/internal/testutil"
)

func TestSweepJobsReleaseExpiredState(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	creds, err := service.NewCredentialService(store, "secret", clk, log)
	require.NoError(t, err)
	reservations := service.NewReservationService(store, creds, clk, log)
	transfers := service.NewTransferService(store, creds, clk, log, service.WithTransferTTL(time.Hour))
	checker := service.NewConsistencyChecker(store, log)

	area := store.AddArea(model.Area{EventID: 1, Name: "General", BasePrice: decimal.NewNullDecimal(decimal.NewFromInt(50))}, 3, "B")
	held, err := reservations.Create(ctx, service.CreateReservationInput{UserID: 1, Lines: []pricing.Line{{AreaID: area.ID, Quantity: 1}}})
	require.NoError(t, err)
	paid, err := reservations.Create(ctx, service.CreateReservationInput{UserID: 2, Lines: []pricing.Line{{AreaID: area.ID, Quantity: 1}}})
	require.NoError(t, err)
	_, _, err = reservations.Confirm(ctx, paid.ID)
	require.NoError(t, err)
	offer, err := transfers.Initiate(ctx, paid.Units[0].ID, 2, 3)
	require.NoError(t, err)

	s := NewSweeper(time.Minute, nil, log,
		ExpireReservations(reservations, 10),
		ExpireTransfers(transfers),
		CheckConsistency(checker, 10),
	)
	s.Tick(ctx)
	require.Equal(t, 1, store.UnitsByStatus(area.ID, model.UnitReserved))

	clk.Advance(2 * time.Hour)
	s.Tick(ctx)

	got, err := reservations.Get(ctx, held.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReservationExpired, got.Status)
	require.Equal(t, 2, store.UnitsByStatus(area.ID, model.UnitAvailable))
	require.Equal(t, model.TransferExpired, store.Transfer(offer.ID).Status)
	require.Zero(t, store.UnitsByStatus(area.ID, model.UnitQuarantined))
}
