package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
)

func TestConsistencyChecker_QuarantinesMismatches(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 8)
	ctx := context.Background()

	// Healthy states across the lifecycle.
	h.reserve(t, 1, pricing.Line{AreaID: a.ID, Quantity: 1})
	confirmed, creds := h.confirmed(t, 2, a, 2)
	_, err := h.creds.Validate(ctx, creds[0].Token, 1, staffID)
	require.NoError(t, err)
	tr, err := h.transfers.Initiate(ctx, confirmed.Units[1].ID, 2, 3)
	require.NoError(t, err)
	_, _, err = h.transfers.Accept(ctx, tr.Token, 3)
	require.NoError(t, err)
	cancelled := h.reserve(t, 4, pricing.Line{AreaID: a.ID, Quantity: 1})
	require.NoError(t, h.reservations.Cancel(ctx, cancelled.ID))

	n, err := h.consistency.Run(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, n)

	// A released unit that claims to be reserved, and a never-sold unit that
	// claims to be confirmed.
	orphan := cancelled.Units[0].UnitID
	h.store.SetUnitStatus(orphan, model.UnitReserved)
	free := h.store.UnitIDs(a.ID, model.UnitAvailable)
	require.NotEmpty(t, free)
	unsold := free[0]
	h.store.SetUnitStatus(unsold, model.UnitConfirmed)

	n, err = h.consistency.Run(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []uint64{orphan, unsold} {
		u := h.store.Unit(id)
		require.Equal(t, model.UnitQuarantined, u.Status)
		require.NotNil(t, u.QuarantineReason)
	}
	require.Contains(t, *h.store.Unit(orphan).QuarantineReason, "cancelled")
	require.Contains(t, *h.store.Unit(unsold).QuarantineReason, "without a reservation")

	n, err = h.consistency.Run(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, n)

	// Quarantined units are never allocated.
	left := h.store.UnitsByStatus(a.ID, model.UnitAvailable)
	_, err = h.reservations.Create(ctx, CreateReservationInput{UserID: 5, Lines: []pricing.Line{{AreaID: a.ID, Quantity: left + 1}}})
	require.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestDescribeMismatch(t *testing.T) {
	id := uint64(12)
	st := model.ReservationExpired
	require.Equal(t, "unit is reserved but reservation 12 is expired",
		describeMismatch(model.UnitMismatch{UnitID: 1, UnitStatus: model.UnitReserved, ReservationID: &id, ReservationStatus: &st}))
	require.Equal(t, "unit is used without a reservation",
		describeMismatch(model.UnitMismatch{UnitID: 1, UnitStatus: model.UnitUsed}))
}
