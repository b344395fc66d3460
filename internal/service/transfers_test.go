package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
)

func TestInitiate(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 2)
	r, _ := h.confirmed(t, 1, a, 1)
	ru := r.Units[0]

	tr, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)
	require.Equal(t, model.TransferPending, tr.Status)
	require.Len(t, tr.Token, 43)
	require.Equal(t, t0.Add(48*time.Hour), tr.ExpiresAt)

	_, err = h.transfers.Initiate(context.Background(), ru.ID, 1, 3)
	require.ErrorIs(t, err, ErrTransferAlreadyPending)
}

func TestInitiate_Rejections(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 3)
	confirmed, _ := h.confirmed(t, 1, a, 1)
	held := h.reserve(t, 1, pricing.Line{AreaID: a.ID, Quantity: 1})
	used, usedCreds := h.confirmed(t, 1, a, 1)
	_, err := h.creds.Validate(context.Background(), usedCreds[0].Token, 1, staffID)
	require.NoError(t, err)

	cases := []struct {
		name     string
		ru       uint64
		from, to uint64
		want     error
	}{
		{name: "not the holder", ru: confirmed.Units[0].ID, from: 2, to: 3, want: ErrNotOwner},
		{name: "to self", ru: confirmed.Units[0].ID, from: 1, to: 1, want: ErrInvalidRequest},
		{name: "no recipient", ru: confirmed.Units[0].ID, from: 1, to: 0, want: ErrInvalidRequest},
		{name: "unpaid hold", ru: held.Units[0].ID, from: 1, to: 2, want: ErrNotTransferable},
		{name: "already used", ru: used.Units[0].ID, from: 1, to: 2, want: ErrNotTransferable},
		{name: "unknown unit", ru: 424242, from: 1, to: 2, want: ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.transfers.Initiate(context.Background(), tc.ru, tc.from, tc.to)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAccept_MovesOwnershipAndReissuesCredential(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 1)
	r, creds := h.confirmed(t, 1, a, 1)
	ru := r.Units[0]
	old := creds[0]

	tr, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	_, _, err = h.transfers.Accept(context.Background(), tr.Token, 3)
	require.ErrorIs(t, err, ErrNotOwner)

	moved, cred, err := h.transfers.Accept(context.Background(), tr.Token, 2)
	require.NoError(t, err)
	require.Equal(t, ru.ID, moved.ID)
	require.Equal(t, uint64(2), moved.UserID)
	require.Equal(t, uint64(1), *moved.OriginalUserID)
	require.Equal(t, model.RUTransferred, moved.Status)
	require.NotEqual(t, old.ID, cred.ID)
	require.Equal(t, model.UnitTransferred, h.store.Unit(ru.UnitID).Status)
	require.Equal(t, model.TransferAccepted, h.store.Transfer(tr.ID).Status)

	all := h.store.CredentialsFor(ru.ID)
	require.Len(t, all, 2)
	require.True(t, all[0].Superseded)
	require.False(t, all[1].Superseded)

	_, err = h.creds.Validate(context.Background(), old.Token, 1, staffID)
	require.ErrorIs(t, err, ErrCredentialSuperseded)
	_, err = h.creds.Validate(context.Background(), cred.Token, 1, staffID)
	require.NoError(t, err)
	_, err = h.creds.Validate(context.Background(), cred.Token, 1, staffID)
	require.ErrorIs(t, err, ErrAlreadyUsed)

	_, _, err = h.transfers.Accept(context.Background(), tr.Token, 2)
	require.ErrorIs(t, err, ErrTransferNotFound)

	mine, err := h.reservations.MyTickets(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, cred.Token, mine[0].Token)
	theirs, err := h.reservations.MyTickets(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, theirs)
}

func TestAccept_ChainKeepsOriginalHolder(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 1)
	r, _ := h.confirmed(t, 1, a, 1)
	ru := r.Units[0]

	first, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)
	_, _, err = h.transfers.Accept(context.Background(), first.Token, 2)
	require.NoError(t, err)

	second, err := h.transfers.Initiate(context.Background(), ru.ID, 2, 3)
	require.NoError(t, err)
	moved, _, err := h.transfers.Accept(context.Background(), second.Token, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), moved.UserID)
	require.Equal(t, uint64(1), *moved.OriginalUserID)

	for _, user := range []uint64{1, 2, 3} {
		logs, err := h.transfers.History(context.Background(), ru.ID, user)
		require.NoError(t, err, "user %d", user)
		require.Len(t, logs, 2)
	}
	_, err = h.transfers.History(context.Background(), ru.ID, 4)
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = h.transfers.History(context.Background(), 424242, 1)
	require.ErrorIs(t, err, ErrNotFound)

	live := 0
	for _, c := range h.store.CredentialsFor(ru.ID) {
		if !c.Superseded {
			live++
		}
	}
	require.Equal(t, 1, live)
}

func TestAccept_ExpiredToken(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 1)
	r, creds := h.confirmed(t, 1, a, 1)
	ru := r.Units[0]

	tr, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)
	h.clock.Advance(49 * time.Hour)

	_, _, err = h.transfers.Accept(context.Background(), tr.Token, 2)
	require.ErrorIs(t, err, ErrTransferExpired)
	require.Equal(t, model.TransferExpired, h.store.Transfer(tr.ID).Status)

	// Ownership and the original credential are untouched.
	_, err = h.creds.Validate(context.Background(), creds[0].Token, 1, staffID)
	require.NoError(t, err)

	_, _, err = h.transfers.Accept(context.Background(), "no-such-token", 2)
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestInitiate_ReplacesStalePendingTransfer(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 1)
	r, _ := h.confirmed(t, 1, a, 1)
	ru := r.Units[0]

	stale, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)
	h.clock.Advance(49 * time.Hour)

	fresh, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 3)
	require.NoError(t, err)
	require.NotEqual(t, stale.Token, fresh.Token)
	require.Equal(t, model.TransferExpired, h.store.Transfer(stale.ID).Status)
}

func TestCancelTransfer(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 1)
	r, _ := h.confirmed(t, 1, a, 1)
	ru := r.Units[0]

	tr, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)

	require.ErrorIs(t, h.transfers.Cancel(context.Background(), tr.Token, 2), ErrNotOwner)
	require.NoError(t, h.transfers.Cancel(context.Background(), tr.Token, 1))
	require.Equal(t, model.TransferCancelled, h.store.Transfer(tr.ID).Status)
	require.ErrorIs(t, h.transfers.Cancel(context.Background(), tr.Token, 1), ErrTransferNotFound)
	require.ErrorIs(t, h.transfers.Cancel(context.Background(), "missing", 1), ErrTransferNotFound)

	_, _, err = h.transfers.Accept(context.Background(), tr.Token, 2)
	require.ErrorIs(t, err, ErrTransferNotFound)

	// A new offer can be made once the old one is gone.
	_, err = h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
	require.NoError(t, err)
}

func TestExpirePending(t *testing.T) {
	h := newHarness(t)
	a := h.area(1, "General", "100", "0", 2)
	r, _ := h.confirmed(t, 1, a, 2)

	for _, ru := range r.Units {
		_, err := h.transfers.Initiate(context.Background(), ru.ID, 1, 2)
		require.NoError(t, err)
	}
	n, err := h.transfers.ExpirePending(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	h.clock.Advance(48 * time.Hour)
	n, err = h.transfers.ExpirePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
