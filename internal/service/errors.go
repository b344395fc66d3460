package service

import (
	"errors"

	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
)

// Errors returned by the engine.  Handlers match them with errors.Is and
// translate them into specific, actionable responses.
var (
	ErrInsufficientInventory  = errors.New("insufficient inventory")
	ErrPromotionInvalid       = pricing.ErrPromotionInvalid
	ErrNoApplicableRule       = pricing.ErrNoApplicableRule
	ErrReservationExpired     = errors.New("reservation expired")
	ErrAlreadyProcessed       = errors.New("already processed")
	ErrNotOwner               = errors.New("not owner")
	ErrTransferAlreadyPending = errors.New("transfer already pending")
	ErrTransferExpired        = errors.New("transfer expired")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrNotTransferable        = errors.New("ticket cannot be transferred")
	ErrBadSignature           = errors.New("bad signature")
	ErrAlreadyUsed            = errors.New("credential already used")
	ErrWrongEvent             = errors.New("credential belongs to another event")
	ErrCredentialSuperseded   = errors.New("credential superseded")
	ErrNotFound               = errors.New("not found")
	ErrInvalidRequest         = errors.New("invalid request")
)
