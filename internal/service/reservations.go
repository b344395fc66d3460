package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
	"github.com/iliyamo/ticket-reservation-engine/internal/queue"
	"github.com/iliyamo/ticket-reservation-engine/internal/repository"
)

const (
	defaultHoldTTL = 15 * time.Minute
	notifyTimeout  = 5 * time.Second

	// MaxUnitsPerReservation caps the units one reservation may hold.
	MaxUnitsPerReservation = 20
)

// Notifier receives TicketsIssued after a confirm commits.  Delivery
// failures are logged and never undo the confirm.
type Notifier interface {
	TicketsIssued(ctx context.Context, ev queue.TicketsIssuedEvent) error
}

// ReservationService drives the create, confirm, cancel and expire
// lifecycle of reservations.
type ReservationService struct {
	store    ReservationStore
	creds    *CredentialService
	notifier Notifier
	clock    clock.Clock
	log      *zap.Logger
	holdTTL  time.Duration
}

// ReservationOption customises a ReservationService.
type ReservationOption func(*ReservationService)

// WithHoldTTL overrides the default 15 minute hold window.
func WithHoldTTL(d time.Duration) ReservationOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithNotifier sets the collaborator told about issued tickets.
func WithNotifier(n Notifier) ReservationOption {
	return func(s *ReservationService) { s.notifier = n }
}

func NewReservationService(store ReservationStore, creds *CredentialService, clk clock.Clock, logger *zap.Logger, opts ...ReservationOption) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReservationService{
		store:   store,
		creds:   creds,
		clock:   clk,
		log:     logger,
		holdTTL: defaultHoldTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateReservationInput is a buyer's request for units.
type CreateReservationInput struct {
	UserID        uint64
	Lines         []pricing.Line
	PromotionCode string
	PromoterCode  string
}

// Create prices every line, allocates units in nomenclature order and
// consumes stage or promotion quantity, all in one transaction.  Either
// every requested unit is reserved or none is.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (model.Reservation, error) {
	if in.UserID == 0 {
		return model.Reservation{}, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	lines, err := normalizeLines(in.Lines)
	if err != nil {
		return model.Reservation{}, err
	}
	areaIDs := make([]uint64, len(lines))
	for i, ln := range lines {
		areaIDs[i] = ln.AreaID
	}
	code := strings.TrimSpace(in.PromotionCode)
	now := s.clock.Now()

	var out model.Reservation
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		areas, err := s.store.GetAreas(ctx, areaIDs)
		if err != nil {
			return fmt.Errorf("get areas: %w", err)
		}
		var eventID uint64
		for _, id := range areaIDs {
			a, ok := areas[id]
			if !ok {
				return fmt.Errorf("area %d: %w", id, ErrNotFound)
			}
			if eventID != 0 && a.EventID != eventID {
				return fmt.Errorf("%w: areas belong to different events", ErrInvalidRequest)
			}
			eventID = a.EventID
		}

		// Stage rows are locked before the promotion row; release takes them
		// in the same order.
		stages, err := s.store.ListSaleStages(ctx, eventID, areaIDs, true)
		if err != nil {
			return fmt.Errorf("list sale stages: %w", err)
		}
		req := pricing.Request{Lines: lines, At: now, Areas: areas, Stages: stages}
		if code != "" {
			req.CodeSupplied = true
			p, err := s.store.GetPromotionByCode(ctx, eventID, code, true)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return fmt.Errorf("get promotion: %w", err)
			default:
				req.Promotion = &p
			}
		}
		quote, err := s.quoteAndConsumeStages(ctx, req)
		if err != nil {
			return err
		}

		type allocation struct {
			decision pricing.Decision
			units    []model.Unit
		}
		allocs := make([]allocation, 0, len(quote.Decisions))
		var unitIDs []uint64
		for _, d := range quote.Decisions {
			units, err := s.store.LockAvailableUnits(ctx, d.AreaID, d.Quantity)
			if err != nil {
				return fmt.Errorf("lock units: %w", err)
			}
			if len(units) < d.Quantity {
				return fmt.Errorf("%w: area %d has %d of %d requested units", ErrInsufficientInventory, d.AreaID, len(units), d.Quantity)
			}
			allocs = append(allocs, allocation{decision: d, units: units})
			for _, u := range units {
				unitIDs = append(unitIDs, u.ID)
			}
		}


		res := model.Reservation{
			UserID:    in.UserID,
			EventID:   eventID,
			Status:    model.ReservationActive,
			CreatedAt: now,
			ExpiresAt: now.Add(s.holdTTL),
			UpdatedAt: now,
		}
		if pc := strings.TrimSpace(in.PromoterCode); pc != "" {
			res.PromoterCode = &pc
		}
		if quote.PromotionPackages > 0 {
			ok, err := s.store.IncrementPromotionUses(ctx, req.Promotion.ID, quote.PromotionPackages)
			if err != nil {
				return fmt.Errorf("consume promotion: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: usage limit reached", ErrPromotionInvalid)
			}
			id := req.Promotion.ID
			res.PromotionID = &id
			res.PromotionPackages = quote.PromotionPackages
		}
		if err := s.store.CreateReservation(ctx, &res); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}

		for _, a := range allocs {
			for _, u := range a.units {
				ru := model.ReservationUnit{
					ReservationID:      res.ID,
					UnitID:             u.ID,
					AreaID:             u.AreaID,
					EventID:            eventID,
					UserID:             in.UserID,
					Status:             model.RUReserved,
					Snapshot:           a.decision.Snapshot(),
					AppliedSaleStageID: a.decision.StageID(),
					AppliedPromotionID: a.decision.PromotionID(),
					CreatedAt:          now,
					UpdatedAt:          now,
				}
				if err := s.store.CreateReservationUnit(ctx, &ru); err != nil {
					return fmt.Errorf("create reservation unit: %w", err)
				}
				res.Units = append(res.Units, ru)
			}
		}
		n, err := s.store.SetUnitsStatus(ctx, unitIDs, model.UnitAvailable, model.UnitReserved)
		if err != nil {
			return fmt.Errorf("reserve units: %w", err)
		}
		if int(n) != len(unitIDs) {
			return fmt.Errorf("%w: units changed during allocation", ErrInsufficientInventory)
		}
		out = res
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	s.log.Info("reservation created",
		zap.Uint64("reservation_id", out.ID),
		zap.Uint64("user_id", out.UserID),
		zap.Int("units", len(out.Units)),
		zap.String("total", out.Total().StringFixed(2)),
		zap.Time("expires_at", out.ExpiresAt),
	)
	return out, nil
}

// quoteAndConsumeStages prices the cart and charges the chosen sale stages.
// A stage that sold out after it was read is dropped and the cart is
// priced again, so its lines fall through to the next stage or the base
// price instead of failing.
func (s *ReservationService) quoteAndConsumeStages(ctx context.Context, req pricing.Request) (pricing.Quote, error) {
	candidates := req.Stages
	for {
		req.Stages = candidates
		quote, err := pricing.QuoteCart(req)
		if err != nil {
			return pricing.Quote{}, err
		}
		stageUse := map[uint64]int{}
		for _, d := range quote.Decisions {
			if id := d.StageID(); id != nil {
				stageUse[*id] += d.Quantity
			}
		}
		var (
			charged []uint64
			soldOut uint64
		)
		for _, id := range sortedKeys(stageUse) {
			ok, err := s.store.IncrementStageSold(ctx, id, stageUse[id])
			if err != nil {
				return pricing.Quote{}, fmt.Errorf("consume sale stage: %w", err)
			}
			if !ok {
				soldOut = id
				break
			}
			charged = append(charged, id)
		}
		if soldOut == 0 {
			return quote, nil
		}
		for _, id := range charged {
			if err := s.store.DecrementStageSold(ctx, id, stageUse[id]); err != nil {
				return pricing.Quote{}, fmt.Errorf("release sale stage: %w", err)
			}
		}
		s.log.Debug("sale stage sold out during pricing", zap.Uint64("stage_id", soldOut))
		candidates = slices.DeleteFunc(slices.Clone(candidates), func(st model.SaleStage) bool { return st.ID == soldOut })
	}
}

// Get returns a reservation with its units.
func (s *ReservationService) Get(ctx context.Context, id uint64) (model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id, false)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	return r, err
}

// QuotePrice resolves what quantity units of an area would cost at the
// given instant.  It reads rules only and consumes nothing.
func (s *ReservationService) QuotePrice(ctx context.Context, areaID uint64, quantity int, at time.Time) (pricing.Decision, error) {
	if areaID == 0 || quantity < 1 || quantity > MaxUnitsPerReservation {
		return pricing.Decision{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidRequest, MaxUnitsPerReservation)
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	areas, err := s.store.GetAreas(ctx, []uint64{areaID})
	if err != nil {
		return pricing.Decision{}, fmt.Errorf("get areas: %w", err)
	}
	area, ok := areas[areaID]
	if !ok {
		return pricing.Decision{}, fmt.Errorf("area %d: %w", areaID, ErrNotFound)
	}
	stages, err := s.store.ListSaleStages(ctx, area.EventID, []uint64{areaID}, false)
	if err != nil {
		return pricing.Decision{}, fmt.Errorf("list sale stages: %w", err)
	}
	return pricing.Resolve(area, stages, at, quantity)
}

// Confirm finalises an active, unexpired reservation and issues one
// credential per unit.
func (s *ReservationService) Confirm(ctx context.Context, id uint64) (model.Reservation, []model.Credential, error) {
	var (
		res    model.Reservation
		issued []model.Credential
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		res, issued, err = s.confirm(ctx, id)
		return err
	})
	if err != nil {
		return model.Reservation{}, nil, err
	}
	s.notify(ctx, res, issued)
	return res, issued, nil
}

// confirm runs inside the caller's transaction.
func (s *ReservationService) confirm(ctx context.Context, id uint64) (model.Reservation, []model.Credential, error) {
	r, err := s.store.GetReservation(ctx, id, true)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Reservation{}, nil, err
	}
	if r.Status != model.ReservationActive {
		return model.Reservation{}, nil, fmt.Errorf("%w: reservation %d is %s", ErrAlreadyProcessed, id, r.Status)
	}
	now := s.clock.Now()
	if !now.Before(r.ExpiresAt) {
		return model.Reservation{}, nil, fmt.Errorf("%w: reservation %d expired at %s", ErrReservationExpired, id, r.ExpiresAt.Format(time.RFC3339))
	}
	ok, err := s.store.TransitionReservation(ctx, id, model.ReservationActive, model.ReservationConfirmed, now)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	if !ok {
		return model.Reservation{}, nil, fmt.Errorf("%w: reservation %d", ErrAlreadyProcessed, id)
	}

	unitIDs := make([]uint64, 0, len(r.Units))
	for _, ru := range r.Units {
		unitIDs = append(unitIDs, ru.UnitID)
	}
	n, err := s.store.SetUnitsStatus(ctx, unitIDs, model.UnitReserved, model.UnitConfirmed)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	if int(n) != len(unitIDs) {
		return model.Reservation{}, nil, fmt.Errorf("reservation %d: only %d of %d units were reserved", id, n, len(unitIDs))
	}
	if _, err := s.store.SetReservationUnitsStatus(ctx, id, model.RUReserved, model.RUConfirmed); err != nil {
		return model.Reservation{}, nil, err
	}

	issued := make([]model.Credential, 0, len(r.Units))
	for i := range r.Units {
		r.Units[i].Status = model.RUConfirmed
		c, err := s.creds.issue(ctx, r.Units[i])
		if err != nil {
			return model.Reservation{}, nil, err
		}
		issued = append(issued, c)
	}
	r.Status = model.ReservationConfirmed
	r.ConfirmedAt = &now
	r.UpdatedAt = now
	s.log.Info("reservation confirmed", zap.Uint64("reservation_id", id), zap.Int("credentials", len(issued)))
	return r, issued, nil
}

// Cancel releases an active reservation's units and counters.
func (s *ReservationService) Cancel(ctx context.Context, id uint64) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		return s.release(ctx, id, model.ReservationCancelled)
	})
}

// Expire releases an active reservation whose hold window has passed.
func (s *ReservationService) Expire(ctx context.Context, id uint64) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.store.GetReservation(ctx, id, true)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reservation %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if r.Status == model.ReservationActive && s.clock.Now().Before(r.ExpiresAt) {
			return fmt.Errorf("%w: reservation %d has not expired", ErrInvalidRequest, id)
		}
		return s.release(ctx, id, model.ReservationExpired)
	})
}

// ExpireDue expires up to limit overdue reservations.  Losing a race to a
// concurrent confirm, cancel or sweeper is expected and not an error.
func (s *ReservationService) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.ListExpiredReservations(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	expired := 0
	for _, id := range ids {
		err := s.Expire(ctx, id)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrAlreadyProcessed):
			s.log.Debug("expiry lost race", zap.Uint64("reservation_id", id))
		default:
			s.log.Error("expire reservation", zap.Uint64("reservation_id", id), zap.Error(err))
		}
	}
	if expired > 0 {
		s.log.Info("expired reservations", zap.Int("count", expired))
	}
	return expired, nil
}

// release returns every unit of an active reservation to the pool and gives
// back exactly the stage and promotion quantity it consumed.
func (s *ReservationService) release(ctx context.Context, id uint64, to model.ReservationStatus) error {
	r, err := s.store.GetReservation(ctx, id, true)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if r.Status != model.ReservationActive {
		return fmt.Errorf("%w: reservation %d is %s", ErrAlreadyProcessed, id, r.Status)
	}
	ok, err := s.store.TransitionReservation(ctx, id, model.ReservationActive, to, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: reservation %d", ErrAlreadyProcessed, id)
	}

	var unitIDs []uint64
	stageUse := map[uint64]int{}
	for _, ru := range r.Units {
		if ru.Status != model.RUReserved {
			continue
		}
		unitIDs = append(unitIDs, ru.UnitID)
		if ru.AppliedSaleStageID != nil {
			stageUse[*ru.AppliedSaleStageID]++
		}
	}
	n, err := s.store.SetUnitsStatus(ctx, unitIDs, model.UnitReserved, model.UnitAvailable)
	if err != nil {
		return err
	}
	if int(n) != len(unitIDs) {
		s.log.Warn("released fewer units than held",
			zap.Uint64("reservation_id", id), zap.Int64("released", n), zap.Int("held", len(unitIDs)))
	}
	if _, err := s.store.SetReservationUnitsStatus(ctx, id, model.RUReserved, model.RUReleased); err != nil {
		return err
	}
	for _, stageID := range sortedKeys(stageUse) {
		if err := s.store.DecrementStageSold(ctx, stageID, stageUse[stageID]); err != nil {
			return fmt.Errorf("release sale stage: %w", err)
		}
	}
	if r.PromotionID != nil && r.PromotionPackages > 0 {
		if err := s.store.DecrementPromotionUses(ctx, *r.PromotionID, r.PromotionPackages); err != nil {
			return fmt.Errorf("release promotion: %w", err)
		}
	}
	s.log.Info("reservation released", zap.Uint64("reservation_id", id), zap.String("status", string(to)), zap.Int("units", len(unitIDs)))
	return nil
}

// TimeoutInfo describes the remaining hold window of an active reservation.
type TimeoutInfo struct {
	ReservationID    uint64    `json:"reservation_id"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	SecondsRemaining int       `json:"seconds_remaining"`
	IsExpired        bool      `json:"is_expired"`
}

// Timeout reports how long the user's active reservation is still held.
func (s *ReservationService) Timeout(ctx context.Context, id, userID uint64) (TimeoutInfo, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return TimeoutInfo{}, err
	}
	if r.UserID != userID {
		return TimeoutInfo{}, ErrNotOwner
	}
	if r.Status != model.ReservationActive {
		return TimeoutInfo{}, fmt.Errorf("reservation %d is %s: %w", id, r.Status, ErrNotFound)
	}
	remaining := int(r.ExpiresAt.Sub(s.clock.Now()) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return TimeoutInfo{
		ReservationID:    r.ID,
		CreatedAt:        r.CreatedAt,
		ExpiresAt:        r.ExpiresAt,
		SecondsRemaining: remaining,
		IsExpired:        remaining == 0,
	}, nil
}

// MyTickets lists the units a user currently holds.
func (s *ReservationService) MyTickets(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	tickets, err := s.store.ListTicketsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		tickets[i].CanTransfer = tickets[i].Status == model.RUConfirmed || tickets[i].Status == model.RUTransferred
	}
	return tickets, nil
}

func (s *ReservationService) notify(ctx context.Context, r model.Reservation, issued []model.Credential) {
	if s.notifier == nil || len(issued) == 0 {
		return
	}
	unitByRU := make(map[uint64]uint64, len(r.Units))
	for _, ru := range r.Units {
		unitByRU[ru.ID] = ru.UnitID
	}
	ev := queue.TicketsIssuedEvent{
		ReservationID: r.ID,
		UserID:        r.UserID,
		EventID:       r.EventID,
		Total:         r.Total().StringFixed(2),
		ConfirmedAt:   s.clock.Now().Format(time.RFC3339),
	}
	for _, c := range issued {
		ev.Credentials = append(ev.Credentials, queue.IssuedCredential{
			CredentialID:      c.ID,
			ReservationUnitID: c.ReservationUnitID,
			UnitID:            unitByRU[c.ReservationUnitID],
			Token:             c.Token,
		})
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.TicketsIssued(nctx, ev); err != nil {
		s.log.Error("tickets issued notification failed", zap.Uint64("reservation_id", r.ID), zap.Error(err))
	}
}

// normalizeLines merges duplicate areas, validates quantities and orders the
// lines by area so concurrent reservations lock rows in the same order.
func normalizeLines(in []pricing.Line) ([]pricing.Line, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidRequest)
	}
	qty := map[uint64]int{}
	total := 0
	for _, ln := range in {
		if ln.AreaID == 0 || ln.Quantity <= 0 {
			return nil, fmt.Errorf("%w: each line needs an area and a positive quantity", ErrInvalidRequest)
		}
		qty[ln.AreaID] += ln.Quantity
		total += ln.Quantity
	}
	if total > MaxUnitsPerReservation {
		return nil, fmt.Errorf("%w: at most %d units per reservation", ErrInvalidRequest, MaxUnitsPerReservation)
	}
	out := make([]pricing.Line, 0, len(qty))
	for _, id := range sortedKeys(qty) {
		out = append(out, pricing.Line{AreaID: id, Quantity: qty[id]})
	}
	return out, nil
}

func sortedKeys(m map[uint64]int) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
