// Package testutil provides an in-memory implementation of the engine's
// storage interfaces for service and handler tests.
package testutil

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/repository"
)

// Store is an in-memory implementation of every store interface.  A
// single mutex held for the whole transaction stands in for serializable
// isolation; a failed transaction restores the snapshot taken at begin.
type Store struct {
	mu sync.Mutex
	memData

	// FailCredentialInsert makes InsertCredential fail with ErrInjected.
	FailCredentialInsert bool
	// StaleStageRead, when set, edits every stage ListSaleStages returns
	// without touching the stored row, like a read that missed a
	// concurrent commit.
	StaleStageRead func(*model.SaleStage)
}

type memData struct {
	nextID       uint64
	areas        map[uint64]model.Area
	units        map[uint64]model.Unit
	stages       map[uint64]model.SaleStage
	promotions   map[uint64]model.Promotion
	reservations map[uint64]model.Reservation
	rus          map[uint64]model.ReservationUnit
	history      []model.UnitStatusChange
	credentials  map[string]model.Credential
	transfers    map[uint64]model.Transfer
	transferLogs []model.TransferLog
	payments     map[string]model.PaymentEvent
}

// ErrInjected is the failure produced by FailCredentialInsert.
var ErrInjected = errors.New("injected failure")

type txKey struct{}

func NewStore() *Store {
	return &Store{memData: memData{
		areas:        map[uint64]model.Area{},
		units:        map[uint64]model.Unit{},
		stages:       map[uint64]model.SaleStage{},
		promotions:   map[uint64]model.Promotion{},
		reservations: map[uint64]model.Reservation{},
		rus:          map[uint64]model.ReservationUnit{},
		credentials:  map[string]model.Credential{},
		transfers:    map[uint64]model.Transfer{},
		payments:     map[string]model.PaymentEvent{},
	}}
}

func (d memData) clone() memData {
	return memData{
		nextID:       d.nextID,
		areas:        maps.Clone(d.areas),
		units:        maps.Clone(d.units),
		stages:       maps.Clone(d.stages),
		promotions:   maps.Clone(d.promotions),
		reservations: maps.Clone(d.reservations),
		rus:          maps.Clone(d.rus),
		history:      slices.Clone(d.history),
		credentials:  maps.Clone(d.credentials),
		transfers:    maps.Clone(d.transfers),
		transferLogs: slices.Clone(d.transferLogs),
		payments:     maps.Clone(d.payments),
	}
}

func (m *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.memData.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.memData = snap
		return err
	}
	return nil
}

// do runs fn under the store lock unless ctx already holds it.
func (m *Store) do(ctx context.Context, fn func()) {
	if ctx.Value(txKey{}) != nil {
		fn()
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *Store) id() uint64 {
	m.nextID++
	return m.nextID
}

// Seeding and inspection helpers.

// AddArea stores a and generates capacity available units lettered letter.
func (m *Store) AddArea(a model.Area, capacity int, letter string) model.Area {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	a.Capacity = capacity
	m.areas[a.ID] = a
	for i := 1; i <= capacity; i++ {
		u := model.Unit{ID: m.id(), AreaID: a.ID, EventID: a.EventID, NomenclatureLetter: letter, NomenclatureNumber: i, Status: model.UnitAvailable}
		m.units[u.ID] = u
	}
	return a
}

func (m *Store) AddStage(st model.SaleStage) model.SaleStage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.ID == 0 {
		st.ID = m.id()
	}
	if st.BundleSize == 0 {
		st.BundleSize = 1
	}
	m.stages[st.ID] = st
	return st
}

func (m *Store) AddPromotion(p model.Promotion) model.Promotion {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	for i := range p.Items {
		p.Items[i].PromotionID = p.ID
	}
	m.promotions[p.ID] = p
	return p
}

func (m *Store) Stage(id uint64) model.SaleStage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[id]
}

// UpdateStage edits a stored stage in place, like an operator changing a
// rule after sales started.
func (m *Store) UpdateStage(id uint64, fn func(*model.SaleStage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stages[id]
	fn(&st)
	m.stages[id] = st
}

func (m *Store) UpdateArea(id uint64, fn func(*model.Area)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.areas[id]
	fn(&a)
	m.areas[id] = a
}

func (m *Store) Promotion(id uint64) model.Promotion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promotions[id]
}

// UnitIDs lists the units of an area in the given status.
func (m *Store) UnitIDs(areaID uint64, st model.UnitStatus) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for _, u := range m.units {
		if u.AreaID == areaID && u.Status == st {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

func (m *Store) UnitsByStatus(areaID uint64, st model.UnitStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.units {
		if u.AreaID == areaID && u.Status == st {
			n++
		}
	}
	return n
}

func (m *Store) Unit(id uint64) model.Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[id]
}

func (m *Store) SetUnitStatus(id uint64, st model.UnitStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.units[id]
	u.Status = st
	m.units[id] = u
}

// CredentialsFor returns every credential of a reservation unit,
// superseded ones first.
func (m *Store) CredentialsFor(ruID uint64) []model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Credential
	for _, c := range m.credentials {
		if c.ReservationUnitID == ruID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Superseded && !out[j].Superseded })
	return out
}

func (m *Store) HistoryFor(ruID uint64) []model.UnitStatusChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.UnitStatusChange
	for _, h := range m.history {
		if h.ReservationUnitID == ruID {
			out = append(out, h)
		}
	}
	return out
}

func (m *Store) Transfer(id uint64) model.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers[id]
}

func (m *Store) PaymentEvent(id string) (model.PaymentEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.payments[id]
	return e, ok
}

// InventoryStore

func (m *Store) GetAreas(ctx context.Context, ids []uint64) (map[uint64]model.Area, error) {
	out := map[uint64]model.Area{}
	m.do(ctx, func() {
		for _, id := range ids {
			if a, ok := m.areas[id]; ok {
				out[id] = a
			}
		}
	})
	return out, nil
}

func (m *Store) ListSaleStages(ctx context.Context, eventID uint64, areaIDs []uint64, _ bool) ([]model.SaleStage, error) {
	var out []model.SaleStage
	m.do(ctx, func() {
		for _, st := range m.stages {
			if st.EventID != eventID || !st.IsActive {
				continue
			}
			for _, a := range areaIDs {
				if st.AppliesTo(a) {
					if m.StaleStageRead != nil {
						m.StaleStageRead(&st)
					}
					out = append(out, st)
					break
				}
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) GetPromotionByCode(ctx context.Context, eventID uint64, code string, _ bool) (model.Promotion, error) {
	var (
		out   model.Promotion
		found bool
	)
	m.do(ctx, func() {
		for _, p := range m.promotions {
			if p.EventID == eventID && p.Code != nil && *p.Code == code {
				out, found = p, true
				return
			}
		}
	})
	if !found {
		return model.Promotion{}, repository.ErrNotFound
	}
	return out, nil
}

func (m *Store) LockAvailableUnits(ctx context.Context, areaID uint64, limit int) ([]model.Unit, error) {
	var out []model.Unit
	m.do(ctx, func() {
		for _, u := range m.units {
			if u.AreaID == areaID && u.Status == model.UnitAvailable {
				out = append(out, u)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.NomenclatureLetter != b.NomenclatureLetter {
			return a.NomenclatureLetter < b.NomenclatureLetter
		}
		if a.NomenclatureNumber != b.NomenclatureNumber {
			return a.NomenclatureNumber < b.NomenclatureNumber
		}
		return a.ID < b.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) SetUnitsStatus(ctx context.Context, unitIDs []uint64, from, to model.UnitStatus) (int64, error) {
	var n int64
	m.do(ctx, func() {
		for _, id := range unitIDs {
			u, ok := m.units[id]
			if ok && u.Status == from {
				u.Status = to
				m.units[id] = u
				n++
			}
		}
	})
	return n, nil
}

func (m *Store) IncrementStageSold(ctx context.Context, stageID uint64, n int) (bool, error) {
	ok := false
	m.do(ctx, func() {
		st, exists := m.stages[stageID]
		if exists && st.QuantityAvailable-st.QuantitySold >= n {
			st.QuantitySold += n
			m.stages[stageID] = st
			ok = true
		}
	})
	return ok, nil
}

func (m *Store) DecrementStageSold(ctx context.Context, stageID uint64, n int) error {
	m.do(ctx, func() {
		st := m.stages[stageID]
		st.QuantitySold = max(st.QuantitySold-n, 0)
		m.stages[stageID] = st
	})
	return nil
}

func (m *Store) IncrementPromotionUses(ctx context.Context, promotionID uint64, n int) (bool, error) {
	ok := false
	m.do(ctx, func() {
		p, exists := m.promotions[promotionID]
		if exists && p.UsesCount+n <= p.QuantityAvailable {
			p.UsesCount += n
			m.promotions[promotionID] = p
			ok = true
		}
	})
	return ok, nil
}

func (m *Store) DecrementPromotionUses(ctx context.Context, promotionID uint64, n int) error {
	m.do(ctx, func() {
		p := m.promotions[promotionID]
		p.UsesCount = max(p.UsesCount-n, 0)
		m.promotions[promotionID] = p
	})
	return nil
}

// ReservationStore

func (m *Store) CreateReservation(ctx context.Context, r *model.Reservation) error {
	m.do(ctx, func() {
		r.ID = m.id()
		stored := *r
		stored.Units = nil
		m.reservations[r.ID] = stored
	})
	return nil
}

func (m *Store) CreateReservationUnit(ctx context.Context, ru *model.ReservationUnit) error {
	m.do(ctx, func() {
		ru.ID = m.id()
		m.rus[ru.ID] = *ru
	})
	return nil
}

func (m *Store) GetReservation(ctx context.Context, id uint64, _ bool) (model.Reservation, error) {
	var (
		r  model.Reservation
		ok bool
	)
	m.do(ctx, func() {
		r, ok = m.reservations[id]
		if !ok {
			return
		}
		for _, ru := range m.rus {
			if ru.ReservationID == id {
				r.Units = append(r.Units, ru)
			}
		}
	})
	if !ok {
		return model.Reservation{}, repository.ErrNotFound
	}
	sort.Slice(r.Units, func(i, j int) bool { return r.Units[i].ID < r.Units[j].ID })
	return r, nil
}

func (m *Store) TransitionReservation(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time) (bool, error) {
	ok := false
	m.do(ctx, func() {
		r, exists := m.reservations[id]
		if !exists || r.Status != from {
			return
		}
		r.Status = to
		r.UpdatedAt = at
		if to == model.ReservationConfirmed {
			r.ConfirmedAt = &at
		}
		m.reservations[id] = r
		ok = true
	})
	return ok, nil
}

func (m *Store) SetReservationUnitsStatus(ctx context.Context, reservationID uint64, from, to model.ReservationUnitStatus) (int64, error) {
	var n int64
	m.do(ctx, func() {
		for id, ru := range m.rus {
			if ru.ReservationID == reservationID && ru.Status == from {
				ru.Status = to
				m.rus[id] = ru
				n++
			}
		}
	})
	return n, nil
}

func (m *Store) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	var due []model.Reservation
	m.do(ctx, func() {
		for _, r := range m.reservations {
			if r.Status == model.ReservationActive && !r.ExpiresAt.After(now) {
				due = append(due, r)
			}
		}
	})
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	var ids []uint64
	for i, r := range due {
		if i == limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *Store) ListTicketsByUser(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	var out []model.Ticket
	m.do(ctx, func() {
		for _, ru := range m.rus {
			if ru.UserID != userID {
				continue
			}
			switch ru.Status {
			case model.RUConfirmed, model.RUTransferred, model.RUUsed:
			default:
				continue
			}
			t := model.Ticket{
				ReservationUnitID: ru.ID,
				ReservationID:     ru.ReservationID,
				UnitID:            ru.UnitID,
				EventID:           ru.EventID,
				AreaName:          m.areas[ru.AreaID].Name,
				DisplayName:       m.units[ru.UnitID].DisplayName(),
				Status:            ru.Status,
			}
			for _, c := range m.credentials {
				if c.ReservationUnitID == ru.ID && !c.Superseded {
					t.Token = c.Token
				}
			}
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationUnitID < out[j].ReservationUnitID })
	return out, nil
}

func (m *Store) InsertStatusChange(ctx context.Context, c model.UnitStatusChange) error {
	m.do(ctx, func() {
		c.ID = m.id()
		m.history = append(m.history, c)
	})
	return nil
}

func (m *Store) GetReservationUnit(ctx context.Context, id uint64, _ bool) (model.ReservationUnit, error) {
	var (
		ru model.ReservationUnit
		ok bool
	)
	m.do(ctx, func() { ru, ok = m.rus[id] })
	if !ok {
		return model.ReservationUnit{}, repository.ErrNotFound
	}
	return ru, nil
}

func (m *Store) UpdateReservationUnitStatus(ctx context.Context, id uint64, from, to model.ReservationUnitStatus) (bool, error) {
	ok := false
	m.do(ctx, func() {
		ru, exists := m.rus[id]
		if exists && ru.Status == from {
			ru.Status = to
			m.rus[id] = ru
			ok = true
		}
	})
	return ok, nil
}

func (m *Store) ReassignReservationUnit(ctx context.Context, id, from, to uint64, at time.Time) (bool, error) {
	ok := false
	m.do(ctx, func() {
		ru, exists := m.rus[id]
		if !exists || ru.UserID != from {
			return
		}
		if ru.OriginalUserID == nil {
			f := from
			ru.OriginalUserID = &f
		}
		ru.UserID = to
		ru.TransferDate = &at
		ru.UpdatedAt = at
		m.rus[id] = ru
		ok = true
	})
	return ok, nil
}

// CredentialStore

func (m *Store) InsertCredential(ctx context.Context, c model.Credential) error {
	var err error
	m.do(ctx, func() {
		if m.FailCredentialInsert {
			err = ErrInjected
			return
		}
		if _, exists := m.credentials[c.ID]; exists {
			err = repository.ErrDuplicate
			return
		}
		for _, other := range m.credentials {
			if other.ReservationUnitID == c.ReservationUnitID && !other.Superseded {
				err = repository.ErrDuplicate
				return
			}
		}
		m.credentials[c.ID] = c
	})
	return err
}

func (m *Store) GetCredential(ctx context.Context, id string) (model.Credential, error) {
	var (
		c  model.Credential
		ok bool
	)
	m.do(ctx, func() { c, ok = m.credentials[id] })
	if !ok {
		return model.Credential{}, repository.ErrNotFound
	}
	return c, nil
}

func (m *Store) GetActiveCredential(ctx context.Context, reservationUnitID uint64) (model.Credential, error) {
	var (
		c  model.Credential
		ok bool
	)
	m.do(ctx, func() {
		for _, cur := range m.credentials {
			if cur.ReservationUnitID == reservationUnitID && !cur.Superseded {
				c, ok = cur, true
			}
		}
	})
	if !ok {
		return model.Credential{}, repository.ErrNotFound
	}
	return c, nil
}

func (m *Store) MarkCredentialUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	ok := false
	m.do(ctx, func() {
		c, exists := m.credentials[id]
		if exists && !c.Used && !c.Superseded {
			c.Used = true
			c.UsedAt = &at
			m.credentials[id] = c
			ok = true
		}
	})
	return ok, nil
}

func (m *Store) ResetCredential(ctx context.Context, id string) (bool, error) {
	ok := false
	m.do(ctx, func() {
		c, exists := m.credentials[id]
		if exists && c.Used && !c.Superseded {
			c.Used = false
			c.UsedAt = nil
			m.credentials[id] = c
			ok = true
		}
	})
	return ok, nil
}

func (m *Store) SupersedeCredentials(ctx context.Context, reservationUnitID uint64, at time.Time) (int64, error) {
	var n int64
	m.do(ctx, func() {
		for id, c := range m.credentials {
			if c.ReservationUnitID == reservationUnitID && !c.Superseded {
				c.Superseded = true
				c.SupersededAt = &at
				m.credentials[id] = c
				n++
			}
		}
	})
	return n, nil
}

func (m *Store) CheckInStats(ctx context.Context, eventID uint64) (model.CheckInStats, error) {
	var st model.CheckInStats
	m.do(ctx, func() {
		for _, c := range m.credentials {
			if c.EventID != eventID || c.Superseded {
				continue
			}
			st.TotalTickets++
			if !c.Used {
				st.Pending++
				continue
			}
			st.CheckedIn++
			if c.UsedAt != nil && (st.LastCheckIn == nil || c.UsedAt.After(*st.LastCheckIn)) {
				t := *c.UsedAt
				st.LastCheckIn = &t
			}
		}
	})
	return st, nil
}

// TransferStore

func (m *Store) GetPendingTransfer(ctx context.Context, reservationUnitID uint64) (model.Transfer, error) {
	var (
		t  model.Transfer
		ok bool
	)
	m.do(ctx, func() {
		for _, cur := range m.transfers {
			if cur.ReservationUnitID == reservationUnitID && cur.Status == model.TransferPending && cur.ID > t.ID {
				t, ok = cur, true
			}
		}
	})
	if !ok {
		return model.Transfer{}, repository.ErrNotFound
	}
	return t, nil
}

func (m *Store) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	var err error
	m.do(ctx, func() {
		for _, cur := range m.transfers {
			if cur.Token == t.Token || (cur.ReservationUnitID == t.ReservationUnitID && cur.Status == model.TransferPending) {
				err = repository.ErrDuplicate
				return
			}
		}
		t.ID = m.id()
		m.transfers[t.ID] = *t
	})
	return err
}

func (m *Store) GetTransferByToken(ctx context.Context, token string, _ bool) (model.Transfer, error) {
	var (
		t  model.Transfer
		ok bool
	)
	m.do(ctx, func() {
		for _, cur := range m.transfers {
			if cur.Token == token {
				t, ok = cur, true
			}
		}
	})
	if !ok {
		return model.Transfer{}, repository.ErrNotFound
	}
	return t, nil
}

func (m *Store) ResolveTransfer(ctx context.Context, id uint64, to model.TransferStatus, at time.Time) (bool, error) {
	ok := false
	m.do(ctx, func() {
		t, exists := m.transfers[id]
		if exists && t.Status == model.TransferPending {
			t.Status = to
			t.ResolvedAt = &at
			m.transfers[id] = t
			ok = true
		}
	})
	return ok, nil
}

func (m *Store) InsertTransferLog(ctx context.Context, l model.TransferLog) error {
	m.do(ctx, func() {
		l.ID = m.id()
		m.transferLogs = append(m.transferLogs, l)
	})
	return nil
}

func (m *Store) ListTransferLogs(ctx context.Context, reservationUnitID uint64) ([]model.TransferLog, error) {
	var out []model.TransferLog
	m.do(ctx, func() {
		for _, l := range m.transferLogs {
			if l.ReservationUnitID == reservationUnitID {
				out = append(out, l)
			}
		}
	})
	return out, nil
}

func (m *Store) ExpirePendingTransfers(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	m.do(ctx, func() {
		for id, t := range m.transfers {
			if t.Status == model.TransferPending && !t.ExpiresAt.After(now) {
				t.Status = model.TransferExpired
				t.ResolvedAt = &now
				m.transfers[id] = t
				n++
			}
		}
	})
	return n, nil
}

// PaymentStore

func (m *Store) InsertPaymentEvent(ctx context.Context, e model.PaymentEvent) error {
	var err error
	m.do(ctx, func() {
		if _, exists := m.payments[e.EventID]; exists {
			err = repository.ErrDuplicate
			return
		}
		m.payments[e.EventID] = e
	})
	return err
}

func (m *Store) ReplaceIgnoredPaymentEvent(ctx context.Context, e model.PaymentEvent) (bool, error) {
	var ok bool
	m.do(ctx, func() {
		cur, exists := m.payments[e.EventID]
		if !exists || cur.ReservationID != e.ReservationID || cur.Result != "ignored" {
			return
		}
		m.payments[e.EventID] = e
		ok = true
	})
	return ok, nil
}

func (m *Store) UpdatePaymentEventResult(ctx context.Context, eventID, result string) error {
	m.do(ctx, func() {
		e := m.payments[eventID]
		e.Result = result
		m.payments[eventID] = e
	})
	return nil
}

// ConsistencyStore

func (m *Store) FindInconsistentUnits(ctx context.Context, limit int) ([]model.UnitMismatch, error) {
	var out []model.UnitMismatch
	m.do(ctx, func() {
		latest := map[uint64]model.ReservationUnit{}
		for _, ru := range m.rus {
			if cur, ok := latest[ru.UnitID]; !ok || ru.ID > cur.ID {
				latest[ru.UnitID] = ru
			}
		}
		for _, u := range m.units {
			if u.Status == model.UnitQuarantined {
				continue
			}
			ru, hasRU := latest[u.ID]
			var res model.Reservation
			if hasRU {
				res = m.reservations[ru.ReservationID]
			}
			consistent := false
			switch u.Status {
			case model.UnitAvailable:
				consistent = !hasRU || ru.Status == model.RUReleased
			case model.UnitReserved:
				consistent = hasRU && ru.Status == model.RUReserved && res.Status == model.ReservationActive
			case model.UnitConfirmed, model.UnitUsed, model.UnitTransferred:
				consistent = hasRU && string(ru.Status) == string(u.Status) && res.Status == model.ReservationConfirmed
			}
			if consistent {
				continue
			}
			mm := model.UnitMismatch{UnitID: u.ID, UnitStatus: u.Status}
			if hasRU {
				id, st := res.ID, res.Status
				mm.ReservationID = &id
				mm.ReservationStatus = &st
			}
			out = append(out, mm)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) QuarantineUnit(ctx context.Context, unitID uint64, expected model.UnitStatus, reason string) (bool, error) {
	ok := false
	m.do(ctx, func() {
		u, exists := m.units[unitID]
		if exists && u.Status == expected {
			u.Status = model.UnitQuarantined
			u.QuarantineReason = &reason
			m.units[unitID] = u
			ok = true
		}
	})
	return ok, nil
}
