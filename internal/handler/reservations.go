package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/pricing"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

// ReservationHandler exposes the buyer-facing reservation endpoints.
type ReservationHandler struct {
	svc *service.ReservationService
}

func NewReservationHandler(svc *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

type createReservationRequest struct {
	Lines []struct {
		AreaID   uint64 `json:"area_id"`
		Quantity int    `json:"quantity"`
	} `json:"lines"`
	PromotionCode string `json:"promotion_code"`
	PromoterCode  string `json:"promoter_code"`
}

type reservationUnitView struct {
	ID                 uint64                      `json:"id"`
	UnitID             uint64                      `json:"unit_id"`
	AreaID             uint64                      `json:"area_id"`
	Status             model.ReservationUnitStatus `json:"status"`
	Price              model.PriceSnapshot         `json:"price"`
	AppliedSaleStageID *uint64                     `json:"applied_sale_stage_id,omitempty"`
	AppliedPromotionID *uint64                     `json:"applied_promotion_id,omitempty"`
}

type reservationView struct {
	ID                uint64                  `json:"id"`
	EventID           uint64                  `json:"event_id"`
	Status            model.ReservationStatus `json:"status"`
	PromotionID       *uint64                 `json:"promotion_id,omitempty"`
	PromotionPackages int                     `json:"promotion_packages,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	ExpiresAt         time.Time               `json:"expires_at"`
	ConfirmedAt       *time.Time              `json:"confirmed_at,omitempty"`
	Total             decimal.Decimal         `json:"total"`
	Units             []reservationUnitView   `json:"units"`
}

func viewReservation(r model.Reservation) reservationView {
	v := reservationView{
		ID:                r.ID,
		EventID:           r.EventID,
		Status:            r.Status,
		PromotionID:       r.PromotionID,
		PromotionPackages: r.PromotionPackages,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		ConfirmedAt:       r.ConfirmedAt,
		Total:             r.Total(),
		Units:             make([]reservationUnitView, 0, len(r.Units)),
	}
	for _, ru := range r.Units {
		v.Units = append(v.Units, reservationUnitView{
			ID:                 ru.ID,
			UnitID:             ru.UnitID,
			AreaID:             ru.AreaID,
			Status:             ru.Status,
			Price:              ru.Snapshot,
			AppliedSaleStageID: ru.AppliedSaleStageID,
			AppliedPromotionID: ru.AppliedPromotionID,
		})
	}
	return v
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var body createReservationRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	in := service.CreateReservationInput{
		UserID:        uid,
		PromotionCode: body.PromotionCode,
		PromoterCode:  body.PromoterCode,
	}
	for _, ln := range body.Lines {
		in.Lines = append(in.Lines, pricing.Line{AreaID: ln.AreaID, Quantity: ln.Quantity})
	}
	r, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, viewReservation(r))
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	r, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewReservation(r))
}

// Timeout handles GET /v1/reservations/:id/timeout.
func (h *ReservationHandler) Timeout(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	info, err := h.svc.Timeout(c.Request().Context(), id, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// Cancel handles DELETE /v1/reservations/:id.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	r, err := h.owned(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.svc.Cancel(c.Request().Context(), r.ID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyTickets handles GET /v1/my-tickets.
func (h *ReservationHandler) MyTickets(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	tickets, err := h.svc.MyTickets(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}

// Quote handles GET /v1/areas/:id/price?quantity=&at=.
func (h *ReservationHandler) Quote(c echo.Context) error {
	areaID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid area id")
	}
	qty := 1
	if q := c.QueryParam("quantity"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			return badRequest(c, "invalid quantity")
		}
		qty = n
	}
	var at time.Time
	if s := c.QueryParam("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return badRequest(c, "at must be RFC3339")
		}
		at = t.UTC()
	}
	d, err := h.svc.QuotePrice(c.Request().Context(), areaID, qty, at)
	if err != nil {
		return writeError(c, err)
	}
	n := decimal.NewFromInt(int64(d.Quantity))
	return c.JSON(http.StatusOK, echo.Map{
		"area_id":       d.AreaID,
		"quantity":      d.Quantity,
		"base_price":    d.BasePrice,
		"unit_price":    d.UnitPrice,
		"service_fee":   d.ServiceFee,
		"discount_type": d.Source.Kind,
		"discount_name": d.Source.Name,
		"total":         d.UnitPrice.Add(d.ServiceFee).Mul(n),
	})
}

// owned loads the reservation in the path and checks it belongs to the
// caller.
func (h *ReservationHandler) owned(c echo.Context) (model.Reservation, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return model.Reservation{}, service.ErrNotOwner
	}
	id, ok := paramID(c, "id")
	if !ok {
		return model.Reservation{}, service.ErrInvalidRequest
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return model.Reservation{}, err
	}
	if r.UserID != uid {
		return model.Reservation{}, service.ErrNotOwner
	}
	return r, nil
}
