package router

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/clock"
	"github.com/iliyamo/ticket-reservation-engine/internal/handler"
	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
	"github.com/iliyamo/ticket-reservation-engine/internal/model"
	"github.com/iliyamo/ticket-reservation-engine/internal/service"
	"github.com/iliyamo/ticket-reservation-engine/internal/testutil"
	"github.com/iliyamo/ticket-reservation-engine/internal/utils"
)

const (
	jwtSecret     = "router-test-secret"
	webhookSecret = "gateway-secret"
)

type testServer struct {
	e     *echo.Echo
	store *testutil.Store
	clock *clock.Manual
	area  model.Area
}

func newTestServer(t *testing.T, db handler.Pinger) *testServer {
	t.Helper()
	store := testutil.NewStore()
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	creds, err := service.NewCredentialService(store, "qr-secret", clk, log)
	require.NoError(t, err)
	reservations := service.NewReservationService(store, creds, clk, log)
	payments := service.NewPaymentReconciler(store, reservations, clk, log)
	transfers := service.NewTransferService(store, creds, clk, log)
	checker := service.NewConsistencyChecker(store, log)

	area := store.AddArea(model.Area{
		EventID:    1,
		Name:       "General",
		BasePrice:  decimal.NewNullDecimal(decimal.NewFromInt(100000)),
		ServiceFee: decimal.NewFromInt(5000),
	}, 3, "A")
	store.AddStage(model.SaleStage{
		EventID:           1,
		Name:              "early bird",
		AdjustmentType:    model.AdjustPercentage,
		AdjustmentValue:   decimal.NewFromInt(-20),
		QuantityAvailable: 100,
		PriorityOrder:     1,
		IsActive:          true,
		StartTime:         clk.Now().Add(-time.Hour),
		AreaIDs:           []uint64{area.ID},
	})

	e := echo.New()
	Register(e, Deps{
		JWTSecret:    jwtSecret,
		Log:          log,
		DB:           db,
		Reservations: handler.NewReservationHandler(reservations),
		Payments:     handler.NewPaymentHandler(payments, webhookSecret),
		Credentials:  handler.NewCredentialHandler(creds),
		Transfers:    handler.NewTransferHandler(transfers),
		Admin:        handler.NewAdminHandler(checker),
	})
	return &testServer{e: e, store: store, clock: clk, area: area}
}

func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s *testServer) webhook(t *testing.T, payload map[string]any, sign bool) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/events", bytes.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sign {
		mac := hmac.New(sha256.New, []byte(webhookSecret))
		mac.Write(raw)
		req.Header.Set(handler.SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func (s *testServer) createReservation(t *testing.T, bearer string, quantity int) (int, map[string]any) {
	t.Helper()
	return s.do(t, http.MethodPost, "/v1/reservations", bearer, map[string]any{
		"lines": []map[string]any{{"area_id": s.area.ID, "quantity": quantity}},
	})
}

func idOf(t *testing.T, body map[string]any, key string) uint64 {
	t.Helper()
	v, ok := body[key].(float64)
	require.True(t, ok, "missing %s in %v", key, body)
	return uint64(v)
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	code, body := newTestServer(t, nil).do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	code, _ = newTestServer(t, failingPinger{}).do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPriceQuoteIsPublic(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := s.do(t, http.MethodGet, fmt.Sprintf("/v1/areas/%d/price?quantity=2", s.area.ID), "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "80000", body["unit_price"])
	require.Equal(t, "170000", body["total"])
	require.Equal(t, model.DiscountSaleStage, body["discount_type"])

	code, _ = s.do(t, http.MethodGet, fmt.Sprintf("/v1/areas/%d/price?at=yesterday", s.area.ID), "", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, body = s.do(t, http.MethodGet, "/v1/areas/999/price", "", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", body["error"])
}

func TestAuthAndRoles(t *testing.T) {
	s := newTestServer(t, nil)
	customer := token(t, 1, middleware.RoleCustomer)
	staff := token(t, 50, middleware.RoleStaff)

	code, _ := s.do(t, http.MethodGet, "/v1/my-tickets", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, http.MethodGet, "/v1/my-tickets", staff, nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPost, "/v1/qr/validate", customer, map[string]any{"token": "x", "event_id": 1})
	require.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPost, "/v1/admin/consistency-check", staff, nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestReservationPaymentAndEntryFlow(t *testing.T) {
	s := newTestServer(t, nil)
	buyer := token(t, 1, middleware.RoleCustomer)
	stranger := token(t, 2, middleware.RoleCustomer)
	staff := token(t, 50, middleware.RoleStaff)

	code, body := s.createReservation(t, buyer, 2)
	require.Equal(t, http.StatusCreated, code, body)
	resID := idOf(t, body, "id")
	require.Equal(t, "active", body["status"])
	require.Equal(t, "170000", body["total"])

	code, body = s.createReservation(t, stranger, 2)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "insufficient_inventory", body["error"])

	path := fmt.Sprintf("/v1/reservations/%d", resID)
	code, _ = s.do(t, http.MethodGet, path, stranger, nil)
	require.Equal(t, http.StatusForbidden, code)
	code, body = s.do(t, http.MethodGet, path+"/timeout", buyer, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 900, body["seconds_remaining"])

	payment := map[string]any{"transaction_id": "gw-1", "reservation_id": resID, "outcome": "approved"}
	code, _ = s.webhook(t, payment, false)
	require.Equal(t, http.StatusUnauthorized, code)
	code, body = s.webhook(t, payment, true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, service.ResultConfirmed, body["result"])
	code, body = s.webhook(t, payment, true)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, service.ResultDuplicate, body["result"])

	code, body = s.do(t, http.MethodGet, "/v1/my-tickets", buyer, nil)
	require.Equal(t, http.StatusOK, code)
	tickets := body["tickets"].([]any)
	require.Len(t, tickets, 2)
	first := tickets[0].(map[string]any)
	require.Equal(t, true, first["can_transfer"])
	qr := first["qr_token"].(string)

	code, body = s.do(t, http.MethodPost, "/v1/qr/validate", staff, map[string]any{"token": qr, "event_id": 2})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "wrong_event", body["error"])
	code, body = s.do(t, http.MethodPost, "/v1/qr/validate", staff, map[string]any{"token": qr, "event_id": 1})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["valid"])
	code, body = s.do(t, http.MethodPost, "/v1/qr/validate", staff, map[string]any{"token": qr, "event_id": 1})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_used", body["error"])

	code, body = s.do(t, http.MethodGet, "/v1/events/1/check-in-stats", staff, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total_tickets"])
	require.EqualValues(t, 1, body["checked_in"])
	require.EqualValues(t, 50, body["check_in_percentage"])

	admin := token(t, 99, middleware.RoleAdmin)
	ruID := idOf(t, first, "reservation_unit_id")
	code, body = s.do(t, http.MethodPost, fmt.Sprintf("/v1/tickets/%d/reset", ruID), admin, map[string]any{"reason": "double scan"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["used"])
	code, _ = s.do(t, http.MethodPost, "/v1/qr/validate", staff, map[string]any{"token": qr, "event_id": 1})
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(t, http.MethodDelete, path, buyer, nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_processed", body["error"])
}

func TestCancelReservation(t *testing.T) {
	s := newTestServer(t, nil)
	buyer := token(t, 1, middleware.RoleCustomer)

	_, body := s.createReservation(t, buyer, 3)
	path := fmt.Sprintf("/v1/reservations/%d", idOf(t, body, "id"))
	code, _ := s.do(t, http.MethodDelete, path, token(t, 2, middleware.RoleCustomer), nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodDelete, path, buyer, nil)
	require.Equal(t, http.StatusNoContent, code)
	require.Equal(t, 3, s.store.UnitsByStatus(s.area.ID, model.UnitAvailable))

	code, _ = s.do(t, http.MethodPost, "/v1/reservations", buyer, map[string]any{"lines": []any{}})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/v1/reservations/abc", buyer, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestTransferFlow(t *testing.T) {
	s := newTestServer(t, nil)
	alice := token(t, 1, middleware.RoleCustomer)
	bob := token(t, 2, middleware.RoleCustomer)

	_, body := s.createReservation(t, alice, 1)
	resID := idOf(t, body, "id")
	ruID := idOf(t, body["units"].([]any)[0].(map[string]any), "id")
	code, _ := s.webhook(t, map[string]any{"event_id": "gw-9", "reservation_id": resID, "outcome": "approved"}, true)
	require.Equal(t, http.StatusOK, code)

	offer := fmt.Sprintf("/v1/tickets/%d/transfers", ruID)
	code, _ = s.do(t, http.MethodPost, offer, bob, map[string]any{"to_user_id": 3})
	require.Equal(t, http.StatusForbidden, code)
	code, body = s.do(t, http.MethodPost, offer, alice, map[string]any{"to_user_id": 2})
	require.Equal(t, http.StatusCreated, code)
	transferToken := body["token"].(string)
	code, body = s.do(t, http.MethodPost, offer, alice, map[string]any{"to_user_id": 2})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "transfer_already_pending", body["error"])

	code, body = s.do(t, http.MethodPost, "/v1/transfers/accept", bob, map[string]any{"token": transferToken})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "transferred", body["status"])
	require.NotEmpty(t, body["qr_token"])

	code, body = s.do(t, http.MethodGet, offer, alice, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["transfers"].([]any), 1)
	code, _ = s.do(t, http.MethodGet, offer, token(t, 3, middleware.RoleCustomer), nil)
	require.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, http.MethodDelete, "/v1/transfers/"+transferToken, alice, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "transfer_not_found", body["error"])

	code, body = s.do(t, http.MethodGet, "/v1/my-tickets", bob, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["tickets"].([]any), 1)
}

func TestAdminConsistencyCheck(t *testing.T) {
	s := newTestServer(t, nil)
	admin := token(t, 99, middleware.RoleAdmin)

	code, body := s.do(t, http.MethodPost, "/v1/admin/consistency-check", admin, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["quarantined"])

	s.store.SetUnitStatus(s.store.UnitIDs(s.area.ID, model.UnitAvailable)[0], model.UnitReserved)
	code, body = s.do(t, http.MethodPost, "/v1/admin/consistency-check?limit=10", admin, nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["quarantined"])

	code, _ = s.do(t, http.MethodPost, "/v1/admin/consistency-check?limit=0", admin, nil)
	require.Equal(t, http.StatusBadRequest, code)
}
