// Package router registers the HTTP routes of the engine.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation-engine/internal/config"
	"github.com/iliyamo/ticket-reservation-engine/internal/handler"
	"github.com/iliyamo/ticket-reservation-engine/internal/middleware"
)

// Deps carries the handlers and shared infrastructure for routing.  Redis
// may be nil, which disables rate limiting and response caching.
type Deps struct {
	JWTSecret string
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       *zap.Logger
	DB        handler.Pinger

	Reservations *handler.ReservationHandler
	Payments     *handler.PaymentHandler
	Credentials  *handler.CredentialHandler
	Transfers    *handler.TransferHandler
	Admin        *handler.AdminHandler
}

// Register mounts every route on e.
func Register(e *echo.Echo, d Deps) {
	limit := middleware.RateLimit(d.RateLimit, d.Redis, d.Log)
	cache := middleware.ResponseCache(d.Cache, d.Redis, d.Log)
	auth := middleware.JWTAuth(d.JWTSecret)

	e.GET("/healthz", handler.Health(d.DB))
	e.GET("/v1/areas/:id/price", d.Reservations.Quote, cache)
	e.POST("/v1/payments/events", d.Payments.Webhook)

	cust := e.Group("/v1", auth, middleware.RequireRole(middleware.RoleCustomer))
	cust.POST("/reservations", d.Reservations.Create, limit)
	cust.GET("/reservations/:id", d.Reservations.Get)
	cust.GET("/reservations/:id/timeout", d.Reservations.Timeout)
	cust.DELETE("/reservations/:id", d.Reservations.Cancel)
	cust.GET("/my-tickets", d.Reservations.MyTickets)
	cust.POST("/tickets/:id/transfers", d.Transfers.Initiate, limit)
	cust.POST("/transfers/accept", d.Transfers.Accept, limit)
	cust.DELETE("/transfers/:token", d.Transfers.Cancel)
	cust.GET("/tickets/:id/transfers", d.Transfers.History)

	staff := e.Group("/v1", auth, middleware.RequireRole(middleware.RoleStaff, middleware.RoleAdmin))
	staff.POST("/qr/validate", d.Credentials.Validate, limit)
	staff.GET("/events/:id/check-in-stats", d.Credentials.CheckInStats)

	admin := e.Group("/v1", auth, middleware.RequireRole(middleware.RoleAdmin))
	admin.POST("/tickets/:id/reset", d.Credentials.Reset)
	admin.POST("/admin/consistency-check", d.Admin.ConsistencyCheck)
}
