package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Roles carried in the access token's role claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleStaff    = "STAFF"
	RoleAdmin    = "ADMIN"
)

// UserID returns the authenticated caller's id.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated caller's role claim.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// userKey identifies the caller for rate limiting; anonymous callers
// share "anon".
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
