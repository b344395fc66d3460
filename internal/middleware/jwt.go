package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JWTAuth validates an HS256 Bearer access token and stores the numeric
// subject and the role claim on the context for UserID and Role.
func JWTAuth(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
			}

			uid, err := subject(claims["sub"])
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid subject"})
			}
			role, _ := claims["role"].(string)
			c.Set(ctxUserID, uid)
			c.Set(ctxRole, role)
			return next(c)
		}
	}
}

// subject accepts the numeric and string encodings of sub.
func subject(v any) (uint64, error) {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == float64(uint64(t)) {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("invalid sub claim %v", v)
}
