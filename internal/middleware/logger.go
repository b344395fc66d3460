package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const handlerErrorKey = "handler_error"

// RecordError attaches an error a handler already rendered as a response,
// so RequestLogger reports it on the request line.
func RecordError(c echo.Context, err error) {
	c.Set(handlerErrorKey, err)
}

// RequestLogger writes one structured line per request.  5xx responses log
// at Error, 4xx at Warn, everything else at Info.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			lvl := zapcore.InfoLevel
			switch {
			case status >= 500:
				lvl = zapcore.ErrorLevel
			case status >= 400:
				lvl = zapcore.WarnLevel
			}
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}
			if id, ok := UserID(c); ok {
				fields = append(fields, zap.Uint64("user_id", id))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			} else if herr, ok := c.Get(handlerErrorKey).(error); ok {
				fields = append(fields, zap.Error(herr))
			}
			log.Log(lvl, "http request", fields...)
			return nil
		}
	}
}
