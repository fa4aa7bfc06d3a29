package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger logs every request at debug level
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("HTTP request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.String("remote_addr", v.RemoteIP),
				zap.Int("status", v.Status),
				zap.Int64("duration_ms", v.Latency.Milliseconds()))
			return nil
		},
	})
}

// BasicAuth protects the control API with HTTP Basic Auth
func BasicAuth(username, password string, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			user, pass, ok := c.Request().BasicAuth()
			if !ok {
				c.Response().Header().Set("WWW-Authenticate", `Basic realm="Transfer Control"`)
				return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
			}

			validUser := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			validPass := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

			if !validUser || !validPass {
				c.Response().Header().Set("WWW-Authenticate", `Basic realm="Transfer Control"`)
				logger.Warn("failed authentication attempt",
					zap.String("username", user),
					zap.String("remote_addr", c.RealIP()))
				return c.JSON(http.StatusUnauthorized, errorBody("invalid credentials"))
			}

			return next(c)
		}
	}
}
