package activitylog

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyxmakerx/chronicle-activity/internal/middleware"
)

// TokenMatcher reports whether a presented credential is the configured
// ingest token.
type TokenMatcher func(presented string) bool

// NewTokenMatcher accepts either the token itself or its bcrypt hash
// ("$2a$", "$2b$" or "$2y$" prefix) as configured value.
func NewTokenMatcher(configured string) TokenMatcher {
	if isBcryptHash(configured) {
		hash := []byte(configured)
		return func(presented string) bool {
			return bcrypt.CompareHashAndPassword(hash, []byte(presented)) == nil
		}
	}
	want := []byte(configured)
	return func(presented string) bool {
		return len(want) > 0 && subtle.ConstantTimeCompare(want, []byte(presented)) == 1
	}
}

func isBcryptHash(s string) bool {
	for _, p := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// RequireToken returns middleware that accepts "Authorization: Bearer
// <token>" and rejects everything else with 401.
func RequireToken(match TokenMatcher) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			raw, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format, use: Bearer <token>")
			}
			if !match(raw) {
				slog.Warn("rejected activity token",
					slog.String("remote_ip", c.RealIP()),
					slog.String("path", c.Request().URL.Path),
					slog.String("request_id", middleware.RequestID(c)),
				)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}
