package activitylog

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/keyxmakerx/chronicle-activity/internal/middleware"
)

// RegisterRoutes sets up the activity routes. The JSON API takes the ingest
// token as a bearer token; the HTML page asks for it through basic auth
// (any user name) so a browser can open it. The ingest endpoint is also
// rate limited per client IP.
func RegisterRoutes(e *echo.Echo, h *Handler, match TokenMatcher, limiter middleware.Limiter) {
	api := e.Group("/api/v1/activity", RequireToken(match))
	api.POST("/hooks", h.Ingest, middleware.RateLimit(limiter))
	api.GET("", h.Feed)
	api.GET("/:id", h.Show)

	e.GET("/activity", h.Page,
		middleware.SecurityHeaders(),
		echomw.BasicAuthWithConfig(echomw.BasicAuthConfig{
			Realm: "Activity log",
			Validator: func(_, password string, _ echo.Context) (bool, error) {
				return match(password), nil
			},
		}),
	)
}
