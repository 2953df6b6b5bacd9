// Package app is the bootstrap and dependency injection root. It holds the
// shared infrastructure (DB pool, Redis client, Echo instance, metrics
// registry) and wires the activity engine and its HTTP plugin together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/chronicle-activity/internal/apperror"
	"github.com/keyxmakerx/chronicle-activity/internal/config"
	"github.com/keyxmakerx/chronicle-activity/internal/middleware"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB pool. Nil when ACTIVITY_STORE=memory.
	DB *sql.DB

	// Redis backs the pending queue and the ingest rate limiter. Nil when
	// REDIS_URL is empty.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Metrics is the registry served on /metrics.
	Metrics *prometheus.Registry
}

// New creates an App and configures Echo with global middleware and error
// handling. Routes are added by RegisterRoutes.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Every activity record stores the client IP, so c.RealIP() must not
	// trust forwarding headers from arbitrary peers.
	middleware.TrustedProxies(e, middleware.DefaultTrustedProxies)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Echo:    e,
		Metrics: reg,
	}

	// Logger is outermost so panics turned into errors by Recovery are
	// logged with their final status.
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recovery())

	e.HTTPErrorHandler = app.errorHandler

	return app
}

// errorHandler maps AppErrors and Echo HTTP errors to responses: JSON for
// the API and health endpoints, an HTML error page otherwise.
func (a *App) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.RequestID(c)),
			)
		}
	case errors.As(err, &echoErr):
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = defaultErrorMessage(code)
		}
	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
			slog.String("request_id", middleware.RequestID(c)),
		)
	}

	if isAPIRequest(c) {
		_ = c.JSON(code, map[string]string{
			"error":   http.StatusText(code),
			"message": message,
		})
		return
	}
	_ = middleware.Render(c, code, ErrorPage(code, message))
}

// defaultErrorMessage returns a user-friendly message for common HTTP status
// codes when the error carries none.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "Valid credentials are required."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}

// isAPIRequest reports whether the client expects JSON.
func isAPIRequest(c echo.Context) bool {
	p := c.Request().URL.Path
	return strings.HasPrefix(p, "/api") || p == "/healthz"
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting activity server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
