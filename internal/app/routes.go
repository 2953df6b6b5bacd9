package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/engine"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/events"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/store"
	"github.com/keyxmakerx/chronicle-activity/internal/activity/watchers"
	"github.com/keyxmakerx/chronicle-activity/internal/config"
	"github.com/keyxmakerx/chronicle-activity/internal/database"
	"github.com/keyxmakerx/chronicle-activity/internal/middleware"
	"github.com/keyxmakerx/chronicle-activity/internal/plugins/activitylog"
)

// Ingest rate limit per client IP.
const (
	ingestRateLimit  = 600
	ingestRateWindow = time.Minute
)

// RegisterRoutes builds the activity engine and registers every route. This
// is the single place where routes are aggregated.
func (a *App) RegisterRoutes() error {
	e := a.Echo

	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, "/activity")
	})
	e.GET("/healthz", a.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{Registry: a.Metrics})))

	eng, repo, err := a.buildEngine()
	if err != nil {
		return err
	}

	svc := activitylog.NewActivityService(eng, repo)
	activitylog.RegisterRoutes(e,
		activitylog.NewHandler(svc),
		activitylog.NewTokenMatcher(a.Config.Activity.IngestToken),
		a.ingestLimiter(),
	)
	return nil
}

// buildEngine loads the event catalog and picks the record store and
// pending queue backends from the config.
func (a *App) buildEngine() (*engine.Engine, store.Repository, error) {
	cfg := a.Config.Activity

	groups, err := events.LoadCatalog(cfg.EventsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading event catalog: %w", err)
	}

	var repo store.Repository
	switch {
	case cfg.Store == config.StoreMemory:
		repo = store.NewMemoryRepository()
	case a.DB != nil:
		repo = store.NewMariaRepository(a.DB)
	default:
		return nil, nil, fmt.Errorf("ACTIVITY_STORE=%s needs a database connection", cfg.Store)
	}

	var pending engine.PendingQueue
	if a.Redis != nil {
		pending = engine.NewRedisPending(a.Redis, cfg.PendingTTL)
	}

	eng := engine.New(engine.Options{
		Config: engine.Config{
			Window:     cfg.AggregationWindow,
			PendingTTL: cfg.PendingTTL,
			Strict:     cfg.Strict,
		},
		Groups:   groups,
		Repo:     repo,
		Pending:  pending,
		Handlers: watchers.Handlers(),
		Metrics:  engine.NewMetrics(a.Metrics),
		Logger:   slog.Default(),
	})

	slog.Info("activity engine ready",
		slog.String("catalog", cfg.EventsPath),
		slog.Int("groups", len(groups)),
		slog.String("store", cfg.Store),
		slog.Bool("redis_pending", a.Redis != nil),
		slog.Duration("window", cfg.AggregationWindow),
	)
	return eng, repo, nil
}

// ingestLimiter shares the budget across instances when Redis is available.
func (a *App) ingestLimiter() middleware.Limiter {
	if a.Redis != nil {
		return middleware.NewRedisLimiter(a.Redis, ingestRateLimit, ingestRateWindow)
	}
	return middleware.NewMemoryLimiter(ingestRateLimit, ingestRateWindow)
}

// health reports MariaDB and Redis connectivity for container health checks.
func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	st, err := database.Check(ctx, a.DB, a.Redis)
	if err != nil {
		slog.Warn("health check failed", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, st)
	}
	return c.JSON(http.StatusOK, st)
}
