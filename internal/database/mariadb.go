// Package database provides connection setup for MariaDB and Redis. Both
// connections are created once at startup and shared through dependency
// injection. This package owns the connection lifecycle (open, configure
// pool, ping, close) and the startup migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/chronicle-activity/internal/config"
)

// Retry bounds for the startup ping.
const (
	maxPingRetries = 10
	maxPingBackoff = 30 * time.Second
)

// NewMariaDB opens a MariaDB pool configured from cfg and pings it until it
// answers. MariaDB may still be starting when the app container launches, so
// the ping retries with exponential backoff before giving up.
func NewMariaDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithRetry(context.Background(), db, maxPingRetries, time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pingWithRetry pings db up to attempts times, doubling the wait between
// attempts up to maxPingBackoff.
func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	var pingErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = db.PingContext(pingCtx)
		cancel()

		if pingErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		slog.Warn("mariadb not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", attempts),
			slog.Duration("backoff", backoff),
			slog.Any("error", pingErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxPingBackoff)
	}
	return fmt.Errorf("pinging mariadb after %d attempts: %w", attempts, pingErr)
}
