package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Status is the per-dependency health report served by /healthz.
type Status struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Dependency states reported in Status.
const (
	StateOK       = "ok"
	StateDown     = "down"
	StateDisabled = "disabled"
)

// Check pings every configured dependency. A nil db or rdb is reported as
// disabled and does not fail the check.
func Check(ctx context.Context, db *sql.DB, rdb *redis.Client) (Status, error) {
	st := Status{Status: StateOK, Database: StateDisabled, Redis: StateDisabled}
	var firstErr error

	if db != nil {
		st.Database = StateOK
		if err := db.PingContext(ctx); err != nil {
			st.Database = StateDown
			firstErr = fmt.Errorf("pinging mariadb: %w", err)
		}
	}
	if rdb != nil {
		st.Redis = StateOK
		if err := rdb.Ping(ctx).Err(); err != nil {
			st.Redis = StateDown
			if firstErr == nil {
				firstErr = fmt.Errorf("pinging redis: %w", err)
			}
		}
	}

	if firstErr != nil {
		st.Status = StateDown
	}
	return st, firstErr
}
