// Package config loads application configuration from environment
// variables. No other package reads env vars directly. Defaults target local
// development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	// Empty picks debug in development and info elsewhere.
	LogLevel string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// MigrationsPath is the directory holding the golang-migrate SQL files.
	MigrationsPath string

	// Activity holds the activity engine settings.
	Activity ActivityConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators like Cosmos Cloud can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "chronicle_activity").
	User string

	// Password is the MariaDB password (default: "chronicle_activity").
	Password string

	// Name is the database name (default: "chronicle_activity").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	// Empty disables Redis; deferred occurrences then live in process memory.
	URL string
}

// Store backends for activity records.
const (
	StoreMariaDB = "mariadb"
	StoreMemory  = "memory"
)

// ActivityConfig holds the activity engine settings.
type ActivityConfig struct {
	// EventsPath is the YAML event catalog loaded at startup.
	EventsPath string

	// AggregationWindow bounds how far back an occurrence may fold into an
	// existing record. Zero aggregates over all time.
	AggregationWindow time.Duration

	// PendingTTL is how long a deferred occurrence waits for the actor's
	// next request before it is abandoned.
	PendingTTL time.Duration

	// IngestToken authenticates the host calling the ingest endpoint.
	IngestToken string

	// Strict surfaces persistence failures to the ingest caller.
	Strict bool

	// Store selects the record backend: "mariadb" or "memory".
	Store string
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "chronicle_activity"),
			Password:        getEnv("DB_PASSWORD", "chronicle_activity"),
			Name:            getEnv("DB_NAME", "chronicle_activity"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
	}

	cfg.Activity = ActivityConfig{
		EventsPath:        getEnv("ACTIVITY_EVENTS_PATH", "configs/events.yaml"),
		AggregationWindow: getEnvDuration("ACTIVITY_AGGREGATION_WINDOW", time.Hour),
		PendingTTL:        getEnvDuration("ACTIVITY_PENDING_TTL", 30*time.Minute),
		IngestToken:       getEnv("ACTIVITY_INGEST_TOKEN", ""),
		Strict:            getEnvBool("ACTIVITY_STRICT", cfg.IsDevelopment()),
		Store:             strings.ToLower(getEnv("ACTIVITY_STORE", StoreMariaDB)),
	}

	switch cfg.Activity.Store {
	case StoreMariaDB, StoreMemory:
	default:
		return nil, fmt.Errorf("ACTIVITY_STORE must be %q or %q, got %q", StoreMariaDB, StoreMemory, cfg.Activity.Store)
	}
	if cfg.Activity.AggregationWindow < 0 {
		return nil, fmt.Errorf("ACTIVITY_AGGREGATION_WINDOW must not be negative")
	}

	// Validate required fields in production. Case-insensitive check catches
	// common variants like "Production", "prod", etc.
	envLower := strings.ToLower(cfg.Env)
	if envLower == "production" || envLower == "prod" {
		if cfg.Activity.IngestToken == "" {
			return nil, fmt.Errorf("ACTIVITY_INGEST_TOKEN is required in production")
		}
		if len(cfg.Activity.IngestToken) < 32 {
			return nil, fmt.Errorf("ACTIVITY_INGEST_TOKEN must be at least 32 characters in production")
		}
	}

	// Provide a dev-only default token so local dev works without .env.
	if cfg.Activity.IngestToken == "" {
		cfg.Activity.IngestToken = "dev-ingest-token-do-not-use-in-production"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns
// the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
