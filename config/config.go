// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Store     StoreConfig
	Scheduler SchedulerConfig
	CORS      CORSConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port     int
	Env      string
	LogLevel string
	SeedDemo bool
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string // memory | sqlite | postgres
	SQLitePath  string
	DatabaseURL string
}

// SchedulerConfig holds the cron specs for the background jobs.
type SchedulerConfig struct {
	Enabled          bool
	AnnualGrantSpec  string
	CarryForwardSpec string
	ExpirySweepSpec  string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	// .env is optional; real environments set variables directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	config := &Config{}

	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	config.App = AppConfig{
		Port:     appPort,
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		SeedDemo: getEnvBool("SEED_DEMO", false),
	}

	config.Store = StoreConfig{
		Driver:      getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/leave.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
	}

	config.Scheduler = SchedulerConfig{
		Enabled:          getEnvBool("SCHEDULER_ENABLED", true),
		AnnualGrantSpec:  getEnv("SCHEDULE_ANNUAL_GRANT", "0 0 1 1 *"),
		CarryForwardSpec: getEnv("SCHEDULE_CARRY_FORWARD", "0 1 1 1 *"),
		ExpirySweepSpec:  getEnv("SCHEDULE_EXPIRY_SWEEP", "0 2 1 * *"),
	}

	config.CORS = CORSConfig{
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (expected memory, sqlite or postgres)", c.Store.Driver)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}
