// Package config provides configuration management for the netboot server
// and the fleetwatch client.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string
	DBDebug     bool // log every SQL statement

	// CORS configuration
	CORSOrigin string

	// Catalog and fleet seed files
	CatalogFile     string
	CabinetSeedFile string

	// Status a newly created cabinet starts in (turned_off or startup)
	InitialStatus string

	// When set, admin-only requests must carry this token
	AdminToken string

	// Outlet hardware
	PowerCycleDelay time.Duration // off time during a power cycle
	OutletTimeout   time.Duration // per query/command

	// NetDimm probe; 0 uses the per-target default
	NetDimmTimeout time.Duration
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "4000"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "file:./netboot.db"),
		DBDebug:     getEnvBool("DB_DEBUG", false),

		// CORS
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),

		// Catalog
		CatalogFile:     getEnv("CATALOG_FILE", "./catalog.yaml"),
		CabinetSeedFile: getEnv("CABINET_SEED_FILE", ""),

		InitialStatus: getEnv("INITIAL_STATUS", "startup"),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),

		// Outlets
		PowerCycleDelay: getEnvDuration("POWER_CYCLE_DELAY_MS", 3000*time.Millisecond, time.Millisecond),
		OutletTimeout:   getEnvDuration("OUTLET_TIMEOUT_MS", 2000*time.Millisecond, time.Millisecond),

		NetDimmTimeout: getEnvDuration("NETDIMM_TIMEOUT_SECONDS", 0, time.Second),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ClientConfig holds configuration for the fleetwatch client.
type ClientConfig struct {
	Server string

	CabinetPoll time.Duration
	CatalogPoll time.Duration
	DetailPoll  time.Duration
	PowerPoll   time.Duration
}

// LoadClient loads client configuration from environment variables.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		Server:      getEnv("NETBOOT_SERVER", "http://localhost:4000"),
		CabinetPoll: getEnvDuration("CABINET_POLL_MS", 1000*time.Millisecond, time.Millisecond),
		CatalogPoll: getEnvDuration("CATALOG_POLL_MS", 5000*time.Millisecond, time.Millisecond),
		DetailPoll:  getEnvDuration("DETAIL_POLL_MS", 1000*time.Millisecond, time.Millisecond),
		PowerPoll:   getEnvDuration("POWER_POLL_MS", 1000*time.Millisecond, time.Millisecond),
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration reads an integer count of unit. Negative values fall back to the default.
func getEnvDuration(key string, defaultValue, unit time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return defaultValue
	}
	return time.Duration(n) * unit
}
