// Package config resolves the agentorch home directory and loads the server
// configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the server configuration.
type Config struct {
	// Catalog is the worker type catalog file. Empty means <home>/agent_types.yaml.
	Catalog       string
	WorkerBinary  string
	MaxConcurrent int
	GracePeriod   time.Duration
	// Bubblewrap wraps workers in bwrap on Linux when available.
	Bubblewrap bool

	DBDriver    string
	DatabaseURL string

	Port     int
	APIKey   string
	LogLevel string
	// Metrics enables the OpenTelemetry meter provider and /metrics.
	Metrics bool
	// CallbackGroup receives async completion messages by default.
	CallbackGroup string
}

// LoadEnvFiles loads .env files into the process environment. Variables that
// are already set win. A missing file is an error only when it was named
// explicitly; with no names, ./.env is loaded if present.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("config: load env file: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults and
// validates it.
func Load(home string) (Config, error) {
	cfg := FromEnv(home)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables with defaults,
// without validating, so callers can apply overrides first.
func FromEnv(home string) Config {
	cfg := Config{
		Catalog:       envStr("AGENTORCH_CATALOG", ""),
		WorkerBinary:  envStr("AGENTORCH_WORKER_BIN", "claude"),
		MaxConcurrent: envInt("AGENTORCH_MAX_CONCURRENT", 8),
		GracePeriod:   envDuration("AGENTORCH_GRACE_PERIOD", 5*time.Second),
		Bubblewrap:    envBool("AGENTORCH_SANDBOX", false),
		DBDriver:      strings.ToLower(envStr("AGENTORCH_DB_DRIVER", DriverSQLite)),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		Port:          envInt("AGENTORCH_PORT", 3548),
		APIKey:        envStr("AGENTORCH_API_KEY", ""),
		LogLevel:      envStr("AGENTORCH_LOG_LEVEL", "info"),
		Metrics:       envBool("AGENTORCH_OTEL", true),
		CallbackGroup: envStr("AGENTORCH_CALLBACK_GROUP", "coordinator"),
	}
	if cfg.Catalog == "" && home != "" {
		cfg.Catalog = filepath.Join(home, "agent_types.yaml")
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Catalog == "" {
		errs = append(errs, errors.New("config: AGENTORCH_CATALOG is required"))
	}
	if c.WorkerBinary == "" {
		errs = append(errs, errors.New("config: AGENTORCH_WORKER_BIN must not be empty"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("config: AGENTORCH_MAX_CONCURRENT must be positive"))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, errors.New("config: AGENTORCH_GRACE_PERIOD must be positive"))
	}
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown AGENTORCH_DB_DRIVER %q", c.DBDriver))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: AGENTORCH_PORT %d out of range", c.Port))
	}
	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare numbers are seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// Environ returns c as KEY=VALUE pairs that Load reads back, for handing the
// effective configuration to a child process.
func (c Config) Environ() []string {
	env := []string{
		"AGENTORCH_CATALOG=" + c.Catalog,
		"AGENTORCH_WORKER_BIN=" + c.WorkerBinary,
		"AGENTORCH_MAX_CONCURRENT=" + strconv.Itoa(c.MaxConcurrent),
		"AGENTORCH_GRACE_PERIOD=" + c.GracePeriod.String(),
		"AGENTORCH_SANDBOX=" + strconv.FormatBool(c.Bubblewrap),
		"AGENTORCH_DB_DRIVER=" + c.DBDriver,
		"AGENTORCH_PORT=" + strconv.Itoa(c.Port),
		"AGENTORCH_LOG_LEVEL=" + c.LogLevel,
		"AGENTORCH_OTEL=" + strconv.FormatBool(c.Metrics),
		"AGENTORCH_CALLBACK_GROUP=" + c.CallbackGroup,
	}
	if c.DatabaseURL != "" {
		env = append(env, "DATABASE_URL="+c.DatabaseURL)
	}
	if c.APIKey != "" {
		env = append(env, "AGENTORCH_API_KEY="+c.APIKey)
	}
	return env
}
