// Package config loads runtime settings from the environment, with optional
// .env file support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted by STRIKEKEEPER_STORE.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

type Config struct {
	Store     StoreConfig
	Strikes   StrikeConfig
	Loops     LoopConfig
	Platform  PlatformConfig
	OpsAddr   string
	OTEL      bool
	LogLevel  string
	LogFormat string
}

type StoreConfig struct {
	Backend     string
	Path        string
	LockTimeout time.Duration
}

type StrikeConfig struct {
	ResetWindow time.Duration
}

type LoopConfig struct {
	SweepInterval     time.Duration
	SweepStartDelay   time.Duration
	DashboardInterval time.Duration
}

type PlatformConfig struct {
	DashboardDir    string
	DirectoryFile   string
	DenyEnforcement bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present; real environment variables
// take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := defaultDataDir()

	cfg := &Config{
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STRIKEKEEPER_STORE", BackendBolt)),
			LockTimeout: getDuration("STORE_LOCK_TIMEOUT", 10*time.Second),
		},
		Strikes: StrikeConfig{
			ResetWindow: getDuration("STRIKE_RESET_WINDOW", 72*time.Hour),
		},
		Loops: LoopConfig{
			SweepInterval:     getDuration("SWEEP_INTERVAL", 30*time.Second),
			SweepStartDelay:   getDuration("SWEEP_START_DELAY", 15*time.Second),
			DashboardInterval: getDuration("DASHBOARD_INTERVAL", 30*time.Second),
		},
		Platform: PlatformConfig{
			DashboardDir:    getEnv("DASHBOARD_DIR", filepath.Join(dataDir, "dashboard")),
			DirectoryFile:   os.Getenv("DIRECTORY_FILE"),
			DenyEnforcement: getBool("ENFORCEMENT_DENY", false),
		},
		OpsAddr:   lookupEnv("OPS_ADDR", "127.0.0.1:18920"),
		OTEL:      getBool("OTEL_ENABLED", false),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	defaultPath := filepath.Join(dataDir, "strikes.db")
	if cfg.Store.Backend == BackendSQLite {
		defaultPath = filepath.Join(dataDir, "strikes.sqlite")
	}
	cfg.Store.Path = getEnv("STRIKEKEEPER_DB_PATH", defaultPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendBolt, BackendSQLite:
	default:
		return fmt.Errorf("STRIKEKEEPER_STORE must be %q or %q, got %q", BackendBolt, BackendSQLite, c.Store.Backend)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("STRIKEKEEPER_DB_PATH must not be empty")
	}

	durations := []struct {
		key   string
		value time.Duration
	}{
		{"STORE_LOCK_TIMEOUT", c.Store.LockTimeout},
		{"STRIKE_RESET_WINDOW", c.Strikes.ResetWindow},
		{"SWEEP_INTERVAL", c.Loops.SweepInterval},
		{"DASHBOARD_INTERVAL", c.Loops.DashboardInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.value)
		}
	}
	if c.Loops.SweepStartDelay < 0 {
		return fmt.Errorf("SWEEP_START_DELAY must not be negative, got %s", c.Loops.SweepStartDelay)
	}
	return nil
}

// defaultDataDir follows XDG_DATA_HOME, falling back to ~/.local/share.
func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "strikekeeper"
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "strikekeeper")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is like getEnv but honours an explicitly empty value.
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or bare seconds ("90").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Unparseable values surface through Validate.
	return -1
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
