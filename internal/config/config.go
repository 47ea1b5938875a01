package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Sync     SyncConfig     `yaml:"sync"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and locates the mirror database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`
	URL    string `yaml:"-"` // env-only, never in YAML
}

// UpstreamConfig locates the CMS data API.
type UpstreamConfig struct {
	BaseURL    string   `yaml:"base_url"`
	URLEnv     string   `yaml:"url_env"`
	Collection string   `yaml:"collection"`
	Timeout    Duration `yaml:"timeout"`
}

// SyncConfig tunes the incremental sync loop.
type SyncConfig struct {
	PageSize      int      `yaml:"page_size"`
	ResyncWindow  Duration `yaml:"resync_window"`
	LockTTL       Duration `yaml:"lock_ttl"`
	Schedule      string   `yaml:"schedule"`
	OnUpsertError string   `yaml:"on_upsert_error"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	return load(true)
}

// LoadLocal loads configuration for operator commands that never serve HTTP.
// The API key is not required.
func LoadLocal() (*Config, error) {
	return load(false)
}

func load(requireAuth bool) (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LOANSYNC_CONFIG_PATH", "config/loansync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(requireAuth); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit config paths.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(10 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/loansync.db",
		},
		Upstream: UpstreamConfig{
			URLEnv:     "LOANSYNC_UPSTREAM_URL",
			Collection: "Application",
			Timeout:    Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			PageSize:      500,
			ResyncWindow:  Duration(time.Hour),
			LockTTL:       Duration(5 * time.Minute),
			OnUpsertError: "continue",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LOANSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("LOANSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LOANSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("LOANSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database (DATABASE_URL is the platform convention)
	if v := os.Getenv("LOANSYNC_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LOANSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOANSYNC_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	// Upstream
	if v := os.Getenv("LOANSYNC_UPSTREAM_COLLECTION"); v != "" {
		cfg.Upstream.Collection = v
	}
	envDuration("LOANSYNC_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)

	// Sync
	if v := os.Getenv("LOANSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PageSize = n
		}
	}
	envDuration("LOANSYNC_RESYNC_WINDOW", &cfg.Sync.ResyncWindow)
	envDuration("LOANSYNC_LOCK_TTL", &cfg.Sync.LockTTL)
	if v := os.Getenv("LOANSYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}
	if v := os.Getenv("LOANSYNC_ON_UPSERT_ERROR"); v != "" {
		cfg.Sync.OnUpsertError = v
	}

	// Auth
	if v := os.Getenv("LOANSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("LOANSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOANSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// DevMode reports whether LOANSYNC_DEV_MODE=true.
func DevMode() bool {
	return os.Getenv("LOANSYNC_DEV_MODE") == "true"
}

// validate checks configuration values.
// In dev mode API key validation is skipped.
func (c *Config) validate(requireAuth bool) error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}

	if c.Upstream.Collection == "" {
		errs = append(errs, errors.New("upstream.collection is required"))
	}
	if c.Sync.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize))
	}
	if c.Sync.ResyncWindow <= 0 {
		errs = append(errs, errors.New("sync.resync_window must be positive"))
	}
	if c.Sync.LockTTL <= 0 {
		errs = append(errs, errors.New("sync.lock_ttl must be positive"))
	}
	switch c.Sync.OnUpsertError {
	case "continue", "abort":
	default:
		errs = append(errs, fmt.Errorf("sync.on_upsert_error %q must be continue or abort", c.Sync.OnUpsertError))
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sync.schedule: %w", err))
		}
	}

	if requireAuth && !DevMode() && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("LOANSYNC_API_KEY is required"))
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
