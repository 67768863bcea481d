package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Auth modes.
const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig selects how the owner identity of a request is resolved.
type AuthConfig struct {
	Mode string `yaml:"mode"`
	// UserHeader is read in header mode.
	UserHeader string `yaml:"user_header"`
	// TokenTTL is the lifetime of tokens minted by `tasksync token`.
	TokenTTL  Duration `yaml:"token_ttl"`
	JWTSecret string   `yaml:"-"` // env-only, never in YAML
}

// SyncConfig contains sync endpoint limits.
type SyncConfig struct {
	MaxOperations  int      `yaml:"max_operations"`
	IdempotencyTTL Duration `yaml:"idempotency_ttl"`
	// MaxStreamsPerOwner caps open change streams per owner. 0 disables
	// the stream endpoint.
	MaxStreamsPerOwner int `yaml:"max_streams_per_owner"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	RetentionInterval Duration `yaml:"retention_interval"`
	ConflictRetention Duration `yaml:"conflict_retention"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, sends logs to a size-rotated file instead of stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
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

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence:
// defaults → YAML file → .env file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TASKSYNC_CONFIG_PATH", "config/tasksync.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	return finish(cfg)
}

// LoadFromFile loads configuration from a specific path.
// Used by tests and the --config flag.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := loadDotEnv(getEnv("TASKSYNC_ENV_FILE", ".env")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
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
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tasksync.db",
		},
		Auth: AuthConfig{
			Mode:       AuthModeJWT,
			UserHeader: "X-User-Id",
			TokenTTL:   Duration(24 * time.Hour),
		},
		Sync: SyncConfig{
			MaxOperations:      500,
			IdempotencyTTL:     Duration(24 * time.Hour),
			MaxStreamsPerOwner: 5,
		},
		Worker: WorkerConfig{
			RetentionInterval: Duration(1 * time.Hour),
			ConflictRetention: Duration(30 * 24 * time.Hour),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
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

// loadDotEnv copies variables from a .env file into the process
// environment. Variables already set win; a missing file is ignored.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TASKSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	durationEnv("TASKSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	durationEnv("TASKSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	durationEnv("TASKSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("TASKSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Auth
	if v := os.Getenv("TASKSYNC_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("TASKSYNC_USER_HEADER"); v != "" {
		cfg.Auth.UserHeader = v
	}
	if v := os.Getenv("TASKSYNC_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	durationEnv("TASKSYNC_TOKEN_TTL", &cfg.Auth.TokenTTL)

	// Sync
	if v := os.Getenv("TASKSYNC_MAX_OPERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxOperations = n
		}
	}
	durationEnv("TASKSYNC_IDEMPOTENCY_TTL", &cfg.Sync.IdempotencyTTL)
	if v := os.Getenv("TASKSYNC_MAX_STREAMS_PER_OWNER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxStreamsPerOwner = n
		}
	}

	// Worker
	durationEnv("TASKSYNC_RETENTION_INTERVAL", &cfg.Worker.RetentionInterval)
	durationEnv("TASKSYNC_CONFLICT_RETENTION", &cfg.Worker.ConflictRetention)

	// Log
	if v := os.Getenv("TASKSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TASKSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TASKSYNC_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func durationEnv(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// DevMode reports whether TASKSYNC_DEV_MODE is enabled.
func DevMode() bool {
	return os.Getenv("TASKSYNC_DEV_MODE") == "true"
}

// validate checks that the configuration is usable.
// In dev mode (TASKSYNC_DEV_MODE=true), the JWT secret check is skipped.
func (c *Config) validate() error {
	switch c.Auth.Mode {
	case AuthModeJWT, AuthModeHeader:
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeJWT, AuthModeHeader, c.Auth.Mode)
	}
	if c.Sync.MaxOperations < 1 {
		return errors.New("sync.max_operations must be >= 1")
	}
	if c.Sync.MaxStreamsPerOwner < 0 {
		return errors.New("sync.max_streams_per_owner must be >= 0")
	}
	if c.Worker.RetentionInterval <= 0 {
		return errors.New("worker.retention_interval must be positive")
	}
	if c.Worker.ConflictRetention <= 0 {
		return errors.New("worker.conflict_retention must be positive")
	}

	if DevMode() {
		return nil
	}
	if c.Auth.Mode == AuthModeJWT && c.Auth.JWTSecret == "" {
		return errors.New("TASKSYNC_JWT_SECRET is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
