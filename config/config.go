package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Checkpoints CheckpointConfig  `mapstructure:"checkpoints"`
	Session     SessionConfig     `mapstructure:"session"`
	Research    ResearchConfig    `mapstructure:"research"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Formats     map[string]Format `mapstructure:"formats"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains control-plane HTTP settings.
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	CleanupCron string `mapstructure:"cleanup_cron"`
}

// EngineConfig tunes the parallel execution engine defaults. Per-execution
// options override these.
type EngineConfig struct {
	ConcurrencyLimit  int           `mapstructure:"concurrency_limit"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	Backoff           bool          `mapstructure:"exponential_backoff"`
	RateLimitReset    time.Duration `mapstructure:"rate_limit_reset"`
	CancelDrain       time.Duration `mapstructure:"cancel_drain"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// Normalize applies engine defaults for unset values.
func (c EngineConfig) Normalize() EngineConfig {
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 3
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.RateLimitReset <= 0 {
		c.RateLimitReset = 60 * time.Second
	}
	if c.CancelDrain <= 0 {
		c.CancelDrain = 5 * time.Second
	}
	return c
}

// CheckpointConfig contains human-approval settings.
type CheckpointConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// Normalize applies the 30 minute auto-approve default.
func (c CheckpointConfig) Normalize() CheckpointConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Minute
	}
	return c
}

// SessionConfig selects the durable session backend and persistence cadence.
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // postgres or sqlite
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Debounce      time.Duration `mapstructure:"debounce"`
	TTLDays       int           `mapstructure:"ttl_days"`
}

// Normalize applies session defaults.
func (c SessionConfig) Normalize() SessionConfig {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "reelforge.db"
	}
	if c.Debounce <= 0 {
		c.Debounce = time.Second
	}
	if c.TTLDays <= 0 {
		c.TTLDays = 7
	}
	return c
}

// Validate ensures the backend selection is usable.
func (c SessionConfig) Validate() error {
	switch c.Backend {
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("session.postgres_dsn is required for the postgres backend")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("session.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("session.backend must be postgres or sqlite, got %q", c.Backend)
	}
	return nil
}

// ResearchConfig tunes the research service.
type ResearchConfig struct {
	MaxResults   int           `mapstructure:"max_results"`
	Concurrency  int           `mapstructure:"concurrency"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// Normalize applies research defaults.
func (c ResearchConfig) Normalize() ResearchConfig {
	if c.MaxResults <= 0 {
		c.MaxResults = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	return c
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// Format overrides registry defaults for one format id.
type Format struct {
	AspectRatio      string            `mapstructure:"aspect_ratio"`
	MinSeconds       float64           `mapstructure:"min_seconds"`
	MaxSeconds       float64           `mapstructure:"max_seconds"`
	CheckpointCount  int               `mapstructure:"checkpoint_count"`
	ConcurrencyLimit int               `mapstructure:"concurrency_limit"`
	RequiresResearch *bool             `mapstructure:"requires_research"`
	ResearchDepth    string            `mapstructure:"research_depth"`
	ArtStyle         string            `mapstructure:"art_style"`
	VoiceProfiles    map[string]string `mapstructure:"voice_profiles"`
}

// Load reads configuration from the given path (or ./config.yaml, then
// $HOME/.reelforge/config.yaml) with REELFORGE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REELFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".reelforge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine: everything has defaults or env overrides
		if !isNotFound(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Engine = cfg.Engine.Normalize()
	cfg.Checkpoints = cfg.Checkpoints.Normalize()
	cfg.Session = cfg.Session.Normalize()
	cfg.Research = cfg.Research.Normalize()
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":10080"
	}

	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// viper also reports plain fs errors when an explicit file is set
	if os.IsNotExist(err) {
		return true
	}
	return false
}
