package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Leveling      LevelingConfig      `yaml:"leveling" mapstructure:"leveling"`
	Clarification ClarificationConfig `yaml:"clarification" mapstructure:"clarification"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LevelingConfig configures analysis runs and the snapshot cache.
type LevelingConfig struct {
	OutlierThreshold     float64 `yaml:"outlier_threshold" mapstructure:"outlier_threshold"`
	Parallelism          int     `yaml:"parallelism" mapstructure:"parallelism"`
	MaxConcurrentEvents  int     `yaml:"max_concurrent_events" mapstructure:"max_concurrent_events"`
	CacheCapacity        int     `yaml:"cache_capacity" mapstructure:"cache_capacity"`
	CacheRecencyWeight   float64 `yaml:"cache_recency_weight" mapstructure:"cache_recency_weight"`
	CacheFrequencyWeight float64 `yaml:"cache_frequency_weight" mapstructure:"cache_frequency_weight"`
	CacheHalfLifeSecs    int     `yaml:"cache_half_life_secs" mapstructure:"cache_half_life_secs"`
}

// ClarificationConfig configures delivery to the clarification channel.
type ClarificationConfig struct {
	WebhookURL       string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	SigningSecret    string  `yaml:"signing_secret" mapstructure:"signing_secret"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MinSeverity      string  `yaml:"min_severity" mapstructure:"min_severity"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIDLEVEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "bidlevel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("leveling.outlier_threshold", 1.5)
	v.SetDefault("leveling.parallelism", 0)
	v.SetDefault("leveling.max_concurrent_events", 4)
	v.SetDefault("leveling.cache_capacity", 128)
	v.SetDefault("leveling.cache_recency_weight", 0.7)
	v.SetDefault("leveling.cache_frequency_weight", 0.3)
	v.SetDefault("leveling.cache_half_life_secs", 900)
	v.SetDefault("clarification.timeout_secs", 10)
	v.SetDefault("clarification.rate_per_sec", 2.0)
	v.SetDefault("clarification.burst", 1)
	v.SetDefault("clarification.max_attempts", 3)
	v.SetDefault("clarification.initial_backoff_ms", 500)
	v.SetDefault("clarification.min_severity", "moderate")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on. scope is "store",
// "clarification" or "" for everything.
func (c *Config) Validate(scope string) error {
	var errs []string

	if scope == "" || scope == "store" {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres (BIDLEVEL_STORE_DATABASE_URL)")
		}
	}

	if scope == "" {
		if c.Leveling.OutlierThreshold <= 0 {
			errs = append(errs, "leveling.outlier_threshold must be > 0")
		}
		if c.Leveling.CacheCapacity < 0 {
			errs = append(errs, "leveling.cache_capacity must be >= 0")
		}
	}

	if scope == "" || scope == "clarification" {
		if scope == "clarification" && c.Clarification.WebhookURL == "" {
			errs = append(errs, "clarification.webhook_url is required (BIDLEVEL_CLARIFICATION_WEBHOOK_URL)")
		}
		switch c.Clarification.MinSeverity {
		case "", "mild", "moderate", "severe":
		default:
			errs = append(errs, fmt.Sprintf("clarification.min_severity must be mild, moderate or severe, got %q", c.Clarification.MinSeverity))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
