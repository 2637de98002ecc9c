package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Venue   VenueConfig   `mapstructure:"venue"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Network NetworkConfig `mapstructure:"network"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Session SessionConfig `mapstructure:"session"`
	I18n    I18nConfig    `mapstructure:"i18n"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

// ServerConfig holds settings for the local HTTP API.
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig holds log settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds settings for the embedded queue database.
type DBConfig struct {
	File string `mapstructure:"file"`
}

// RemoteConfig holds settings for the remote POS backend.
type RemoteConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	ProxyAPIKey       string        `mapstructure:"proxy_api_key"`
	ForegroundTimeout time.Duration `mapstructure:"foreground_timeout"`
	BackgroundTimeout time.Duration `mapstructure:"background_timeout"`
	PingPath          string        `mapstructure:"ping_path"`
}

// VenueConfig holds venue business rules applied at intake. Venues close
// after midnight, so the closing hour decides which business day a sale
// made at 2am belongs to.
type VenueConfig struct {
	ClosingHour int `mapstructure:"closing_hour"`
}

// SyncConfig holds settings for the background drain loop.
type SyncConfig struct {
	ProcessingInterval  time.Duration `mapstructure:"processing_interval"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryInitialDelay   time.Duration `mapstructure:"retry_initial_delay"`
	RetryBackoffFactor  float64       `mapstructure:"retry_backoff_factor"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	MaxConcurrentScopes int           `mapstructure:"max_concurrent_scopes"`
}

// NetworkConfig holds tuning for the network classifier.
type NetworkConfig struct {
	WindowSize           int           `mapstructure:"window_size"`
	ConsecutiveFailures  int           `mapstructure:"consecutive_failures"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	LatencyThreshold     time.Duration `mapstructure:"latency_threshold"`
	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"`
	RecheckInterval      time.Duration `mapstructure:"recheck_interval"`
}

// MQTTConfig holds settings for the optional status publisher.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// SessionConfig holds settings for the cookie session store.
type SessionConfig struct {
	Secret      string        `mapstructure:"secret"`
	CookieName  string        `mapstructure:"cookie_name"`
	ActingAsTTL time.Duration `mapstructure:"acting_as_ttl"`
}

// I18nConfig holds settings for API message localization.
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	LocalesDir      string `mapstructure:"locales_dir"`
}

// CleanupConfig holds retention settings for terminal operations.
type CleanupConfig struct {
	RetentionHours int           `mapstructure:"retention_hours"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables overlay the file values.
	v.AutomaticEnv()
	v.SetEnvPrefix("BARSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults applies default values for every section.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/barsync.log")

	// DB
	v.SetDefault("db.file", "/data/barsync.db")

	// Remote backend
	v.SetDefault("remote.foreground_timeout", 15*time.Second)
	v.SetDefault("remote.background_timeout", 8*time.Second)
	v.SetDefault("remote.ping_path", "/api/v1/ping")

	// Venue business rules
	v.SetDefault("venue.closing_hour", 6)

	// Drain loop
	v.SetDefault("sync.processing_interval", 30*time.Second)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retry_initial_delay", time.Second)
	v.SetDefault("sync.retry_backoff_factor", 3.0)
	v.SetDefault("sync.retry_max_delay", 60*time.Second)
	v.SetDefault("sync.max_concurrent_scopes", 4)

	// Network classifier
	v.SetDefault("network.window_size", 5)
	v.SetDefault("network.consecutive_failures", 3)
	v.SetDefault("network.failure_rate_threshold", 0.5)
	v.SetDefault("network.latency_threshold", 400*time.Millisecond)
	v.SetDefault("network.probe_timeout", 5*time.Second)
	v.SetDefault("network.recheck_interval", 30*time.Second)

	// MQTT status publishing
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "barsync")
	v.SetDefault("mqtt.topic_prefix", "barsync")

	// Sessions
	v.SetDefault("session.cookie_name", "barsync_session")
	v.SetDefault("session.acting_as_ttl", 30*time.Minute)

	// i18n
	v.SetDefault("i18n.default_language", "fr")
	v.SetDefault("i18n.locales_dir", "./web/locales")

	// Cleanup
	v.SetDefault("cleanup.retention_hours", 24)
	v.SetDefault("cleanup.check_interval", time.Hour)
}

// ensureDirectories makes sure all required directories exist.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		logDir := filepath.Dir(cfg.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
