// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CURATOR_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Storage   StorageConfig   `koanf:"storage"`
	Queue     QueueConfig     `koanf:"queue"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	JWT       JWTConfig       `koanf:"jwt"`
	Reviewers []ReviewerEntry `koanf:"reviewers" validate:"required,min=1,dive"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	// ServiceToken authenticates the answer pipeline and the outbound
	// delivery consumer.
	ServiceToken string `koanf:"service_token" validate:"required"`
	// CORSAllowedOrigins enables CORS for browser-based reviewer
	// frontends; empty disables it.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string         `koanf:"backend" validate:"oneof=file postgres"`
	File     FileConfig     `koanf:"file"`
	Database DatabaseConfig `koanf:"database"`
}

// FileConfig contains file backend settings.
type FileConfig struct {
	Dir               string `koanf:"dir"`
	BackupGenerations int    `koanf:"backup_generations" validate:"min=1"`
}

// DatabaseConfig contains PostgreSQL backend settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// QueueConfig contains approval queue settings.
type QueueConfig struct {
	DefaultTimeout time.Duration `koanf:"default_timeout" validate:"required"`
	EditLockTTL    time.Duration `koanf:"edit_lock_ttl" validate:"required"`
}

// SchedulerConfig contains background maintenance settings.
type SchedulerConfig struct {
	TickInterval     time.Duration `koanf:"tick_interval" validate:"required"`
	ReminderInterval time.Duration `koanf:"reminder_interval" validate:"required"`
	MaxReminders     int           `koanf:"max_reminders" validate:"min=1"`
	SweepInterval    time.Duration `koanf:"sweep_interval" validate:"required"`
}

// DeliveryConfig contains outbound delivery settings.
type DeliveryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1"`
	Retention   time.Duration `koanf:"retention" validate:"required"`
}

// TelegramConfig contains reviewer notification transport settings.
type TelegramConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Token             string        `koanf:"token"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	MessagesPerSecond float64       `koanf:"messages_per_second"`
	Retry             RetryConfig   `koanf:"retry"`
}

// RetryConfig contains notification retry policy.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts" validate:"min=1"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
}

// JWTConfig contains reviewer session token settings.
type JWTConfig struct {
	SecretKey     string        `koanf:"secret_key" validate:"required,min=32"`
	TokenDuration time.Duration `koanf:"token_duration" validate:"required"`
}

// ReviewerEntry describes one configured reviewer.
type ReviewerEntry struct {
	ID            string `koanf:"id" validate:"required"`
	Name          string `koanf:"name" validate:"required"`
	ChatID        int64  `koanf:"chat_id"`
	AccessKeyHash string `koanf:"access_key_hash" validate:"required"`
}

// Default returns the configuration defaults. Values without a default
// must come from the file or the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend: "file",
			File: FileConfig{
				Dir:               "data",
				BackupGenerations: 3,
			},
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				ConnectTimeout:  10 * time.Second,
				ConnectAttempts: 5,
			},
		},
		Queue: QueueConfig{
			DefaultTimeout: time.Hour,
			EditLockTTL:    10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TickInterval:     30 * time.Second,
			ReminderInterval: 30 * time.Minute,
			MaxReminders:     4,
			SweepInterval:    time.Hour,
		},
		Delivery: DeliveryConfig{
			MaxAttempts: 5,
			Retention:   24 * time.Hour,
		},
		Telegram: TelegramConfig{
			RequestTimeout:    10 * time.Second,
			MessagesPerSecond: 25,
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				BackoffMultiplier: 2.0,
				MaxBackoff:        30 * time.Second,
			},
		},
		JWT: JWTConfig{
			TokenDuration: 12 * time.Hour,
		},
	}
}

// Load reads configuration from the given file path, applies environment
// overrides with the CURATOR_ prefix, and validates the result. An empty
// path skips the file and builds the config from defaults and the
// environment alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// CURATOR_SERVER_PORT overrides server.port and so on. Double
	// underscore keeps keys with underscores addressable:
	// CURATOR_QUEUE_DEFAULT__TIMEOUT -> queue.default_timeout.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		key = strings.ReplaceAll(key, "__", "-")
		key = strings.ReplaceAll(key, "_", ".")
		return strings.ReplaceAll(key, "-", "_")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Storage.Backend == "postgres" && cfg.Storage.Database.URL == "" {
		return nil, fmt.Errorf("storage.database.url is required for the postgres backend")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram.token is required when telegram is enabled")
	}

	return cfg, nil
}
