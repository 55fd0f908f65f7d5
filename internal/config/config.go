// Package config loads and validates the application configuration.
// Priority: environment variables > config file > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/pkg/token"
)

// Config represents the complete application configuration.
type Config struct {
	App      AppConfig      `json:"app"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	Voice    VoiceConfig    `json:"voice"`
	P2P      P2PConfig      `json:"p2p"`
	Logging  LoggingConfig  `json:"logging"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	Name        string `json:"name"`
	Environment string `json:"environment"` // dev, staging, production
	ServerName  string `json:"server_name"` // operator-visible instance name
}

// ServerConfig contains central server settings.
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ExternalHost    string        `json:"external_host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver"`

	SQLite   SQLiteConfig   `json:"sqlite"`
	Postgres PostgresConfig `json:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path         string        `json:"path"`
	MaxOpenConns int           `json:"max_open_conns"`
	BusyTimeout  time.Duration `json:"busy_timeout"`
	WALMode      bool          `json:"wal_mode"`
	ForeignKeys  bool          `json:"foreign_keys"`
}

// PostgresConfig contains PostgreSQL-specific settings.
type PostgresConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Database     string `json:"database"`
	User         string `json:"user"`
	Password     string `json:"password"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// SecurityConfig contains auth settings.
type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	JWTExpiry time.Duration `json:"jwt_expiry"`
	// JWTSecretGenerated is set when the secret was minted at startup and
	// will not survive a restart.
	JWTSecretGenerated bool `json:"-"`
}

// VoiceConfig contains voice pipeline settings.
type VoiceConfig struct {
	// PerChannelTopics derives an isolated mesh topic per voice channel.
	// When false every voice channel on a document shares the document
	// topic (the legacy behavior; all peers hear all channels).
	PerChannelTopics bool   `json:"per_channel_topics"`
	CaptureRate      int    `json:"capture_rate"`
	CaptureChannels  int    `json:"capture_channels"`
	PlaybackRate     int    `json:"playback_rate"`
	PlaybackChannels int    `json:"playback_channels"`
	ICEServer        string `json:"ice_server"`
}

// P2PConfig contains mesh networking settings.
type P2PConfig struct {
	ListenPort     int      `json:"listen_port"`
	EnableMDNS     bool     `json:"enable_mdns"`
	EnableDHT      bool     `json:"enable_dht"`
	BootstrapPeers []string `json:"bootstrap_peers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // json, console
	OutputPath   string `json:"output_path"`
	EnableCaller bool   `json:"enable_caller"`
	EnableStack  bool   `json:"enable_stack"`
}

// Load loads configuration from an optional JSON file plus environment
// variables, applying defaults first.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.loadFromEnv()

	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = token.GenerateSecret(64)
		cfg.Security.JWTSecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv overrides configuration with environment variables. PORT,
// DATABASE_PATH, and JWT_SECRET are the operator-facing trio; the rest are
// prefixed.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Driver = "sqlite"
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("PARACORD_ENV"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("PARACORD_SERVER_NAME"); v != "" {
		c.App.ServerName = v
	}
	if v := os.Getenv("PARACORD_EXTERNAL_HOST"); v != "" {
		c.Server.ExternalHost = v
	}
	if v := os.Getenv("PARACORD_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Postgres.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name cannot be empty")
	}
	if c.App.Environment != "dev" && c.App.Environment != "staging" && c.App.Environment != "production" {
		return fmt.Errorf("invalid environment: %s (must be dev, staging, or production)", c.App.Environment)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return errors.New("sqlite database path cannot be empty")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return errors.New("postgres host cannot be empty")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Voice.CaptureRate <= 0 || c.Voice.PlaybackRate <= 0 {
		return fmt.Errorf("invalid audio device rates: %d/%d", c.Voice.CaptureRate, c.Voice.PlaybackRate)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.App.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 characters in production")
	}
	return nil
}

// GetLogLevel returns the zerolog level based on configuration.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Postgres.Host,
		c.Database.Postgres.Port,
		c.Database.Postgres.User,
		c.Database.Postgres.Password,
		c.Database.Postgres.Database,
		c.Database.Postgres.SSLMode,
	)
}

