package config

import "time"

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "paracord",
			Environment: "dev",
			ServerName:  "Paracord Server",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ExternalHost:    "localhost",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "paracord.db",
				MaxOpenConns: 5,
				BusyTimeout:  5 * time.Second,
				WALMode:      true,
				ForeignKeys:  true,
			},
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				Database:     "paracord",
				User:         "paracord",
				SSLMode:      "disable",
				MaxOpenConns: 10,
			},
		},
		Security: SecurityConfig{
			JWTExpiry: 7 * 24 * time.Hour,
		},
		Voice: VoiceConfig{
			PerChannelTopics: true,
			CaptureRate:      48000,
			CaptureChannels:  2,
			PlaybackRate:     48000,
			PlaybackChannels: 2,
		},
		P2P: P2PConfig{
			ListenPort: 0,
			EnableMDNS: true,
			EnableDHT:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
