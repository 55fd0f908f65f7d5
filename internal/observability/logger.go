// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// LoggerConfig contains configuration for logger setup.
type LoggerConfig struct {
	Level        zerolog.Level
	Format       string // "json" or "console"
	OutputPath   string // file path or "stdout"
	EnableCaller bool
	EnableStack  bool
	Service      string
	Version      string
}

// NewLogger creates a zerolog logger with the given configuration.
// All logs are structured and include timestamp, service name, and version.
// Complexity: O(1)
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.OutputPath == "" || cfg.OutputPath == "stdout" {
		output = os.Stdout
	} else {
		file, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = file
		}
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Str("version", cfg.Version).
		Logger()

	if cfg.EnableCaller {
		logger = logger.With().Caller().Logger()
	}
	if cfg.EnableStack {
		logger = logger.With().Stack().Logger()
	}

	return logger
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// NewTestLogger creates a logger suitable for testing.
func NewTestLogger(output io.Writer) zerolog.Logger {
	return zerolog.New(output).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}
