// Package sqlite opens the embedded SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/store"
)

// Open connects to the SQLite database, applies pragmas, and returns the
// shared SQL store.
func Open(cfg config.SQLiteConfig, logger zerolog.Logger) (*store.SQLStore, error) {
	logger.Info().
		Str("path", cfg.Path).
		Bool("wal_mode", cfg.WALMode).
		Bool("foreign_keys", cfg.ForeignKeys).
		Msg("initializing sqlite database")

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc", cfg.Path)
	if cfg.BusyTimeout > 0 {
		dsn += fmt.Sprintf("&_busy_timeout=%d", cfg.BusyTimeout.Milliseconds())
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	pragmas := []string{"PRAGMA temp_store=MEMORY"}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	} else {
		pragmas = append(pragmas, "PRAGMA synchronous=FULL")
	}
	if cfg.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	return store.NewSQLStore(conn, store.QuestionPlaceholders, logger), nil
}
