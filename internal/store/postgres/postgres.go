// Package postgres opens the PostgreSQL backend via pgx's database/sql
// driver. Queries in the shared store use `?` placeholders; the dollar
// rebind translates them to $N before execution.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/store"
)

// Open connects to PostgreSQL and returns the shared SQL store.
func Open(dsn string, maxOpenConns int, logger zerolog.Logger) (*store.SQLStore, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxOpenConns > 0 {
		conn.SetMaxOpenConns(maxOpenConns)
	}
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Info().Msg("postgresql initialized")
	return store.NewSQLStore(conn, store.DollarPlaceholders, logger), nil
}
