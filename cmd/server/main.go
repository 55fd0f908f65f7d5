// The paracord central server: REST API, WebSocket realtime hub, and
// federation endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/api"
	"github.com/paracord-chat/paracord/internal/auth"
	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/hub"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
	"github.com/paracord-chat/paracord/internal/store/postgres"
	"github.com/paracord-chat/paracord/internal/store/sqlite"
	"github.com/paracord-chat/paracord/pkg/token"
	"github.com/paracord-chat/paracord/pkg/version"
)

func main() {
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		EnableCaller: cfg.Logging.EnableCaller,
		EnableStack:  cfg.Logging.EnableStack,
		Service:      "paracord-server",
		Version:      version.Version,
	})

	logger.Info().
		Str("version", version.Version).
		Str("platform", version.Platform).
		Msg("starting paracord central server")

	if cfg.Security.JWTSecretGenerated {
		logger.Info().Msg("generated random JWT secret (set JWT_SECRET env for persistence)")
	}

	metrics := observability.NewMetrics()

	// Storage. A failed migration is fatal: the process must not serve
	// requests against a partial schema.
	var st *store.SQLStore
	switch cfg.Database.Driver {
	case "postgres":
		st, err = postgres.Open(cfg.PostgresDSN(), cfg.Database.Postgres.MaxOpenConns, logger)
	default:
		st, err = sqlite.Open(cfg.Database.SQLite, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	if err := st.Migrate(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}

	bootstrap(st, cfg, logger)

	jwtManager := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpiry)
	realtimeHub := hub.New(st, jwtManager, metrics, logger)
	apiServer := api.New(cfg.Server, cfg.App.ServerName, st, realtimeHub, jwtManager, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("paracord central server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("database close error")
	}

	logger.Info().Msg("paracord central server shut down")
}

// bootstrap seeds first-run data: the @everyone role, the default channels,
// and a fresh invite code whose connection token is logged for the operator.
func bootstrap(st *store.SQLStore, cfg *config.Config, logger zerolog.Logger) {
	ctx := context.Background()

	if _, err := st.EveryoneRoleID(ctx); errors.Is(err, store.ErrNotFound) {
		role := store.Role{
			ID:          uuid.NewString(),
			Name:        "everyone",
			Permissions: int64(permissions.DefaultMember()),
			ServerID:    "default",
		}
		if err := st.CreateRole(ctx, role); err != nil {
			logger.Warn().Err(err).Msg("failed to seed everyone role")
		}
	}

	if count, err := st.CountChannels(ctx); err == nil && count == 0 {
		defaults := []store.Channel{
			{ID: uuid.NewString(), Name: "general", ChannelType: "text", CreatedAt: store.Now()},
			{ID: uuid.NewString(), Name: "voice-lounge", ChannelType: "voice", Position: 1, CreatedAt: store.Now()},
		}
		for _, ch := range defaults {
			if err := st.CreateChannel(ctx, ch); err != nil {
				logger.Warn().Err(err).Str("name", ch.Name).Msg("failed to seed channel")
			}
		}
	}

	inviteCode := token.GenerateInviteCode()
	if err := st.CreateInvite(ctx, inviteCode, nil); err != nil {
		logger.Warn().Err(err).Msg("failed to create startup invite")
		return
	}

	connToken, err := token.Encode(token.ConnectionToken{
		Host:       cfg.Server.ExternalHost,
		Port:       uint16(cfg.Server.Port),
		InviteCode: inviteCode,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode connection token")
		return
	}

	logger.Info().
		Str("invite_code", inviteCode).
		Str("connection_token", connToken).
		Msg("startup invite ready — hand the connection token to clients")
}
