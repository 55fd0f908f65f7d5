// Package api wires the chi router: REST handlers, middleware, the
// federation ingest endpoint, and the WebSocket hub mount.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/auth"
	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/hub"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
)

// Server is the central HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      *store.SQLStore
	hub        *hub.Hub
	perms      *permissions.Checker
	jwt        *auth.JWTManager
	metrics    *observability.Metrics
	logger     zerolog.Logger
	cfg        config.ServerConfig
	serverName string
}

// New creates and configures the API server with all routes and middleware.
func New(
	cfg config.ServerConfig,
	serverName string,
	st *store.SQLStore,
	h *hub.Hub,
	jwtManager *auth.JWTManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		store:      st,
		hub:        h,
		perms:      permissions.NewChecker(st),
		jwt:        jwtManager,
		metrics:    metrics,
		logger:     logger.With().Str("component", "api_server").Logger(),
		cfg:        cfg,
		serverName: serverName,
	}

	// Root router: the WebSocket endpoint stays outside the API middleware
	// stack (no timeout or body limit on a long-lived connection).
	r := chi.NewRouter()
	r.Get("/ws", h.Handler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.RequestID)
	apiRouter.Use(middleware.RealIP)
	apiRouter.Use(RequestLogger(s.logger))
	apiRouter.Use(middleware.Recoverer)
	apiRouter.Use(middleware.Timeout(30 * time.Second))
	apiRouter.Use(CORSMiddleware())
	if metrics != nil {
		apiRouter.Use(MetricsMiddleware(metrics))
	}

	apiRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		apiRouter.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	apiRouter.Route("/api", func(api chi.Router) {
		// Public
		api.Post("/register", s.handleRegister)
		api.Post("/login", s.handleLogin)
		api.Get("/server", s.handleServerInfo)
		api.Get("/channels", s.handleListChannels)

		// Federation ingest authenticates with the peer shared secret, not
		// a user token.
		api.Post("/federation/message", s.handleFederatedMessage)

		// Protected
		api.Group(func(protected chi.Router) {
			protected.Use(AuthMiddleware(jwtManager))

			protected.Get("/me", s.handleMe)
			protected.Post("/channels", s.handleCreateChannel)
			protected.Get("/channels/{channelID}/messages", s.handleGetMessages)
			protected.Get("/channels/{channelID}/overrides", s.handleListOverrides)
			protected.Put("/channels/{channelID}/overrides", s.handleSetOverride)
			protected.Post("/invites", s.handleCreateInvite)

			protected.Get("/federation", s.handleFederationStatus)
			protected.Post("/federation/peers", s.handleAddPeer)
			protected.Post("/federation/accept", s.handleAcceptPeer)
			protected.Post("/federation/peers/{peerID}/activate", s.handleActivatePeer)
			protected.Delete("/federation/peers/{peerID}", s.handleRemovePeer)
			protected.Post("/federation/channels", s.handleLinkChannel)
			protected.Delete("/federation/channels/{linkID}", s.handleUnlinkChannel)
		})
	})

	r.Mount("/", apiRouter)
	s.router = r
	return s
}

// Start begins listening. Blocks until shutdown or error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
