package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/auth"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
)

// Hub owns the shared realtime state: the bus registry, voice presence,
// online accounting, and the WebSocket upgrade path. Handles are cloned into
// every session; lifetime is the process.
type Hub struct {
	Buses    *Registry
	Presence *VoicePresence
	Online   *OnlineTracker

	store    *store.SQLStore
	perms    *permissions.Checker
	jwt      *auth.JWTManager
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New creates the hub.
func New(st *store.SQLStore, jwt *auth.JWTManager, metrics *observability.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		Buses:    NewRegistry(metrics, logger),
		Presence: NewVoicePresence(),
		Online:   NewOnlineTracker(),
		store:    st,
		perms:    permissions.NewChecker(st),
		jwt:      jwt,
		metrics:  metrics,
		logger:   logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the WebSocket endpoint. The bearer token travels in the
// `token` query parameter; connections without a valid token are admitted
// read-only.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var claims *auth.Claims
		if token := r.URL.Query().Get("token"); token != "" {
			c, err := h.jwt.Validate(token)
			if err != nil {
				h.logger.Debug().Err(err).Msg("websocket token rejected, connecting as guest")
			} else {
				claims = c
			}
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		newSession(h, conn, claims).run()
	}
}
