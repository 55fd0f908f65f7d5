package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
)

type createChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ChannelType string `json:"channel_type"`
}

type createInviteRequest struct {
	MaxUses *int64 `json:"max_uses"`
}

var channelNamePattern = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)

// handleListChannels returns all channels.
// GET /api/channels
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list channels")
		return
	}
	if channels == nil {
		channels = []store.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

// handleCreateChannel creates a text or voice channel.
// POST /api/channels
func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	if !s.requireServerPermission(w, r, permissions.ManageChannels, "MANAGE_CHANNELS required") {
		return
	}

	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if !channelNamePattern.MatchString(req.Name) {
		writeError(w, http.StatusBadRequest, "channel name must be 1-32 chars of a-z, 0-9, '-'")
		return
	}
	if req.ChannelType == "" {
		req.ChannelType = "text"
	}
	if req.ChannelType != "text" && req.ChannelType != "voice" {
		writeError(w, http.StatusBadRequest, "channel_type must be \"text\" or \"voice\"")
		return
	}

	channel := store.Channel{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		ChannelType: req.ChannelType,
		CreatedAt:   store.Now(),
	}
	if err := s.store.CreateChannel(r.Context(), channel); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "channel name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create channel")
		return
	}

	writeJSON(w, http.StatusCreated, channel)
}

// handleGetMessages pages a channel's history backwards from `before`.
// Reading history is channel-scoped: overrides that hide the channel also
// hide its history.
// GET /api/channels/{channelID}/messages?before=&limit=
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	claims := ClaimsFromContext(r.Context())
	allowed, err := s.perms.CheckChannel(r.Context(), claims.UserID(), channelID, permissions.ReadHistory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "permission check failed")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "READ_HISTORY required")
		return
	}

	exists, err := s.store.ChannelExists(r.Context(), channelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check channel")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	messages, err := s.store.ListMessages(r.Context(), channelID, r.URL.Query().Get("before"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleCreateInvite mints a new invite code.
// POST /api/invites
func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	if !s.requireServerPermission(w, r, permissions.CreateInvite, "CREATE_INVITE required") {
		return
	}

	var req createInviteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	code := s.newInviteCode()
	if err := s.store.CreateInvite(r.Context(), code, req.MaxUses); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

type setOverrideRequest struct {
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"` // "role" | "member"
	Allow      int64  `json:"allow"`
	Deny       int64  `json:"deny"`
}

// handleListOverrides returns a channel's permission overrides.
// GET /api/channels/{channelID}/overrides
func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	if !s.requireServerPermission(w, r, permissions.ManageRoles, "MANAGE_ROLES required") {
		return
	}

	overrides, err := s.store.ChannelOverrides(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	if overrides == nil {
		overrides = []store.ChannelOverride{}
	}
	writeJSON(w, http.StatusOK, overrides)
}

// handleSetOverride creates or replaces one override on a channel.
// PUT /api/channels/{channelID}/overrides
func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	if !s.requireServerPermission(w, r, permissions.ManageRoles, "MANAGE_ROLES required") {
		return
	}

	channelID := chi.URLParam(r, "channelID")
	exists, err := s.store.ChannelExists(r.Context(), channelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check channel")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	var req setOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}
	if req.TargetType != "role" && req.TargetType != "member" {
		writeError(w, http.StatusBadRequest, "target_type must be \"role\" or \"member\"")
		return
	}

	override := store.ChannelOverride{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		TargetID:   req.TargetID,
		TargetType: req.TargetType,
		Allow:      req.Allow,
		Deny:       req.Deny,
	}
	if err := s.store.SetChannelOverride(r.Context(), override); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set override")
		return
	}

	writeJSON(w, http.StatusOK, override)
}

// handleServerInfo returns the public instance summary.
// GET /api/server
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.CountChannels(r.Context())
	if err != nil {
		channels = 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     s.serverName,
		"channels": channels,
		"online":   s.hub.Online.Count(),
	})
}
