package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paracord-chat/paracord/internal/hub"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
	"github.com/paracord-chat/paracord/pkg/token"
)

type addPeerRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int64  `json:"port"`
}

type acceptPeerRequest struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int64  `json:"port"`
	SharedSecret string `json:"shared_secret"`
}

type linkChannelRequest struct {
	PeerID          string `json:"peer_id"`
	LocalChannelID  string `json:"local_channel_id"`
	RemoteChannelID string `json:"remote_channel_id"`
}

type federatedMessageRequest struct {
	ChannelID  string `json:"channel_id"` // the peer's channel id
	UserName   string `json:"user_name"`
	Content    string `json:"content"`
	ServerName string `json:"server_name"`
}

// handleFederationStatus lists peers and linked channels.
// GET /api/federation
func (s *Server) handleFederationStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}

	peers, err := s.store.ListPeers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list peers")
		return
	}
	links, err := s.store.ListChannelLinks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list channel links")
		return
	}
	if peers == nil {
		peers = []store.FederationPeer{}
	}
	if links == nil {
		links = []store.FederatedChannel{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"peers":           peers,
		"linked_channels": links,
	})
}

// handleAddPeer initiates federation with a remote server. The generated
// shared secret is returned exactly once for the operator to hand over.
// POST /api/federation/peers
func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}

	var req addPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 64 {
		writeError(w, http.StatusBadRequest, "name must be 1-64 chars")
		return
	}

	secret := generateSharedSecret()
	peer := store.FederationPeer{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Host:         req.Host,
		Port:         req.Port,
		SharedSecret: secret,
		Status:       "pending",
		Direction:    "outgoing",
		CreatedAt:    store.Now(),
	}
	if err := s.store.CreatePeer(r.Context(), peer); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "peer already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create peer")
		return
	}

	peer.SharedSecret = ""
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"peer":          peer,
		"shared_secret": secret,
	})
}

// handleAcceptPeer accepts an incoming federation request: the remote
// operator supplies the secret their server generated.
// POST /api/federation/accept
func (s *Server) handleAcceptPeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}

	var req acceptPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	peer := store.FederationPeer{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Host:         req.Host,
		Port:         req.Port,
		SharedSecret: req.SharedSecret,
		Status:       "active",
		Direction:    "incoming",
		CreatedAt:    store.Now(),
	}
	if err := s.store.CreatePeer(r.Context(), peer); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "peer already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create peer")
		return
	}

	peer.SharedSecret = ""
	writeJSON(w, http.StatusCreated, peer)
}

// handleActivatePeer flips a pending peer to active.
// POST /api/federation/peers/{peerID}/activate
func (s *Server) handleActivatePeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}
	if err := s.store.ActivatePeer(r.Context(), chi.URLParam(r, "peerID")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to activate peer")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleRemovePeer removes a peer and its channel links.
// DELETE /api/federation/peers/{peerID}
func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}
	if err := s.store.DeletePeer(r.Context(), chi.URLParam(r, "peerID")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove peer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLinkChannel links a local channel to a channel on a peer.
// POST /api/federation/channels
func (s *Server) handleLinkChannel(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}

	var req linkChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	peerExists, err := s.store.PeerExists(r.Context(), req.PeerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check peer")
		return
	}
	if !peerExists {
		writeError(w, http.StatusNotFound, "federation peer not found")
		return
	}

	chanExists, err := s.store.ChannelExists(r.Context(), req.LocalChannelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check channel")
		return
	}
	if !chanExists {
		writeError(w, http.StatusNotFound, "local channel not found")
		return
	}

	link := store.FederatedChannel{
		ID:              uuid.NewString(),
		LocalChannelID:  req.LocalChannelID,
		PeerID:          req.PeerID,
		RemoteChannelID: req.RemoteChannelID,
		CreatedAt:       store.Now(),
	}
	if err := s.store.CreateChannelLink(r.Context(), link); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to link channel")
		return
	}

	writeJSON(w, http.StatusCreated, link)
}

// handleUnlinkChannel removes one federated channel link.
// DELETE /api/federation/channels/{linkID}
func (s *Server) handleUnlinkChannel(w http.ResponseWriter, r *http.Request) {
	if !s.requireManageServer(w, r) {
		return
	}
	if err := s.store.DeleteChannelLink(r.Context(), chi.URLParam(r, "linkID")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unlink channel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFederatedMessage is the ingest path: a peer posts a message that
// appeared in one of its linked channels. Peers are trusted to assert user
// identities within their namespace; the namespace is flattened into the
// displayed name. No loop suppression is performed — operators must avoid
// cyclic links.
// POST /api/federation/message
func (s *Server) handleFederatedMessage(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeError(w, http.StatusUnauthorized, "missing Authorization header")
		return
	}
	secret, ok := strings.CutPrefix(authHeader, "Federation ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "use: Authorization: Federation <shared_secret>")
		return
	}

	peer, err := s.store.GetActivePeerBySecret(r.Context(), secret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid or inactive federation secret")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate peer")
		return
	}

	var req federatedMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	link, err := s.store.ResolveChannelLink(r.Context(), peer.ID, req.ChannelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no linked channel for this peer/channel")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve channel link")
		return
	}

	federatedName := req.UserName + " [" + req.ServerName + "]"
	record := store.Message{
		ID:        uuid.NewString(),
		ChannelID: link.LocalChannelID,
		UserID:    "fed:" + peer.ID,
		UserName:  federatedName,
		Content:   req.Content,
		CreatedAt: store.Now(),
	}
	if err := s.store.InsertMessage(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	if err := s.store.TouchPeer(r.Context(), peer.ID); err != nil {
		s.logger.Warn().Err(err).Str("peer_id", peer.ID).Msg("failed to update peer last_seen")
	}

	// Native and federated readers converge on the local channel bus.
	s.hub.Buses.Publish(link.LocalChannelID, hub.ServerMessage{
		Type:      hub.TypeNewMessage,
		ID:        record.ID,
		ChannelID: record.ChannelID,
		UserID:    record.UserID,
		UserName:  record.UserName,
		Content:   record.Content,
		CreatedAt: record.CreatedAt,
	})
	if s.metrics != nil {
		s.metrics.FederatedMessages.Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": record.ID})
}

// requireManageServer authorizes federation management calls.
func (s *Server) requireManageServer(w http.ResponseWriter, r *http.Request) bool {
	return s.requireServerPermission(w, r, permissions.ManageServer, "MANAGE_SERVER required")
}

// requireServerPermission gates a handler on a server-level permission
// evaluated through the shared checker.
func (s *Server) requireServerPermission(w http.ResponseWriter, r *http.Request, required permissions.Permissions, denial string) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	ok, err := s.perms.CheckServer(r.Context(), claims.UserID(), required)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "permission check failed")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, denial)
		return false
	}
	return true
}

func (s *Server) newInviteCode() string {
	return token.GenerateInviteCode()
}

// generateSharedSecret mints the "fed_" + 48-char alphanumeric secret handed
// to a remote operator.
func generateSharedSecret() string {
	return "fed_" + token.GenerateSecret(48)
}
