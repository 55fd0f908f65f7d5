package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/paracord-chat/paracord/internal/auth"
	"github.com/paracord-chat/paracord/internal/store"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	InviteCode  string `json:"invite_code"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{2,32}$`)

// handleRegister creates an account. Registration is invite-gated.
// POST /api/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if !usernamePattern.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 2-32 chars of a-z, 0-9, '_', '.', '-'")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if req.DisplayName == "" || len(req.DisplayName) > 64 {
		writeError(w, http.StatusBadRequest, "display name must be 1-64 characters")
		return
	}

	if err := s.store.RedeemInvite(r.Context(), req.InviteCode); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusUnauthorized, "invalid invite code")
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusUnauthorized, "invite code exhausted")
		default:
			writeError(w, http.StatusInternalServerError, "failed to validate invite")
		}
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := store.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		CreatedAt:    store.Now(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	// Grant the @everyone role so permission evaluation has a base.
	if everyoneID, err := s.store.EveryoneRoleID(r.Context()); err == nil {
		if err := s.store.AssignRole(r.Context(), user.ID, everyoneID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to assign everyone role")
		}
	}

	token, err := s.jwt.Generate(user.ID, user.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

// handleLogin verifies credentials and issues a token.
// POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.jwt.Generate(user.ID, user.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// handleMe returns the authenticated user, decorated with online status.
// GET /api/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	user, err := s.store.GetUserByID(r.Context(), claims.UserID())
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":      user,
		"is_online": s.hub.Online.IsOnline(user.ID),
	})
}
