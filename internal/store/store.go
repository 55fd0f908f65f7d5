// Package store defines the persistent data model and the SQL-backed store
// shared by the SQLite and PostgreSQL drivers.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned on unique-constraint collisions.
	ErrConflict = errors.New("store: conflict")
)

// TimeFormat is the canonical timestamp layout stored in the database.
const TimeFormat = "2006-01-02 15:04:05"

// Now returns the current UTC time in the canonical layout.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// User is a registered account.
type User struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"display_name"`
	PasswordHash string  `json:"-"`
	AvatarURL    *string `json:"avatar_url"`
	IsBot        bool    `json:"is_bot"`
	CreatedAt    string  `json:"created_at"`
}

// Channel is a text or voice channel.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ChannelType string `json:"channel_type"` // "text" | "voice"
	Position    int64  `json:"position"`
	CreatedAt   string `json:"created_at"`
}

// Message is one persisted chat message.
type Message struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
}

// Role carries a permission bitmask. Positions are a total order; ties are
// broken by id for determinism.
type Role struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Color       *string `json:"color"`
	Position    int64   `json:"position"`
	Permissions int64   `json:"permissions"`
	ServerID    string  `json:"server_id"`
}

// ChannelOverride adjusts role/user permissions for one channel.
type ChannelOverride struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channel_id"`
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"` // "role" | "member"
	Allow      int64  `json:"allow"`
	Deny       int64  `json:"deny"`
}

// FederationPeer is a remote instance linked via shared secret.
type FederationPeer struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Host         string  `json:"host"`
	Port         int64   `json:"port"`
	SharedSecret string  `json:"-"`
	Status       string  `json:"status"`    // "pending" | "active"
	Direction    string  `json:"direction"` // "incoming" | "outgoing"
	CreatedAt    string  `json:"created_at"`
	LastSeen     *string `json:"last_seen"`
}

// FederatedChannel links a local channel to a channel on a peer. A given
// (peer, remote channel) pair resolves to at most one local channel.
type FederatedChannel struct {
	ID              string `json:"id"`
	LocalChannelID  string `json:"local_channel_id"`
	PeerID          string `json:"peer_id"`
	RemoteChannelID string `json:"remote_channel_id"`
	CreatedAt       string `json:"created_at"`
}

// InviteCode gates registration. A nil MaxUses means unlimited.
type InviteCode struct {
	Code    string `json:"code"`
	MaxUses *int64 `json:"max_uses"`
	Uses    int64  `json:"uses"`
}
