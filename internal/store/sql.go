package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// SQLStore implements the data model over database/sql. Queries are written
// with `?` placeholders; the rebind function translates them for drivers
// that use a different style (PostgreSQL's $N).
type SQLStore struct {
	db     *sql.DB
	rebind func(string) string
	logger zerolog.Logger
}

// QuestionPlaceholders is the identity rebind for SQLite.
func QuestionPlaceholders(query string) string { return query }

// DollarPlaceholders rewrites `?` placeholders to `$1..$n` for pgx.
func DollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, rebind func(string) string, logger zerolog.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		rebind: rebind,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB exposes the underlying handle (used for driver-level health checks).
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping verifies the connection.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// ─── Users ───

// CreateUser inserts a new account. Returns ErrConflict on duplicate
// usernames.
func (s *SQLStore) CreateUser(ctx context.Context, u User) error {
	var exists int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", u.Username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store: check username: %w", err)
	}
	if exists > 0 {
		return ErrConflict
	}

	_, err = s.exec(ctx,
		"INSERT INTO users (id, username, display_name, password_hash, avatar_url, is_bot, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.ID, u.Username, u.DisplayName, u.PasswordHash, u.AvatarURL, u.IsBot, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetUserByUsername looks up an account by login name.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.queryRow(ctx,
		"SELECT id, username, display_name, password_hash, avatar_url, is_bot, created_at FROM users WHERE username = ?",
		username))
}

// GetUserByID looks up an account by id.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.queryRow(ctx,
		"SELECT id, username, display_name, password_hash, avatar_url, is_bot, created_at FROM users WHERE id = ?",
		id))
}

// GetUserAvatar fetches just the avatar URL; nil when unset or the user does
// not exist (federated senders have no local row).
func (s *SQLStore) GetUserAvatar(ctx context.Context, id string) *string {
	var avatar *string
	err := s.queryRow(ctx, "SELECT avatar_url FROM users WHERE id = ?", id).Scan(&avatar)
	if err != nil {
		return nil
	}
	return avatar
}

func (s *SQLStore) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.AvatarURL, &u.IsBot, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, fmt.Errorf("store: scan user: %w", err)
	}
	return u, nil
}

// ─── Channels ───

// CreateChannel inserts a channel. Returns ErrConflict on duplicate names.
func (s *SQLStore) CreateChannel(ctx context.Context, c Channel) error {
	var exists int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM channels WHERE name = ?", c.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store: check channel name: %w", err)
	}
	if exists > 0 {
		return ErrConflict
	}

	_, err = s.exec(ctx,
		"INSERT INTO channels (id, name, description, channel_type, position, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Description, c.ChannelType, c.Position, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	return nil
}

// ListChannels returns all channels ordered by position then name.
func (s *SQLStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.query(ctx,
		"SELECT id, name, description, channel_type, position, created_at FROM channels ORDER BY position, name")
	if err != nil {
		return nil, fmt.Errorf("store: list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ChannelType, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// ChannelExists reports whether a channel id is present.
func (s *SQLStore) ChannelExists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM channels WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("store: channel exists: %w", err)
	}
	return count > 0, nil
}

// CountChannels returns the number of channels.
func (s *SQLStore) CountChannels(ctx context.Context) (int64, error) {
	var count int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count channels: %w", err)
	}
	return count, nil
}

// ─── Messages ───

// InsertMessage persists one message row.
func (s *SQLStore) InsertMessage(ctx context.Context, m Message) error {
	_, err := s.exec(ctx,
		"INSERT INTO messages (id, channel_id, user_id, user_name, content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.ChannelID, m.UserID, m.UserName, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages for a channel, newest last.
// A non-empty before value pages backwards by created_at.
func (s *SQLStore) ListMessages(ctx context.Context, channelID, before string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if before != "" {
		rows, err = s.query(ctx,
			"SELECT id, channel_id, user_id, user_name, content, created_at FROM messages WHERE channel_id = ? AND created_at < ? ORDER BY created_at DESC LIMIT ?",
			channelID, before, limit)
	} else {
		rows, err = s.query(ctx,
			"SELECT id, channel_id, user_id, user_name, content, created_at FROM messages WHERE channel_id = ? ORDER BY created_at DESC LIMIT ?",
			channelID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.UserName, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns the number of persisted messages.
func (s *SQLStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return count, nil
}

// ─── Invites ───

// CreateInvite stores a new invite code.
func (s *SQLStore) CreateInvite(ctx context.Context, code string, maxUses *int64) error {
	_, err := s.exec(ctx, "INSERT INTO invite_codes (code, max_uses, uses) VALUES (?, ?, 0)", code, maxUses)
	if err != nil {
		return fmt.Errorf("store: create invite: %w", err)
	}
	return nil
}

// RedeemInvite validates a code and increments its use counter.
func (s *SQLStore) RedeemInvite(ctx context.Context, code string) error {
	var inv InviteCode
	err := s.queryRow(ctx, "SELECT code, max_uses, uses FROM invite_codes WHERE code = ?", code).
		Scan(&inv.Code, &inv.MaxUses, &inv.Uses)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get invite: %w", err)
	}
	if inv.MaxUses != nil && inv.Uses >= *inv.MaxUses {
		return ErrConflict
	}
	if _, err := s.exec(ctx, "UPDATE invite_codes SET uses = uses + 1 WHERE code = ?", code); err != nil {
		return fmt.Errorf("store: redeem invite: %w", err)
	}
	return nil
}

// ─── Roles & overrides ───

// CreateRole inserts a role.
func (s *SQLStore) CreateRole(ctx context.Context, r Role) error {
	_, err := s.exec(ctx,
		"INSERT INTO roles (id, name, color, position, permissions, server_id) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.Name, r.Color, r.Position, r.Permissions, r.ServerID)
	if err != nil {
		return fmt.Errorf("store: create role: %w", err)
	}
	return nil
}

// UserRoles returns the roles a user holds, ordered by position then id.
func (s *SQLStore) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.query(ctx,
		`SELECT r.id, r.name, r.color, r.position, r.permissions, r.server_id
		 FROM roles r INNER JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = ? ORDER BY r.position, r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Color, &r.Position, &r.Permissions, &r.ServerID); err != nil {
			return nil, fmt.Errorf("store: scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// AssignRole grants a role to a user.
func (s *SQLStore) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.exec(ctx,
		"INSERT INTO user_roles (user_id, role_id, assigned_at) VALUES (?, ?, ?)",
		userID, roleID, Now())
	if err != nil {
		return fmt.Errorf("store: assign role: %w", err)
	}
	return nil
}

// EveryoneRoleID returns the id of the auto-created @everyone role.
func (s *SQLStore) EveryoneRoleID(ctx context.Context) (string, error) {
	var id string
	err := s.queryRow(ctx, "SELECT id FROM roles WHERE name = ? ORDER BY id LIMIT 1", "everyone").Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: everyone role: %w", err)
	}
	return id, nil
}

// ChannelOverrides returns every override configured on a channel.
func (s *SQLStore) ChannelOverrides(ctx context.Context, channelID string) ([]ChannelOverride, error) {
	rows, err := s.query(ctx,
		"SELECT id, channel_id, target_id, target_type, allow, deny FROM channel_overrides WHERE channel_id = ?",
		channelID)
	if err != nil {
		return nil, fmt.Errorf("store: channel overrides: %w", err)
	}
	defer rows.Close()

	var overrides []ChannelOverride
	for rows.Next() {
		var o ChannelOverride
		if err := rows.Scan(&o.ID, &o.ChannelID, &o.TargetID, &o.TargetType, &o.Allow, &o.Deny); err != nil {
			return nil, fmt.Errorf("store: scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// SetChannelOverride inserts or replaces one override row.
func (s *SQLStore) SetChannelOverride(ctx context.Context, o ChannelOverride) error {
	if _, err := s.exec(ctx,
		"DELETE FROM channel_overrides WHERE channel_id = ? AND target_id = ? AND target_type = ?",
		o.ChannelID, o.TargetID, o.TargetType); err != nil {
		return fmt.Errorf("store: clear override: %w", err)
	}
	_, err := s.exec(ctx,
		"INSERT INTO channel_overrides (id, channel_id, target_id, target_type, allow, deny) VALUES (?, ?, ?, ?, ?, ?)",
		o.ID, o.ChannelID, o.TargetID, o.TargetType, o.Allow, o.Deny)
	if err != nil {
		return fmt.Errorf("store: set override: %w", err)
	}
	return nil
}

// ─── Federation ───

// CreatePeer inserts a federation peer. Returns ErrConflict when a peer with
// the same host and port exists.
func (s *SQLStore) CreatePeer(ctx context.Context, p FederationPeer) error {
	var exists int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM federation_peers WHERE host = ? AND port = ?", p.Host, p.Port).Scan(&exists)
	if err != nil {
		return fmt.Errorf("store: check peer: %w", err)
	}
	if exists > 0 {
		return ErrConflict
	}

	_, err = s.exec(ctx,
		"INSERT INTO federation_peers (id, name, host, port, shared_secret, status, direction, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Host, p.Port, p.SharedSecret, p.Status, p.Direction, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create peer: %w", err)
	}
	return nil
}

// GetActivePeerBySecret resolves a shared secret to an active peer.
func (s *SQLStore) GetActivePeerBySecret(ctx context.Context, secret string) (FederationPeer, error) {
	row := s.queryRow(ctx,
		"SELECT id, name, host, port, shared_secret, status, direction, created_at, last_seen FROM federation_peers WHERE shared_secret = ? AND status = 'active'",
		secret)
	return s.scanPeer(row)
}

// ListPeers returns all peers, newest first, with secrets blanked.
func (s *SQLStore) ListPeers(ctx context.Context) ([]FederationPeer, error) {
	rows, err := s.query(ctx,
		"SELECT id, name, host, port, '', status, direction, created_at, last_seen FROM federation_peers ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("store: list peers: %w", err)
	}
	defer rows.Close()

	var peers []FederationPeer
	for rows.Next() {
		var p FederationPeer
		if err := rows.Scan(&p.ID, &p.Name, &p.Host, &p.Port, &p.SharedSecret, &p.Status, &p.Direction, &p.CreatedAt, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("store: scan peer: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// ActivatePeer flips a pending peer to active.
func (s *SQLStore) ActivatePeer(ctx context.Context, peerID string) error {
	_, err := s.exec(ctx, "UPDATE federation_peers SET status = 'active' WHERE id = ?", peerID)
	if err != nil {
		return fmt.Errorf("store: activate peer: %w", err)
	}
	return nil
}

// TouchPeer updates a peer's last_seen timestamp.
func (s *SQLStore) TouchPeer(ctx context.Context, peerID string) error {
	_, err := s.exec(ctx, "UPDATE federation_peers SET last_seen = ? WHERE id = ?", Now(), peerID)
	if err != nil {
		return fmt.Errorf("store: touch peer: %w", err)
	}
	return nil
}

// DeletePeer removes a peer and its channel links.
func (s *SQLStore) DeletePeer(ctx context.Context, peerID string) error {
	if _, err := s.exec(ctx, "DELETE FROM federated_channels WHERE peer_id = ?", peerID); err != nil {
		return fmt.Errorf("store: delete peer links: %w", err)
	}
	if _, err := s.exec(ctx, "DELETE FROM federation_peers WHERE id = ?", peerID); err != nil {
		return fmt.Errorf("store: delete peer: %w", err)
	}
	return nil
}

// PeerExists reports whether a peer id is present.
func (s *SQLStore) PeerExists(ctx context.Context, peerID string) (bool, error) {
	var count int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM federation_peers WHERE id = ?", peerID).Scan(&count); err != nil {
		return false, fmt.Errorf("store: peer exists: %w", err)
	}
	return count > 0, nil
}

// CreateChannelLink links a local channel to a remote one.
func (s *SQLStore) CreateChannelLink(ctx context.Context, l FederatedChannel) error {
	_, err := s.exec(ctx,
		"INSERT INTO federated_channels (id, local_channel_id, peer_id, remote_channel_id, created_at) VALUES (?, ?, ?, ?, ?)",
		l.ID, l.LocalChannelID, l.PeerID, l.RemoteChannelID, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create channel link: %w", err)
	}
	return nil
}

// ResolveChannelLink maps (peer, remote channel) to the local channel link.
func (s *SQLStore) ResolveChannelLink(ctx context.Context, peerID, remoteChannelID string) (FederatedChannel, error) {
	var l FederatedChannel
	err := s.queryRow(ctx,
		"SELECT id, local_channel_id, peer_id, remote_channel_id, created_at FROM federated_channels WHERE peer_id = ? AND remote_channel_id = ?",
		peerID, remoteChannelID).
		Scan(&l.ID, &l.LocalChannelID, &l.PeerID, &l.RemoteChannelID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, fmt.Errorf("store: resolve channel link: %w", err)
	}
	return l, nil
}

// ListChannelLinks returns all federated channel links, newest first.
func (s *SQLStore) ListChannelLinks(ctx context.Context) ([]FederatedChannel, error) {
	rows, err := s.query(ctx,
		"SELECT id, local_channel_id, peer_id, remote_channel_id, created_at FROM federated_channels ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("store: list channel links: %w", err)
	}
	defer rows.Close()

	var links []FederatedChannel
	for rows.Next() {
		var l FederatedChannel
		if err := rows.Scan(&l.ID, &l.LocalChannelID, &l.PeerID, &l.RemoteChannelID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan channel link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// DeleteChannelLink removes one link.
func (s *SQLStore) DeleteChannelLink(ctx context.Context, linkID string) error {
	_, err := s.exec(ctx, "DELETE FROM federated_channels WHERE id = ?", linkID)
	if err != nil {
		return fmt.Errorf("store: delete channel link: %w", err)
	}
	return nil
}

func (s *SQLStore) scanPeer(row *sql.Row) (FederationPeer, error) {
	var p FederationPeer
	err := row.Scan(&p.ID, &p.Name, &p.Host, &p.Port, &p.SharedSecret, &p.Status, &p.Direction, &p.CreatedAt, &p.LastSeen)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("store: scan peer: %w", err)
	}
	return p, nil
}
