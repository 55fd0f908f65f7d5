package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/store"
	"github.com/paracord-chat/paracord/internal/store/sqlite"
)

func openTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := sqlite.Open(config.SQLiteConfig{
		Path:         filepath.Join(t.TempDir(), "store_test.db"),
		MaxOpenConns: 1,
	}, observability.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t,
		"SELECT a FROM t WHERE x = $1 AND y = $2",
		store.DollarPlaceholders("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, "no placeholders", store.DollarPlaceholders("no placeholders"))
}

func TestUserCreateAndConflict(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	u := store.User{ID: "u1", Username: "alice", DisplayName: "Alice", PasswordHash: "h", CreatedAt: store.Now()}
	require.NoError(t, st.CreateUser(ctx, u))

	err := st.CreateUser(ctx, store.User{ID: "u2", Username: "alice", DisplayName: "A2", PasswordHash: "h", CreatedAt: store.Now()})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = st.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Nil(t, st.GetUserAvatar(ctx, "u1"))
}

func TestChannelConflictAndCount(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateChannel(ctx, store.Channel{ID: "c1", Name: "general", ChannelType: "text", CreatedAt: store.Now()}))
	err := st.CreateChannel(ctx, store.Channel{ID: "c2", Name: "general", ChannelType: "text", CreatedAt: store.Now()})
	assert.ErrorIs(t, err, store.ErrConflict)

	count, err := st.CountChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	exists, err := st.ChannelExists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMessagePaging(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	times := []string{
		"2026-01-01 10:00:00",
		"2026-01-01 10:00:01",
		"2026-01-01 10:00:02",
	}
	for i, ts := range times {
		require.NoError(t, st.InsertMessage(ctx, store.Message{
			ID: string(rune('a' + i)), ChannelID: "c1", UserID: "u1",
			UserName: "Alice", Content: "m", CreatedAt: ts,
		}))
	}

	// Chronological order, newest window first when paging backwards.
	msgs, err := st.ListMessages(ctx, "c1", "", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, times[1], msgs[0].CreatedAt)
	assert.Equal(t, times[2], msgs[1].CreatedAt)

	msgs, err = st.ListMessages(ctx, "c1", times[1], 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, times[0], msgs[0].CreatedAt)
}

func TestInviteRedemption(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	maxUses := int64(1)
	require.NoError(t, st.CreateInvite(ctx, "limited1", &maxUses))

	require.NoError(t, st.RedeemInvite(ctx, "limited1"))
	assert.ErrorIs(t, st.RedeemInvite(ctx, "limited1"), store.ErrConflict)
	assert.ErrorIs(t, st.RedeemInvite(ctx, "missing"), store.ErrNotFound)

	require.NoError(t, st.CreateInvite(ctx, "unlimited", nil))
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RedeemInvite(ctx, "unlimited"))
	}
}

func TestRolesAndOverrides(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRole(ctx, store.Role{ID: "r-everyone", Name: "everyone", ServerID: "default"}))
	require.NoError(t, st.CreateRole(ctx, store.Role{ID: "r-mod", Name: "mods", Position: 1, Permissions: 42, ServerID: "default"}))
	require.NoError(t, st.AssignRole(ctx, "u1", "r-mod"))

	roles, err := st.UserRoles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, int64(42), roles[0].Permissions)

	id, err := st.EveryoneRoleID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r-everyone", id)

	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "c1", TargetID: "r-mod", TargetType: "role", Allow: 1, Deny: 2,
	}))
	// Replacing the same target updates in place.
	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o2", ChannelID: "c1", TargetID: "r-mod", TargetType: "role", Allow: 4, Deny: 0,
	}))

	overrides, err := st.ChannelOverrides(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, int64(4), overrides[0].Allow)
}

func TestFederationPeersAndLinks(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	peer := store.FederationPeer{
		ID: "p1", Name: "P", Host: "peer.example", Port: 3000,
		SharedSecret: "fed_s", Status: "pending", Direction: "outgoing", CreatedAt: store.Now(),
	}
	require.NoError(t, st.CreatePeer(ctx, peer))
	assert.ErrorIs(t, st.CreatePeer(ctx, peer), store.ErrConflict)

	// Pending peers do not authenticate.
	_, err := st.GetActivePeerBySecret(ctx, "fed_s")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.ActivatePeer(ctx, "p1"))
	got, err := st.GetActivePeerBySecret(ctx, "fed_s")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	require.NoError(t, st.CreateChannelLink(ctx, store.FederatedChannel{
		ID: "l1", LocalChannelID: "local-3", PeerID: "p1", RemoteChannelID: "remote-7", CreatedAt: store.Now(),
	}))

	link, err := st.ResolveChannelLink(ctx, "p1", "remote-7")
	require.NoError(t, err)
	assert.Equal(t, "local-3", link.LocalChannelID)

	// (peer, remote channel) is unique.
	err = st.CreateChannelLink(ctx, store.FederatedChannel{
		ID: "l2", LocalChannelID: "local-9", PeerID: "p1", RemoteChannelID: "remote-7", CreatedAt: store.Now(),
	})
	assert.Error(t, err)

	require.NoError(t, st.TouchPeer(ctx, "p1"))
	peers, err := st.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.NotNil(t, peers[0].LastSeen)
	assert.Empty(t, peers[0].SharedSecret) // never listed

	require.NoError(t, st.DeletePeer(ctx, "p1"))
	_, err = st.ResolveChannelLink(ctx, "p1", "remote-7")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
