package permissions_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
	"github.com/paracord-chat/paracord/internal/store/sqlite"
)

func newChecker(t *testing.T) (*permissions.Checker, *store.SQLStore) {
	t.Helper()
	st, err := sqlite.Open(config.SQLiteConfig{
		Path:         filepath.Join(t.TempDir(), "perm_test.db"),
		MaxOpenConns: 1,
	}, observability.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return permissions.NewChecker(st), st
}

func TestCheckServerBaselineAndRoles(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()

	// Unknown users hold only the member baseline.
	ok, err := c.CheckServer(ctx, "nobody", permissions.SendMessages)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckServer(ctx, "nobody", permissions.ManageServer)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.CreateRole(ctx, store.Role{
		ID: "r-admin", Name: "admin", Permissions: int64(permissions.Administrator), ServerID: "default",
	}))
	require.NoError(t, st.AssignRole(ctx, "u1", "r-admin"))

	ok, err = c.CheckServer(ctx, "u1", permissions.ManageServer)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckChannelEveryoneDeny(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRole(ctx, store.Role{ID: "r-everyone", Name: "everyone", ServerID: "default"}))
	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "ch-1", TargetID: "r-everyone", TargetType: "role",
		Deny: int64(permissions.SendMessages),
	}))

	ok, err := c.CheckChannel(ctx, "u1", "ch-1", permissions.SendMessages)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other channels are untouched.
	ok, err = c.CheckChannel(ctx, "u1", "ch-2", permissions.SendMessages)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckChannelUserOverrideWins(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRole(ctx, store.Role{ID: "r-everyone", Name: "everyone", ServerID: "default"}))
	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "ch-1", TargetID: "r-everyone", TargetType: "role",
		Deny: int64(permissions.SendMessages),
	}))
	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o2", ChannelID: "ch-1", TargetID: "u1", TargetType: "member",
		Allow: int64(permissions.SendMessages),
	}))

	ok, err := c.CheckChannel(ctx, "u1", "ch-1", permissions.SendMessages)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckChannel(ctx, "u2", "ch-1", permissions.SendMessages)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckChannelHiddenImpliesSilenced(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRole(ctx, store.Role{ID: "r-everyone", Name: "everyone", ServerID: "default"}))
	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "secret", TargetID: "r-everyone", TargetType: "role",
		Deny: int64(permissions.ViewChannels),
	}))

	for _, required := range []permissions.Permissions{
		permissions.ViewChannels,
		permissions.SendMessages,
		permissions.Connect,
		permissions.ReadHistory,
	} {
		ok, err := c.CheckChannel(ctx, "u1", "secret", required)
		require.NoError(t, err)
		assert.False(t, ok, "permission %d must be cleared with VIEW_CHANNELS", required)
	}
}

func TestCheckChannelAdministratorBypassesOverrides(t *testing.T) {
	c, st := newChecker(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRole(ctx, store.Role{ID: "r-everyone", Name: "everyone", ServerID: "default"}))
	require.NoError(t, st.CreateRole(ctx, store.Role{
		ID: "r-admin", Name: "admin", Permissions: int64(permissions.Administrator), ServerID: "default",
	}))
	require.NoError(t, st.AssignRole(ctx, "boss", "r-admin"))
	require.NoError(t, st.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "ch-1", TargetID: "boss", TargetType: "member",
		Deny: int64(permissions.All()),
	}))

	ok, err := c.CheckChannel(ctx, "boss", "ch-1", permissions.ManageServer)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckChannelWithoutSeededEveryoneRole(t *testing.T) {
	c, _ := newChecker(t)

	ok, err := c.CheckChannel(context.Background(), "u1", "ch-1", permissions.ViewChannels)
	require.NoError(t, err)
	assert.True(t, ok)
}
