package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/paracord-chat/paracord/internal/store"
)

// Checker evaluates permissions against the persisted roles and channel
// overrides. Every user implicitly holds the default member baseline; roles
// add to it, channel overrides adjust it per §Calculate.
type Checker struct {
	store *store.SQLStore
}

// NewChecker creates a checker over the given store.
func NewChecker(st *store.SQLStore) *Checker {
	return &Checker{store: st}
}

// CheckServer evaluates a server-level permission (no channel context):
// the OR of the user's role bitmasks over the member baseline, with the
// administrator short-circuit.
func (c *Checker) CheckServer(ctx context.Context, userID string, required Permissions) (bool, error) {
	base, _, err := c.basePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	if base.Contains(Administrator) {
		return true, nil
	}
	return base.Contains(required), nil
}

// CheckChannel evaluates a permission within one channel: base role
// permissions composed with the channel's overrides through Calculate.
// Unknown users (guests) evaluate with the baseline only, so an everyone
// override that hides a channel hides it from guests too.
func (c *Checker) CheckChannel(ctx context.Context, userID, channelID string, required Permissions) (bool, error) {
	base, roleIDs, err := c.basePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	if base.Contains(Administrator) {
		return true, nil
	}

	rows, err := c.store.ChannelOverrides(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("permissions: load overrides: %w", err)
	}
	overrides := make([]Override, 0, len(rows))
	for _, row := range rows {
		overrides = append(overrides, Override{
			TargetID: row.TargetID,
			IsUser:   row.TargetType == "member",
			Allow:    Permissions(row.Allow),
			Deny:     Permissions(row.Deny),
		})
	}

	everyoneID, err := c.store.EveryoneRoleID(ctx)
	if err != nil {
		// A fresh instance may not have seeded roles yet; evaluate with no
		// everyone tier rather than refusing everything.
		if !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("permissions: everyone role: %w", err)
		}
		everyoneID = ""
	}

	computed := Calculate(base, overrides, userID, everyoneID, roleIDs)
	return computed.Contains(required), nil
}

func (c *Checker) basePermissions(ctx context.Context, userID string) (Permissions, []string, error) {
	roles, err := c.store.UserRoles(ctx, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("permissions: load roles: %w", err)
	}
	base := DefaultMember()
	roleIDs := make([]string, 0, len(roles))
	for _, r := range roles {
		base |= Permissions(r.Permissions)
		roleIDs = append(roleIDs, r.ID)
	}
	return base, roleIDs, nil
}
