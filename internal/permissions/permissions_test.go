package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdministratorShortCircuits(t *testing.T) {
	overrides := []Override{
		{TargetID: "everyone", Allow: 0, Deny: All()},
		{TargetID: "u1", IsUser: true, Deny: All()},
	}

	result := Calculate(Administrator, overrides, "u1", "everyone", nil)
	assert.Equal(t, All(), result)
}

func TestEveryoneOverrideApplied(t *testing.T) {
	base := ViewChannels | SendMessages
	overrides := []Override{
		{TargetID: "everyone", Deny: SendMessages},
	}

	result := Calculate(base, overrides, "u1", "everyone", nil)
	assert.False(t, result.Contains(SendMessages))
	assert.True(t, result.Contains(ViewChannels))
}

func TestUserOverrideBeatsEveryone(t *testing.T) {
	// Base: SEND_MESSAGES | VIEW_CHANNELS. Everyone denies SEND_MESSAGES,
	// the user override re-allows it. Both bits must survive.
	base := SendMessages | ViewChannels
	overrides := []Override{
		{TargetID: "everyone", Deny: SendMessages},
		{TargetID: "u1", IsUser: true, Allow: SendMessages},
	}

	result := Calculate(base, overrides, "u1", "everyone", nil)
	assert.True(t, result.Contains(SendMessages))
	assert.True(t, result.Contains(ViewChannels))
}

func TestRoleTierDenyBeforeAllow(t *testing.T) {
	// Two role overrides on the same bit: deny is applied before allow
	// within the tier, so allow wins.
	base := ViewChannels
	overrides := []Override{
		{TargetID: "role-a", Allow: Connect},
		{TargetID: "role-b", Deny: Connect},
	}

	result := Calculate(base, overrides, "u1", "everyone", []string{"role-a", "role-b"})
	assert.True(t, result.Contains(Connect))
}

func TestRoleOverridesIgnoredForUnheldRoles(t *testing.T) {
	base := ViewChannels
	overrides := []Override{
		{TargetID: "role-x", Allow: ManageServer},
	}

	result := Calculate(base, overrides, "u1", "everyone", []string{"role-y"})
	assert.False(t, result.Contains(ManageServer))
}

func TestViewChannelsImplication(t *testing.T) {
	base := ViewChannels | SendMessages | Connect | ReadHistory
	overrides := []Override{
		{TargetID: "everyone", Deny: ViewChannels},
	}

	result := Calculate(base, overrides, "u1", "everyone", nil)
	assert.False(t, result.Contains(ViewChannels))
	assert.False(t, result.Contains(SendMessages))
	assert.False(t, result.Contains(Connect))
	assert.False(t, result.Contains(ReadHistory))
}

func TestDefaultSets(t *testing.T) {
	assert.True(t, DefaultAdmin().Contains(Administrator))
	assert.True(t, DefaultMember().Contains(ViewChannels|SendMessages|Connect|Speak))
	assert.False(t, DefaultMember().Contains(ManageServer))
	assert.True(t, DefaultModerator().Contains(ManageMessages|KickMembers))
	assert.False(t, DefaultModerator().Contains(Administrator))
}

func TestAdministratorInRolesShortCircuits(t *testing.T) {
	// ADMINISTRATOR granted through any role wins over every override.
	base := DefaultMember() | Administrator
	overrides := []Override{
		{TargetID: "u1", IsUser: true, Deny: All()},
	}
	assert.Equal(t, All(), Calculate(base, overrides, "u1", "everyone", nil))
}
