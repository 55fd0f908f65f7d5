// Package permissions implements the role/override permission model: a
// 64-bit permission bitmask per role, combined with per-channel overrides in
// a fixed evaluation order.
package permissions

// Permissions is a bitmask of allowed actions.
// Bit positions are wire- and database-visible; do not renumber.
type Permissions int64

const (
	// General
	ViewChannels   Permissions = 1 << 0
	ManageChannels Permissions = 1 << 1
	ManageRoles    Permissions = 1 << 2
	ManageEmojis   Permissions = 1 << 3
	ViewAuditLog   Permissions = 1 << 4
	ManageServer   Permissions = 1 << 5
	CreateInvite   Permissions = 1 << 6
	KickMembers    Permissions = 1 << 7
	BanMembers     Permissions = 1 << 8

	// Text channels
	SendMessages    Permissions = 1 << 9
	SendFiles       Permissions = 1 << 10
	EmbedLinks      Permissions = 1 << 11
	AddReactions    Permissions = 1 << 12
	UseEmojis       Permissions = 1 << 13
	ManageMessages  Permissions = 1 << 14
	ReadHistory     Permissions = 1 << 15
	MentionEveryone Permissions = 1 << 16

	// Voice channels
	Connect          Permissions = 1 << 17
	Speak            Permissions = 1 << 18
	Video            Permissions = 1 << 19
	MuteMembers      Permissions = 1 << 20
	DeafenMembers    Permissions = 1 << 21
	MoveMembers      Permissions = 1 << 22
	UseVoiceActivity Permissions = 1 << 23
	PrioritySpeaker  Permissions = 1 << 24

	// Advanced
	Administrator Permissions = 1 << 30
)

// All returns every permission bit set.
func All() Permissions {
	return ViewChannels | ManageChannels | ManageRoles | ManageEmojis |
		ViewAuditLog | ManageServer | CreateInvite | KickMembers | BanMembers |
		SendMessages | SendFiles | EmbedLinks | AddReactions | UseEmojis |
		ManageMessages | ReadHistory | MentionEveryone |
		Connect | Speak | Video | MuteMembers | DeafenMembers | MoveMembers |
		UseVoiceActivity | PrioritySpeaker | Administrator
}

// DefaultAdmin is the permission set for the auto-created admin role.
func DefaultAdmin() Permissions {
	return Administrator
}

// DefaultModerator is the permission set for the auto-created moderator role.
func DefaultModerator() Permissions {
	return ViewChannels | ManageChannels | CreateInvite | KickMembers |
		SendMessages | SendFiles | EmbedLinks | AddReactions | UseEmojis |
		ManageMessages | ReadHistory |
		Connect | Speak | Video | MuteMembers | UseVoiceActivity
}

// DefaultMember is the permission set for the auto-created @everyone role.
func DefaultMember() Permissions {
	return ViewChannels | CreateInvite |
		SendMessages | SendFiles | EmbedLinks | AddReactions | UseEmojis |
		ReadHistory |
		Connect | Speak | Video | UseVoiceActivity
}

// Contains reports whether every bit of perm is set.
func (p Permissions) Contains(perm Permissions) bool {
	return p&perm == perm
}

// Override is one per-channel ACL entry. An override either targets a role
// or a specific member. An explicit deny and allow may overlap; within a
// layer, deny is applied before allow, so allow wins.
type Override struct {
	TargetID string
	IsUser   bool // true when the target is a member, false for a role
	Allow    Permissions
	Deny     Permissions
}

// Calculate composes the final permissions of a user in a channel.
//
// Evaluation order:
//  1. Base permissions: OR of every role the user holds. ADMINISTRATOR
//     short-circuits to all bits.
//  2. Channel override for the @everyone role.
//  3. Channel overrides for the user's roles, denies and allows each
//     OR-combined across roles, deny applied before allow.
//  4. Channel override for the user.
//
// Finally, a user who cannot view the channel also loses send, connect, and
// history access regardless of what the overrides granted.
func Calculate(
	base Permissions,
	overrides []Override,
	userID string,
	everyoneRoleID string,
	userRoleIDs []string,
) Permissions {
	perms := base

	if perms.Contains(Administrator) {
		return All()
	}

	for _, o := range overrides {
		if !o.IsUser && o.TargetID == everyoneRoleID {
			perms &^= o.Deny
			perms |= o.Allow
			break
		}
	}

	var rolesAllow, rolesDeny Permissions
	for _, o := range overrides {
		if o.IsUser {
			continue
		}
		for _, rid := range userRoleIDs {
			if rid == o.TargetID {
				rolesAllow |= o.Allow
				rolesDeny |= o.Deny
				break
			}
		}
	}
	perms &^= rolesDeny
	perms |= rolesAllow

	for _, o := range overrides {
		if o.IsUser && o.TargetID == userID {
			perms &^= o.Deny
			perms |= o.Allow
			break
		}
	}

	if !perms.Contains(ViewChannels) {
		perms &^= SendMessages | Connect | ReadHistory
	}

	return perms
}
