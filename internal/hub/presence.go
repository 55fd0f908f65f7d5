package hub

import "sync"

// VoicePresence tracks which users are in which voice channels, with their
// mute/deafen state. Within a channel's list a user id appears at most once;
// re-joining replaces the prior entry but keeps list order stable for the
// remaining members (the re-joiner moves to the tail, as a fresh join).
type VoicePresence struct {
	mu       sync.Mutex
	channels map[string][]VoicePeer
}

// NewVoicePresence creates an empty registry.
func NewVoicePresence() *VoicePresence {
	return &VoicePresence{channels: make(map[string][]VoicePeer)}
}

// Join adds (or replaces) a member and returns the channel's full updated
// member list.
func (v *VoicePresence) Join(channelID, userID, userName string, muted, deafened bool) []VoicePeer {
	v.mu.Lock()
	defer v.mu.Unlock()

	members := removePeer(v.channels[channelID], userID)
	members = append(members, VoicePeer{
		UserID:     userID,
		UserName:   userName,
		ChannelID:  channelID,
		IsMuted:    muted,
		IsDeafened: deafened,
	})
	v.channels[channelID] = members

	out := make([]VoicePeer, len(members))
	copy(out, members)
	return out
}

// UpdateStatus mutates a member's mute/deafen state in place, if present.
func (v *VoicePresence) UpdateStatus(channelID, userID string, muted, deafened bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	members := v.channels[channelID]
	for i := range members {
		if members[i].UserID == userID {
			members[i].IsMuted = muted
			members[i].IsDeafened = deafened
			return
		}
	}
}

// Leave removes a member from one channel. It reports whether a removal
// actually happened, so callers can avoid broadcasting duplicate departures.
func (v *VoicePresence) Leave(channelID, userID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	members := v.channels[channelID]
	trimmed := removePeer(members, userID)
	if len(trimmed) == len(members) {
		return false
	}
	v.channels[channelID] = trimmed
	return true
}

// LeaveAll removes a user from every channel and returns the ids of the
// channels a removal occurred in.
func (v *VoicePresence) LeaveAll(userID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var left []string
	for channelID, members := range v.channels {
		trimmed := removePeer(members, userID)
		if len(trimmed) < len(members) {
			v.channels[channelID] = trimmed
			left = append(left, channelID)
		}
	}
	return left
}

// Members returns a copy of one channel's member list.
func (v *VoicePresence) Members(channelID string) []VoicePeer {
	v.mu.Lock()
	defer v.mu.Unlock()
	members := v.channels[channelID]
	out := make([]VoicePeer, len(members))
	copy(out, members)
	return out
}

// SnapshotAll returns every member across every channel, used for the
// initial voice_state_sync on connect.
func (v *VoicePresence) SnapshotAll() []VoicePeer {
	v.mu.Lock()
	defer v.mu.Unlock()
	var all []VoicePeer
	for _, members := range v.channels {
		all = append(all, members...)
	}
	return all
}

func removePeer(members []VoicePeer, userID string) []VoicePeer {
	out := members[:0:0]
	for _, m := range members {
		if m.UserID != userID {
			out = append(out, m)
		}
	}
	return out
}
