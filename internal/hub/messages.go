// Package hub implements the realtime WebSocket hub: per-channel broadcast
// buses, voice presence, per-connection session state machines, and online
// accounting.
package hub

// Client-to-server frame types.
const (
	TypeJoinChannel       = "join_channel"
	TypeLeaveChannel      = "leave_channel"
	TypeSendMessage       = "send_message"
	TypeJoinVoice         = "join_voice"
	TypeLeaveVoice        = "leave_voice"
	TypeVoiceOffer        = "voice_offer"
	TypeVoiceAnswer       = "voice_answer"
	TypeIceCandidate      = "ice_candidate"
	TypeVoiceTalking      = "voice_talking"
	TypeVoiceStatusUpdate = "voice_status_update"
)

// Server-to-client frame types.
const (
	TypeIdentity        = "identity"
	TypeNewMessage      = "new_message"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeError           = "error"
	TypeVoicePeerJoined = "voice_peer_joined"
	TypeVoicePeerLeft   = "voice_peer_left"
	TypeVoiceMembers    = "voice_members"
	TypeVoiceStateSync  = "voice_state_sync"
)

// Limits enforced on client frames.
const (
	MaxMessageLength = 2000
	MaxFieldLength   = 256
	MaxSDPLength     = 65536
	MaxSubscriptions = 50
)

// VoicePeer is one member of a voice channel.
type VoicePeer struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	ChannelID  string `json:"channel_id"`
	IsMuted    bool   `json:"is_muted"`
	IsDeafened bool   `json:"is_deafened"`
}

// ClientMessage is a frame received from a client. The Type field selects
// which of the remaining fields are meaningful.
type ClientMessage struct {
	Type         string `json:"type"`
	ChannelID    string `json:"channel_id,omitempty"`
	Content      string `json:"content,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
	FromUserID   string `json:"from_user_id,omitempty"`
	SDP          string `json:"sdp,omitempty"`
	Candidate    string `json:"candidate,omitempty"`
	Talking      bool   `json:"talking,omitempty"`
	IsMuted      bool   `json:"is_muted,omitempty"`
	IsDeafened   bool   `json:"is_deafened,omitempty"`
}

// ServerMessage is a frame sent to clients and published on buses.
type ServerMessage struct {
	Type         string      `json:"type"`
	ID           string      `json:"id,omitempty"`
	ChannelID    string      `json:"channel_id,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	UserName     string      `json:"user_name,omitempty"`
	AvatarURL    *string     `json:"avatar_url,omitempty"`
	Content      string      `json:"content,omitempty"`
	CreatedAt    string      `json:"created_at,omitempty"`
	IsBot        bool        `json:"is_bot,omitempty"`
	Message      string      `json:"message,omitempty"`
	TargetUserID string      `json:"target_user_id,omitempty"`
	FromUserID   string      `json:"from_user_id,omitempty"`
	SDP          string      `json:"sdp,omitempty"`
	Candidate    string      `json:"candidate,omitempty"`
	Talking      *bool       `json:"talking,omitempty"`
	IsMuted      *bool       `json:"is_muted,omitempty"`
	IsDeafened   *bool       `json:"is_deafened,omitempty"`
	Members      []VoicePeer `json:"members,omitempty"`
	VoiceStates  []VoicePeer `json:"voice_states,omitempty"`
}

// ShouldForward is the single forwarding filter applied by channel-bus
// forwarders. The same rules apply no matter which handler created the
// subscription, so publish-time and subscribe-time behavior cannot drift:
//
//   - channel-tagged events pass only when the channel matches;
//   - SDP-bearing frames additionally require the subscriber to be the
//     target (or the wildcard target);
//   - a voice_peer_joined for the subscriber's own user is suppressed — the
//     joiner already received the authoritative voice_members reply;
//   - frames with no channel tag are global and always pass.
func ShouldForward(msg ServerMessage, channelID, selfUserID string) bool {
	switch msg.Type {
	case TypeNewMessage, TypeUserJoined, TypeUserLeft,
		TypeVoicePeerLeft, TypeVoiceMembers,
		TypeVoiceTalking, TypeVoiceStatusUpdate:
		return msg.ChannelID == channelID
	case TypeVoicePeerJoined:
		return msg.ChannelID == channelID && msg.UserID != selfUserID
	case TypeVoiceOffer, TypeVoiceAnswer, TypeIceCandidate:
		return msg.ChannelID == channelID &&
			(msg.TargetUserID == selfUserID || msg.TargetUserID == "*")
	default:
		return true
	}
}
