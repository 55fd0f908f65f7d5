package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/hub"
	"github.com/paracord-chat/paracord/internal/voice"
)

// VoiceBridge glues the hub client to the WebRTC voice engine: presence
// frames drive peer-connection lifecycle, SDP/ICE frames drive negotiation.
// Members already in the channel offer to each newcomer, so both sides never
// offer at once.
type VoiceBridge struct {
	client    *Client
	engine    *voice.Engine
	channelID string
	logger    zerolog.Logger
}

// NewVoiceBridge wires the handlers and returns the bridge. Call JoinVoice
// on the client afterwards to enter the channel.
func NewVoiceBridge(client *Client, engine *voice.Engine, channelID string, logger zerolog.Logger) *VoiceBridge {
	b := &VoiceBridge{
		client:    client,
		engine:    engine,
		channelID: channelID,
		logger:    logger.With().Str("component", "voice-bridge").Logger(),
	}

	engine.OnICECandidate(func(targetUserID string, candidate webrtc.ICECandidateInit) {
		data, err := json.Marshal(candidate)
		if err != nil {
			return
		}
		if err := client.SendICECandidate(b.channelID, targetUserID, string(data)); err != nil {
			b.logger.Warn().Err(err).Msg("failed to relay ICE candidate")
		}
	})

	client.On(hub.TypeVoicePeerJoined, b.onPeerJoined)
	client.On(hub.TypeVoicePeerLeft, b.onPeerLeft)
	client.On(hub.TypeVoiceOffer, b.onOffer)
	client.On(hub.TypeVoiceAnswer, b.onAnswer)
	client.On(hub.TypeIceCandidate, b.onICECandidate)

	return b
}

// onPeerJoined: an existing member offers to the newcomer.
func (b *VoiceBridge) onPeerJoined(msg hub.ServerMessage) {
	if msg.ChannelID != b.channelID || msg.UserID == b.client.UserID() {
		return
	}
	if err := b.engine.AddPeer(msg.UserID); err != nil {
		b.logger.Error().Err(err).Str("user_id", msg.UserID).Msg("add peer failed")
		return
	}
	sdp, err := b.engine.CreateOffer(msg.UserID)
	if err != nil {
		b.logger.Error().Err(err).Str("user_id", msg.UserID).Msg("create offer failed")
		return
	}
	if err := b.client.SendOffer(b.channelID, msg.UserID, sdp); err != nil {
		b.logger.Warn().Err(err).Msg("failed to relay offer")
	}
}

func (b *VoiceBridge) onPeerLeft(msg hub.ServerMessage) {
	if msg.ChannelID != b.channelID {
		return
	}
	b.engine.RemovePeer(msg.UserID)
}

// onOffer: the newcomer answers whoever offers.
func (b *VoiceBridge) onOffer(msg hub.ServerMessage) {
	if msg.ChannelID != b.channelID {
		return
	}
	if err := b.engine.AddPeer(msg.FromUserID); err != nil {
		b.logger.Error().Err(err).Str("user_id", msg.FromUserID).Msg("add peer failed")
		return
	}
	answer, err := b.engine.HandleOffer(msg.FromUserID, msg.SDP)
	if err != nil {
		b.logger.Error().Err(err).Str("user_id", msg.FromUserID).Msg("handle offer failed")
		return
	}
	if err := b.client.SendAnswer(b.channelID, msg.FromUserID, answer); err != nil {
		b.logger.Warn().Err(err).Msg("failed to relay answer")
	}
}

func (b *VoiceBridge) onAnswer(msg hub.ServerMessage) {
	if msg.ChannelID != b.channelID {
		return
	}
	if err := b.engine.HandleAnswer(msg.FromUserID, msg.SDP); err != nil {
		b.logger.Error().Err(err).Str("user_id", msg.FromUserID).Msg("handle answer failed")
	}
}

func (b *VoiceBridge) onICECandidate(msg hub.ServerMessage) {
	if msg.ChannelID != b.channelID {
		return
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(msg.Candidate), &candidate); err != nil {
		b.logger.Warn().Err(err).Msg("invalid ICE candidate payload")
		return
	}
	if err := b.engine.AddICECandidate(msg.FromUserID, candidate); err != nil {
		b.logger.Debug().Err(err).Str("user_id", msg.FromUserID).Msg("add ICE candidate failed")
	}
}
