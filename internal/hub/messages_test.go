package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldForwardChannelScoped(t *testing.T) {
	msg := ServerMessage{Type: TypeNewMessage, ChannelID: "ch-1"}
	assert.True(t, ShouldForward(msg, "ch-1", "me"))
	assert.False(t, ShouldForward(msg, "ch-2", "me"))
}

func TestShouldForwardSDPTargeting(t *testing.T) {
	offer := ServerMessage{Type: TypeVoiceOffer, ChannelID: "v-1", TargetUserID: "bob"}

	assert.True(t, ShouldForward(offer, "v-1", "bob"))
	assert.False(t, ShouldForward(offer, "v-1", "carol"))
	assert.False(t, ShouldForward(offer, "v-2", "bob"))

	wildcard := ServerMessage{Type: TypeIceCandidate, ChannelID: "v-1", TargetUserID: "*"}
	assert.True(t, ShouldForward(wildcard, "v-1", "anyone"))
}

func TestShouldForwardSelfJoinSuppressed(t *testing.T) {
	joined := ServerMessage{Type: TypeVoicePeerJoined, ChannelID: "v-1", UserID: "me"}
	assert.False(t, ShouldForward(joined, "v-1", "me"))
	assert.True(t, ShouldForward(joined, "v-1", "other"))
}

func TestShouldForwardGlobalAlwaysPasses(t *testing.T) {
	identity := ServerMessage{Type: TypeIdentity, UserID: "x"}
	assert.True(t, ShouldForward(identity, "any", "me"))

	sync := ServerMessage{Type: TypeVoiceStateSync}
	assert.True(t, ShouldForward(sync, "any", "me"))
}
