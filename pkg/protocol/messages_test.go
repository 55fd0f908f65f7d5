package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := TextMessage{
		ID:         "m1",
		ChannelID:  "ch-1",
		AuthorID:   "u1",
		AuthorName: "Alice",
		Content:    "hello mesh",
		SentAt:     1700000000,
	}

	env, err := Encode(TypeTextMessage, original)
	require.NoError(t, err)

	wire, err := env.Frame()
	require.NoError(t, err)
	assert.Equal(t, byte(Version), wire[0])

	decoded, err := Decode(bytes.NewReader(wire))
	require.NoError(t, err)
	assert.Equal(t, TypeTextMessage, decoded.Type)

	var msg TextMessage
	require.NoError(t, decoded.DecodePayload(&msg))
	assert.Equal(t, original, msg)
}

func TestDecodeMultipleFramesPerStream(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		env, err := Encode(TypePing, PingPong{Nonce: uint64(i)})
		require.NoError(t, err)
		wire, err := env.Frame()
		require.NoError(t, err)
		stream.Write(wire)
	}

	for i := 0; i < 3; i++ {
		env, err := Decode(&stream)
		require.NoError(t, err)
		var ping PingPong
		require.NoError(t, env.DecodePayload(&ping))
		assert.Equal(t, uint64(i), ping.Nonce)
	}

	_, err := Decode(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncodeRejectsInvalidPayload(t *testing.T) {
	_, err := Encode(TypeTextMessage, TextMessage{
		ID: "m1", ChannelID: "ch-1", AuthorID: "u1",
		Content: strings.Repeat("a", MaxContentLength+1),
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(TypeTextMessage, TextMessage{
		ID: "m1", ChannelID: "ch-1", AuthorID: "u1", Content: "",
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(TypeVoiceJoin, VoiceMembership{
		ChannelID: "v-1", UserID: "u1", Deafened: true, Muted: false,
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(TypePresenceUpdate, PresenceUpdate{UserID: "u1", Status: "away"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodePayloadValidates(t *testing.T) {
	// A structurally valid frame whose payload violates domain bounds must
	// be rejected on the receive side too.
	env := &Envelope{Type: TypeTextMessage}
	raw, err := Encode(TypePing, map[string]string{"content": ""})
	require.NoError(t, err)
	env.Payload = raw.Payload

	var msg TextMessage
	assert.ErrorIs(t, env.DecodePayload(&msg), ErrInvalidPayload)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	env, err := Encode(TypePing, PingPong{Nonce: 1})
	require.NoError(t, err)
	wire, err := env.Frame()
	require.NoError(t, err)

	wire[0] = 0x7F
	_, err = Decode(bytes.NewReader(wire))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDecodeRejectsOversizePayload(t *testing.T) {
	header := []byte{Version, byte(TypePing), 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := Decode(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestChannelAnnounceValidation(t *testing.T) {
	valid := ChannelAnnounce{ChannelID: "c1", Name: "general", ChannelType: "text"}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.ChannelType = "video"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPayload)

	bad = valid
	bad.Name = strings.Repeat("x", 33)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPayload)
}
