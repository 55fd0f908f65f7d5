package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paracord-chat/paracord/internal/auth"
	"github.com/paracord-chat/paracord/internal/config"
	"github.com/paracord-chat/paracord/internal/observability"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
	"github.com/paracord-chat/paracord/internal/store/sqlite"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type hubFixture struct {
	hub    *Hub
	store  *store.SQLStore
	jwt    *auth.JWTManager
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	st, err := sqlite.Open(config.SQLiteConfig{
		Path:         filepath.Join(t.TempDir(), "hub_test.db"),
		MaxOpenConns: 1,
	}, observability.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	jwtManager := auth.NewJWTManager(testSecret, time.Hour)
	h := New(st, jwtManager, nil, observability.NewNopLogger())

	server := httptest.NewServer(http.HandlerFunc(h.Handler()))
	t.Cleanup(server.Close)

	return &hubFixture{hub: h, store: st, jwt: jwtManager, server: server}
}

// dial opens a WebSocket session. An empty userID connects as a guest.
func (f *hubFixture) dial(t *testing.T, userID, name string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	if userID != "" {
		token, err := f.jwt.Generate(userID, name)
		require.NoError(t, err)
		url += "/?token=" + token
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Every session starts with identity then voice_state_sync.
	identity := readFrame(t, conn)
	require.Equal(t, TypeIdentity, identity.Type)
	if userID != "" {
		require.Equal(t, userID, identity.UserID)
	}
	sync := readFrame(t, conn)
	require.Equal(t, TypeVoiceStateSync, sync.Type)

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s frame arrived", msgType)
	return ServerMessage{}
}

// assertSilent fails if any frame arrives within the window.
func assertSilent(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(window))
	var msg ServerMessage
	err := conn.ReadJSON(&msg)
	if err == nil {
		t.Fatalf("expected silence, got frame %+v", msg)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestTextFanOut(t *testing.T) {
	f := newHubFixture(t)

	a := f.dial(t, "user-a", "Alice")
	b := f.dial(t, "user-b", "Bob")
	c := f.dial(t, "user-c", "Carol")

	send(t, a, ClientMessage{Type: TypeJoinChannel, ChannelID: "ch-1"})
	send(t, b, ClientMessage{Type: TypeJoinChannel, ChannelID: "ch-1"})
	send(t, c, ClientMessage{Type: TypeJoinChannel, ChannelID: "ch-2"})
	time.Sleep(100 * time.Millisecond)

	send(t, a, ClientMessage{Type: TypeSendMessage, ChannelID: "ch-1", Content: "hi"})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readUntil(t, conn, TypeNewMessage)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "ch-1", msg.ChannelID)
		assert.Equal(t, "user-a", msg.UserID)
		assert.Equal(t, "Alice", msg.UserName)
	}
	assertSilent(t, c, 300*time.Millisecond)

	count, err := f.store.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestVoiceJoinOrder(t *testing.T) {
	f := newHubFixture(t)

	a := f.dial(t, "user-a", "Alice")
	send(t, a, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})

	members := readUntil(t, a, TypeVoiceMembers)
	require.Len(t, members.Members, 1)
	assert.Equal(t, "user-a", members.Members[0].UserID)

	b := f.dial(t, "user-b", "Bob")
	send(t, b, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})

	// A's own join was suppressed on both the channel path and the global
	// path, so the first voice_peer_joined A sees is B's. Frames are
	// delivered in mailbox order, so a self echo would have arrived first.
	joined := readFrame(t, a)
	require.Equal(t, TypeVoicePeerJoined, joined.Type)
	assert.Equal(t, "user-b", joined.UserID)
	assert.Equal(t, "v-1", joined.ChannelID)

	bMembers := readUntil(t, b, TypeVoiceMembers)
	require.Len(t, bMembers.Members, 2)
	assert.Equal(t, "user-a", bMembers.Members[0].UserID)
	assert.Equal(t, "user-b", bMembers.Members[1].UserID)
}

func TestSDPRouting(t *testing.T) {
	f := newHubFixture(t)

	a := f.dial(t, "user-a", "Alice")
	b := f.dial(t, "user-b", "Bob")
	c := f.dial(t, "user-c", "Carol")

	send(t, a, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})
	readUntil(t, a, TypeVoiceMembers)
	send(t, b, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})
	readUntil(t, b, TypeVoiceMembers)
	readUntil(t, a, TypeVoicePeerJoined) // drain B's join announcement
	send(t, c, ClientMessage{Type: TypeJoinChannel, ChannelID: "other"})
	time.Sleep(100 * time.Millisecond)

	send(t, a, ClientMessage{
		Type:         TypeVoiceOffer,
		ChannelID:    "v-1",
		TargetUserID: "user-b",
		FromUserID:   "spoofed", // must be overwritten with the sender
		SDP:          "<offer-sdp>",
	})

	offer := readUntil(t, b, TypeVoiceOffer)
	assert.Equal(t, "user-a", offer.FromUserID)
	assert.Equal(t, "<offer-sdp>", offer.SDP)

	assertSilent(t, a, 200*time.Millisecond)
	assertSilent(t, c, 200*time.Millisecond)
}

func TestVoiceTeardownOnDisconnect(t *testing.T) {
	f := newHubFixture(t)

	b := f.dial(t, "user-b", "Bob")
	send(t, b, ClientMessage{Type: TypeJoinChannel, ChannelID: "v-1"})
	time.Sleep(100 * time.Millisecond)

	a := f.dial(t, "user-a", "Alice")
	send(t, a, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})
	joined := readUntil(t, b, TypeVoicePeerJoined)
	require.Equal(t, "user-a", joined.UserID)

	a.Close()

	left := readUntil(t, b, TypeVoicePeerLeft)
	assert.Equal(t, "user-a", left.UserID)
	assert.Equal(t, "v-1", left.ChannelID)

	// Exactly one departure per subscriber.
	assertSilent(t, b, 300*time.Millisecond)
	assert.Empty(t, f.hub.Presence.Members("v-1"))
}

func TestLeaveVoiceIdempotent(t *testing.T) {
	f := newHubFixture(t)

	b := f.dial(t, "user-b", "Bob")
	send(t, b, ClientMessage{Type: TypeJoinChannel, ChannelID: "v-1"})
	time.Sleep(100 * time.Millisecond)

	a := f.dial(t, "user-a", "Alice")
	send(t, a, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})
	readUntil(t, b, TypeVoicePeerJoined)

	send(t, a, ClientMessage{Type: TypeLeaveVoice, ChannelID: "v-1"})
	left := readUntil(t, b, TypeVoicePeerLeft)
	assert.Equal(t, "user-a", left.UserID)

	// The second leave is a no-op with zero additional broadcasts.
	send(t, a, ClientMessage{Type: TypeLeaveVoice, ChannelID: "v-1"})
	assertSilent(t, b, 300*time.Millisecond)
}

func TestMessageLengthBoundary(t *testing.T) {
	f := newHubFixture(t)

	a := f.dial(t, "user-a", "Alice")
	send(t, a, ClientMessage{Type: TypeJoinChannel, ChannelID: "ch-1"})
	time.Sleep(100 * time.Millisecond)

	send(t, a, ClientMessage{
		Type:      TypeSendMessage,
		ChannelID: "ch-1",
		Content:   strings.Repeat("a", MaxMessageLength),
	})
	msg := readUntil(t, a, TypeNewMessage)
	assert.Len(t, msg.Content, MaxMessageLength)

	send(t, a, ClientMessage{
		Type:      TypeSendMessage,
		ChannelID: "ch-1",
		Content:   strings.Repeat("a", MaxMessageLength+1),
	})
	assertSilent(t, a, 300*time.Millisecond)

	count, err := f.store.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGuestCannotPublish(t *testing.T) {
	f := newHubFixture(t)

	guest := f.dial(t, "", "")
	send(t, guest, ClientMessage{Type: TypeSendMessage, ChannelID: "ch-1", Content: "hi"})
	errFrame := readUntil(t, guest, TypeError)
	assert.Contains(t, errFrame.Message, "Authentication required")

	send(t, guest, ClientMessage{Type: TypeJoinVoice, ChannelID: "v-1"})
	errFrame = readUntil(t, guest, TypeError)
	assert.Contains(t, errFrame.Message, "Authentication required")
}

func TestSubscriptionCap(t *testing.T) {
	f := newHubFixture(t)

	a := f.dial(t, "user-a", "Alice")
	for i := 0; i < MaxSubscriptions; i++ {
		send(t, a, ClientMessage{Type: TypeJoinChannel, ChannelID: fmt.Sprintf("ch-%d", i)})
	}
	send(t, a, ClientMessage{Type: TypeJoinChannel, ChannelID: "ch-overflow"})

	b := f.dial(t, "user-b", "Bob")
	time.Sleep(150 * time.Millisecond)

	// A message on the 51st channel must not reach the capped session; one
	// on a subscribed channel must.
	send(t, b, ClientMessage{Type: TypeSendMessage, ChannelID: "ch-overflow", Content: "lost"})
	send(t, b, ClientMessage{Type: TypeSendMessage, ChannelID: "ch-0", Content: "delivered"})

	msg := readUntil(t, a, TypeNewMessage)
	assert.Equal(t, "delivered", msg.Content)
	assertSilent(t, a, 300*time.Millisecond)
}

func TestOversizeFrameAnswersError(t *testing.T) {
	f := newHubFixture(t)

	a := f.dial(t, "user-a", "Alice")
	send(t, a, ClientMessage{
		Type:      TypeVoiceOffer,
		ChannelID: "v-1",
		SDP:       strings.Repeat("x", MaxSDPLength+2048),
	})
	errFrame := readUntil(t, a, TypeError)
	assert.Equal(t, "Message too large", errFrame.Message)
}

func TestChannelOverrideSilencesSender(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateRole(ctx, store.Role{
		ID: "r-everyone", Name: "everyone", ServerID: "default",
	}))
	require.NoError(t, f.store.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "ch-1", TargetID: "r-everyone", TargetType: "role",
		Deny: int64(permissions.SendMessages),
	}))

	a := f.dial(t, "user-a", "Alice")
	send(t, a, ClientMessage{Type: TypeJoinChannel, ChannelID: "ch-1"})
	time.Sleep(100 * time.Millisecond)

	send(t, a, ClientMessage{Type: TypeSendMessage, ChannelID: "ch-1", Content: "blocked"})
	errFrame := readUntil(t, a, TypeError)
	assert.Contains(t, errFrame.Message, "permission")

	count, err := f.store.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestHiddenChannelNotJoinable(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateRole(ctx, store.Role{
		ID: "r-everyone", Name: "everyone", ServerID: "default",
	}))
	require.NoError(t, f.store.SetChannelOverride(ctx, store.ChannelOverride{
		ID: "o1", ChannelID: "secret", TargetID: "r-everyone", TargetType: "role",
		Deny: int64(permissions.ViewChannels),
	}))
	// An admin can still see it.
	require.NoError(t, f.store.CreateRole(ctx, store.Role{
		ID: "r-admin", Name: "admin", Permissions: int64(permissions.Administrator), ServerID: "default",
	}))
	require.NoError(t, f.store.AssignRole(ctx, "user-b", "r-admin"))

	a := f.dial(t, "user-a", "Alice")
	b := f.dial(t, "user-b", "Boss")
	send(t, a, ClientMessage{Type: TypeJoinChannel, ChannelID: "secret"})
	send(t, b, ClientMessage{Type: TypeJoinChannel, ChannelID: "secret"})
	time.Sleep(100 * time.Millisecond)

	send(t, b, ClientMessage{Type: TypeSendMessage, ChannelID: "secret", Content: "admins only"})

	msg := readUntil(t, b, TypeNewMessage)
	assert.Equal(t, "admins only", msg.Content)
	// A's join was silently refused, so nothing reaches A.
	assertSilent(t, a, 300*time.Millisecond)

	// Hiding the channel also blocks voice.
	c := f.dial(t, "user-c", "Carol")
	send(t, c, ClientMessage{Type: TypeJoinVoice, ChannelID: "secret"})
	errFrame := readUntil(t, c, TypeError)
	assert.Contains(t, errFrame.Message, "permission")
	assert.Empty(t, f.hub.Presence.Members("secret"))
}

func TestOnlineCountTracksSessions(t *testing.T) {
	f := newHubFixture(t)
	require.Equal(t, int64(0), f.hub.Online.Count())

	a := f.dial(t, "user-a", "Alice")
	f.dial(t, "user-b", "Bob")
	assert.Equal(t, int64(2), f.hub.Online.Count())
	assert.True(t, f.hub.Online.IsOnline("user-a"))

	a.Close()
	assert.Eventually(t, func() bool {
		return f.hub.Online.Count() == 1 && !f.hub.Online.IsOnline("user-a")
	}, 2*time.Second, 20*time.Millisecond)
}
