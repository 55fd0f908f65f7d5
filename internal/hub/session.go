package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/auth"
	"github.com/paracord-chat/paracord/internal/permissions"
	"github.com/paracord-chat/paracord/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second

	// Text frames larger than this are answered with an error and ignored.
	maxFrameSize = MaxSDPLength + 1024

	// MailboxCapacity bounds the per-session outbound queue.
	MailboxCapacity = 256
)

// session is the per-connection state machine. One goroutine runs the read
// loop, one runs the write pump, and one forwarder goroutine exists per bus
// subscription. All server-to-client traffic funnels through the bounded
// mailbox; a forwarder that finds the mailbox full terminates itself.
type session struct {
	hub  *Hub
	conn *websocket.Conn

	userID        string
	userName      string
	authenticated bool

	mailbox   chan ServerMessage
	closeOnce sync.Once

	// subscriptions maps channel id -> forwarder cancel. Mutated by the
	// read loop, read by the global forwarder for duplicate suppression.
	subsMu        sync.Mutex
	subscriptions map[string]func()

	logger zerolog.Logger
}

func newSession(h *Hub, conn *websocket.Conn, claims *auth.Claims) *session {
	userID := uuid.NewString()
	userName := "Guest"
	authenticated := false
	if claims != nil {
		userID = claims.UserID()
		userName = claims.DisplayName
		authenticated = true
	}

	return &session{
		hub:           h,
		conn:          conn,
		userID:        userID,
		userName:      userName,
		authenticated: authenticated,
		mailbox:       make(chan ServerMessage, MailboxCapacity),
		subscriptions: make(map[string]func()),
		logger: h.logger.With().
			Str("user_id", userID).
			Bool("authenticated", authenticated).
			Logger(),
	}
}

// run drives the session to completion and always cleans up.
func (s *session) run() {
	s.hub.Online.SessionOpened(s.userID)
	if s.hub.metrics != nil {
		s.hub.metrics.OnlineSessions.Inc()
	}

	go s.writePump()

	// Reflect identity, then the full voice presence snapshot, in order.
	s.enqueue(ServerMessage{Type: TypeIdentity, UserID: s.userID})
	s.enqueue(ServerMessage{Type: TypeVoiceStateSync, VoiceStates: s.hub.Presence.SnapshotAll()})

	// Global broadcasts reach sessions that do not subscribe to the tagged
	// channel; for subscribers the channel forwarder already delivers the
	// frame, so the global copy is suppressed to keep delivery exactly-once.
	globalCh, cancelGlobal := s.hub.Buses.Global().Subscribe()
	go func() {
		for msg := range globalCh {
			if msg.ChannelID != "" && s.isSubscribed(msg.ChannelID) {
				continue
			}
			if !s.enqueue(msg) {
				cancelGlobal()
				return
			}
		}
	}()

	s.readLoop()

	// Teardown. Remove this user from every voice channel and tell both the
	// channels and the global listeners exactly once per channel.
	for _, channelID := range s.hub.Presence.LeaveAll(s.userID) {
		left := ServerMessage{Type: TypeVoicePeerLeft, ChannelID: channelID, UserID: s.userID}
		s.hub.Buses.Publish(channelID, left)
		s.hub.Buses.PublishGlobal(left)
	}

	s.subsMu.Lock()
	for _, cancel := range s.subscriptions {
		cancel()
	}
	s.subscriptions = make(map[string]func())
	s.subsMu.Unlock()
	cancelGlobal()

	s.hub.Online.SessionClosed(s.userID)
	if s.hub.metrics != nil {
		s.hub.metrics.OnlineSessions.Dec()
	}
	s.closeMailbox()
	s.logger.Debug().Msg("session closed")
}

// readLoop consumes client frames until the connection drops.
func (s *session) readLoop() {
	s.conn.SetReadLimit(maxFrameSize + 4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if len(data) > maxFrameSize {
			s.sendError("Message too large")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("Invalid message format")
			continue
		}
		if s.hub.metrics != nil {
			s.hub.metrics.WSMessagesIn.WithLabelValues(msg.Type).Inc()
		}
		s.handle(msg)
	}
}

// handle dispatches one client frame. String fields other than SDP bodies
// and message content are bounded at MaxFieldLength; violations drop the
// frame silently.
func (s *session) handle(msg ClientMessage) {
	switch msg.Type {
	case TypeJoinChannel:
		if !validField(msg.ChannelID) {
			return
		}
		s.joinChannel(msg.ChannelID)

	case TypeLeaveChannel:
		s.subsMu.Lock()
		if cancel, ok := s.subscriptions[msg.ChannelID]; ok {
			cancel()
			delete(s.subscriptions, msg.ChannelID)
		}
		s.subsMu.Unlock()

	case TypeSendMessage:
		s.sendMessage(msg)

	case TypeJoinVoice:
		s.joinVoice(msg)

	case TypeLeaveVoice:
		if !validField(msg.ChannelID) {
			return
		}
		s.leaveVoice(msg.ChannelID)

	case TypeVoiceOffer, TypeVoiceAnswer:
		if !validField(msg.ChannelID) || !validField(msg.TargetUserID) || len(msg.SDP) > MaxSDPLength {
			return
		}
		s.hub.Buses.Publish(msg.ChannelID, ServerMessage{
			Type:         msg.Type,
			ChannelID:    msg.ChannelID,
			TargetUserID: msg.TargetUserID,
			FromUserID:   s.userID, // always the authenticated sender
			SDP:          msg.SDP,
		})

	case TypeIceCandidate:
		if !validField(msg.ChannelID) || !validField(msg.TargetUserID) || len(msg.Candidate) > MaxSDPLength {
			return
		}
		s.hub.Buses.Publish(msg.ChannelID, ServerMessage{
			Type:         TypeIceCandidate,
			ChannelID:    msg.ChannelID,
			TargetUserID: msg.TargetUserID,
			FromUserID:   s.userID,
			Candidate:    msg.Candidate,
		})

	case TypeVoiceTalking:
		if !validField(msg.ChannelID) {
			return
		}
		talking := msg.Talking
		s.hub.Buses.Publish(msg.ChannelID, ServerMessage{
			Type:      TypeVoiceTalking,
			ChannelID: msg.ChannelID,
			UserID:    s.userID,
			Talking:   &talking,
		})

	case TypeVoiceStatusUpdate:
		if !validField(msg.ChannelID) {
			return
		}
		s.hub.Presence.UpdateStatus(msg.ChannelID, s.userID, msg.IsMuted, msg.IsDeafened)
		muted, deafened := msg.IsMuted, msg.IsDeafened
		update := ServerMessage{
			Type:       TypeVoiceStatusUpdate,
			ChannelID:  msg.ChannelID,
			UserID:     s.userID,
			IsMuted:    &muted,
			IsDeafened: &deafened,
		}
		s.hub.Buses.Publish(msg.ChannelID, update)
		s.hub.Buses.PublishGlobal(update)

	default:
		s.logger.Debug().Str("type", msg.Type).Msg("unknown client frame")
	}
}

// hasChannelPermission composes roles and channel overrides via the shared
// evaluator. Evaluation errors deny and log: serving a hidden channel on a
// database hiccup is worse than a dropped frame.
func (s *session) hasChannelPermission(channelID string, required permissions.Permissions) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.hub.perms.CheckChannel(ctx, s.userID, channelID, required)
	if err != nil {
		s.logger.Error().Err(err).Str("channel_id", channelID).Msg("permission check failed")
		return false
	}
	return ok
}

// joinChannel installs a filtered forwarder for a channel bus. Attempts past
// the subscription cap, and attempts on channels the user cannot view, are
// silently ignored.
func (s *session) joinChannel(channelID string) {
	if !s.hasChannelPermission(channelID, permissions.ViewChannels) {
		return
	}

	s.subsMu.Lock()
	if _, ok := s.subscriptions[channelID]; ok {
		s.subsMu.Unlock()
		return
	}
	if len(s.subscriptions) >= MaxSubscriptions {
		s.subsMu.Unlock()
		return
	}

	ch, cancel := s.hub.Buses.Get(channelID).Subscribe()
	s.subscriptions[channelID] = cancel
	s.subsMu.Unlock()

	selfID := s.userID
	go func() {
		for msg := range ch {
			if !ShouldForward(msg, channelID, selfID) {
				continue
			}
			if !s.enqueue(msg) {
				cancel()
				return
			}
		}
	}()
}

// sendMessage validates, persists, and fans out a text message.
func (s *session) sendMessage(msg ClientMessage) {
	if !s.authenticated {
		s.sendError("Authentication required to send messages")
		return
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" || len(content) > MaxMessageLength {
		return
	}
	if msg.ChannelID == "" || len(msg.ChannelID) > MaxFieldLength {
		return
	}
	if !s.hasChannelPermission(msg.ChannelID, permissions.SendMessages) {
		s.sendError("You lack permission to send messages in this channel")
		return
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	record := store.Message{
		ID:        uuid.NewString(),
		ChannelID: msg.ChannelID,
		UserID:    s.userID,
		UserName:  s.userName,
		Content:   content,
		CreatedAt: store.Now(),
	}
	if err := s.hub.store.InsertMessage(ctx, record); err != nil {
		s.logger.Error().Err(err).Msg("failed to save message")
		return
	}

	avatar := s.hub.store.GetUserAvatar(ctx, s.userID)

	s.hub.Buses.Publish(msg.ChannelID, ServerMessage{
		Type:      TypeNewMessage,
		ID:        record.ID,
		ChannelID: record.ChannelID,
		UserID:    record.UserID,
		UserName:  record.UserName,
		AvatarURL: avatar,
		Content:   record.Content,
		CreatedAt: record.CreatedAt,
	})
}

// joinVoice mutates presence and announces the join. The full member list is
// reflected to the joiner only; everyone else learns via voice_peer_joined.
func (s *session) joinVoice(msg ClientMessage) {
	if !s.authenticated {
		s.sendError("Authentication required for voice")
		return
	}
	if !validField(msg.ChannelID) {
		return
	}
	if !s.hasChannelPermission(msg.ChannelID, permissions.Connect) {
		s.sendError("You lack permission to connect to this voice channel")
		return
	}

	s.joinChannel(msg.ChannelID)

	members := s.hub.Presence.Join(msg.ChannelID, s.userID, s.userName, false, false)

	s.enqueue(ServerMessage{
		Type:      TypeVoiceMembers,
		ChannelID: msg.ChannelID,
		Members:   members,
	})

	joined := ServerMessage{
		Type:      TypeVoicePeerJoined,
		ChannelID: msg.ChannelID,
		UserID:    s.userID,
		UserName:  s.userName,
	}
	s.hub.Buses.Publish(msg.ChannelID, joined)
	s.hub.Buses.PublishGlobal(joined)
}

// leaveVoice is idempotent: only an actual removal broadcasts.
func (s *session) leaveVoice(channelID string) {
	if !s.hub.Presence.Leave(channelID, s.userID) {
		return
	}
	left := ServerMessage{Type: TypeVoicePeerLeft, ChannelID: channelID, UserID: s.userID}
	s.hub.Buses.Publish(channelID, left)
	s.hub.Buses.PublishGlobal(left)
}

// enqueue places a message in the outbound mailbox without blocking.
// It reports false when the mailbox is full or closed.
func (s *session) enqueue(msg ServerMessage) bool {
	defer func() { recover() }() // mailbox may close during teardown
	select {
	case s.mailbox <- msg:
		return true
	default:
		return false
	}
}

func (s *session) sendError(message string) {
	s.enqueue(ServerMessage{Type: TypeError, Message: message})
}

func (s *session) closeMailbox() {
	s.closeOnce.Do(func() { close(s.mailbox) })
}

// writePump serializes mailbox messages onto the wire and keeps the
// connection alive with pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.mailbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to serialize server frame")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug().Err(err).Msg("write to client failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isSubscribed reports whether this session holds a channel subscription.
func (s *session) isSubscribed(channelID string) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	_, ok := s.subscriptions[channelID]
	return ok
}

// validField bounds identifier-like string fields.
func validField(v string) bool {
	return v != "" && len(v) <= MaxFieldLength
}
