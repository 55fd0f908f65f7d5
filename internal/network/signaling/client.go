// Package signaling implements the WebSocket client side of the hub
// protocol: connecting with a bearer token, joining channels and voice, and
// relaying SDP/ICE frames for the WebRTC voice engine.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/hub"
)

// ErrNotConnected is returned when sending before Connect succeeds.
var ErrNotConnected = errors.New("signaling: not connected")

// FrameHandler is called for each server frame of a registered type.
type FrameHandler func(msg hub.ServerMessage)

// Client is a hub WebSocket client.
type Client struct {
	mu       sync.RWMutex
	conn     *websocket.Conn
	baseURL  string
	token    string
	userID   string
	handlers map[string]FrameHandler
	logger   zerolog.Logger
	cancel   context.CancelFunc
}

// NewClient creates a client for a hub at baseURL (ws:// or wss://). The
// token may be empty for a read-only guest session.
func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		handlers: make(map[string]FrameHandler),
		logger:   logger.With().Str("component", "signaling-client").Logger(),
	}
}

// On registers a handler for a server frame type.
func (c *Client) On(frameType string, handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[frameType] = handler
}

// UserID returns the identity the server reflected, once connected.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Connect dials the hub and starts the read loop. The server reflects an
// identity frame first; Connect waits for it so UserID is valid on return.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	wsURL := c.baseURL + "/ws"
	if c.token != "" {
		wsURL += "?token=" + url.QueryEscape(c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("signaling: connect to %s: %w", c.baseURL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var identity hub.ServerMessage
	if err := conn.ReadJSON(&identity); err != nil || identity.Type != hub.TypeIdentity {
		conn.Close()
		cancel()
		return fmt.Errorf("signaling: no identity frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.userID = identity.UserID
	c.mu.Unlock()

	c.logger.Info().Str("user_id", identity.UserID).Msg("connected to hub")
	go c.readLoop(ctx)
	return nil
}

// Close tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("hub connection closed")
			}
			return
		}

		var msg hub.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("invalid server frame")
			continue
		}

		c.mu.RLock()
		handler := c.handlers[msg.Type]
		c.mu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Client) send(msg hub.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("signaling: marshal frame: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("signaling: write: %w", err)
	}
	return nil
}

// JoinChannel subscribes to a channel's broadcasts.
func (c *Client) JoinChannel(channelID string) error {
	return c.send(hub.ClientMessage{Type: hub.TypeJoinChannel, ChannelID: channelID})
}

// SendMessage posts a text message to a channel.
func (c *Client) SendMessage(channelID, content string) error {
	return c.send(hub.ClientMessage{Type: hub.TypeSendMessage, ChannelID: channelID, Content: content})
}

// JoinVoice enters a voice channel.
func (c *Client) JoinVoice(channelID string) error {
	return c.send(hub.ClientMessage{Type: hub.TypeJoinVoice, ChannelID: channelID})
}

// LeaveVoice exits a voice channel.
func (c *Client) LeaveVoice(channelID string) error {
	return c.send(hub.ClientMessage{Type: hub.TypeLeaveVoice, ChannelID: channelID})
}

// SendOffer relays an SDP offer to one peer in the channel.
func (c *Client) SendOffer(channelID, targetUserID, sdp string) error {
	return c.send(hub.ClientMessage{
		Type: hub.TypeVoiceOffer, ChannelID: channelID, TargetUserID: targetUserID, SDP: sdp,
	})
}

// SendAnswer relays an SDP answer to one peer in the channel.
func (c *Client) SendAnswer(channelID, targetUserID, sdp string) error {
	return c.send(hub.ClientMessage{
		Type: hub.TypeVoiceAnswer, ChannelID: channelID, TargetUserID: targetUserID, SDP: sdp,
	})
}

// SendICECandidate relays an ICE candidate to one peer in the channel.
func (c *Client) SendICECandidate(channelID, targetUserID, candidate string) error {
	return c.send(hub.ClientMessage{
		Type: hub.TypeIceCandidate, ChannelID: channelID, TargetUserID: targetUserID, Candidate: candidate,
	})
}

// SetVoiceStatus publishes the local mute/deafen state.
func (c *Client) SetVoiceStatus(channelID string, muted, deafened bool) error {
	return c.send(hub.ClientMessage{
		Type: hub.TypeVoiceStatusUpdate, ChannelID: channelID, IsMuted: muted, IsDeafened: deafened,
	})
}
