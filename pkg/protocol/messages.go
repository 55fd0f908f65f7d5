// Package protocol defines the paracord mesh wire protocol. Every frame is
//
//	[1 byte version][1 byte type][4 bytes length (big-endian)][msgpack payload]
//
// and every payload type knows how to validate itself: the same bounds the
// central hub enforces (content 1-2000, identifier fields ≤ 256) apply on
// the mesh plane, so a peer cannot smuggle oversized content around the
// server by speaking the p2p protocol instead.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Version is the current wire version. Frames with any other version are
// rejected before their payload is read.
const Version = 0x01

// MessageType identifies the kind of protocol message.
type MessageType uint8

const (
	TypeTextMessage     MessageType = 0x01
	TypeTextEdit        MessageType = 0x02
	TypeTextDelete      MessageType = 0x03
	TypeChannelAnnounce MessageType = 0x04
	TypeVoiceJoin       MessageType = 0x10
	TypeVoiceLeave      MessageType = 0x11
	TypeVoiceStatus     MessageType = 0x13
	TypePresenceUpdate  MessageType = 0x31
	TypeTypingStart     MessageType = 0x32
	TypeTypingStop      MessageType = 0x33
	TypePing            MessageType = 0xFE
	TypePong            MessageType = 0xFF
)

// Field bounds, aligned with the hub's limits.
const (
	MaxPayloadSize   = 1 << 20
	MaxContentLength = 2000
	MaxFieldLength   = 256
)

// HeaderSize is version (1) + type (1) + length (4).
const HeaderSize = 6

var (
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds max size")
	ErrBadVersion      = errors.New("protocol: unsupported wire version")
	ErrInvalidPayload  = errors.New("protocol: invalid payload")
)

// Validator is implemented by payloads with domain constraints. Encode and
// DecodePayload both run it, so invalid frames die at whichever edge they
// touch first.
type Validator interface {
	Validate() error
}

// Envelope wraps a typed, already-marshaled payload for wire transport.
type Envelope struct {
	Type    MessageType
	Payload []byte
}

// TextMessage is a chat message posted to a mesh channel.
type TextMessage struct {
	ID         string `msgpack:"id"`
	ChannelID  string `msgpack:"channel_id"`
	AuthorID   string `msgpack:"author_id"`
	AuthorName string `msgpack:"author_name"`
	Content    string `msgpack:"content"`
	SentAt     int64  `msgpack:"sent_at"`
}

func (m TextMessage) Validate() error {
	if m.ID == "" || len(m.ID) > MaxFieldLength {
		return fmt.Errorf("%w: bad message id", ErrInvalidPayload)
	}
	if err := validField("channel_id", m.ChannelID); err != nil {
		return err
	}
	if err := validField("author_id", m.AuthorID); err != nil {
		return err
	}
	if len(m.AuthorName) > MaxFieldLength {
		return fmt.Errorf("%w: author_name too long", ErrInvalidPayload)
	}
	if m.Content == "" || len(m.Content) > MaxContentLength {
		return fmt.Errorf("%w: content must be 1-%d bytes", ErrInvalidPayload, MaxContentLength)
	}
	return nil
}

// TextEdit replaces the content of an earlier message by its author.
type TextEdit struct {
	MessageID string `msgpack:"message_id"`
	AuthorID  string `msgpack:"author_id"`
	Content   string `msgpack:"content"`
	SentAt    int64  `msgpack:"sent_at"`
}

func (m TextEdit) Validate() error {
	if err := validField("message_id", m.MessageID); err != nil {
		return err
	}
	if err := validField("author_id", m.AuthorID); err != nil {
		return err
	}
	if m.Content == "" || len(m.Content) > MaxContentLength {
		return fmt.Errorf("%w: content must be 1-%d bytes", ErrInvalidPayload, MaxContentLength)
	}
	return nil
}

// TextDelete retracts a message.
type TextDelete struct {
	MessageID string `msgpack:"message_id"`
	ActorID   string `msgpack:"actor_id"`
	SentAt    int64  `msgpack:"sent_at"`
}

func (m TextDelete) Validate() error {
	if err := validField("message_id", m.MessageID); err != nil {
		return err
	}
	return validField("actor_id", m.ActorID)
}

// ChannelAnnounce advertises channel metadata so peers can render a channel
// list without a central server.
type ChannelAnnounce struct {
	ChannelID   string `msgpack:"channel_id"`
	Name        string `msgpack:"name"`
	ChannelType string `msgpack:"channel_type"` // "text" | "voice"
	Position    uint32 `msgpack:"position"`
	CreatedAt   string `msgpack:"created_at"`
}

func (m ChannelAnnounce) Validate() error {
	if err := validField("channel_id", m.ChannelID); err != nil {
		return err
	}
	if m.Name == "" || len(m.Name) > 32 {
		return fmt.Errorf("%w: channel name must be 1-32 bytes", ErrInvalidPayload)
	}
	if m.ChannelType != "text" && m.ChannelType != "voice" {
		return fmt.Errorf("%w: channel_type must be text or voice", ErrInvalidPayload)
	}
	return nil
}

// VoiceMembership announces joining or leaving a voice channel, with the
// member's mute/deafen state. Deafened implies muted.
type VoiceMembership struct {
	ChannelID string `msgpack:"channel_id"`
	UserID    string `msgpack:"user_id"`
	Muted     bool   `msgpack:"muted"`
	Deafened  bool   `msgpack:"deafened"`
}

func (m VoiceMembership) Validate() error {
	if err := validField("channel_id", m.ChannelID); err != nil {
		return err
	}
	if err := validField("user_id", m.UserID); err != nil {
		return err
	}
	if m.Deafened && !m.Muted {
		return fmt.Errorf("%w: deafened implies muted", ErrInvalidPayload)
	}
	return nil
}

// PresenceUpdate announces a user's online status.
type PresenceUpdate struct {
	UserID string `msgpack:"user_id"`
	Status string `msgpack:"status"`
}

var presenceStatuses = map[string]bool{
	"online": true, "idle": true, "dnd": true, "offline": true,
}

func (m PresenceUpdate) Validate() error {
	if err := validField("user_id", m.UserID); err != nil {
		return err
	}
	if !presenceStatuses[m.Status] {
		return fmt.Errorf("%w: unknown presence status %q", ErrInvalidPayload, m.Status)
	}
	return nil
}

// TypingEvent signals typing start/stop.
type TypingEvent struct {
	ChannelID string `msgpack:"channel_id"`
	UserID    string `msgpack:"user_id"`
}

func (m TypingEvent) Validate() error {
	if err := validField("channel_id", m.ChannelID); err != nil {
		return err
	}
	return validField("user_id", m.UserID)
}

// PingPong is used for keepalive.
type PingPong struct {
	Nonce uint64 `msgpack:"nonce"`
}

// Encode validates (when the payload is a Validator), marshals, and frames
// a message.
func Encode(msgType MessageType, v interface{}) (*Envelope, error) {
	if validator, ok := v.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, err
		}
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal failed: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return &Envelope{Type: msgType, Payload: payload}, nil
}

// Frame produces the wire bytes for an envelope.
func (e *Envelope) Frame() ([]byte, error) {
	if len(e.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(e.Payload))
	buf[0] = Version
	buf[1] = byte(e.Type)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(e.Payload)))
	copy(buf[HeaderSize:], e.Payload)
	return buf, nil
}

// Decode reads one framed message from a reader. A stream carries any
// number of consecutive frames; io.EOF between frames means a clean end.
func Decode(r io.Reader) (*Envelope, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read header: %w", err)
	}

	if header[0] != Version {
		return nil, fmt.Errorf("%w: got %#x", ErrBadVersion, header[0])
	}
	length := binary.BigEndian.Uint32(header[2:6])
	if length > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return &Envelope{Type: MessageType(header[1]), Payload: payload}, nil
}

// DecodePayload unmarshals the envelope payload into the target struct and
// validates it when the target is a Validator.
func (e *Envelope) DecodePayload(v interface{}) error {
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	if validator, ok := v.(Validator); ok {
		return validator.Validate()
	}
	return nil
}

func validField(name, v string) error {
	if v == "" || len(v) > MaxFieldLength {
		return fmt.Errorf("%w: %s must be 1-%d bytes", ErrInvalidPayload, name, MaxFieldLength)
	}
	return nil
}
