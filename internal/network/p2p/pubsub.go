package p2p

import (
	"context"
	"encoding/hex"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/rs/zerolog"

	"github.com/paracord-chat/paracord/internal/voice"
)

// GossipTransport adapts gossipsub to the voice.Transport interface. Topic
// identifiers are the hex form of the 32-byte topic id, which keeps distinct
// (document, channel) pairs on distinct gossip meshes.
type GossipTransport struct {
	ps     *pubsub.PubSub
	selfID string
	logger zerolog.Logger
}

// NewGossipTransport attaches a gossipsub router to the mesh host.
func NewGossipTransport(ctx context.Context, h *Host, logger zerolog.Logger) (*GossipTransport, error) {
	ps, err := pubsub.NewGossipSub(ctx, h.LibP2PHost())
	if err != nil {
		return nil, fmt.Errorf("p2p: create gossipsub: %w", err)
	}
	return &GossipTransport{
		ps:     ps,
		selfID: h.ID(),
		logger: logger.With().Str("component", "voice-gossip").Logger(),
	}, nil
}

// JoinTopic joins the gossip topic for a 32-byte voice topic id.
func (g *GossipTransport) JoinTopic(_ context.Context, topic [voice.TopicSize]byte) (voice.TopicSession, error) {
	name := "paracord/voice/" + hex.EncodeToString(topic[:])

	t, err := g.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("p2p: join topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("p2p: subscribe topic: %w", err)
	}

	g.logger.Info().Str("topic", name).Msg("joined voice topic")
	return &gossipTopic{topic: t, sub: sub, selfID: g.selfID}, nil
}

type gossipTopic struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	selfID string
}

func (gt *gossipTopic) Publish(ctx context.Context, data []byte) error {
	return gt.topic.Publish(ctx, data)
}

// Next returns the next packet from another subscriber, skipping echoes of
// our own publishes.
func (gt *gossipTopic) Next(ctx context.Context) (string, []byte, error) {
	for {
		msg, err := gt.sub.Next(ctx)
		if err != nil {
			return "", nil, err
		}
		sender := msg.GetFrom().String()
		if sender == gt.selfID {
			continue
		}
		return sender, msg.Data, nil
	}
}

func (gt *gossipTopic) Close() error {
	gt.sub.Cancel()
	return gt.topic.Close()
}
