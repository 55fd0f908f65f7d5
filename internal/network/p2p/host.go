// Package p2p provides the mesh layer the client plane runs on: a libp2p
// host that speaks the paracord envelope protocol over direct streams,
// peer discovery, and the gossipsub transport voice packets travel over.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/rs/zerolog"

	wire "github.com/paracord-chat/paracord/pkg/protocol"
)

// EnvelopeProtocol is the libp2p protocol ID for paracord envelope streams.
const EnvelopeProtocol = protocol.ID("/paracord/envelope/1")

// sendQueueDepth bounds each peer's outbound frame queue. Like the hub's
// session mailboxes, a full queue refuses new frames instead of blocking
// the caller behind a slow peer.
const sendQueueDepth = 64

// ErrPeerBusy is returned when a peer's outbound queue is full.
var ErrPeerBusy = errors.New("p2p: peer send queue full")

// Config holds the mesh host configuration.
type Config struct {
	ListenPort     int
	EnableMDNS     bool // LAN peer discovery
	EnableDHT      bool // internet peer discovery
	BootstrapPeers []string
}

// DefaultConfig returns a sensible default mesh configuration.
func DefaultConfig() Config {
	return Config{
		ListenPort: 0, // random port
		EnableMDNS: true,
		EnableDHT:  true,
	}
}

// PeerInfo holds information about a connected peer.
type PeerInfo struct {
	ID        string   `json:"id"`
	Addresses []string `json:"addresses"`
	Connected bool     `json:"connected"`
}

// EnvelopeHandler is called once per decoded envelope from a peer. Invalid
// frames never reach it; they terminate the offending stream instead.
type EnvelopeHandler func(peerID string, env *wire.Envelope)

// Host is the paracord mesh node. Inbound streams are decoded frame by
// frame; outbound traffic runs through one persistent stream and bounded
// queue per peer.
type Host struct {
	host host.Host
	disc *discovery

	mu       sync.Mutex
	handler  EnvelopeHandler
	outbound map[peer.ID]*peerQueue

	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// peerQueue is the outbound side of one peer link.
type peerQueue struct {
	frames chan []byte
	once   sync.Once
}

func (q *peerQueue) close() {
	q.once.Do(func() { close(q.frames) })
}

// enqueue reports false when the queue is full or already closed.
func (q *peerQueue) enqueue(frame []byte) bool {
	defer func() { recover() }() // queue may close during shutdown
	select {
	case q.frames <- frame:
		return true
	default:
		return false
	}
}

// New creates and starts a mesh host.
func New(cfg Config, logger zerolog.Logger) (*Host, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.ListenPort),
		),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.EnableRelay(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	mesh := &Host{
		host:     h,
		outbound: make(map[peer.ID]*peerQueue),
		logger:   logger.With().Str("component", "p2p").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.SetStreamHandler(EnvelopeProtocol, mesh.readEnvelopes)

	mesh.logger.Info().
		Str("peer_id", h.ID().String()).
		Strs("addrs", mesh.Addrs()).
		Msg("mesh host started")

	mesh.disc = startDiscovery(ctx, h, cfg, mesh.logger)
	return mesh, nil
}

// ID returns the host's peer ID.
func (h *Host) ID() string {
	return h.host.ID().String()
}

// Addrs returns the host's listen addresses with the peer id appended.
func (h *Host) Addrs() []string {
	addrs := h.host.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = fmt.Sprintf("%s/p2p/%s", a, h.host.ID())
	}
	return out
}

// OnEnvelope registers the handler for inbound envelopes.
func (h *Host) OnEnvelope(handler EnvelopeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Connect dials a peer by its multiaddr string.
func (h *Host) Connect(ctx context.Context, addrStr string) error {
	addr, err := peer.AddrInfoFromString(addrStr)
	if err != nil {
		return fmt.Errorf("p2p: parse addr: %w", err)
	}
	if err := h.host.Connect(ctx, *addr); err != nil {
		return fmt.Errorf("p2p: connect to %s: %w", addr.ID, err)
	}
	h.logger.Info().Str("peer_id", addr.ID.String()).Msg("connected to peer")
	return nil
}

// Send frames an envelope onto the peer's outbound queue. It never blocks:
// a slow peer surfaces as ErrPeerBusy, not as a stalled caller.
func (h *Host) Send(peerIDStr string, env *wire.Envelope) error {
	pid, err := peer.Decode(peerIDStr)
	if err != nil {
		return fmt.Errorf("p2p: decode peer id: %w", err)
	}
	frame, err := env.Frame()
	if err != nil {
		return err
	}

	if h.queueFor(pid).enqueue(frame) {
		return nil
	}
	return ErrPeerBusy
}

// Broadcast sends an envelope to every connected peer, best effort. It
// returns the number of peers the frame was queued for.
func (h *Host) Broadcast(env *wire.Envelope) int {
	frame, err := env.Frame()
	if err != nil {
		return 0
	}

	queued := 0
	for _, pid := range h.connectedPeers() {
		if h.queueFor(pid).enqueue(frame) {
			queued++
		} else {
			h.logger.Debug().Str("peer_id", pid.String()).Msg("broadcast skipped busy peer")
		}
	}
	return queued
}

// queueFor returns the peer's outbound queue, spawning its writer on first
// use. The writer owns one stream; any write failure tears the queue down
// so the next Send redials.
func (h *Host) queueFor(pid peer.ID) *peerQueue {
	h.mu.Lock()
	defer h.mu.Unlock()

	if q, ok := h.outbound[pid]; ok {
		return q
	}
	q := &peerQueue{frames: make(chan []byte, sendQueueDepth)}
	h.outbound[pid] = q
	go h.writeLoop(pid, q)
	return q
}

func (h *Host) writeLoop(pid peer.ID, q *peerQueue) {
	defer func() {
		h.mu.Lock()
		if h.outbound[pid] == q {
			delete(h.outbound, pid)
		}
		h.mu.Unlock()
		q.close()
	}()

	stream, err := h.host.NewStream(h.ctx, pid, EnvelopeProtocol)
	if err != nil {
		h.logger.Debug().Err(err).Str("peer_id", pid.String()).Msg("open envelope stream failed")
		return
	}
	defer stream.Close()

	for {
		select {
		case <-h.ctx.Done():
			return
		case frame, ok := <-q.frames:
			if !ok {
				return
			}
			if _, err := stream.Write(frame); err != nil {
				h.logger.Debug().Err(err).Str("peer_id", pid.String()).Msg("envelope write failed")
				return
			}
		}
	}
}

// readEnvelopes decodes consecutive frames off one inbound stream until the
// peer closes it or sends garbage.
func (h *Host) readEnvelopes(s network.Stream) {
	defer s.Close()
	peerID := s.Conn().RemotePeer().String()

	for {
		env, err := wire.Decode(s)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug().Err(err).Str("from", peerID).Msg("envelope stream ended")
			}
			return
		}

		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler != nil {
			handler(peerID, env)
		}
	}
}

// Peers returns info about all connected peers.
func (h *Host) Peers() []PeerInfo {
	pids := h.connectedPeers()
	peers := make([]PeerInfo, 0, len(pids))
	for _, pid := range pids {
		addrs := make([]string, 0)
		for _, addr := range h.host.Peerstore().Addrs(pid) {
			addrs = append(addrs, addr.String())
		}
		peers = append(peers, PeerInfo{
			ID:        pid.String(),
			Addresses: addrs,
			Connected: true,
		})
	}
	return peers
}

func (h *Host) connectedPeers() []peer.ID {
	seen := make(map[peer.ID]bool)
	var pids []peer.ID
	for _, conn := range h.host.Network().Conns() {
		pid := conn.RemotePeer()
		if !seen[pid] {
			seen[pid] = true
			pids = append(pids, pid)
		}
	}
	return pids
}

// FindPeers advertises under a rendezvous string and discovers peers doing
// the same. Requires DHT discovery to be enabled.
func (h *Host) FindPeers(ctx context.Context, rendezvous string) (<-chan peer.AddrInfo, error) {
	return h.disc.findPeers(ctx, rendezvous)
}

// LibP2PHost exposes the underlying host for the gossip transport.
func (h *Host) LibP2PHost() host.Host {
	return h.host
}

// Stop drains the outbound queues and shuts the host down.
func (h *Host) Stop() error {
	h.cancel()

	h.mu.Lock()
	for pid, q := range h.outbound {
		q.close()
		delete(h.outbound, pid)
	}
	h.mu.Unlock()

	h.disc.stop()
	if err := h.host.Close(); err != nil {
		return fmt.Errorf("p2p: close host: %w", err)
	}
	h.logger.Info().Msg("mesh host stopped")
	return nil
}
