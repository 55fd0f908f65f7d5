package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	opus "gopkg.in/hraban/opus.v2"
)

// Engine is the WebRTC voice path. Where the mesh session ships raw framed
// Opus over a pub/sub topic, the engine negotiates one peer connection per
// remote user through the hub's SDP relay (voice_offer / voice_answer /
// ice_candidate frames) so browser clients can participate. Inbound audio is
// decoded per peer, jitter-buffered per peer, and mixed into the shared
// playback ring.
type Engine struct {
	mu        sync.RWMutex
	channelID string
	muted     bool
	deafened  bool
	peers     map[string]*enginePeer // remote user id -> connection
	mixer     *Mixer
	ring      *Ring
	iceServer string
	logger    zerolog.Logger
	stop      chan struct{}

	// onICECandidate fires for each locally gathered candidate; the owner
	// relays it through the hub to the remote user.
	onICECandidate func(targetUserID string, candidate webrtc.ICECandidateInit)
}

type enginePeer struct {
	pc      *webrtc.PeerConnection
	jitter  *JitterBuffer
	decoder *opus.Decoder
	plc     *opus.Decoder
}

// NewEngine creates an engine mixing into the given ring.
func NewEngine(ring *Ring, iceServer string, logger zerolog.Logger) *Engine {
	if iceServer == "" {
		iceServer = "stun:stun.l.google.com:19302"
	}
	e := &Engine{
		peers:     make(map[string]*enginePeer),
		mixer:     NewMixer(),
		ring:      ring,
		iceServer: iceServer,
		logger:    logger.With().Str("component", "voice-engine").Logger(),
		stop:      make(chan struct{}),
	}
	go e.drainLoop()
	return e
}

// OnICECandidate registers the trickle-ICE relay callback.
func (e *Engine) OnICECandidate(fn func(targetUserID string, candidate webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICECandidate = fn
}

// SetMuted toggles outbound audio.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

// SetDeafened toggles inbound audio. Deafening implies muting.
func (e *Engine) SetDeafened(deafened bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deafened = deafened
	if deafened {
		e.muted = true
	}
}

// PeerCount returns the number of connected remote users.
func (e *Engine) PeerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.peers)
}

// AddPeer creates the peer connection for a remote user.
func (e *Engine) AddPeer(userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.peers[userID]; exists {
		return nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{e.iceServer}}},
	})
	if err != nil {
		return fmt.Errorf("voice: create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: Channels},
		"audio",
		"paracord-voice",
	)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("voice: create audio track: %w", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		_ = pc.Close()
		return fmt.Errorf("voice: add track: %w", err)
	}

	peer, err := newEnginePeer(pc)
	if err != nil {
		_ = pc.Close()
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Info().
			Str("user_id", userID).
			Str("codec", track.Codec().MimeType).
			Msg("received remote audio track")
		go e.readRemoteTrack(userID, peer, track)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.logger.Info().Str("user_id", userID).Str("state", state.String()).Msg("ICE state changed")
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateDisconnected {
			e.RemovePeer(userID)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.mu.RLock()
		cb := e.onICECandidate
		e.mu.RUnlock()
		if cb != nil {
			cb(userID, c.ToJSON())
		}
	})

	e.peers[userID] = peer
	e.mixer.AddStream(userID)
	return nil
}

// RemovePeer tears down the connection for a remote user.
func (e *Engine) RemovePeer(userID string) {
	e.mu.Lock()
	peer, ok := e.peers[userID]
	if ok {
		delete(e.peers, userID)
	}
	e.mu.Unlock()

	if ok {
		e.mixer.RemoveStream(userID)
		if err := peer.pc.Close(); err != nil {
			e.logger.Warn().Err(err).Str("user_id", userID).Msg("close peer connection failed")
		}
	}
}

// CreateOffer produces the SDP offer for a peer and stores it locally.
func (e *Engine) CreateOffer(userID string) (string, error) {
	peer, err := e.peer(userID)
	if err != nil {
		return "", err
	}
	offer, err := peer.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("voice: create offer: %w", err)
	}
	if err := peer.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("voice: set local description: %w", err)
	}
	return offer.SDP, nil
}

// HandleOffer applies a remote offer and returns the answer SDP.
func (e *Engine) HandleOffer(userID, sdp string) (string, error) {
	peer, err := e.peer(userID)
	if err != nil {
		return "", err
	}
	if err := peer.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		return "", fmt.Errorf("voice: set remote description: %w", err)
	}
	answer, err := peer.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("voice: create answer: %w", err)
	}
	if err := peer.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("voice: set local description: %w", err)
	}
	return answer.SDP, nil
}

// HandleAnswer applies a remote answer to a previously sent offer.
func (e *Engine) HandleAnswer(userID, sdp string) error {
	peer, err := e.peer(userID)
	if err != nil {
		return err
	}
	if err := peer.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	}); err != nil {
		return fmt.Errorf("voice: set remote description: %w", err)
	}
	return nil
}

// AddICECandidate applies a relayed remote candidate.
func (e *Engine) AddICECandidate(userID string, candidate webrtc.ICECandidateInit) error {
	peer, err := e.peer(userID)
	if err != nil {
		return err
	}
	return peer.pc.AddICECandidate(candidate)
}

// Close tears down every peer connection and the drain loop.
func (e *Engine) Close() {
	close(e.stop)
	e.mu.Lock()
	peers := e.peers
	e.peers = make(map[string]*enginePeer)
	e.mu.Unlock()
	for id, p := range peers {
		e.mixer.RemoveStream(id)
		_ = p.pc.Close()
	}
}

func (e *Engine) peer(userID string) (*enginePeer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	peer, ok := e.peers[userID]
	if !ok {
		return nil, fmt.Errorf("voice: peer %s not found", userID)
	}
	return peer, nil
}

// readRemoteTrack depacketizes inbound RTP, decodes Opus, and feeds the
// peer's jitter buffer. RTP sequence numbers stand in for the mesh framing.
func (e *Engine) readRemoteTrack(userID string, peer *enginePeer, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			e.logger.Debug().Err(err).Str("user_id", userID).Msg("remote track ended")
			return
		}

		e.mu.RLock()
		deafened := e.deafened
		e.mu.RUnlock()
		if deafened {
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		pcm := make([]float32, FrameSize)
		samples, err := peer.decoder.DecodeFloat32(pkt.Payload, pcm)
		if err != nil {
			e.logger.Error().Err(err).Str("user_id", userID).Msg("opus decode failed")
			continue
		}
		peer.jitter.Insert(pkt.SequenceNumber, pcm[:samples])
	}
}

// drainLoop mirrors the mesh session's drain task: one pull per peer per
// frame interval, PLC on loss, mixed into the ring.
func (e *Engine) drainLoop() {
	ticker := time.NewTicker(FrameDuration * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
		}

		e.mu.RLock()
		emitted := false
		for id, peer := range e.peers {
			switch res, pcm := peer.jitter.Pull(); res {
			case PullFrame:
				e.mixer.PushSamples(id, pcm)
				emitted = true
			case PullLost:
				plcBuf := make([]float32, FrameSize)
				if err := peer.plc.DecodePLCFloat32(plcBuf); err == nil {
					e.mixer.PushSamples(id, plcBuf)
					emitted = true
				}
			case PullNotReady:
			}
		}
		e.mu.RUnlock()

		if emitted {
			e.ring.Push(e.mixer.Mix())
		}
	}
}

func newEnginePeer(pc *webrtc.PeerConnection) (*enginePeer, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}
	plc, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("voice: create plc decoder: %w", err)
	}
	return &enginePeer{
		pc:      pc,
		jitter:  NewJitterBuffer(),
		decoder: dec,
		plc:     plc,
	}, nil
}
