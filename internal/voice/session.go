package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	opus "gopkg.in/hraban/opus.v2"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Transport is the mesh pub/sub layer voice packets travel over. A topic is
// a 32-byte identifier; every subscriber of the topic receives every
// published packet along with the mesh identity of its sender.
type Transport interface {
	JoinTopic(ctx context.Context, topic [TopicSize]byte) (TopicSession, error)
}

// TopicSession is one joined topic.
type TopicSession interface {
	// Publish broadcasts a packet to all other subscribers.
	Publish(ctx context.Context, data []byte) error
	// Next blocks for the next packet from another subscriber.
	Next(ctx context.Context) (senderID string, data []byte, err error)
	// Close leaves the topic.
	Close() error
}

// senderState is the per-sender receive pipeline: its own jitter buffer, its
// own decoder, and a separate decoder instance dedicated to loss
// concealment. Keying this state by sender keeps interleaved sequence spaces
// apart and stops one sender's loss from inflating another's buffer depth.
type senderState struct {
	jitter  *JitterBuffer
	decoder *opus.Decoder
	plc     *opus.Decoder
}

// Supervisor owns at most one active voice session per process. Starting a
// new session cancels the previous one synchronously before any new
// resources are acquired; stopping is idempotent.
type Supervisor struct {
	transport Transport
	devices   DeviceConfig
	// perChannelTopics selects the channel-isolated topic derivation.
	// When false the whole document shares one voice topic.
	perChannelTopics bool
	logger           zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(transport Transport, devices DeviceConfig, perChannelTopics bool, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		transport:        transport,
		devices:          devices,
		perChannelTopics: perChannelTopics,
		logger:           logger.With().Str("component", "voice-session").Logger(),
		state:            StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start brings up a voice session for (docID, channelID). An empty channelID
// always uses the legacy whole-document topic. Errors during startup tear
// down whatever was built and leave the supervisor idle.
func (s *Supervisor) Start(ctx context.Context, docID []byte, channelID string) error {
	s.Stop()

	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()

	var topic [TopicSize]byte
	if channelID != "" && s.perChannelTopics {
		topic = DeriveTopic(docID, channelID)
	} else {
		topic = DocumentTopic(docID)
	}

	sessCtx, cancel := context.WithCancel(context.Background())

	fail := func(err error) error {
		cancel()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	topicSess, err := s.transport.JoinTopic(ctx, topic)
	if err != nil {
		return fail(fmt.Errorf("voice: join topic: %w", err))
	}

	queue := newPacketQueue()
	ring := NewRing()
	mixer := NewMixer()

	capture, err := newCaptureChain(s.devices, queue, s.logger)
	if err != nil {
		_ = topicSess.Close()
		return fail(err)
	}
	if err := capture.start(); err != nil {
		_ = topicSess.Close()
		return fail(err)
	}

	playback := newPlaybackChain(s.devices, ring, s.logger)
	if err := playback.start(); err != nil {
		capture.shutdown()
		_ = topicSess.Close()
		return fail(err)
	}

	var wg sync.WaitGroup
	senders := make(map[string]*senderState)
	var sendersMu sync.Mutex

	// Send task: drain the capture hand-off into the mesh.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			packet, ok := queue.pop()
			if !ok {
				return
			}
			if err := topicSess.Publish(sessCtx, packet); err != nil {
				if sessCtx.Err() != nil {
					return
				}
				s.logger.Warn().Err(err).Msg("voice publish failed")
			}
		}
	}()

	// Recv task: parse, decode, insert into the sender's jitter buffer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		var packets, decodeErrs uint64
		for {
			senderID, data, err := topicSess.Next(sessCtx)
			if err != nil {
				return
			}
			seq, _, payload, err := ParsePacket(data)
			if err != nil {
				continue
			}

			sendersMu.Lock()
			st, ok := senders[senderID]
			if !ok {
				st, err = newSenderState()
				if err != nil {
					sendersMu.Unlock()
					s.logger.Error().Err(err).Str("sender", senderID).Msg("create decoder failed")
					continue
				}
				senders[senderID] = st
				mixer.AddStream(senderID)
				s.logger.Info().Str("sender", senderID).Msg("voice sender appeared")
			}
			sendersMu.Unlock()

			pcm := make([]float32, FrameSize)
			n, err := st.decoder.DecodeFloat32(payload, pcm)
			if err != nil {
				decodeErrs++
				s.logger.Error().Err(err).Uint16("seq", seq).Msg("opus decode failed")
				continue
			}
			st.jitter.Insert(seq, pcm[:n])

			packets++
			if packets%500 == 0 {
				s.logger.Info().
					Uint64("packets", packets).
					Uint64("decode_errors", decodeErrs).
					Int("target_depth_ms", st.jitter.TargetDepthMs()).
					Msg("voice receive stats")
			}
		}
	}()

	// Drain task: every frame interval pull one frame per sender (PLC on
	// loss), mix, and feed the playback ring.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(FrameDuration * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				return
			case <-ticker.C:
			}

			sendersMu.Lock()
			emitted := false
			for id, st := range senders {
				switch res, pcm := st.jitter.Pull(); res {
				case PullFrame:
					mixer.PushSamples(id, pcm)
					emitted = true
				case PullLost:
					plcBuf := make([]float32, FrameSize)
					if err := st.plc.DecodePLCFloat32(plcBuf); err == nil {
						mixer.PushSamples(id, plcBuf)
						emitted = true
					}
				case PullNotReady:
				}
			}
			sendersMu.Unlock()

			if emitted {
				ring.Push(mixer.Mix())
			}
		}
	}()

	// Teardown: cancel → stop OS audio threads → close topic → drain tasks.
	s.mu.Lock()
	s.cancel = func() {
		cancel()
		queue.close()
		capture.shutdown()
		playback.shutdown()
		_ = topicSess.Close()
	}
	s.wg = &wg
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Info().
		Str("channel_id", channelID).
		Bool("per_channel_topic", channelID != "" && s.perChannelTopics).
		Msg("voice session active")
	return nil
}

// Stop tears down the active session, if any. Safe to call repeatedly.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	wg := s.wg
	s.cancel = nil
	s.wg = nil
	if cancel != nil {
		s.state = StateStopping
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.logger.Info().Msg("voice session stopped")
}

func newSenderState() (*senderState, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}
	plc, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("voice: create plc decoder: %w", err)
	}
	return &senderState{
		jitter:  NewJitterBuffer(),
		decoder: dec,
		plc:     plc,
	}, nil
}
