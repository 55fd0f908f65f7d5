package voice

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// playbackChain owns the output device. Each output callback pulls mono
// 48 kHz samples from the shared ring with the same fractional-step
// resampler design as capture, then duplicates each mono sample into every
// output channel.
type playbackChain struct {
	cfg    DeviceConfig
	ring   *Ring
	logger zerolog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	step float64
	frac float64
	last float32

	stop chan struct{}
	done chan struct{}
}

func newPlaybackChain(cfg DeviceConfig, ring *Ring, logger zerolog.Logger) *playbackChain {
	return &playbackChain{
		cfg:    cfg,
		ring:   ring,
		logger: logger.With().Str("component", "voice-playback").Logger(),
		step:   float64(SampleRate) / float64(cfg.PlaybackRate),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *playbackChain) start() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		p.logger.Debug().Str("backend", "miniaudio").Msg(msg)
	})
	if err != nil {
		return fmt.Errorf("voice: init audio context: %w", err)
	}
	p.ctx = ctx

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatF32
	devCfg.Playback.Channels = uint32(p.cfg.PlaybackChannels)
	devCfg.SampleRate = uint32(p.cfg.PlaybackRate)
	devCfg.PeriodSizeInMilliseconds = 10

	device, err := malgo.InitDevice(ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: p.onFrames,
	})
	if err != nil {
		p.teardownContext()
		return fmt.Errorf("voice: open playback device: %w", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		p.teardownContext()
		return fmt.Errorf("voice: start playback device: %w", err)
	}

	p.logger.Info().
		Int("rate", p.cfg.PlaybackRate).
		Int("channels", p.cfg.PlaybackChannels).
		Msg("playback device started")

	go func() {
		<-p.stop
		p.device.Uninit()
		p.teardownContext()
		close(p.done)
	}()
	return nil
}

// onFrames fills the device buffer. The ring already sample-holds on
// underflow, so a starved ring produces a flat line instead of clicks.
func (p *playbackChain) onFrames(output, _ []byte, frameCount uint32) {
	ch := p.cfg.PlaybackChannels
	for i := 0; i < int(frameCount); i++ {
		p.frac += p.step
		for p.frac >= 1.0 {
			p.frac -= 1.0
			p.last = p.ring.Pop()
		}
		bits := math.Float32bits(p.last)
		for j := 0; j < ch; j++ {
			off := (i*ch + j) * 4
			if off+4 > len(output) {
				return
			}
			binary.LittleEndian.PutUint32(output[off:], bits)
		}
	}
}

func (p *playbackChain) shutdown() {
	close(p.stop)
	<-p.done
}

// Playback is a standalone playback chain for pipelines that manage their
// own receive path (the WebRTC engine). Stop releases the device.
type Playback struct {
	chain *playbackChain
}

// StartPlayback opens the output device and begins draining the ring.
func StartPlayback(cfg DeviceConfig, ring *Ring, logger zerolog.Logger) (*Playback, error) {
	chain := newPlaybackChain(cfg, ring, logger)
	if err := chain.start(); err != nil {
		return nil, err
	}
	return &Playback{chain: chain}, nil
}

// Stop releases the output device.
func (p *Playback) Stop() {
	p.chain.shutdown()
}

func (p *playbackChain) teardownContext() {
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
