package voice

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	opus "gopkg.in/hraban/opus.v2"
)

// DeviceConfig describes the audio devices to open. Rate and channel counts
// are the device-native values; the pipeline resamples to 48 kHz mono
// internally, so any sane device configuration works.
type DeviceConfig struct {
	CaptureRate      int
	CaptureChannels  int
	PlaybackRate     int
	PlaybackChannels int
}

// DefaultDeviceConfig returns a 48 kHz stereo-in/stereo-out configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		CaptureRate:      48000,
		CaptureChannels:  2,
		PlaybackRate:     48000,
		PlaybackChannels: 2,
	}
}

// packetQueue is the unbounded hand-off between the capture callback and the
// async send task. The producer runs on the OS audio thread and must never
// block; the consumer waits on a condition variable.
type packetQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newPacketQueue() *packetQueue {
	q := &packetQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a packet without blocking.
func (q *packetQueue) push(p []byte) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, p)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// pop blocks until a packet is available or the queue is closed.
func (q *packetQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

func (q *packetQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// captureChain owns the microphone device. Per callback invocation it
// downmixes to mono, resamples to 48 kHz with a fractional-step accumulator,
// denoises in 10 ms blocks, encodes 20 ms Opus frames, and enqueues framed
// packets on the hand-off queue. Frames leave strictly in emission order, so
// sequence numbers strictly increment (wrapping) on the wire.
type captureChain struct {
	cfg    DeviceConfig
	out    *packetQueue
	logger zerolog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	denoiser   *Denoiser
	encoder    *opus.Encoder
	denoiseBuf []float32
	opusBuf    []float32
	frac       float64
	step       float64
	seq        uint16

	stop chan struct{}
	done chan struct{}
}

func newCaptureChain(cfg DeviceConfig, out *packetQueue, logger zerolog.Logger) (*captureChain, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus encoder: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("voice: enable FEC: %w", err)
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, fmt.Errorf("voice: enable DTX: %w", err)
	}
	if err := enc.SetPacketLossPerc(LossHintPct); err != nil {
		return nil, fmt.Errorf("voice: set loss hint: %w", err)
	}
	if err := enc.SetBitrate(Bitrate); err != nil {
		return nil, fmt.Errorf("voice: set bitrate: %w", err)
	}

	return &captureChain{
		cfg:        cfg,
		out:        out,
		logger:     logger.With().Str("component", "voice-capture").Logger(),
		denoiser:   NewDenoiser(),
		encoder:    enc,
		denoiseBuf: make([]float32, 0, DenoiseFrame),
		opusBuf:    make([]float32, 0, 2*FrameSize),
		step:       float64(SampleRate) / float64(cfg.CaptureRate),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// start opens the capture device and begins streaming. The miniaudio backend
// drives onFrames from its own OS thread; that callback must never touch the
// async runtime.
func (c *captureChain) start() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		c.logger.Debug().Str("backend", "miniaudio").Msg(msg)
	})
	if err != nil {
		return fmt.Errorf("voice: init audio context: %w", err)
	}
	c.ctx = ctx

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(c.cfg.CaptureChannels)
	devCfg.SampleRate = uint32(c.cfg.CaptureRate)
	devCfg.PeriodSizeInMilliseconds = 10

	device, err := malgo.InitDevice(ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: c.onFrames,
	})
	if err != nil {
		c.teardownContext()
		return fmt.Errorf("voice: open capture device: %w", err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		c.teardownContext()
		return fmt.Errorf("voice: start capture device: %w", err)
	}

	c.logger.Info().
		Int("rate", c.cfg.CaptureRate).
		Int("channels", c.cfg.CaptureChannels).
		Msg("capture device started (FEC+DTX enabled)")

	go func() {
		<-c.stop
		c.device.Uninit()
		c.teardownContext()
		close(c.done)
	}()
	return nil
}

// onFrames is the device data callback.
func (c *captureChain) onFrames(_, input []byte, frameCount uint32) {
	ch := c.cfg.CaptureChannels
	for i := 0; i < int(frameCount); i++ {
		var mono float32
		for j := 0; j < ch; j++ {
			off := (i*ch + j) * 4
			if off+4 > len(input) {
				return
			}
			mono += math.Float32frombits(binary.LittleEndian.Uint32(input[off:]))
		}
		mono /= float32(ch)

		c.frac += c.step
		for c.frac >= 1.0 {
			c.frac -= 1.0
			c.pushSample(mono)
		}
	}
}

// pushSample feeds one 48 kHz mono sample through denoise and encode.
func (c *captureChain) pushSample(s float32) {
	c.denoiseBuf = append(c.denoiseBuf, s)
	if len(c.denoiseBuf) < DenoiseFrame {
		return
	}

	denoised := make([]float32, DenoiseFrame)
	c.denoiser.ProcessFrame(denoised, c.denoiseBuf)
	c.denoiseBuf = c.denoiseBuf[:0]
	c.opusBuf = append(c.opusBuf, denoised...)

	for len(c.opusBuf) >= FrameSize {
		compressed := make([]byte, MaxOpusPacket)
		n, err := c.encoder.EncodeFloat32(c.opusBuf[:FrameSize], compressed)
		if err == nil {
			header := MakeHeader(c.seq, true)
			packet := make([]byte, 0, HeaderSize+n)
			packet = append(packet, header[:]...)
			packet = append(packet, compressed[:n]...)
			c.out.push(packet)
			c.seq++
		} else {
			c.logger.Error().Err(err).Uint16("seq", c.seq).Msg("opus encode failed")
		}
		c.opusBuf = c.opusBuf[FrameSize:]
	}
}

// shutdown signals the device teardown goroutine and waits for it.
func (c *captureChain) shutdown() {
	close(c.stop)
	<-c.done
}

func (c *captureChain) teardownContext() {
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}
