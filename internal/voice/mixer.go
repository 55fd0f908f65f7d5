package voice

import "sync"

// Mixer combines per-sender audio frames into one output frame using
// additive mixing with soft clipping.
type Mixer struct {
	mu      sync.RWMutex
	streams map[string]*mixStream // sender id -> stream
}

type mixStream struct {
	buffer []float32
	volume float32
}

// NewMixer creates a new audio mixer.
func NewMixer() *Mixer {
	return &Mixer{streams: make(map[string]*mixStream)}
}

// AddStream registers a sender for mixing.
func (m *Mixer) AddStream(senderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[senderID] = &mixStream{
		buffer: make([]float32, FrameSize),
		volume: 1.0,
	}
}

// RemoveStream drops a sender.
func (m *Mixer) RemoveStream(senderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, senderID)
}

// SetVolume sets the per-sender volume (clamped to [0, 1]).
func (m *Mixer) SetVolume(senderID string, volume float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.streams[senderID]; ok {
		if volume < 0 {
			volume = 0
		}
		if volume > 1 {
			volume = 1
		}
		s.volume = volume
	}
}

// PushSamples stores the current frame for a sender. A sender with no frame
// this cycle contributes silence.
func (m *Mixer) PushSamples(senderID string, samples []float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[senderID]
	if !ok {
		return
	}
	n := copy(s.buffer, samples)
	for i := n; i < len(s.buffer); i++ {
		s.buffer[i] = 0
	}
}

// Mix sums all registered streams into one FrameSize output frame and
// clears the per-sender buffers for the next cycle.
func (m *Mixer) Mix() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	output := make([]float32, FrameSize)
	for _, s := range m.streams {
		for i := 0; i < FrameSize; i++ {
			output[i] += s.buffer[i] * s.volume
			s.buffer[i] = 0
		}
	}
	for i := range output {
		output[i] = softClip(output[i])
	}
	return output
}

// StreamCount returns the number of registered senders.
func (m *Mixer) StreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// softClip applies soft saturation to keep audio in [-1.0, 1.0].
func softClip(x float32) float32 {
	if x > 1.0 {
		return 1.0 - 1.0/(x*x+1.0)
	}
	if x < -1.0 {
		return -(1.0 - 1.0/(x*x+1.0))
	}
	return x
}
