package voice

import (
	"sort"
	"sync"
)

// Jitter buffer tuning. Depth adapts between JitterMinMs and JitterMaxMs
// driven by the observed loss rate over the last 100 arrivals.
const (
	JitterMinMs     = 20
	JitterMaxMs     = 200
	JitterInitialMs = 60
	JitterCapacity  = 50
	lossWindow      = 100
	lossMinSamples  = 20
)

// PullResult is the outcome of a single JitterBuffer.Pull.
type PullResult int

const (
	// PullNotReady means the buffer is still priming; the caller must wait.
	PullNotReady PullResult = iota
	// PullFrame means a decoded frame was returned.
	PullFrame
	// PullLost means the expected frame never arrived; the caller should
	// synthesise audio via packet-loss concealment.
	PullLost
)

// JitterBuffer reorders decoded 20 ms frames by sequence number and adapts
// its target depth to observed loss. Single writer (the receive task) and
// single reader (the drain task); a short-critical-section mutex guards both.
type JitterBuffer struct {
	mu            sync.Mutex
	frames        map[uint16][]float32
	nextSeq       uint16
	haveNext      bool
	targetDepthMs int
	recentGaps    []bool
}

// NewJitterBuffer creates an empty jitter buffer at the initial target depth.
func NewJitterBuffer() *JitterBuffer {
	return &JitterBuffer{
		frames:        make(map[uint16][]float32, JitterCapacity),
		targetDepthMs: JitterInitialMs,
	}
}

// TargetDepthMs returns the current adaptive target depth.
func (jb *JitterBuffer) TargetDepthMs() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.targetDepthMs
}

// Len returns the number of buffered frames.
func (jb *JitterBuffer) Len() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return len(jb.frames)
}

// Insert stores a decoded frame under its sequence number. Frames more than
// half the sequence space behind the next emit point are dropped as
// late or duplicate. At capacity the smallest key is evicted first so the
// newer, still-playable tail survives.
func (jb *JitterBuffer) Insert(seq uint16, pcm []float32) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.haveNext {
		if diff := seq - jb.nextSeq; diff > 0x8000 {
			return
		}
	}
	if len(jb.frames) >= JitterCapacity {
		jb.evictOldestLocked()
	}
	jb.frames[seq] = pcm
}

// Pull returns the next frame in sequence order. Until the first frame is
// emitted the buffer primes: it reports PullNotReady until it holds at least
// target_frames frames. After priming it emits exactly one result per call,
// advancing the sequence cursor whether or not the frame arrived.
func (jb *JitterBuffer) Pull() (PullResult, []float32) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	target := jb.targetFramesLocked()
	if len(jb.frames) < target && !jb.haveNext {
		return PullNotReady, nil
	}
	if !jb.haveNext {
		first, ok := jb.smallestKeyLocked()
		if !ok {
			return PullNotReady, nil
		}
		jb.nextSeq = first
		jb.haveNext = true
	}

	seq := jb.nextSeq
	jb.nextSeq = seq + 1

	if pcm, ok := jb.frames[seq]; ok {
		delete(jb.frames, seq)
		jb.recordArrivalLocked(false)
		return PullFrame, pcm
	}
	jb.recordArrivalLocked(true)
	return PullLost, nil
}

// targetFramesLocked converts the target depth to a frame count, minimum 1.
func (jb *JitterBuffer) targetFramesLocked() int {
	target := (jb.targetDepthMs + FrameDuration - 1) / FrameDuration
	if target < 1 {
		target = 1
	}
	return target
}

// recordArrivalLocked feeds the loss window and re-derives the target depth
// once enough samples accumulated. The new depth is exponentially smoothed
// toward the ideal for the measured loss band and clamped to [min, max].
func (jb *JitterBuffer) recordArrivalLocked(wasGap bool) {
	jb.recentGaps = append(jb.recentGaps, wasGap)
	if len(jb.recentGaps) > lossWindow {
		jb.recentGaps = jb.recentGaps[len(jb.recentGaps)-lossWindow:]
	}
	if len(jb.recentGaps) < lossMinSamples {
		return
	}

	gaps := 0
	for _, g := range jb.recentGaps {
		if g {
			gaps++
		}
	}
	lossRate := float64(gaps) / float64(len(jb.recentGaps))

	var ideal int
	switch {
	case lossRate < 0.01:
		ideal = JitterMinMs
	case lossRate < 0.05:
		ideal = 40
	case lossRate < 0.15:
		ideal = 80
	default:
		ideal = JitterMaxMs
	}

	depth := int(float64(jb.targetDepthMs)*0.9 + float64(ideal)*0.1 + 0.5)
	if depth < JitterMinMs {
		depth = JitterMinMs
	}
	if depth > JitterMaxMs {
		depth = JitterMaxMs
	}
	jb.targetDepthMs = depth
}

// smallestKeyLocked finds the smallest buffered sequence in wrapping order.
func (jb *JitterBuffer) smallestKeyLocked() (uint16, bool) {
	if len(jb.frames) == 0 {
		return 0, false
	}
	keys := make([]int, 0, len(jb.frames))
	for k := range jb.frames {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	return uint16(keys[0]), true
}

func (jb *JitterBuffer) evictOldestLocked() {
	if oldest, ok := jb.smallestKeyLocked(); ok {
		delete(jb.frames, oldest)
	}
}
