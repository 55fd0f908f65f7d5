package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(v float32) []float32 {
	pcm := make([]float32, FrameSize)
	for i := range pcm {
		pcm[i] = v
	}
	return pcm
}

func TestJitterInOrderPulls(t *testing.T) {
	jb := NewJitterBuffer()

	for seq := uint16(0); seq < 10; seq++ {
		jb.Insert(seq, frame(float32(seq)))
	}

	for seq := uint16(0); seq < 10; seq++ {
		res, pcm := jb.Pull()
		require.Equal(t, PullFrame, res, "seq %d", seq)
		assert.Equal(t, float32(seq), pcm[0])
	}
}

func TestJitterPrimingNotReady(t *testing.T) {
	jb := NewJitterBuffer()

	// Initial depth is 60ms = 3 frames; fewer buffered frames must not
	// start playback.
	jb.Insert(0, frame(0))
	res, _ := jb.Pull()
	assert.Equal(t, PullNotReady, res)

	jb.Insert(1, frame(1))
	jb.Insert(2, frame(2))
	res, _ = jb.Pull()
	assert.Equal(t, PullFrame, res)

	// Once primed, an empty buffer reports loss, not NotReady... unless the
	// cursor is set, pulls always advance.
	res, _ = jb.Pull()
	assert.Equal(t, PullFrame, res)
}

func TestJitterLossConcealmentSequence(t *testing.T) {
	jb := NewJitterBuffer()

	for _, seq := range []uint16{100, 101, 103, 104} {
		jb.Insert(seq, frame(float32(seq)))
	}

	before := jb.TargetDepthMs()

	expect := []struct {
		res PullResult
		val float32
	}{
		{PullFrame, 100},
		{PullFrame, 101},
		{PullLost, 0},
		{PullFrame, 103},
		{PullFrame, 104},
	}
	for i, e := range expect {
		res, pcm := jb.Pull()
		require.Equal(t, e.res, res, "pull %d", i)
		if e.res == PullFrame {
			assert.Equal(t, e.val, pcm[0], "pull %d", i)
		}
	}

	// A single loss in a short window may raise the target slightly, never
	// by more than a few ms per update.
	assert.LessOrEqual(t, jb.TargetDepthMs(), before+3)
}

func TestJitterLateFrameDropped(t *testing.T) {
	jb := NewJitterBuffer()

	jb.Insert(10, frame(10))
	jb.Insert(11, frame(11))
	jb.Insert(12, frame(12))

	res, _ := jb.Pull()
	require.Equal(t, PullFrame, res)

	// Far behind the cursor: must be discarded.
	jb.Insert(9, frame(9))
	jb.Insert(10, frame(10))
	assert.Equal(t, 2, jb.Len())
}

func TestJitterCapacityEvictsSmallest(t *testing.T) {
	jb := NewJitterBuffer()

	for seq := uint16(0); seq < JitterCapacity; seq++ {
		jb.Insert(seq, frame(float32(seq)))
	}
	require.Equal(t, JitterCapacity, jb.Len())

	jb.Insert(JitterCapacity, frame(JitterCapacity))
	assert.Equal(t, JitterCapacity, jb.Len())

	// Seq 0 was evicted; first pull is the (now smallest) seq 1.
	res, pcm := jb.Pull()
	require.Equal(t, PullFrame, res)
	assert.Equal(t, float32(1), pcm[0])
}

func TestJitterAdaptiveDepthConverges(t *testing.T) {
	t.Run("clean stream settles at minimum", func(t *testing.T) {
		jb := NewJitterBuffer()
		seq := uint16(0)
		for i := 0; i < 300; i++ {
			jb.Insert(seq, frame(0))
			seq++
			jb.Pull()
		}
		assert.InDelta(t, JitterMinMs, jb.TargetDepthMs(), 5)
	})

	t.Run("heavy loss drives toward maximum", func(t *testing.T) {
		jb := NewJitterBuffer()
		seq := uint16(0)
		for i := 0; i < 400; i++ {
			// Drop every fourth frame: 25% loss.
			if i%4 != 0 {
				jb.Insert(seq, frame(0))
			}
			seq++
			jb.Pull()
		}
		assert.Greater(t, jb.TargetDepthMs(), 150)
	})
}

func TestJitterSequenceWrap(t *testing.T) {
	jb := NewJitterBuffer()

	for _, seq := range []uint16{0xFFFE, 0xFFFF, 0, 1} {
		jb.Insert(seq, frame(float32(seq%8)))
	}

	res, pcm := jb.Pull()
	require.Equal(t, PullFrame, res)
	assert.Equal(t, frame(0)[0], pcm[0]) // smallest numeric key is 0

	// After the cursor starts at 0, 0xFFFE/0xFFFF are behind it and further
	// pulls walk forward.
	res, _ = jb.Pull()
	assert.Equal(t, PullFrame, res)
}
