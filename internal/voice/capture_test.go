package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketQueueOrder(t *testing.T) {
	q := newPacketQueue()
	q.push([]byte{1})
	q.push([]byte{2})
	q.push([]byte{3})

	for i := byte(1); i <= 3; i++ {
		p, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, []byte{i}, p)
	}
}

func TestPacketQueuePopBlocksUntilPush(t *testing.T) {
	q := newPacketQueue()

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	go func() {
		defer wg.Done()
		got, _ = q.pop()
	}()

	time.Sleep(20 * time.Millisecond)
	q.push([]byte{42})
	wg.Wait()

	assert.Equal(t, []byte{42}, got)
}

func TestPacketQueueCloseUnblocks(t *testing.T) {
	q := newPacketQueue()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.pop()
		assert.False(t, ok)
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock on close")
	}

	// Pushes after close are discarded.
	q.push([]byte{1})
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestDenoiserPreservesFrameShape(t *testing.T) {
	d := NewDenoiser()

	src := make([]float32, DenoiseFrame)
	for i := range src {
		src[i] = 0.5
	}
	dst := make([]float32, DenoiseFrame)
	d.ProcessFrame(dst, src)

	require.Len(t, dst, DenoiseFrame)
	for _, s := range dst {
		assert.LessOrEqual(t, s, float32(1.0))
		assert.GreaterOrEqual(t, s, float32(-1.0))
	}
}

func TestCodecConversionRoundTrip(t *testing.T) {
	original := []int16{0, 100, -100, 1000, -1000, 32767, -32768}
	f := int16ToFloat32(original)
	back := float32ToInt16(f)

	for i := range original {
		assert.InDelta(t, float64(original[i]), float64(back[i]), 1.0, "sample %d", i)
	}
}

func TestFloat32ToInt16Clamp(t *testing.T) {
	out := float32ToInt16([]float32{2.0, -2.0})
	assert.Equal(t, int16(32767), out[0])
	assert.Equal(t, int16(-32768), out[1])
}
