// Package voice implements the real-time voice pipeline: capture, denoise,
// Opus encode, sequenced packet framing, adaptive jitter buffering,
// packet-loss concealment, mixing, and playback.
package voice

// Audio constants shared by the whole pipeline.
const (
	SampleRate    = 48000                             // 48 kHz
	Channels      = 1                                 // mono
	FrameDuration = 20                                // 20 ms per Opus frame
	FrameSize     = SampleRate * FrameDuration / 1000 // 960 samples
	DenoiseFrame  = FrameSize / 2                     // 480 samples, 10 ms
	MaxOpusPacket = 1275                              // largest Opus packet
	Bitrate       = 64000                             // 64 kbps
	LossHintPct   = 5                                 // encoder packet-loss hint
)

// int16ToFloat32 converts PCM int16 samples to float32 in [-1.0, 1.0].
func int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// float32ToInt16 converts float32 samples back to int16 with clamping.
func float32ToInt16(pcm []float32) []int16 {
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
