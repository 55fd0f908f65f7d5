package voice

import "math"

// Denoiser cleans one 10 ms (480-sample) capture block at a time: a one-pole
// high-pass strips DC and low-frequency rumble, then an adaptive noise gate
// attenuates blocks whose energy sits near the tracked noise floor. The gate
// opens and closes with short attack/release ramps so speech onsets are not
// chopped.
type Denoiser struct {
	hpPrevIn   float32
	hpPrevOut  float32
	noiseFloor float64
	gain       float64
}

const (
	hpCoeff         = 0.995 // ~40 Hz corner at 48 kHz
	floorAdaptUp    = 0.02  // floor rises slowly
	floorAdaptDown  = 0.30  // floor drops quickly
	gateOpenRatio   = 2.5   // energy above floor that opens the gate
	gateAttack      = 0.60  // per-block gain step toward open
	gateRelease     = 0.10  // per-block gain step toward closed
	gateClosedLevel = 0.10  // residual gain when fully closed
)

// NewDenoiser returns a denoiser primed to pass audio until it has learned
// a noise floor.
func NewDenoiser() *Denoiser {
	return &Denoiser{gain: 1.0}
}

// ProcessFrame denoises src into dst. Both must be DenoiseFrame samples.
func (d *Denoiser) ProcessFrame(dst, src []float32) {
	if len(src) != DenoiseFrame || len(dst) != DenoiseFrame {
		copy(dst, src)
		return
	}

	var energy float64
	for i, s := range src {
		// y[n] = c*(y[n-1] + x[n] - x[n-1])
		out := hpCoeff * (d.hpPrevOut + s - d.hpPrevIn)
		d.hpPrevIn = s
		d.hpPrevOut = out
		dst[i] = out
		energy += float64(out) * float64(out)
	}
	rms := math.Sqrt(energy / DenoiseFrame)

	if d.noiseFloor == 0 {
		d.noiseFloor = rms
	} else if rms > d.noiseFloor {
		d.noiseFloor += floorAdaptUp * (rms - d.noiseFloor)
	} else {
		d.noiseFloor += floorAdaptDown * (rms - d.noiseFloor)
	}

	target := gateClosedLevel
	if rms > d.noiseFloor*gateOpenRatio {
		target = 1.0
	}
	if target > d.gain {
		d.gain += gateAttack * (target - d.gain)
	} else {
		d.gain += gateRelease * (target - d.gain)
	}

	g := float32(d.gain)
	for i := range dst {
		dst[i] *= g
	}
}
