package audio

import (
	"math"

	"go.uber.org/atomic"
)

const (
	DefaultGain = 1.0
	DefaultPan  = 0.0
)

// Chain holds the per-track signal parameters. Values are read by the output
// goroutine while the session writes them, so both live in atomics. A new
// value is picked up on the next processed frame; there is no ramping.
type Chain struct {
	gain *atomic.Float64
	pan  *atomic.Float64
}

func NewChain() *Chain {
	return &Chain{
		gain: atomic.NewFloat64(DefaultGain),
		pan:  atomic.NewFloat64(DefaultPan),
	}
}

func (c *Chain) SetGain(v float64) { c.gain.Store(v) }
func (c *Chain) SetPan(v float64)  { c.pan.Store(v) }
func (c *Chain) Gain() float64     { return c.gain.Load() }
func (c *Chain) Pan() float64      { return c.pan.Load() }

// Params snapshots the current values.
func (c *Chain) Params() ChainParams {
	return ChainParams{Gain: c.Gain(), Pan: c.Pan()}
}

// Process runs one input frame through the live chain.
func (c *Chain) Process(l, r float32, stereo bool) (float32, float32) {
	return ChainParams{Gain: c.gain.Load(), Pan: c.pan.Load()}.Process(l, r, stereo)
}

// ChainParams is a fixed gain/pan pair, used by offline rendering.
type ChainParams struct {
	Gain float64
	Pan  float64
}

// Process applies gain, then the pan law. For mono input r is ignored.
func (p ChainParams) Process(l, r float32, stereo bool) (float32, float32) {
	inL := float64(l) * p.Gain
	inR := inL
	if stereo {
		inR = float64(r) * p.Gain
	}
	outL, outR := PanLaw(p.Pan, inL, inR, stereo)
	return float32(outL), float32(outR)
}

// PanLaw is the equal-power stereo panner. Mono input is spread across both
// sides; stereo input keeps its image and folds the attenuated side into the
// other one.
func PanLaw(pan, l, r float64, stereo bool) (float64, float64) {
	pan = max(-1, min(1, pan))

	if !stereo {
		x := (pan + 1) / 2
		return l * math.Cos(x*math.Pi/2), l * math.Sin(x*math.Pi/2)
	}

	if pan <= 0 {
		x := pan + 1
		return l + r*math.Cos(x*math.Pi/2), r * math.Sin(x*math.Pi/2)
	}
	x := pan
	return l * math.Cos(x*math.Pi/2), r + l*math.Sin(x*math.Pi/2)
}
