package audio

import (
	"math"
	"testing"
)

const epsilon = 1e-6

func near(a, b float64) bool { return math.Abs(a-b) < epsilon }

func TestPanLaw_Mono(t *testing.T) {
	tests := []struct {
		pan   float64
		wantL float64
		wantR float64
	}{
		{pan: -1, wantL: 1, wantR: 0},
		{pan: 0, wantL: math.Sqrt2 / 2, wantR: math.Sqrt2 / 2},
		{pan: 1, wantL: 0, wantR: 1},
		// out of range is clamped
		{pan: -3, wantL: 1, wantR: 0},
		{pan: 2, wantL: 0, wantR: 1},
	}

	for _, tt := range tests {
		l, r := PanLaw(tt.pan, 1, 0, false)
		if !near(l, tt.wantL) || !near(r, tt.wantR) {
			t.Errorf("PanLaw(%v, mono) = (%f, %f), want (%f, %f)", tt.pan, l, r, tt.wantL, tt.wantR)
		}
	}
}

func TestPanLaw_MonoEqualPower(t *testing.T) {
	for pan := -1.0; pan <= 1.0; pan += 0.125 {
		l, r := PanLaw(pan, 1, 0, false)
		if !near(l*l+r*r, 1) {
			t.Errorf("pan %v: power %f, want 1", pan, l*l+r*r)
		}
	}
}

func TestPanLaw_Stereo(t *testing.T) {
	// Centre leaves the image untouched
	l, r := PanLaw(0, 0.3, 0.7, true)
	if !near(l, 0.3) || !near(r, 0.7) {
		t.Errorf("PanLaw(0, stereo) = (%f, %f), want (0.3, 0.7)", l, r)
	}

	// Hard left folds the right side into the left
	l, r = PanLaw(-1, 0.3, 0.7, true)
	if !near(l, 1.0) || !near(r, 0) {
		t.Errorf("PanLaw(-1, stereo) = (%f, %f), want (1.0, 0)", l, r)
	}

	// Hard right folds the left side into the right
	l, r = PanLaw(1, 0.3, 0.7, true)
	if !near(l, 0) || !near(r, 1.0) {
		t.Errorf("PanLaw(1, stereo) = (%f, %f), want (0, 1.0)", l, r)
	}

	// Half right
	l, r = PanLaw(0.5, 1, 1, true)
	if !near(l, math.Cos(math.Pi/4)) || !near(r, 1+math.Sin(math.Pi/4)) {
		t.Errorf("PanLaw(0.5, stereo) = (%f, %f)", l, r)
	}
}

func TestChain_Defaults(t *testing.T) {
	c := NewChain()

	if c.Gain() != DefaultGain {
		t.Errorf("Expected default gain %v, got %v", DefaultGain, c.Gain())
	}
	if c.Pan() != DefaultPan {
		t.Errorf("Expected default pan %v, got %v", DefaultPan, c.Pan())
	}
}

func TestChain_Process(t *testing.T) {
	c := NewChain()
	c.SetGain(0.5)
	c.SetPan(-1)

	l, r := c.Process(0.8, 0, false)
	if !near(float64(l), 0.4) || !near(float64(r), 0) {
		t.Errorf("Process() = (%f, %f), want (0.4, 0)", l, r)
	}

	p := c.Params()
	if p.Gain != 0.5 || p.Pan != -1 {
		t.Errorf("Params() = %+v", p)
	}

	// The snapshot and the live chain agree
	pl, pr := p.Process(0.8, 0, false)
	if pl != l || pr != r {
		t.Errorf("ChainParams.Process() = (%f, %f), live = (%f, %f)", pl, pr, l, r)
	}
}

func TestChainParams_ZeroGainSilences(t *testing.T) {
	l, r := ChainParams{Gain: 0, Pan: 0.3}.Process(1, -1, true)
	if l != 0 || r != 0 {
		t.Errorf("Expected silence, got (%f, %f)", l, r)
	}
}
