package metronome

import (
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/overdub/internal/audio"
)

// The count-in click is fixed and not configurable.
const (
	ClickFrequency = 1000.0
	ClickDuration  = 50 * time.Millisecond
	ClickGain      = 0.2
)

var (
	clickMu    sync.Mutex
	clickCache = make(map[int]*audio.SampleBuffer)
)

// Click returns the mono click buffer rendered at sampleRate. Buffers are
// cached per rate since they never change.
func Click(sampleRate int) *audio.SampleBuffer {
	clickMu.Lock()
	defer clickMu.Unlock()

	if buf, ok := clickCache[sampleRate]; ok {
		return buf
	}

	frames := int(int64(sampleRate) * int64(ClickDuration) / int64(time.Second))
	samples := make([]float32, frames)
	for i := range samples {
		phase := 2 * math.Pi * ClickFrequency * float64(i) / float64(sampleRate)
		samples[i] = float32(ClickGain * math.Sin(phase))
	}

	buf, err := audio.NewSampleBuffer(sampleRate, samples)
	if err != nil {
		// only reachable with a non-positive rate
		panic(err)
	}
	clickCache[sampleRate] = buf
	return buf
}
