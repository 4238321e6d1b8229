package audio

import (
	"fmt"
	"time"
)

// SampleBuffer holds decoded audio as planar float32 channels in [-1,1].
// Sample data is never mutated after construction, so a buffer can be
// shared between the live playback engine and an export render.
type SampleBuffer struct {
	sampleRate int
	channels   [][]float32
}

// NewSampleBuffer builds a buffer from planar channel data. All channels must
// have the same length; one (mono) or two (stereo) channels are supported.
func NewSampleBuffer(sampleRate int, channels ...[]float32) (*SampleBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if len(channels) == 0 || len(channels) > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", len(channels))
	}
	frames := len(channels[0])
	for i, ch := range channels {
		if len(ch) != frames {
			return nil, fmt.Errorf("channel %d has %d frames, expected %d", i, len(ch), frames)
		}
	}
	return &SampleBuffer{sampleRate: sampleRate, channels: channels}, nil
}

// FromInterleaved splits interleaved samples into a planar buffer. Inputs with
// more than two channels are folded down to stereo by averaging the extras
// into both sides.
func FromInterleaved(sampleRate, numChannels int, data []float32) (*SampleBuffer, error) {
	if numChannels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", numChannels)
	}
	frames := len(data) / numChannels
	outChannels := min(numChannels, 2)

	planar := make([][]float32, outChannels)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}

	for f := 0; f < frames; f++ {
		frame := data[f*numChannels : (f+1)*numChannels]
		if numChannels <= 2 {
			for c := 0; c < numChannels; c++ {
				planar[c][f] = frame[c]
			}
			continue
		}
		var extra float32
		for _, v := range frame[2:] {
			extra += v
		}
		extra /= float32(numChannels - 2)
		planar[0][f] = (frame[0] + extra) / 2
		planar[1][f] = (frame[1] + extra) / 2
	}

	return NewSampleBuffer(sampleRate, planar...)
}

func (b *SampleBuffer) SampleRate() int  { return b.sampleRate }
func (b *SampleBuffer) NumChannels() int { return len(b.channels) }
func (b *SampleBuffer) Frames() int      { return len(b.channels[0]) }

// Channel returns the samples of channel c. Callers must not modify the slice.
func (b *SampleBuffer) Channel(c int) []float32 { return b.channels[c] }

// Duration is Frames / SampleRate.
func (b *SampleBuffer) Duration() time.Duration {
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.sampleRate))
}

// FramesAt returns how many frames this buffer spans at another sample rate,
// rounded up.
func (b *SampleBuffer) FramesAt(sampleRate int) int {
	if sampleRate == b.sampleRate {
		return b.Frames()
	}
	n := int64(b.Frames()) * int64(sampleRate)
	return int((n + int64(b.sampleRate) - 1) / int64(b.sampleRate))
}

// Resample converts the buffer to sampleRate using linear interpolation.
// The receiver is returned unchanged when the rates already match.
func (b *SampleBuffer) Resample(sampleRate int) (*SampleBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if sampleRate == b.sampleRate {
		return b, nil
	}

	outFrames := b.FramesAt(sampleRate)
	ratio := float64(b.sampleRate) / float64(sampleRate)
	last := b.Frames() - 1

	out := make([][]float32, len(b.channels))
	for c, src := range b.channels {
		dst := make([]float32, outFrames)
		for i := range dst {
			pos := float64(i) * ratio
			j := int(pos)
			if j >= last {
				if last >= 0 {
					dst[i] = src[last]
				}
				continue
			}
			frac := float32(pos - float64(j))
			dst[i] = src[j] + (src[j+1]-src[j])*frac
		}
		out[c] = dst
	}

	return NewSampleBuffer(sampleRate, out...)
}
