package mix

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"github.com/audiolibrelab/overdub/internal/track"
)

// MasterMix is a rendered stereo mixdown. It is never clipped; Quantize
// does that when encoding.
type MasterMix struct {
	SampleRate int
	Left       []float32
	Right      []float32
}

func (m *MasterMix) Frames() int { return len(m.Left) }

// MasterFrames is the length of the mixdown: the longest buffered track
// measured at sampleRate, rounded up.
func MasterFrames(tracks []track.Snapshot, sampleRate int) int {
	frames := 0
	for _, t := range tracks {
		if t.Buffer == nil {
			continue
		}
		frames = max(frames, t.Buffer.FramesAt(sampleRate))
	}
	return frames
}

// Render mixes every buffered track through its gain and pan into a master
// buffer at sampleRate. Tracks are processed in parallel, each into its own
// buffer, and then summed in track id order so the result does not depend
// on scheduling. Shorter tracks leave silence at the end.
func Render(ctx context.Context, tracks []track.Snapshot, sampleRate int) (*MasterMix, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrRender, sampleRate)
	}

	var buffered []track.Snapshot
	for _, t := range tracks {
		if t.Buffer != nil {
			buffered = append(buffered, t)
		}
	}
	if len(buffered) == 0 {
		return nil, ErrNoAudio
	}
	sort.SliceStable(buffered, func(i, j int) bool { return buffered[i].ID < buffered[j].ID })

	frames := MasterFrames(buffered, sampleRate)
	rendered := make([]*MasterMix, len(buffered))

	p := pool.New().
		WithErrors().
		WithContext(ctx).
		WithMaxGoroutines(runtime.GOMAXPROCS(0))

	for i, t := range buffered {
		p.Go(func(ctx context.Context) error {
			out, err := renderTrack(ctx, t, sampleRate, frames)
			if err != nil {
				return fmt.Errorf("track %d: %w", t.ID, err)
			}
			rendered[i] = out
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	master := &MasterMix{
		SampleRate: sampleRate,
		Left:       make([]float32, frames),
		Right:      make([]float32, frames),
	}
	for _, r := range rendered {
		for i := range r.Left {
			master.Left[i] += r.Left[i]
			master.Right[i] += r.Right[i]
		}
	}

	slog.Debug("Mixdown rendered", "tracks", len(buffered), "frames", frames, "sample_rate", sampleRate)
	return master, nil
}

func renderTrack(ctx context.Context, t track.Snapshot, sampleRate, frames int) (*MasterMix, error) {
	buf, err := t.Buffer.Resample(sampleRate)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &MasterMix{
		SampleRate: sampleRate,
		Left:       make([]float32, frames),
		Right:      make([]float32, frames),
	}

	stereo := buf.NumChannels() == 2
	left := buf.Channel(0)
	right := left
	if stereo {
		right = buf.Channel(1)
	}

	n := min(len(left), frames)
	for i := 0; i < n; i++ {
		out.Left[i], out.Right[i] = t.Params.Process(left[i], right[i], stereo)
	}
	return out, nil
}
