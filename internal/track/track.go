package track

import (
	"log/slog"

	"github.com/audiolibrelab/overdub/internal/audio"
)

type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPlaying
)

func (s PlaybackState) String() string {
	if s == PlaybackPlaying {
		return "playing"
	}
	return "idle"
}

type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingActive
)

func (s RecordingState) String() string {
	if s == RecordingActive {
		return "recording"
	}
	return "idle"
}

// Player starts and stops voices on the master bus.
type Player interface {
	Start(trackID int, buf *audio.SampleBuffer, chain *audio.Chain) uint64
	Stop(voiceID uint64)
}

// Track is one lane of the recorder. It is not safe for concurrent use; the
// session owns every track and only touches them from its event loop.
type Track struct {
	id        int
	buffer    *audio.SampleBuffer
	chain     *audio.Chain
	playback  PlaybackState
	recording RecordingState
	voice     uint64
	player    Player
}

func New(id int, player Player) *Track {
	return &Track{
		id:     id,
		chain:  audio.NewChain(),
		player: player,
	}
}

func (t *Track) ID() int                        { return t.id }
func (t *Track) Buffer() *audio.SampleBuffer    { return t.buffer }
func (t *Track) HasBuffer() bool                { return t.buffer != nil }
func (t *Track) Chain() *audio.Chain            { return t.chain }
func (t *Track) PlaybackState() PlaybackState   { return t.playback }
func (t *Track) RecordingState() RecordingState { return t.recording }
func (t *Track) IsPlaying() bool                { return t.playback == PlaybackPlaying }
func (t *Track) IsRecording() bool              { return t.recording == RecordingActive }
func (t *Track) SetRecording(active bool)       { t.recording = boolToRecording(active) }
func (t *Track) SetGain(v float64)              { t.chain.SetGain(v) }
func (t *Track) SetPan(v float64)               { t.chain.SetPan(v) }
func (t *Track) Gain() float64                  { return t.chain.Gain() }
func (t *Track) Pan() float64                   { return t.chain.Pan() }

func boolToRecording(active bool) RecordingState {
	if active {
		return RecordingActive
	}
	return RecordingIdle
}

// AttachBuffer stops playback and replaces the buffer.
func (t *Track) AttachBuffer(buf *audio.SampleBuffer) {
	t.Stop()
	t.buffer = buf
	slog.Debug("Buffer attached", "track", t.id, "frames", buf.Frames(), "duration", buf.Duration())
}

// Play restarts the track from frame 0. It reports false when there is
// nothing to play.
func (t *Track) Play() bool {
	if t.buffer == nil {
		return false
	}
	t.Stop()
	t.voice = t.player.Start(t.id, t.buffer, t.chain)
	t.playback = PlaybackPlaying
	return true
}

// Stop halts playback immediately. It reports whether the track was playing.
func (t *Track) Stop() bool {
	if t.playback != PlaybackPlaying {
		return false
	}
	t.player.Stop(t.voice)
	t.voice = 0
	t.playback = PlaybackIdle
	return true
}

// Ended handles a voice reaching the end of its buffer. Ends from voices
// that were already replaced or stopped are ignored.
func (t *Track) Ended(voiceID uint64) bool {
	if t.playback != PlaybackPlaying || t.voice != voiceID {
		return false
	}
	t.voice = 0
	t.playback = PlaybackIdle
	return true
}

// Delete drops the buffer and resets both states. Gain and pan are kept.
func (t *Track) Delete() {
	t.Stop()
	t.buffer = nil
	t.recording = RecordingIdle
}

// Snapshot is an immutable view of a track used by the mixdown renderer.
type Snapshot struct {
	ID     int
	Buffer *audio.SampleBuffer
	Params audio.ChainParams
}

func (t *Track) Snapshot() Snapshot {
	return Snapshot{ID: t.id, Buffer: t.buffer, Params: t.chain.Params()}
}
