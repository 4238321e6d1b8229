package play

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/audiolibrelab/overdub/internal/audio"
)

// EndFunc is called when a track voice plays to the end of its buffer. It
// runs on the output goroutine with no engine lock held.
type EndFunc func(trackID int, voiceID uint64)

// Engine is the master bus. Track voices and metronome clicks are summed
// into one interleaved stereo float32 stream which an Output pulls from.
type Engine struct {
	mu         sync.Mutex
	sampleRate int
	voices     map[uint64]*voice
	nextID     uint64
	onEnded    EndFunc
	scratch    []float32
}

type voice struct {
	id      uint64
	trackID int
	buf     *audio.SampleBuffer
	chain   *audio.Chain // nil for clicks
	pos     int
}

func NewEngine(sampleRate int, onEnded EndFunc) *Engine {
	return &Engine{
		sampleRate: sampleRate,
		voices:     make(map[uint64]*voice),
		onEnded:    onEnded,
	}
}

func (e *Engine) SampleRate() int { return e.sampleRate }

// SetEndFunc replaces the end-of-buffer callback.
func (e *Engine) SetEndFunc(f EndFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = f
}

// Start adds a voice playing buf from frame 0 through chain and returns its id.
func (e *Engine) Start(trackID int, buf *audio.SampleBuffer, chain *audio.Chain) uint64 {
	return e.add(trackID, buf, chain)
}

// Click plays a buffer straight to the bus, bypassing any chain.
func (e *Engine) Click(buf *audio.SampleBuffer) {
	e.add(0, buf, nil)
}

func (e *Engine) add(trackID int, buf *audio.SampleBuffer, chain *audio.Chain) uint64 {
	resampled, err := buf.Resample(e.sampleRate)
	if err != nil {
		slog.Error("Failed to resample voice", "track", trackID, "error", err)
		resampled = buf
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.voices[id] = &voice{id: id, trackID: trackID, buf: resampled, chain: chain}
	slog.Debug("Voice started", "voice", id, "track", trackID, "frames", resampled.Frames())
	return id
}

// Stop removes a voice. Unknown ids are ignored.
func (e *Engine) Stop(voiceID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.voices, voiceID)
}

// StopAll silences the bus, clicks included.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.voices)
}

// Active returns the number of voices currently sounding.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// Mix renders len(dst)/2 frames of interleaved stereo into dst and advances
// every voice.
func (e *Engine) Mix(dst []float32) {
	clear(dst)
	frames := len(dst) / 2

	type ended struct {
		trackID int
		voiceID uint64
	}
	var finished []ended

	e.mu.Lock()
	for id, v := range e.voices {
		stereo := v.buf.NumChannels() == 2
		left := v.buf.Channel(0)
		right := left
		if stereo {
			right = v.buf.Channel(1)
		}

		n := min(frames, len(left)-v.pos)
		for i := 0; i < n; i++ {
			l, r := left[v.pos+i], right[v.pos+i]
			if v.chain != nil {
				l, r = v.chain.Process(l, r, stereo)
			}
			dst[2*i] += l
			dst[2*i+1] += r
		}
		v.pos += n

		if v.pos >= len(left) {
			delete(e.voices, id)
			if v.chain != nil {
				finished = append(finished, ended{trackID: v.trackID, voiceID: id})
			}
		}
	}
	onEnded := e.onEnded
	e.mu.Unlock()

	if onEnded == nil {
		return
	}
	for _, f := range finished {
		onEnded(f.trackID, f.voiceID)
	}
}

// Read implements io.Reader producing little-endian float32 stereo frames.
func (e *Engine) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}

	if cap(e.scratch) < frames*2 {
		e.scratch = make([]float32, frames*2)
	}
	buf := e.scratch[:frames*2]
	e.Mix(buf)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
	}
	return frames * 8, nil
}
