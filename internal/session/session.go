package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/metronome"
	"github.com/audiolibrelab/overdub/internal/play"
	"github.com/audiolibrelab/overdub/internal/track"
)

type State int

const (
	StateIdle State = iota
	StateCountingIn
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateCountingIn:
		return "counting_in"
	case StateRecording:
		return "recording"
	default:
		return "idle"
	}
}

// Bus is the live master bus the session plays tracks and clicks on.
type Bus interface {
	track.Player
	Click(buf *audio.SampleBuffer)
	SampleRate() int
	SetEndFunc(f play.EndFunc)
}

type Options struct {
	TrackCount   int
	CountInBeats int
	BPM          int
	MaxGain      float64

	Capturer audio.Capturer
	Decoder  audio.Decoder
	Bus      Bus
	Clock    metronome.Clock
	Observer Observer
}

// OptionsFromConfig fills the numeric options from a resolved configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TrackCount:   cfg.Session.TrackCount,
		CountInBeats: cfg.Session.CountInBeats,
		BPM:          cfg.Session.BPM,
		MaxGain:      cfg.Session.MaxGain,
	}
}

// Session is the recorder's state machine. It owns the tracks and runs a
// single event loop goroutine; every public method hands a closure to that
// loop and waits for it, and timer pulses, finished captures and voices
// that play out post closures to it as well. No field below the loop
// channels is touched from any other goroutine.
type Session struct {
	capturer audio.Capturer
	decoder  audio.Decoder
	bus      Bus
	observer Observer
	maxGain  float64
	click    *audio.SampleBuffer

	probeMu sync.Mutex
	probed  bool

	loop chan func()
	quit chan struct{}
	done chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	finalizers conc.WaitGroup
	closeOnce  sync.Once

	tracks    []*track.Track
	takeGen   []uint64
	bpm       int
	state     State
	active    int
	countIn   int
	scheduler *metronome.Scheduler
	capture   audio.CaptureHandle
}

func New(opts Options) (*Session, error) {
	if opts.TrackCount <= 0 {
		return nil, fmt.Errorf("track count must be > 0, got %d", opts.TrackCount)
	}
	if opts.CountInBeats <= 0 {
		return nil, fmt.Errorf("count-in beats must be > 0, got %d", opts.CountInBeats)
	}
	if opts.Capturer == nil || opts.Decoder == nil || opts.Bus == nil {
		return nil, fmt.Errorf("capturer, decoder and bus are required")
	}
	if opts.MaxGain <= 0 {
		opts.MaxGain = 4.0
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		capturer: opts.Capturer,
		decoder:  opts.Decoder,
		bus:      opts.Bus,
		observer: opts.Observer,
		maxGain:  opts.MaxGain,
		click:    metronome.Click(opts.Bus.SampleRate()),
		loop:     make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		bpm:      opts.BPM,
		countIn:  -1,
	}

	s.tracks = make([]*track.Track, opts.TrackCount)
	s.takeGen = make([]uint64, opts.TrackCount)
	for i := range s.tracks {
		s.tracks[i] = track.New(i+1, opts.Bus)
	}
	s.scheduler = metronome.NewScheduler(opts.Clock, s.post, opts.CountInBeats)
	opts.Bus.SetEndFunc(s.voiceEnded)

	go s.run()
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case f := <-s.loop:
			f()
		case <-s.quit:
			return
		}
	}
}

// post queues f on the loop without waiting for it to run.
func (s *Session) post(f func()) {
	select {
	case s.loop <- f:
	case <-s.quit:
	}
}

// call runs f on the loop and returns its result.
func (s *Session) call(f func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.loop <- func() { errCh <- f() }:
	case <-s.quit:
		return ErrClosed
	}
	return <-errCh
}

// Close stops any count-in, discards an unfinished take, waits for pending
// takes to be attached and shuts the loop down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.call(func() error {
			s.scheduler.Cancel()
			if s.capture != nil {
				if err := s.capture.Discard(); err != nil {
					slog.Warn("Failed to discard take on close", "error", err)
				}
				s.capture = nil
			}
			s.stopAll()
			return nil
		})
		s.finalizers.Wait()
		close(s.quit)
		<-s.done
		s.cancel()
	})
	return nil
}

func (s *Session) TrackCount() int { return len(s.tracks) }

func (s *Session) track(id int) (*track.Track, error) {
	if id < 1 || id > len(s.tracks) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, id)
	}
	return s.tracks[id-1], nil
}

// ensureCapture probes the capture device once. It runs on the caller's
// goroutine so a slow device check never blocks the loop.
func (s *Session) ensureCapture(ctx context.Context) error {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	if s.probed {
		return nil
	}
	if err := s.capturer.Probe(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	s.probed = true
	slog.Info("Audio capture initialized")
	return nil
}

// RequestRecord arms a track: the count-in starts at the current bpm and
// capture begins when it completes.
func (s *Session) RequestRecord(ctx context.Context, id int) error {
	if _, err := s.track(id); err != nil {
		return err
	}
	if err := s.ensureCapture(ctx); err != nil {
		return err
	}

	return s.call(func() error {
		if s.active != 0 {
			return fmt.Errorf("%w: track %d", ErrAlreadyRecording, s.active)
		}
		bpm := s.bpm
		if bpm < config.MinBPM || bpm > config.MaxBPM {
			return fmt.Errorf("%w: got %d", ErrInvalidBPM, bpm)
		}

		t := s.tracks[id-1]
		s.active = id
		t.SetRecording(true)
		s.state = StateCountingIn
		slog.Info("Recording armed", "track", id, "bpm", bpm)
		s.observer.OnRecordArmed(id)

		s.scheduler.Start(bpm,
			func(remaining int) {
				s.countIn = remaining
				s.bus.Click(s.click)
				s.observer.OnCountIn(id, remaining)
			},
			func() { s.beginRecording(id) },
		)
		return nil
	})
}

// beginRecording runs on the loop when the count-in completes. Capture and
// playback of every other buffered track start in the same step.
func (s *Session) beginRecording(id int) {
	s.countIn = -1

	handle, err := s.capturer.Begin(s.ctx)
	if err != nil {
		slog.Error("Failed to start capture", "track", id, "error", err)
		s.observer.OnTakeLost(id, fmt.Errorf("%w: %w", ErrPermissionDenied, err))
		s.finishRecording(id)
		return
	}

	s.capture = handle
	s.state = StateRecording
	slog.Info("Recording started", "track", id)
	s.observer.OnRecordStart(id)

	for _, t := range s.tracks {
		if t.ID() != id && t.HasBuffer() && t.Play() {
			s.observer.OnPlayStateChanged(t.ID(), true)
		}
	}
}

// RequestStop ends the count-in or the recording on track id. The take is
// decoded in the background and attached when ready.
func (s *Session) RequestStop(id int) error {
	return s.stopRecording(id, false)
}

// RequestCancel is RequestStop, except that with discard set the
// in-progress take is thrown away.
func (s *Session) RequestCancel(id int, discard bool) error {
	return s.stopRecording(id, discard)
}

func (s *Session) stopRecording(id int, discard bool) error {
	if _, err := s.track(id); err != nil {
		return err
	}
	return s.call(func() error {
		if s.active == 0 || s.active != id {
			return ErrNotRecording
		}
		s.endRecording(id, discard)
		return nil
	})
}

func (s *Session) endRecording(id int, discard bool) {
	switch s.state {
	case StateCountingIn:
		s.scheduler.Cancel()
		slog.Info("Count-in aborted", "track", id)
	case StateRecording:
		handle := s.capture
		s.capture = nil
		if handle != nil {
			s.finalize(id, handle, discard)
		}
		slog.Info("Recording stopped", "track", id, "discard", discard)
	}

	s.stopAll()
	s.finishRecording(id)
}

func (s *Session) finishRecording(id int) {
	s.tracks[id-1].SetRecording(false)
	s.active = 0
	s.state = StateIdle
	s.countIn = -1
	s.observer.OnRecordStop(id)
}

// finalize runs on the loop. A take still decoding when its track is
// deleted is dropped on arrival.
func (s *Session) finalize(id int, handle audio.CaptureHandle, discard bool) {
	gen := s.takeGen[id-1]
	s.finalizers.Go(func() {
		if discard {
			if err := handle.Discard(); err != nil {
				slog.Warn("Failed to discard take", "track", id, "error", err)
			}
			return
		}

		buf, err := s.decodeTake(handle)
		s.post(func() {
			if err != nil {
				slog.Error("Take lost", "track", id, "error", err)
				s.observer.OnTakeLost(id, err)
				return
			}
			if s.takeGen[id-1] != gen {
				slog.Info("Dropping take for deleted track", "track", id)
				return
			}

			t := s.tracks[id-1]
			if t.Stop() {
				s.observer.OnPlayStateChanged(id, false)
			}
			t.AttachBuffer(buf)
			s.observer.OnBufferAttached(id, buf.Duration())
		})
	})
}

func (s *Session) decodeTake(handle audio.CaptureHandle) (*audio.SampleBuffer, error) {
	data, err := handle.Finalize(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: capture did not produce audio: %w", ErrDecode, err)
	}

	buf, err := s.decoder.Decode(data)
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return nil, err
	}
	if buf == nil {
		return nil, fmt.Errorf("%w: decoder returned no audio", ErrDecode)
	}
	return buf, nil
}

func (s *Session) voiceEnded(trackID int, voiceID uint64) {
	s.post(func() {
		t, err := s.track(trackID)
		if err != nil {
			return
		}
		if t.Ended(voiceID) {
			s.observer.OnPlayStateChanged(trackID, false)
		}
	})
}

func (s *Session) stopAll() {
	for _, t := range s.tracks {
		if t.Stop() {
			s.observer.OnPlayStateChanged(t.ID(), false)
		}
	}
}

// Play restarts a track from the beginning. Tracks without audio are left
// alone.
func (s *Session) Play(id int) error {
	t, err := s.track(id)
	if err != nil {
		return err
	}
	return s.call(func() error {
		if t.Play() {
			s.observer.OnPlayStateChanged(id, true)
		}
		return nil
	})
}

func (s *Session) StopTrack(id int) error {
	t, err := s.track(id)
	if err != nil {
		return err
	}
	return s.call(func() error {
		if t.Stop() {
			s.observer.OnPlayStateChanged(id, false)
		}
		return nil
	})
}

// Delete drops a track's audio. Deleting the track being recorded cancels
// that recording and discards the take.
func (s *Session) Delete(id int) error {
	t, err := s.track(id)
	if err != nil {
		return err
	}
	return s.call(func() error {
		if s.active == id {
			s.endRecording(id, true)
		}
		if t.Stop() {
			s.observer.OnPlayStateChanged(id, false)
		}
		t.Delete()
		s.takeGen[id-1]++
		slog.Info("Track deleted", "track", id)
		s.observer.OnBufferCleared(id)
		return nil
	})
}

func (s *Session) SetGain(id int, gain float64) error {
	t, err := s.track(id)
	if err != nil {
		return err
	}
	if math.IsNaN(gain) || gain < 0 || gain > s.maxGain {
		return fmt.Errorf("%w: %v not in [0, %v]", ErrInvalidGain, gain, s.maxGain)
	}
	return s.call(func() error {
		t.SetGain(gain)
		return nil
	})
}

func (s *Session) SetPan(id int, pan float64) error {
	t, err := s.track(id)
	if err != nil {
		return err
	}
	if math.IsNaN(pan) || pan < -1 || pan > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidPan, pan)
	}
	return s.call(func() error {
		t.SetPan(pan)
		return nil
	})
}

// PlayAll starts every track that has audio from the beginning.
func (s *Session) PlayAll() error {
	return s.call(func() error {
		played := 0
		for _, t := range s.tracks {
			if t.Play() {
				played++
				s.observer.OnPlayStateChanged(t.ID(), true)
			}
		}
		if played == 0 {
			return ErrNoAudio
		}
		return nil
	})
}

func (s *Session) StopAll() error {
	return s.call(func() error {
		s.stopAll()
		return nil
	})
}

// SetBPM stores the tempo for the next record request. Range checking
// happens there so an out-of-range value can be stored and fixed later.
func (s *Session) SetBPM(bpm int) error {
	return s.call(func() error {
		s.bpm = bpm
		return nil
	})
}

// Snapshot captures every track's buffer and mixer settings for rendering
// outside the loop. Buffers are immutable once attached.
func (s *Session) Snapshot() ([]track.Snapshot, error) {
	var snaps []track.Snapshot
	err := s.call(func() error {
		snaps = make([]track.Snapshot, len(s.tracks))
		for i, t := range s.tracks {
			snaps[i] = t.Snapshot()
		}
		return nil
	})
	return snaps, err
}

// AttachBuffer loads audio onto a track directly, bypassing capture.
func (s *Session) AttachBuffer(id int, buf *audio.SampleBuffer) error {
	t, err := s.track(id)
	if err != nil {
		return err
	}
	if buf == nil {
		return fmt.Errorf("buffer is required")
	}
	return s.call(func() error {
		if s.active == id {
			return fmt.Errorf("%w: track %d", ErrAlreadyRecording, id)
		}
		if t.Stop() {
			s.observer.OnPlayStateChanged(id, false)
		}
		t.AttachBuffer(buf)
		s.observer.OnBufferAttached(id, buf.Duration())
		return nil
	})
}
