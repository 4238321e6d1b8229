package metronome

import (
	"log/slog"
	"time"
)

// Interval is the time between two beats at bpm.
func Interval(bpm int) time.Duration {
	return time.Minute / time.Duration(bpm)
}

// Scheduler runs count-ins. All methods must be called from the session's
// event loop; timer expiry is marshalled back onto that loop through post,
// so callbacks never run concurrently with the session.
type Scheduler struct {
	clock  Clock
	post   func(func())
	beats  int
	active *countIn
}

type countIn struct {
	timers    []Timer
	cancelled bool
}

func NewScheduler(clock Clock, post func(func()), beats int) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{clock: clock, post: post, beats: beats}
}

// Active reports whether a count-in is in progress.
func (s *Scheduler) Active() bool { return s.active != nil }

// Start fires onPulse(beats) immediately, then onPulse(beats-1) down to
// onPulse(0) one interval apart, and finally onComplete once. Each beat is
// scheduled against the start time so timer latency does not accumulate.
// A running count-in is cancelled first.
func (s *Scheduler) Start(bpm int, onPulse func(remaining int), onComplete func()) {
	s.Cancel()

	c := &countIn{}
	s.active = c
	interval := Interval(bpm)

	slog.Debug("Count-in started", "bpm", bpm, "beats", s.beats, "interval", interval)
	onPulse(s.beats)

	start := s.clock.Now()
	for beat := 1; beat <= s.beats; beat++ {
		remaining := s.beats - beat
		due := start.Add(time.Duration(beat) * interval)

		c.timers = append(c.timers, s.clock.AfterFunc(due.Sub(s.clock.Now()), func() {
			s.post(func() {
				if c.cancelled {
					return
				}
				onPulse(remaining)
				if remaining == 0 {
					s.active = nil
					c.timers = nil
					slog.Debug("Count-in complete")
					onComplete()
				}
			})
		}))
	}
}

// Cancel stops the running count-in. No pulse or completion fires after it
// returns, even if a timer already expired and its closure is queued.
func (s *Scheduler) Cancel() {
	c := s.active
	if c == nil {
		return
	}
	c.cancelled = true
	for _, t := range c.timers {
		t.Stop()
	}
	s.active = nil
	slog.Debug("Count-in cancelled")
}
