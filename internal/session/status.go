package session

import "time"

type TrackStatus struct {
	ID        int
	HasBuffer bool
	Duration  time.Duration
	Gain      float64
	Pan       float64
	Playing   bool
	Recording bool

	// Which controls make sense right now
	CanRecord bool
	CanStop   bool
	CanPlay   bool
	CanDelete bool
}

type Status struct {
	State       State
	ActiveTrack int
	// CountIn is the beats left in the count-in, or -1 when none is running
	CountIn int
	BPM     int
	Tracks  []TrackStatus
}

func (s *Session) Status() Status {
	var st Status
	err := s.call(func() error {
		st = Status{
			State:       s.state,
			ActiveTrack: s.active,
			CountIn:     s.countIn,
			BPM:         s.bpm,
			Tracks:      make([]TrackStatus, len(s.tracks)),
		}
		for i, t := range s.tracks {
			ts := TrackStatus{
				ID:        t.ID(),
				HasBuffer: t.HasBuffer(),
				Gain:      t.Gain(),
				Pan:       t.Pan(),
				Playing:   t.IsPlaying(),
				Recording: t.IsRecording(),
				CanRecord: s.active == 0,
				CanStop:   s.active == t.ID(),
				CanPlay:   t.HasBuffer(),
				CanDelete: t.HasBuffer(),
			}
			if t.HasBuffer() {
				ts.Duration = t.Buffer().Duration()
			}
			st.Tracks[i] = ts
		}
		return nil
	})
	if err != nil {
		st.CountIn = -1
	}
	return st
}
