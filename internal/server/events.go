package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/audiolibrelab/overdub/internal/session"
)

const defaultEventCapacity = 50

// Event is one session change shown in the UI's activity feed
type Event struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Track   int       `json:"track"`
	Message string    `json:"message"`
}

// EventLog is a session.Observer keeping the most recent events
type EventLog struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	now      func() time.Time
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &EventLog{capacity: capacity, now: time.Now}
}

// Recent returns the retained events, oldest first
func (l *EventLog) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *EventLog) add(typ string, track int, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, Event{
		Time:    l.now(),
		Type:    typ,
		Track:   track,
		Message: fmt.Sprintf(format, args...),
	})
	if over := len(l.events) - l.capacity; over > 0 {
		l.events = append(l.events[:0], l.events[over:]...)
	}
}

var _ session.Observer = (*EventLog)(nil)

func (l *EventLog) OnRecordArmed(id int) {
	l.add("armed", id, "Track %d armed", id)
}

func (l *EventLog) OnCountIn(id, remaining int) {
	l.add("count_in", id, "%d", remaining)
}

func (l *EventLog) OnRecordStart(id int) {
	l.add("record_start", id, "Recording track %d", id)
}

func (l *EventLog) OnRecordStop(id int) {
	l.add("record_stop", id, "Stopped recording track %d", id)
}

func (l *EventLog) OnBufferAttached(id int, d time.Duration) {
	l.add("take", id, "Take on track %d (%.1fs)", id, d.Seconds())
}

func (l *EventLog) OnBufferCleared(id int) {
	l.add("cleared", id, "Track %d cleared", id)
}

func (l *EventLog) OnPlayStateChanged(id int, playing bool) {
	if playing {
		l.add("play", id, "Track %d playing", id)
		return
	}
	l.add("stop", id, "Track %d stopped", id)
}

func (l *EventLog) OnTakeLost(id int, err error) {
	l.add("take_lost", id, "Take on track %d lost: %v", id, err)
}
