package session

import "time"

// Observer receives session events. Callbacks run on the session's event
// loop and must not call back into the Session.
type Observer interface {
	OnRecordArmed(trackID int)
	OnCountIn(trackID, remaining int)
	OnRecordStart(trackID int)
	OnRecordStop(trackID int)
	OnBufferAttached(trackID int, duration time.Duration)
	OnBufferCleared(trackID int)
	OnPlayStateChanged(trackID int, playing bool)
	OnTakeLost(trackID int, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnRecordArmed(int)                   {}
func (NopObserver) OnCountIn(int, int)                  {}
func (NopObserver) OnRecordStart(int)                   {}
func (NopObserver) OnRecordStop(int)                    {}
func (NopObserver) OnBufferAttached(int, time.Duration) {}
func (NopObserver) OnBufferCleared(int)                 {}
func (NopObserver) OnPlayStateChanged(int, bool)        {}
func (NopObserver) OnTakeLost(int, error)               {}
