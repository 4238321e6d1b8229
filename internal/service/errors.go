package service

import (
	"errors"

	"github.com/audiolibrelab/overdub/internal/session"
)

// ErrorKind names the class of a control-surface error for API clients
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, session.ErrAlreadyRecording):
		return "already_recording"
	case errors.Is(err, session.ErrInvalidBPM):
		return "invalid_bpm"
	case errors.Is(err, session.ErrNotRecording):
		return "not_recording"
	case errors.Is(err, session.ErrNoAudio):
		return "no_audio"
	case errors.Is(err, session.ErrDecode):
		return "decode"
	case errors.Is(err, session.ErrRender):
		return "render"
	case errors.Is(err, session.ErrUnknownTrack):
		return "unknown_track"
	case errors.Is(err, session.ErrInvalidGain):
		return "invalid_gain"
	case errors.Is(err, session.ErrInvalidPan):
		return "invalid_pan"
	case errors.Is(err, session.ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
