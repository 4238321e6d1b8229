package session

import (
	"errors"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/mix"
)

var (
	ErrPermissionDenied = errors.New("audio capture permission denied")
	ErrAlreadyRecording = errors.New("already recording on another track")
	ErrInvalidBPM       = errors.New("bpm must be between 40 and 300")
	ErrNotRecording     = errors.New("track is not recording")
	ErrUnknownTrack     = errors.New("unknown track")
	ErrInvalidGain      = errors.New("gain out of range")
	ErrInvalidPan       = errors.New("pan must be between -1 and 1")
	ErrClosed           = errors.New("session closed")

	ErrNoAudio = mix.ErrNoAudio
	ErrRender  = mix.ErrRender
	ErrDecode  = audio.ErrDecode
)
