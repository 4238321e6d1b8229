package audio

import "errors"

var (
	ErrDecode             = errors.New("decode failed")
	ErrUnsupportedFormat  = errors.New("unsupported audio format")
	ErrCaptureUnavailable = errors.New("capture source unavailable")
	ErrCaptureClosed      = errors.New("capture already finalized")
)
