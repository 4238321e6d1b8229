package audio

import "context"

// Capturer is the platform capture facility. Probe confirms the input can be
// opened (the equivalent of a microphone permission grant); Begin starts a
// new take.
type Capturer interface {
	Probe(ctx context.Context) error
	Begin(ctx context.Context) (CaptureHandle, error)
}

// CaptureHandle is one in-progress take. Exactly one of Finalize or Discard
// should be called; both are safe to call more than once.
type CaptureHandle interface {
	// Finalize stops capturing and returns the encoded take.
	Finalize(ctx context.Context) ([]byte, error)
	// Discard stops capturing and drops whatever was recorded.
	Discard() error
}
