package mix

import "errors"

var (
	ErrNoAudio = errors.New("no tracks have audio")
	ErrRender  = errors.New("render failed")
)
