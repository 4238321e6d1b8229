// Package otoout plays the master bus on the system audio device.
package otoout

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/audiolibrelab/overdub/internal/play"
)

// oto allows a single context per process
var (
	contextOnce sync.Once
	context     *oto.Context
	contextErr  error
)

func sharedContext(sampleRate int) (*oto.Context, error) {
	contextOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   20 * time.Millisecond,
		})
		if err != nil {
			contextErr = fmt.Errorf("cannot create oto context: %w", err)
			return
		}
		<-ready
		context = ctx
	})
	return context, contextErr
}

// Output streams an Engine to the default device through oto.
type Output struct {
	engine *play.Engine
	player *oto.Player
}

func New(engine *play.Engine) (*Output, error) {
	ctx, err := sharedContext(engine.SampleRate())
	if err != nil {
		return nil, err
	}
	return &Output{engine: engine, player: ctx.NewPlayer(engine)}, nil
}

func (o *Output) Start() error {
	o.player.Play()
	return nil
}

func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
