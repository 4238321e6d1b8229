package play

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Output drives an Engine, pulling frames at the engine's sample rate.
type Output interface {
	Start() error
	Close() error
}

// Discard is a headless output. It advances the engine in real time and
// throws the samples away, so voices still end on schedule without a device.
type Discard struct {
	engine   *Engine
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewDiscard(engine *Engine) *Discard {
	return &Discard{engine: engine, interval: 10 * time.Millisecond}
}

func (d *Discard) Start() error {
	if d.cancel != nil {
		return fmt.Errorf("output already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		last := time.Now()
		carry := 0.0
		var buf []float32
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				exact := now.Sub(last).Seconds()*float64(d.engine.SampleRate()) + carry
				frames := int(exact)
				carry = exact - float64(frames)
				last = now

				if cap(buf) < frames*2 {
					buf = make([]float32, frames*2)
				}
				d.engine.Mix(buf[:frames*2])
			}
		}
	}()
	return nil
}

func (d *Discard) Close() error {
	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
	}
	return nil
}
