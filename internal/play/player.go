package play

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/mix"
)

// OutputFactory opens an output device for an engine.
type OutputFactory func(*Engine) (Output, error)

// Player plays finished mixdowns from the export directory.
type Player struct {
	fs        afero.Fs
	directory string
	decoder   audio.Decoder
	newOutput OutputFactory
}

func NewPlayer(fs afero.Fs, directory string, decoder audio.Decoder, newOutput OutputFactory) *Player {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Player{fs: fs, directory: directory, decoder: decoder, newOutput: newOutput}
}

// Resolve maps a project or file name to a path in the export directory.
func (p *Player) Resolve(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".wav") {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(p.directory, filepath.Base(name))
	}
	return filepath.Join(p.directory, mix.FileName(name))
}

// Play decodes the export and blocks until it has played through or ctx is
// cancelled.
func (p *Player) Play(ctx context.Context, name string) error {
	audioFile := p.Resolve(name)

	data, err := afero.ReadFile(p.fs, audioFile)
	if err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	buf, err := p.decoder.Decode(data)
	if err != nil {
		return fmt.Errorf("cannot play %s: %w", audioFile, err)
	}

	done := make(chan struct{})
	engine := NewEngine(buf.SampleRate(), func(int, uint64) { close(done) })

	output, err := p.newOutput(engine)
	if err != nil {
		return fmt.Errorf("no audio output available: %w", err)
	}
	defer output.Close()

	if err := output.Start(); err != nil {
		return fmt.Errorf("failed to start audio output: %w", err)
	}

	slog.Info("Playing", "file", audioFile, "duration", buf.Duration())
	engine.Start(1, buf, audio.NewChain())

	select {
	case <-done:
		slog.Info("Playback completed")
		return nil
	case <-ctx.Done():
		engine.StopAll()
		return ctx.Err()
	}
}
