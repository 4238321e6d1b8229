package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/catalog"
	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/play"
	"github.com/audiolibrelab/overdub/internal/play/otoout"
	"github.com/audiolibrelab/overdub/internal/service"
	"github.com/audiolibrelab/overdub/internal/session"
)

// newOutput opens the configured playback device for an engine
func newOutput(cfg *config.Config) play.OutputFactory {
	return func(engine *play.Engine) (play.Output, error) {
		switch cfg.Audio.Output {
		case "none":
			return play.NewDiscard(engine), nil
		default:
			out, err := otoout.New(engine)
			if err != nil {
				return nil, err
			}
			return out, nil
		}
	}
}

// captureLogWriter passes capture tool output through at verbose level 2+
func captureLogWriter() io.Writer {
	if verboseLevel >= 2 {
		return os.Stderr
	}
	return nil
}

// liveStack bundles a running service with the output device feeding it
type liveStack struct {
	svc     service.Service
	output  play.Output
	catalog *catalog.Catalog
}

// startService builds the whole live stack from cfg: engine, output device,
// capture backend, decoders, optional catalog and the service on top.
func startService(cfg *config.Config, observer session.Observer) (*liveStack, error) {
	capturer, err := audio.NewCapturer(cfg.Audio, captureLogWriter())
	if err != nil {
		return nil, fmt.Errorf("failed to create capturer: %w", err)
	}

	engine := play.NewEngine(cfg.Audio.SampleRate, nil)
	output, err := newOutput(cfg)(engine)
	if err != nil {
		slog.Warn("Audio output unavailable, playback will be silent", "error", err)
		output = play.NewDiscard(engine)
	}

	rt := &liveStack{output: output}

	if cfg.Output.Catalog != "" {
		cat, err := catalog.Open(cfg.Output.Catalog)
		if err != nil {
			slog.Warn("Export catalog unavailable, listing from directory", "error", err)
		} else {
			rt.catalog = cat
		}
	}

	pw := audio.NewPipeWire()
	svc, err := service.New(cfg, service.Options{
		Capturer: capturer,
		Decoder:  audio.NewRegistry(),
		Bus:      engine,
		Observer: observer,
		Fs:       afero.NewOsFs(),
		Catalog:  rt.catalog,
		Sources:  pw.ListPorts,
	})
	if err != nil {
		rt.closeCatalog()
		return nil, err
	}
	rt.svc = svc

	if err := output.Start(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to start audio output: %w", err)
	}
	return rt, nil
}

func (rt *liveStack) closeCatalog() {
	if rt.catalog != nil {
		if err := rt.catalog.Close(); err != nil {
			slog.Warn("Failed to close catalog", "error", err)
		}
	}
}

func (rt *liveStack) Close() {
	if rt.svc != nil {
		if err := rt.svc.Close(); err != nil {
			slog.Warn("Failed to close service", "error", err)
		}
	}
	if err := rt.output.Close(); err != nil {
		slog.Warn("Failed to close audio output", "error", err)
	}
	rt.closeCatalog()
}

// listPorts asks PipeWire for the capture ports it knows about
func listPorts(ctx context.Context) ([]string, error) {
	return audio.NewPipeWire().ListPorts(ctx)
}
