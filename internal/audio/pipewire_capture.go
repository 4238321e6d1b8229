package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/overdub/internal/config"
)

const captureClient = "overdub_capture"

// PipeWireCapturer records takes with FFmpeg's JACK input running under
// pw-jack. Each take is written as 16-bit PCM WAV into a temp file.
type PipeWireCapturer struct {
	cfg       config.AudioConfig
	logWriter io.Writer
	pipewire  *PipeWire
	tempDir   string
}

// NewPipeWireCapturer creates a new PipeWire-based capturer
func NewPipeWireCapturer(cfg config.AudioConfig, logWriter io.Writer) *PipeWireCapturer {
	if logWriter == nil {
		logWriter = io.Discard
	}

	return &PipeWireCapturer{
		cfg:       cfg,
		logWriter: logWriter,
		pipewire:  NewPipeWire(),
		tempDir:   os.TempDir(),
	}
}

// Probe checks that every configured source port is present
func (c *PipeWireCapturer) Probe(ctx context.Context) error {
	if len(c.cfg.Sources) == 0 {
		return fmt.Errorf("%w: no capture source configured", ErrCaptureUnavailable)
	}
	for _, source := range c.cfg.Sources {
		if err := c.pipewire.ValidatePort(ctx, source); err != nil {
			return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
	}
	return nil
}

// Begin starts FFmpeg and wires the sources to its JACK inputs in the background
func (c *PipeWireCapturer) Begin(ctx context.Context) (CaptureHandle, error) {
	f, err := os.CreateTemp(c.tempDir, "overdub-take-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create take file: %w", err)
	}
	path := f.Name()
	f.Close()

	channels := min(max(len(c.cfg.Sources), 1), 2)
	args := []string{
		"pw-jack",
		"ffmpeg",
		"-f", "jack",
		"-channels", fmt.Sprintf("%d", channels),
		"-i", captureClient,
		"-ar", fmt.Sprintf("%d", c.cfg.SampleRate),
		"-c:a", "pcm_s16le",
		"-y",
		path,
	}

	slog.Info("Starting capture", "command", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PIPEWIRE_QUANTUM=256/%d", c.cfg.SampleRate),
		fmt.Sprintf("PIPEWIRE_LATENCY=256/%d", c.cfg.SampleRate),
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: failed to start FFmpeg: %w", ErrCaptureUnavailable, err)
	}

	wireCtx, cancel := context.WithCancel(context.Background())
	take := &pipeWireTake{
		cmd:    cmd,
		path:   path,
		cancel: cancel,
		exited: make(chan error, 1),
	}

	go take.readStderr(stderr, c.logWriter)
	go func() { take.exited <- cmd.Wait() }()
	go c.connectSources(wireCtx, channels)

	return take, nil
}

// connectSources links each configured source to the matching FFmpeg input
func (c *PipeWireCapturer) connectSources(ctx context.Context, channels int) {
	for i, source := range c.cfg.Sources {
		if i >= channels {
			break
		}
		if source == "" || source == "disabled" {
			continue
		}

		destPort := fmt.Sprintf("%s:input_%d", captureClient, i+1)
		if err := c.pipewire.WaitForPort(ctx, destPort, 5*time.Second); err != nil {
			slog.Error("FFmpeg JACK port did not appear", "port", destPort, "error", err)
			continue
		}
		if err := c.pipewire.ConnectPortsWithRetry(ctx, source, destPort); err != nil {
			slog.Error("Failed to connect capture source", "source", source, "dest", destPort, "error", err)
			continue
		}
		slog.Info("Connected capture source", "source", source, "dest", destPort)
	}
}

type pipeWireTake struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	path      string
	cancel    context.CancelFunc
	exited    chan error
	done      bool
	stderrBuf strings.Builder
}

func (t *pipeWireTake) readStderr(pipe io.ReadCloser, logWriter io.Writer) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		t.mu.Lock()
		t.stderrBuf.WriteString(line + "\n")
		t.mu.Unlock()
		fmt.Fprintln(logWriter, line)
	}
}

// Finalize interrupts FFmpeg so it writes a complete WAV, then returns it
func (t *pipeWireTake) Finalize(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, ErrCaptureClosed
	}
	t.done = true
	t.mu.Unlock()

	t.cancel()
	defer os.Remove(t.path)

	if err := t.stop(ctx); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read take: %w", err)
	}
	if len(data) <= 44 {
		return nil, fmt.Errorf("take is empty (%d bytes)", len(data))
	}

	slog.Debug("Capture finalized", "bytes", len(data))
	return data, nil
}

// Discard kills FFmpeg and removes the partial take
func (t *pipeWireTake) Discard() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.mu.Unlock()

	t.cancel()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	<-t.exited
	return os.Remove(t.path)
}

func (t *pipeWireTake) stop(ctx context.Context) error {
	if t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt FFmpeg, killing", "error", err)
			t.cmd.Process.Kill()
		}
	}

	select {
	case err := <-t.exited:
		if err == nil {
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			// 255 is FFmpeg's exit code after a handled interrupt
			if exitErr.ExitCode() == 255 {
				return nil
			}
			if exitErr.ProcessState != nil && exitErr.ProcessState.String() == "signal: interrupt" {
				return nil
			}
		}
		t.mu.Lock()
		slog.Debug("FFmpeg stderr", "output", t.stderrBuf.String())
		t.mu.Unlock()
		return fmt.Errorf("FFmpeg process failed: %w", err)

	case <-time.After(5 * time.Second):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		t.cmd.Process.Kill()
		<-t.exited
		return nil

	case <-ctx.Done():
		t.cmd.Process.Kill()
		<-t.exited
		return ctx.Err()
	}
}
