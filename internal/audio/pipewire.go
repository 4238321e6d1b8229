package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PipeWire wraps the pw-link tool for JACK port discovery and wiring
type PipeWire struct {
	// listCmd is overridable for tests
	listCmd func(ctx context.Context) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		listCmd: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "pw-link", "-io").Output()
		},
	}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts(ctx context.Context) ([]string, error) {
	output, err := pw.listCmd(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// parsePorts extracts port names from pw-link -io output
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks that a port exists exactly once
func (pw *PipeWire) ValidatePort(ctx context.Context, portName string) error {
	if portName == "" || portName == "disabled" {
		return nil
	}

	ports, err := pw.ListPorts(ctx)
	if err != nil {
		return err
	}
	return validatePortIn(portName, ports)
}

func validatePortIn(portName string, ports []string) error {
	count := 0
	for _, port := range ports {
		if port == portName {
			count++
		}
	}

	switch {
	case count == 0:
		return fmt.Errorf("port not found: %s", portName)
	case count > 1:
		return fmt.Errorf("duplicate sources detected for '%s' (%d instances). Please close conflicting applications", portName, count)
	}
	return nil
}

// WaitForPort polls until portName shows up or the timeout elapses
func (pw *PipeWire) WaitForPort(ctx context.Context, portName string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := pw.ValidatePort(ctx, portName); err == nil {
			slog.Debug("JACK port found", "port", portName)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for JACK port %s: %w", portName, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ConnectPortsWithRetry connects two JACK ports, retrying while the source
// is not yet visible
func (pw *PipeWire) ConnectPortsWithRetry(ctx context.Context, sourcePort, destPort string) error {
	const maxRetries = 5
	const retryDelay = 500 * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := pw.ValidatePort(ctx, sourcePort); err == nil {
			err := pw.connectPorts(ctx, sourcePort, destPort)
			if err == nil {
				slog.Debug("Connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
				return nil
			}
			slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", err)
		} else {
			slog.Debug("Source port not yet available", "source", sourcePort, "attempt", attempt)
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to connect %s to %s after %d attempts", sourcePort, destPort, maxRetries)
}

func (pw *PipeWire) connectPorts(ctx context.Context, sourcePort, destPort string) error {
	cmd := exec.CommandContext(ctx, "pw-link", sourcePort, destPort)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to connect ports: %w (output: %s)", err, string(output))
	}
	return nil
}
