package audio

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/audiolibrelab/overdub/internal/config"
)

func fakePipeWire(output string, err error) *PipeWire {
	return &PipeWire{
		listCmd: func(ctx context.Context) ([]byte, error) {
			return []byte(output), err
		},
	}
}

const pwLinkOutput = `Output ports:
system:capture_1
system:capture_2
Chrome:output_FL
Chrome:output_FL
Chrome-2:output_FL
Input ports:
system:playback_1
`

func TestParsePorts(t *testing.T) {
	ports := parsePorts(pwLinkOutput)

	if len(ports) != 6 {
		t.Fatalf("Expected 6 ports, got %d: %v", len(ports), ports)
	}
	if ports[0] != "system:capture_1" {
		t.Errorf("Expected first port system:capture_1, got %s", ports[0])
	}
	for _, p := range ports {
		if strings.HasSuffix(p, "ports:") {
			t.Errorf("Section header leaked into port list: %s", p)
		}
	}
}

func TestValidatePort_Success(t *testing.T) {
	pw := fakePipeWire(pwLinkOutput, nil)

	if err := pw.ValidatePort(context.Background(), "system:capture_1"); err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestValidatePort_NotFound(t *testing.T) {
	pw := fakePipeWire(pwLinkOutput, nil)

	err := pw.ValidatePort(context.Background(), "nonexistent:port")
	if err == nil {
		t.Fatal("Expected error for nonexistent port")
	}
	if !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	pw := fakePipeWire(pwLinkOutput, nil)

	err := pw.ValidatePort(context.Background(), "Chrome:output_FL")
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}

	// A second instance with a different client name is not a duplicate
	if err := pw.ValidatePort(context.Background(), "Chrome-2:output_FL"); err != nil {
		t.Errorf("Expected no error for Chrome-2:output_FL, got: %v", err)
	}
}

func TestValidatePort_EmptyAndDisabled(t *testing.T) {
	pw := fakePipeWire("", errors.New("pw-link missing"))

	for _, name := range []string{"", "disabled"} {
		if err := pw.ValidatePort(context.Background(), name); err != nil {
			t.Errorf("Expected no error for %q, got: %v", name, err)
		}
	}
}

func TestPipeWireCapturer_Probe(t *testing.T) {
	tests := []struct {
		name    string
		sources []string
		listErr error
		wantErr bool
	}{
		{name: "available", sources: []string{"system:capture_1"}},
		{name: "stereo available", sources: []string{"system:capture_1", "system:capture_2"}},
		{name: "missing port", sources: []string{"usb:capture_1"}, wantErr: true},
		{name: "no sources", sources: nil, wantErr: true},
		{name: "pw-link failure", sources: []string{"system:capture_1"}, listErr: errors.New("exit status 1"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPipeWireCapturer(config.AudioConfig{SampleRate: 48000, Sources: tt.sources}, nil)
			c.pipewire = fakePipeWire(pwLinkOutput, tt.listErr)

			err := c.Probe(context.Background())
			if tt.wantErr {
				if !errors.Is(err, ErrCaptureUnavailable) {
					t.Errorf("Probe() error = %v, want ErrCaptureUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Probe() error = %v, want nil", err)
			}
		})
	}
}

func TestNewCapturer_Backends(t *testing.T) {
	for _, backend := range []string{"", "auto", "PipeWire"} {
		c, err := NewCapturer(config.AudioConfig{Backend: backend}, nil)
		if err != nil {
			t.Errorf("NewCapturer(%q) error = %v", backend, err)
			continue
		}
		if _, ok := c.(*PipeWireCapturer); !ok {
			t.Errorf("NewCapturer(%q) = %T, want *PipeWireCapturer", backend, c)
		}
	}

	if _, err := NewCapturer(config.AudioConfig{Backend: "coreaudio"}, nil); err == nil {
		t.Error("Expected error for unsupported backend")
	}
}
