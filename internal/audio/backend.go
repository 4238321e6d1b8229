package audio

import (
	"fmt"
	"io"
	"strings"

	"github.com/audiolibrelab/overdub/internal/config"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// NewCapturer creates a capturer for the configured backend
func NewCapturer(cfg config.AudioConfig, logWriter io.Writer) (Capturer, error) {
	switch determineBackend(cfg) {
	case BackendTypePipeWire:
		return NewPipeWireCapturer(cfg, logWriter), nil
	default:
		return nil, fmt.Errorf("unsupported capture backend: %s", cfg.Backend)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg config.AudioConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "", string(BackendTypeAuto), string(BackendTypePipeWire):
		// PipeWire is the only capture backend
		return BackendTypePipeWire
	}
	return BackendType(strings.ToLower(cfg.Backend))
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePipeWire}
}
