package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const mixerSettingsFile = "mixer.yaml"

// MixerSettings is the per-track gain and pan saved next to the exports
type MixerSettings struct {
	Tracks      []TrackSetting `yaml:"tracks"`
	LastUpdated string         `yaml:"last_updated"`
}

type TrackSetting struct {
	ID   int     `yaml:"id"`
	Gain float64 `yaml:"gain"`
	Pan  float64 `yaml:"pan"`
}

func (s *OverdubService) getMixerSettingsPath() string {
	return filepath.Join(s.cfg.Output.Directory, mixerSettingsFile)
}

// restoreMixerSettings applies configured gain and pan, then the saved file
func (s *OverdubService) restoreMixerSettings() error {
	for id := 1; id <= s.session.TrackCount(); id++ {
		gain, pan := s.cfg.TrackSettings(id)
		if err := s.session.SetGain(id, gain); err != nil {
			slog.Warn("Ignoring configured gain", "track", id, "error", err)
		}
		if err := s.session.SetPan(id, pan); err != nil {
			slog.Warn("Ignoring configured pan", "track", id, "error", err)
		}
	}

	settings, err := s.loadMixerSettings()
	if err != nil || settings == nil {
		return err
	}

	for _, t := range settings.Tracks {
		if err := s.session.SetGain(t.ID, t.Gain); err != nil {
			slog.Warn("Ignoring saved gain", "track", t.ID, "error", err)
		}
		if err := s.session.SetPan(t.ID, t.Pan); err != nil {
			slog.Warn("Ignoring saved pan", "track", t.ID, "error", err)
		}
	}
	slog.Debug("Mixer settings restored", "file", s.getMixerSettingsPath(), "tracks", len(settings.Tracks))
	return nil
}

func (s *OverdubService) loadMixerSettings() (*MixerSettings, error) {
	data, err := afero.ReadFile(s.fs, s.getMixerSettingsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // nothing saved yet
		}
		return nil, fmt.Errorf("failed to read mixer settings: %w", err)
	}

	var settings MixerSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse mixer settings: %w", err)
	}
	return &settings, nil
}

// saveMixerSettings writes the current gain and pan of every track. Failures
// are logged; the in-memory mixer is already updated.
func (s *OverdubService) saveMixerSettings() {
	s.settingsMutex.Lock()
	defer s.settingsMutex.Unlock()

	status := s.session.Status()
	settings := MixerSettings{LastUpdated: time.Now().Format(time.RFC3339)}
	for _, t := range status.Tracks {
		settings.Tracks = append(settings.Tracks, TrackSetting{ID: t.ID, Gain: t.Gain, Pan: t.Pan})
	}

	if err := s.writeMixerSettings(&settings); err != nil {
		slog.Warn("Failed to save mixer settings", "error", err)
	}
}

func (s *OverdubService) writeMixerSettings(settings *MixerSettings) error {
	path := s.getMixerSettingsPath()

	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal mixer settings: %w", err)
	}

	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mixer settings: %w", err)
	}
	return nil
}
