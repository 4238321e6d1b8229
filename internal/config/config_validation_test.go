package config

import (
	"os"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	validConfig := `
active_config: test

audio:
  backend: auto

configs:
  default:
    audio:
      sample_rate: 48000
      sources:
        - system:capture_1
  test:
    session:
      bpm: 100
      track_count: 4
    tracks:
      - id: 1
        gain: 2.0
      - id: 2
        pan: -0.25
    output:
      directory: ~/Audio/Test
`

	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if rootConfig == nil {
		t.Fatal("Expected non-nil root config")
	}

	if rootConfig.ActiveConfig != "test" {
		t.Errorf("Expected active_config 'test', got %s", rootConfig.ActiveConfig)
	}
	if rootConfig.Audio == nil || rootConfig.Audio.Backend != "auto" {
		t.Errorf("Expected global audio backend 'auto', got %+v", rootConfig.Audio)
	}
	if len(rootConfig.Configs) != 2 {
		t.Errorf("Expected 2 configs, got %d", len(rootConfig.Configs))
	}

	test := rootConfig.Configs["test"]
	if test == nil {
		t.Fatal("Expected 'test' profile")
	}
	if len(test.Tracks) != 2 {
		t.Fatalf("Expected 2 tracks, got %d", len(test.Tracks))
	}
	if test.Tracks[0].Gain == nil || *test.Tracks[0].Gain != 2.0 {
		t.Errorf("Expected track 1 gain 2.0, got %v", test.Tracks[0].Gain)
	}
	if test.Tracks[0].Pan != nil {
		t.Errorf("Expected track 1 pan unset, got %v", *test.Tracks[0].Pan)
	}
}

func TestValidateConfigurationFormat_MissingConfigs(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
audio:
  sample_rate: 48000
`)
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for missing configs section")
	}
	if !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Expected 'configs section is required' error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_MissingFile(t *testing.T) {
	_, err := ValidateConfigurationFormat("/nonexistent/overdub.yaml")
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidProfile(t *testing.T) {
	tests := []struct {
		name          string
		profile       string
		expectedError string
	}{
		{
			name: "bpm out of range",
			profile: `
    session:
      bpm: 500`,
			expectedError: "session.bpm must be between 40 and 300",
		},
		{
			name: "invalid source",
			profile: `
    audio:
      sources: ["system:"]`,
			expectedError: "audio.sources[0] must be a valid audio source",
		},
		{
			name: "missing track id",
			profile: `
    tracks:
      - gain: 1.0`,
			expectedError: "tracks[0]: 'id' is required",
		},
		{
			name: "negative gain",
			profile: `
    tracks:
      - id: 1
        gain: -0.5`,
			expectedError: "gain must be >= 0",
		},
		{
			name: "pan out of range",
			profile: `
    tracks:
      - id: 3
        pan: 1.5`,
			expectedError: "pan must be between -1 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, "configs:\n  broken:"+tt.profile+"\n")
			defer os.Remove(configFile)

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.expectedError)
			}
			if !strings.Contains(err.Error(), tt.expectedError) {
				t.Errorf("Expected error containing %q, got: %v", tt.expectedError, err)
			}
			if !strings.Contains(err.Error(), "invalid config 'broken'") {
				t.Errorf("Expected error to name the profile, got: %v", err)
			}
		})
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
  default:
    session:
      bpm: 120
  live:
    session:
      bpm: 150
`)
	defer os.Remove(configFile)

	if err := UpdateActiveConfig(configFile, "live"); err != nil {
		t.Fatalf("UpdateActiveConfig() error = %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Session.BPM != 150 {
		t.Errorf("Expected bpm 150 from 'live' profile, got %d", cfg.Session.BPM)
	}

	if err := UpdateActiveConfig("", "live"); err == nil {
		t.Error("Expected error for empty config file")
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "overdub-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
