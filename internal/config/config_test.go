package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestMergeConfigs_SelectionAndFallback(t *testing.T) {
	base := &Config{
		Audio: AudioConfig{
			SampleRate: 48000,
			Backend:    "pipewire",
			Sources:    []string{"system:capture_1"},
			Output:     "oto",
		},
		Session: SessionConfig{BPM: 120, CountInBeats: 4, TrackCount: 4, MaxGain: 4.0},
		Output: OutputConfig{
			Directory: "~/Audio/Default",
			Catalog:   "~/Audio/Default/exports.db",
		},
		Tracks: []TrackConfig{
			{ID: 1, Gain: ptr(1.0), Pan: ptr(-0.5)},
			{ID: 2, Gain: ptr(0.8), Pan: ptr(0.5)},
		},
	}

	profile := &Config{
		Audio: AudioConfig{
			SampleRate: 44100, // Override sample rate
		},
		Session: SessionConfig{BPM: 90},
		Tracks: []TrackConfig{
			{ID: 2, Gain: ptr(2.0)}, // Override gain, inherit pan
			{ID: 3, Pan: ptr(1.0)},  // New track, only pan
		},
		Output: OutputConfig{
			Directory: "~/Audio/Studio",
		},
	}

	result := mergeConfigs(base, profile)

	if result.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", result.Audio.SampleRate)
	}
	if result.Audio.Backend != "pipewire" {
		t.Errorf("Expected backend 'pipewire', got %s", result.Audio.Backend)
	}
	if len(result.Audio.Sources) != 1 || result.Audio.Sources[0] != "system:capture_1" {
		t.Errorf("Expected inherited sources, got %v", result.Audio.Sources)
	}
	if result.Session.BPM != 90 {
		t.Errorf("Expected bpm 90, got %d", result.Session.BPM)
	}
	if result.Session.TrackCount != 4 {
		t.Errorf("Expected inherited track count 4, got %d", result.Session.TrackCount)
	}
	if result.Output.Directory != "~/Audio/Studio" {
		t.Errorf("Expected directory '~/Audio/Studio', got %s", result.Output.Directory)
	}
	if result.Output.Catalog != "~/Audio/Default/exports.db" {
		t.Errorf("Expected inherited catalog, got %s", result.Output.Catalog)
	}

	if len(result.Tracks) != 3 {
		t.Fatalf("Expected 3 tracks, got %d", len(result.Tracks))
	}

	gain, pan := result.TrackSettings(1)
	if gain != 1.0 || pan != -0.5 {
		t.Errorf("Track 1: expected (1.0, -0.5), got (%v, %v)", gain, pan)
	}
	gain, pan = result.TrackSettings(2)
	if gain != 2.0 || pan != 0.5 {
		t.Errorf("Track 2: expected (2.0, 0.5), got (%v, %v)", gain, pan)
	}
	gain, pan = result.TrackSettings(3)
	if gain != 1.0 || pan != 1.0 {
		t.Errorf("Track 3: expected (1.0, 1.0), got (%v, %v)", gain, pan)
	}

	// Inheritance tracking
	if result.Inheritance.Audio.SampleRate != "profile-specific" {
		t.Errorf("Expected sample rate 'profile-specific', got %s", result.Inheritance.Audio.SampleRate)
	}
	if result.Inheritance.Audio.Backend != "inherited" {
		t.Errorf("Expected backend 'inherited', got %s", result.Inheritance.Audio.Backend)
	}
	if result.Inheritance.Session.BPM != "profile-specific" {
		t.Errorf("Expected bpm 'profile-specific', got %s", result.Inheritance.Session.BPM)
	}
	if info := result.Inheritance.Tracks[2]; info.Gain != "profile-specific" || info.Pan != "inherited" {
		t.Errorf("Track 2 inheritance incorrect: %+v", info)
	}
}

func TestMergeConfigs_NilProfile(t *testing.T) {
	base := Default()
	base.Tracks = []TrackConfig{{ID: 4, Gain: ptr(0.25)}}

	result := mergeConfigs(base, nil)

	if result.Session.BPM != 120 {
		t.Errorf("Expected bpm 120, got %d", result.Session.BPM)
	}
	if gain, _ := result.TrackSettings(4); gain != 0.25 {
		t.Errorf("Expected gain 0.25, got %v", gain)
	}
}

func TestTrackSettings_Defaults(t *testing.T) {
	cfg := Default()

	gain, pan := cfg.TrackSettings(3)
	if gain != 1.0 || pan != 0.0 {
		t.Errorf("Expected (1.0, 0.0), got (%v, %v)", gain, pan)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "default is valid", modify: func(c *Config) {}},
		{name: "bpm too low", modify: func(c *Config) { c.Session.BPM = 39 }, wantErr: "session.bpm"},
		{name: "bpm too high", modify: func(c *Config) { c.Session.BPM = 301 }, wantErr: "session.bpm"},
		{name: "bpm bounds", modify: func(c *Config) { c.Session.BPM = 300 }},
		{name: "zero sample rate", modify: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: "sample_rate"},
		{name: "bad output", modify: func(c *Config) { c.Audio.Output = "alsa" }, wantErr: "audio.output"},
		{name: "headless output", modify: func(c *Config) { c.Audio.Output = "none" }},
		{name: "three sources", modify: func(c *Config) { c.Audio.Sources = []string{"a:1", "a:2", "a:3"} }, wantErr: "at most 2"},
		{name: "bad source", modify: func(c *Config) { c.Audio.Sources = []string{":capture_1"} }, wantErr: "audio.sources[0]"},
		{name: "zero beats", modify: func(c *Config) { c.Session.CountInBeats = 0 }, wantErr: "count_in_beats"},
		{name: "zero tracks", modify: func(c *Config) { c.Session.TrackCount = 0 }, wantErr: "track_count"},
		{name: "track out of range", modify: func(c *Config) { c.Tracks = []TrackConfig{{ID: 5}} }, wantErr: "'id' must be between 1 and 4"},
		{name: "duplicate track", modify: func(c *Config) { c.Tracks = []TrackConfig{{ID: 1}, {ID: 1}} }, wantErr: "duplicate track id"},
		{name: "gain above max", modify: func(c *Config) { c.Tracks = []TrackConfig{{ID: 1, Gain: ptr(4.5)}} }, wantErr: "'gain'"},
		{name: "pan out of range", modify: func(c *Config) { c.Tracks = []TrackConfig{{ID: 1, Pan: ptr(-1.5)}} }, wantErr: "'pan'"},
		{name: "zero gain allowed", modify: func(c *Config) { c.Tracks = []TrackConfig{{ID: 2, Gain: ptr(0)}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/Overdub", filepath.Join(homeDir, "Audio", "Overdub")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"}, // Should not expand bare tilde
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestIsValidAudioSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"system:capture_1", true},
		{"alsa_input.usb-Focusrite:capture_FL", true},
		{"Scarlett 2i2 USB:Capture 1", true},
		{"disabled", true},
		{"", true},
		{":capture_1", false},
		{"system:", false},
	}

	for _, tt := range tests {
		if got := isValidAudioSource(tt.source); got != tt.want {
			t.Errorf("isValidAudioSource(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestGlobalsOutputDirectory(t *testing.T) {
	configContent := `
active_config: test
globals:
    output:
        directory: /global/exports
configs:
    test:
        session:
            bpm: 100
        output:
            directory: /profile/exports
            catalog: /profile/exports/catalog.db
`

	configFile := createTempConfig(t, configContent)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "test")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	// Global directory overrides profile directory
	if cfg.Output.Directory != "/global/exports" {
		t.Errorf("Expected directory '/global/exports' from globals, got '%s'", cfg.Output.Directory)
	}
	// Catalog still comes from profile
	if cfg.Output.Catalog != "/profile/exports/catalog.db" {
		t.Errorf("Expected catalog from profile, got '%s'", cfg.Output.Catalog)
	}
	if cfg.Session.BPM != 100 {
		t.Errorf("Expected bpm 100, got %d", cfg.Session.BPM)
	}
}

func TestLoadWithProfile_DefaultFallback(t *testing.T) {
	configContent := `
active_config: studio
audio:
    backend: pipewire
configs:
    default:
        audio:
            sample_rate: 44100
            sources: ["system:capture_1", "system:capture_2"]
        session:
            bpm: 96
        tracks:
            - id: 1
              gain: 0.5
    studio:
        session:
            bpm: 140
        tracks:
            - id: 1
              pan: -1.0
`

	configFile := createTempConfig(t, configContent)
	defer os.Remove(configFile)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Session.BPM != 140 {
		t.Errorf("Expected bpm 140 from active profile, got %d", cfg.Session.BPM)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100 from default profile, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Backend != "pipewire" {
		t.Errorf("Expected backend 'pipewire' from global audio, got %s", cfg.Audio.Backend)
	}
	if len(cfg.Audio.Sources) != 2 {
		t.Errorf("Expected 2 sources from default profile, got %v", cfg.Audio.Sources)
	}
	if cfg.Session.CountInBeats != 4 || cfg.Session.TrackCount != 4 {
		t.Errorf("Expected built-in session defaults, got %+v", cfg.Session)
	}

	gain, pan := cfg.TrackSettings(1)
	if gain != 0.5 || pan != -1.0 {
		t.Errorf("Track 1: expected (0.5, -1.0), got (%v, %v)", gain, pan)
	}
}

func TestLoadWithProfile_Errors(t *testing.T) {
	if _, err := LoadWithProfile("", ""); err == nil {
		t.Error("Expected error for empty config file")
	}

	configFile := createTempConfig(t, `
configs:
    default:
        session:
            bpm: 120
`)
	defer os.Remove(configFile)

	_, err := LoadWithProfile(configFile, "missing")
	if err == nil || !strings.Contains(err.Error(), "'missing' not found") {
		t.Errorf("Expected profile not found error, got: %v", err)
	}
}
