package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	MinBPM = 40
	MaxBPM = 300
)

type GlobalsConfig struct {
	Output OutputConfig `mapstructure:"output" yaml:"output"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Audio        *AudioConfig              `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Tracks  []TrackConfig `mapstructure:"tracks" yaml:"tracks"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Tracks  []TrackConfig `mapstructure:"tracks" yaml:"tracks"`
}

type InheritanceInfo struct {
	Audio struct {
		SampleRate string // "inherited" or "profile-specific"
		Backend    string
		Sources    string
		Output     string
	}
	Session struct {
		BPM        string
		TrackCount string
	}
	Output struct {
		Directory string
		Catalog   string
	}
	Tracks map[int]struct {
		Gain string
		Pan  string
	}
}

type AudioConfig struct {
	SampleRate int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	Backend    string   `mapstructure:"backend" yaml:"backend"` // "pipewire", "auto"
	Sources    []string `mapstructure:"sources" yaml:"sources"` // mono=[source], stereo=[left,right]
	Output     string   `mapstructure:"output" yaml:"output"`   // "oto", "none"
}

type SessionConfig struct {
	BPM          int     `mapstructure:"bpm" yaml:"bpm"`
	CountInBeats int     `mapstructure:"count_in_beats" yaml:"count_in_beats"`
	TrackCount   int     `mapstructure:"track_count" yaml:"track_count"`
	MaxGain      float64 `mapstructure:"max_gain" yaml:"max_gain"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Catalog   string `mapstructure:"catalog" yaml:"catalog"`
}

// TrackConfig holds the starting mixer values of one track. Nil fields fall
// back to the default profile, then to unity gain and centre pan.
type TrackConfig struct {
	ID   int      `mapstructure:"id" yaml:"id"`
	Gain *float64 `mapstructure:"gain,omitempty" yaml:"gain,omitempty"`
	Pan  *float64 `mapstructure:"pan,omitempty" yaml:"pan,omitempty"`
}

// Default returns the built-in configuration used when no profile sets a value.
func Default() *Config {
	cfg := &Config{
		Audio: AudioConfig{
			SampleRate: 48000,
			Backend:    "auto",
			Sources:    []string{"system:capture_1"},
			Output:     "oto",
		},
		Session: SessionConfig{
			BPM:          120,
			CountInBeats: 4,
			TrackCount:   4,
			MaxGain:      4.0,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "Overdub"),
		},
	}
	cfg.Output.Catalog = filepath.Join(cfg.Output.Directory, "exports.db")
	return cfg
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig := profileToConfig(selectedProfile)

	// Global audio settings fill what the profile leaves empty
	if rootConfig.Audio != nil {
		if selectedConfig.Audio.Backend == "" {
			selectedConfig.Audio.Backend = rootConfig.Audio.Backend
		}
		if selectedConfig.Audio.SampleRate == 0 {
			selectedConfig.Audio.SampleRate = rootConfig.Audio.SampleRate
		}
		if len(selectedConfig.Audio.Sources) == 0 {
			selectedConfig.Audio.Sources = rootConfig.Audio.Sources
		}
		if selectedConfig.Audio.Output == "" {
			selectedConfig.Audio.Output = rootConfig.Audio.Output
		}
	}

	base := Default()
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base = mergeConfigs(base, profileToConfig(defaultProfile))
		}
	}
	selectedConfig = mergeConfigs(base, selectedConfig)

	// Global output directories take precedence over any profile
	if rootConfig.Globals != nil {
		if rootConfig.Globals.Output.Directory != "" {
			selectedConfig.Output.Directory = rootConfig.Globals.Output.Directory
		}
		if rootConfig.Globals.Output.Catalog != "" {
			selectedConfig.Output.Catalog = rootConfig.Globals.Output.Catalog
		}
	}

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Output.Catalog = expandPath(selectedConfig.Output.Catalog)

	if err := selectedConfig.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Separate viper instance so the global one is left alone
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// Watch reloads the profile whenever the config file changes on disk and
// hands the result to onChange. Reload errors are logged and the previous
// configuration stays in effect.
func Watch(configFile, profile string, onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := LoadWithProfile(configFile, profile)
		if err != nil {
			slog.Warn("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("Configuration reloaded", "file", e.Name)
		onChange(cfg)
	})
	viper.WatchConfig()
}

func profileToConfig(profile *ConfigProfile) *Config {
	if profile == nil {
		return &Config{}
	}
	return &Config{
		Audio:   profile.Audio,
		Session: profile.Session,
		Output:  profile.Output,
		Tracks:  profile.Tracks,
	}
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
//   - Scalar settings use the profile value or fall back to base
//   - Tracks listed in the profile override base tracks with the same id,
//     inheriting any field they leave unset
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}

	result.Inheritance = &InheritanceInfo{
		Tracks: make(map[int]struct {
			Gain string
			Pan  string
		}),
	}

	if base != nil {
		result.Audio = base.Audio
		result.Session = base.Session
		result.Output = base.Output

		result.Inheritance.Audio.SampleRate = "inherited"
		result.Inheritance.Audio.Backend = "inherited"
		result.Inheritance.Audio.Sources = "inherited"
		result.Inheritance.Audio.Output = "inherited"
		result.Inheritance.Session.BPM = "inherited"
		result.Inheritance.Session.TrackCount = "inherited"
		result.Inheritance.Output.Directory = "inherited"
		result.Inheritance.Output.Catalog = "inherited"
	}

	if profile == nil {
		if base != nil {
			result.Tracks = append(result.Tracks, base.Tracks...)
		}
		return result
	}

	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		result.Inheritance.Audio.SampleRate = "profile-specific"
	}
	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		result.Inheritance.Audio.Backend = "profile-specific"
	}
	if len(profile.Audio.Sources) > 0 {
		result.Audio.Sources = profile.Audio.Sources
		result.Inheritance.Audio.Sources = "profile-specific"
	}
	if profile.Audio.Output != "" {
		result.Audio.Output = profile.Audio.Output
		result.Inheritance.Audio.Output = "profile-specific"
	}

	if profile.Session.BPM != 0 {
		result.Session.BPM = profile.Session.BPM
		result.Inheritance.Session.BPM = "profile-specific"
	}
	if profile.Session.CountInBeats != 0 {
		result.Session.CountInBeats = profile.Session.CountInBeats
	}
	if profile.Session.TrackCount != 0 {
		result.Session.TrackCount = profile.Session.TrackCount
		result.Inheritance.Session.TrackCount = "profile-specific"
	}
	if profile.Session.MaxGain != 0 {
		result.Session.MaxGain = profile.Session.MaxGain
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		result.Inheritance.Output.Directory = "profile-specific"
	}
	if profile.Output.Catalog != "" {
		result.Output.Catalog = profile.Output.Catalog
		result.Inheritance.Output.Catalog = "profile-specific"
	}

	// TRACKS: base tracks first, then profile entries override by id
	byID := make(map[int]int)
	if base != nil {
		for _, bt := range base.Tracks {
			byID[bt.ID] = len(result.Tracks)
			result.Tracks = append(result.Tracks, bt)
			result.Inheritance.Tracks[bt.ID] = struct {
				Gain string
				Pan  string
			}{Gain: "inherited", Pan: "inherited"}
		}
	}

	for _, pt := range profile.Tracks {
		info := result.Inheritance.Tracks[pt.ID]
		resolved := TrackConfig{ID: pt.ID}

		if idx, ok := byID[pt.ID]; ok {
			resolved = result.Tracks[idx]
		}
		if pt.Gain != nil {
			resolved.Gain = pt.Gain
			info.Gain = "profile-specific"
		}
		if pt.Pan != nil {
			resolved.Pan = pt.Pan
			info.Pan = "profile-specific"
		}

		if idx, ok := byID[pt.ID]; ok {
			result.Tracks[idx] = resolved
		} else {
			byID[pt.ID] = len(result.Tracks)
			result.Tracks = append(result.Tracks, resolved)
		}
		result.Inheritance.Tracks[pt.ID] = info
	}

	return result
}

// TrackSettings returns the configured starting gain and pan for a track id.
func (c *Config) TrackSettings(id int) (gain, pan float64) {
	gain, pan = 1.0, 0.0
	for _, t := range c.Tracks {
		if t.ID != id {
			continue
		}
		if t.Gain != nil {
			gain = *t.Gain
		}
		if t.Pan != nil {
			pan = *t.Pan
		}
	}
	return gain, pan
}

// Validate checks a resolved configuration
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Output != "" && c.Audio.Output != "oto" && c.Audio.Output != "none" {
		return fmt.Errorf("audio.output must be 'oto' or 'none', got: %s", c.Audio.Output)
	}
	if len(c.Audio.Sources) > 2 {
		return fmt.Errorf("audio.sources accepts at most 2 ports (left, right), got %d", len(c.Audio.Sources))
	}
	for i, source := range c.Audio.Sources {
		if !isValidAudioSource(source) {
			return fmt.Errorf("audio.sources[%d] must be a valid audio source (JACK port), got: %s", i, source)
		}
	}

	if c.Session.BPM < MinBPM || c.Session.BPM > MaxBPM {
		return fmt.Errorf("session.bpm must be between %d and %d, got: %d", MinBPM, MaxBPM, c.Session.BPM)
	}
	if c.Session.CountInBeats <= 0 {
		return fmt.Errorf("session.count_in_beats must be > 0, got: %d", c.Session.CountInBeats)
	}
	if c.Session.TrackCount <= 0 {
		return fmt.Errorf("session.track_count must be > 0, got: %d", c.Session.TrackCount)
	}
	if c.Session.MaxGain <= 0 {
		return fmt.Errorf("session.max_gain must be > 0, got: %.2f", c.Session.MaxGain)
	}

	seen := make(map[int]bool)
	for i, t := range c.Tracks {
		prefix := fmt.Sprintf("tracks[%d]", i)
		if t.ID < 1 || t.ID > c.Session.TrackCount {
			return fmt.Errorf("%s: 'id' must be between 1 and %d, got: %d", prefix, c.Session.TrackCount, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%s: duplicate track id %d", prefix, t.ID)
		}
		seen[t.ID] = true

		if t.Gain != nil && (*t.Gain < 0 || *t.Gain > c.Session.MaxGain) {
			return fmt.Errorf("%s: 'gain' must be between 0 and %.2f, got: %.2f", prefix, c.Session.MaxGain, *t.Gain)
		}
		if t.Pan != nil && (*t.Pan < -1 || *t.Pan > 1) {
			return fmt.Errorf("%s: 'pan' must be between -1 and 1, got: %.2f", prefix, *t.Pan)
		}
	}

	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isValidAudioSource checks if a source name is valid for JACK/PipeWire
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)

	if source == "" || source == "disabled" {
		return true
	}

	if !strings.Contains(source, ":") {
		// Device name without colon (not recommended for JACK/PipeWire)
		return len(source) > 0
	}

	// Device names may contain colons themselves, so split on the last one
	lastColonIndex := strings.LastIndex(source, ":")
	deviceName := strings.TrimSpace(source[:lastColonIndex])
	port := strings.TrimSpace(source[lastColonIndex+1:])

	return len(deviceName) > 0 && len(port) > 0
}

// ValidateConfigurationFormat reads the config file and checks every profile
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	viper.SetConfigFile(configFile)

	viper.SetEnvPrefix("OVERDUB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := viper.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required")
	}

	for configName, configProfile := range rootConfig.Configs {
		if err := validateProfile(configProfile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateProfile checks the fields a profile sets, leaving unset ones to the merge
func validateProfile(profile *ConfigProfile) error {
	if profile == nil {
		return nil
	}

	if profile.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", profile.Audio.SampleRate)
	}
	for i, source := range profile.Audio.Sources {
		if !isValidAudioSource(source) {
			return fmt.Errorf("audio.sources[%d] must be a valid audio source (JACK port), got: %s", i, source)
		}
	}
	if bpm := profile.Session.BPM; bpm != 0 && (bpm < MinBPM || bpm > MaxBPM) {
		return fmt.Errorf("session.bpm must be between %d and %d, got: %d", MinBPM, MaxBPM, bpm)
	}

	for i, t := range profile.Tracks {
		prefix := fmt.Sprintf("tracks[%d]", i)
		if t.ID <= 0 {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if t.Gain != nil && *t.Gain < 0 {
			return fmt.Errorf("%s: gain must be >= 0, got %.2f", prefix, *t.Gain)
		}
		if t.Pan != nil && (*t.Pan < -1 || *t.Pan > 1) {
			return fmt.Errorf("%s: pan must be between -1 and 1, got %.2f", prefix, *t.Pan)
		}
	}

	return nil
}
