package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/mix"
)

var infoCmd = &cobra.Command{
	Use:   "info [project-name]",
	Short: "Show resolved configuration and the export path for a project",
	Long:  `Display the resolved configuration with inheritance indicators and the file path a mixdown of the given project would be written to. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectName := ""
		if len(args) == 1 {
			projectName = args[0]
		}

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("export: %s\n", filepath.Join(cfg.Output.Directory, mix.FileName(projectName)))
		fmt.Printf("clean_name: %s\n", mix.SanitizeName(projectName))
		fmt.Printf("mixer_settings: %s\n", filepath.Join(cfg.Output.Directory, "mixer.yaml"))

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")
		inh := cfg.Inheritance

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
		fmt.Printf("backend: %s %s (available: %s)\n", cfg.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend), availableBackends())
		fmt.Printf("sources: %s %s\n", strings.Join(cfg.Audio.Sources, ", "), getInheritanceIndicator(inh.Audio.Sources))
		fmt.Printf("output: %s %s\n", cfg.Audio.Output, getInheritanceIndicator(inh.Audio.Output))

		fmt.Printf("\n[Session]\n")
		fmt.Printf("bpm: %d %s\n", cfg.Session.BPM, getInheritanceIndicator(inh.Session.BPM))
		fmt.Printf("count_in_beats: %d\n", cfg.Session.CountInBeats)
		fmt.Printf("track_count: %d %s\n", cfg.Session.TrackCount, getInheritanceIndicator(inh.Session.TrackCount))
		fmt.Printf("max_gain: %.2f\n", cfg.Session.MaxGain)

		fmt.Printf("\n[Tracks]\n")
		for id := 1; id <= cfg.Session.TrackCount; id++ {
			gain, pan := cfg.TrackSettings(id)
			status := inh.Tracks[id]
			fmt.Printf("%d. gain=%.2f %s, pan=%+.2f %s\n",
				id, gain, getInheritanceIndicator(status.Gain), pan, getInheritanceIndicator(status.Pan))
		}

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
		fmt.Printf("catalog: %s %s\n", cfg.Output.Catalog, getInheritanceIndicator(inh.Output.Catalog))

		return nil
	},
}

func availableBackends() string {
	var names []string
	for _, b := range audio.GetAvailableBackends() {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}
