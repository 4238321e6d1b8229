package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List all capture ports PipeWire exposes. Ports named in audio.sources are marked with *.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := listPorts(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get PipeWire sources: %w", err)
		}

		configured := make(map[string]bool)
		if cfg != nil {
			for _, s := range cfg.Audio.Sources {
				configured[s] = true
			}
		}

		fmt.Printf("🎵 Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")
		fmt.Printf("📋 PIPEWIRE/JACK SOURCES (%d found):\n", len(ports))
		for i, port := range ports {
			mark := " "
			if configured[port] {
				mark = "*"
			}
			fmt.Printf(" %s %d. %s\n", mark, i+1, port)
		}

		fmt.Printf("\n💡 PipeWire Usage:\n")
		fmt.Printf("  • Format: \"Device: Audio (hw:X,Y):Z\" or \"Application:port\"\n")
		fmt.Printf("  • Example: \"Scarlett 2i2 USB: Audio (hw:1,0):0\"\n")
		fmt.Printf("  • Configure in audio.sources: [left] or [left, right]\n\n")

		return nil
	},
}
