package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play <project-name|file.wav>",
	Short: "Play an exported mixdown",
	Long: `Play a mixdown from the output directory on the default audio device.
Press Ctrl+C to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		player := play.NewPlayer(afero.NewOsFs(), cfg.Output.Directory, audio.NewRegistry(), newOutput(cfg))
		fmt.Printf("Playing: %s\n", player.Resolve(args[0]))

		err := player.Play(ctx, args[0])
		if errors.Is(err, context.Canceled) {
			fmt.Println("Playback stopped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
