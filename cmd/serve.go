package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the Overdub web server to control the recorder via a web interface.
This allows you to arm tracks, set levels and export mixdowns from your
smartphone or any device on the same network.

The server will display the local network URL for easy access from mobile devices.
Edits to the config file's session.bpm are picked up without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		eventCount, _ := cmd.Flags().GetInt("events")

		events := server.NewEventLog(eventCount)
		rt, err := startService(cfg, events)
		if err != nil {
			return fmt.Errorf("failed to start recorder: %w", err)
		}
		defer rt.Close()

		config.Watch(cfgFile, profile, func(c *config.Config) {
			if err := rt.svc.SetBPM(c.Session.BPM); err != nil {
				slog.Warn("Failed to apply reloaded bpm", "error", err)
			}
		})

		srv := server.New(rt.svc, port, events)
		slog.Info("Overdub web server starting", "port", port, "config", cfgFile)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
	serveCmd.Flags().Int("events", 50, "number of recent session events kept for /events")
}
