package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record [backing-file...]",
	Short: "Record one take over backing files and export the mix",
	Long: `Load the given backing files onto tracks 1..N, count in, and record a
take on the next free track while the backing plays. Press Ctrl+C to stop;
the take is added to the mix and the result exported as a WAV.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("output")
		trackID, _ := cmd.Flags().GetInt("track")
		if trackID == 0 {
			trackID = len(args) + 1
		}
		if trackID < 1 || trackID > cfg.Session.TrackCount {
			return fmt.Errorf("no free track: %d backing files on %d tracks", len(args), cfg.Session.TrackCount)
		}
		if trackID <= len(args) {
			return fmt.Errorf("track %d already holds backing file %s", trackID, args[trackID-1])
		}
		slog.Info("Record command started", "track", trackID, "backing", len(args))

		obs := newTakeObserver(trackID)
		rt, err := startService(cfg, obs)
		if err != nil {
			return fmt.Errorf("failed to start recorder: %w", err)
		}
		defer rt.Close()
		svc := rt.svc

		fs := afero.NewOsFs()
		decoder := audio.NewRegistry()
		for i, file := range args {
			buf, err := decodeFile(fs, decoder, file)
			if err != nil {
				return err
			}
			if err := svc.Load(i+1, buf); err != nil {
				return fmt.Errorf("failed to load %s: %w", file, err)
			}
			slog.Info("Backing track loaded", "track", i+1, "file", file, "duration", buf.Duration())
		}

		if err := svc.Record(cmd.Context(), trackID); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Counting in... Press Ctrl+C to stop", "bpm", svc.Status().BPM)

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
		case err := <-obs.done:
			// Capture failed before any stop was requested
			return fmt.Errorf("recording failed: %w", err)
		}

		slog.Info("Stopping recording...")
		if err := svc.Stop(trackID); err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		select {
		case err := <-obs.done:
			if errors.Is(err, errCountInAborted) {
				fmt.Println("Stopped during the count-in, nothing was recorded")
				return nil
			}
			if err != nil {
				return fmt.Errorf("take was lost: %w", err)
			}
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out waiting for the take")
		}
		if err := svc.StopAll(); err != nil {
			slog.Warn("Failed to stop playback", "error", err)
		}

		path, err := svc.Export(cmd.Context(), name)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported %s\n", path)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "project name for the export")
	recordCmd.Flags().IntP("track", "t", 0, "track to record on (default is the one after the backing files)")
}

// errCountInAborted means recording stopped before capture began
var errCountInAborted = errors.New("recording aborted during count-in")

// takeObserver reports when the take on one track is attached or lost, or
// when the recording ends before capture ever started.
type takeObserver struct {
	session.NopObserver
	trackID int
	started bool
	done    chan error
}

func newTakeObserver(trackID int) *takeObserver {
	return &takeObserver{trackID: trackID, done: make(chan error, 1)}
}

func (o *takeObserver) OnCountIn(id, remaining int) {
	if id == o.trackID && remaining > 0 {
		fmt.Printf("%d...\n", remaining)
	}
}

func (o *takeObserver) OnRecordStart(id int) {
	if id == o.trackID {
		o.started = true
		fmt.Printf("Recording on track %d\n", id)
	}
}

func (o *takeObserver) OnRecordStop(id int) {
	if id == o.trackID && !o.started {
		o.finish(errCountInAborted)
	}
}

func (o *takeObserver) OnBufferAttached(id int, d time.Duration) {
	if id == o.trackID {
		o.finish(nil)
	}
}

func (o *takeObserver) OnTakeLost(id int, err error) {
	if id == o.trackID {
		o.finish(err)
	}
}

func (o *takeObserver) finish(err error) {
	select {
	case o.done <- err:
	default:
	}
}
