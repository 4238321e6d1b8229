package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/catalog"
	"github.com/audiolibrelab/overdub/internal/mix"
	"github.com/audiolibrelab/overdub/internal/track"
)

var mixCmd = &cobra.Command{
	Use:   "mix <file> [file...]",
	Short: "Mix audio files offline into a WAV",
	Long: `Render up to one file per track into a 16-bit stereo WAV in the output
directory, without opening a session. WAV, AIFF, MP3 and Ogg Vorbis inputs
are accepted; anything not at the configured sample rate is resampled.

Gain and pan are given per file in order, e.g.
  overdub mix drums.wav bass.mp3 --gain 1,0.8 --pan 0,-0.3 -o groove`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gains, _ := cmd.Flags().GetFloat64Slice("gain")
		pans, _ := cmd.Flags().GetFloat64Slice("pan")
		name, _ := cmd.Flags().GetString("output")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		fs := afero.NewOsFs()
		snaps, err := loadTracks(fs, audio.NewRegistry(), args, gains, pans)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("Track %d: %s  gain %.2f  pan %+.2f\n", s.ID, args[s.ID-1], s.Params.Gain, s.Params.Pan)
		}

		path, err := mix.New(fs, cfg.Output.Directory, cfg.Audio.SampleRate).Export(cmd.Context(), name, snaps)
		if err != nil {
			return fmt.Errorf("mixing failed: %w", err)
		}
		recordInCatalog(cmd.Context(), fs, path)

		fmt.Printf("Mixing completed successfully: %s\n", path)
		return nil
	},
}

func init() {
	mixCmd.Flags().Float64Slice("gain", nil, "gain per file, in order (default 1.0)")
	mixCmd.Flags().Float64Slice("pan", nil, "pan per file, in order, -1 to 1 (default 0)")
	mixCmd.Flags().StringP("output", "o", "", "project name (default is the first file's name)")
}

// loadTracks decodes one file per track and pairs it with its gain and pan.
// Missing gain or pan values fall back to the configured track settings.
func loadTracks(fs afero.Fs, decoder audio.Decoder, files []string, gains, pans []float64) ([]track.Snapshot, error) {
	if len(files) > cfg.Session.TrackCount {
		return nil, fmt.Errorf("at most %d files can be mixed, got %d", cfg.Session.TrackCount, len(files))
	}

	snaps := make([]track.Snapshot, 0, len(files))
	for i, file := range files {
		id := i + 1
		buf, err := decodeFile(fs, decoder, file)
		if err != nil {
			return nil, err
		}

		params := audio.ChainParams{}
		params.Gain, params.Pan = cfg.TrackSettings(id)
		if i < len(gains) {
			params.Gain = gains[i]
		}
		if i < len(pans) {
			params.Pan = pans[i]
		}
		if params.Gain < 0 || params.Gain > cfg.Session.MaxGain {
			return nil, fmt.Errorf("gain for %s must be between 0 and %.2f, got %.2f", file, cfg.Session.MaxGain, params.Gain)
		}
		if params.Pan < -1 || params.Pan > 1 {
			return nil, fmt.Errorf("pan for %s must be between -1 and 1, got %.2f", file, params.Pan)
		}

		snaps = append(snaps, track.Snapshot{ID: id, Buffer: buf, Params: params})
	}
	return snaps, nil
}

func decodeFile(fs afero.Fs, decoder audio.Decoder, file string) (*audio.SampleBuffer, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", file, err)
	}
	buf, err := decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", file, err)
	}
	return buf, nil
}

// recordInCatalog adds an offline mixdown to the export catalog, if one is configured
func recordInCatalog(ctx context.Context, fs afero.Fs, path string) {
	if cfg.Output.Catalog == "" {
		return
	}
	info, err := fs.Stat(path)
	if err != nil {
		return
	}
	cat, err := catalog.Open(cfg.Output.Catalog)
	if err != nil {
		fmt.Printf("Warning: export catalog unavailable: %v\n", err)
		return
	}
	defer cat.Close()

	_, err = cat.Add(ctx, catalog.Entry{
		Name:       filepath.Base(path),
		Path:       path,
		Size:       info.Size(),
		SampleRate: cfg.Audio.SampleRate,
	})
	if err != nil {
		fmt.Printf("Warning: could not record export in catalog: %v\n", err)
	}
}
