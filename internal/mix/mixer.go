package mix

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/overdub/internal/track"
)

const DefaultName = "My-Recording"

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Mixer renders track snapshots and writes the result as a WAV file into
// its output directory.
type Mixer struct {
	fs         afero.Fs
	directory  string
	sampleRate int
}

func New(fs afero.Fs, directory string, sampleRate int) *Mixer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Mixer{fs: fs, directory: directory, sampleRate: sampleRate}
}

func (m *Mixer) Directory() string { return m.directory }
func (m *Mixer) Fs() afero.Fs      { return m.fs }

// Export renders tracks and writes <directory>/<sanitized name>.wav. The
// file appears complete or not at all: data goes to a temp file in the same
// directory which is renamed into place.
func (m *Mixer) Export(ctx context.Context, projectName string, tracks []track.Snapshot) (string, error) {
	master, err := Render(ctx, tracks, m.sampleRate)
	if err != nil {
		return "", err
	}

	outputFile := filepath.Join(m.directory, FileName(projectName))
	if err := m.write(outputFile, master); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	slog.Info("Mixed audio file saved to", "file", outputFile, "frames", master.Frames())
	return outputFile, nil
}

func (m *Mixer) write(outputFile string, master *MasterMix) error {
	if err := m.fs.MkdirAll(m.directory, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := afero.TempFile(m.fs, m.directory, ".overdub-*.wav.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	err = EncodeWAV(w, master.SampleRate, Quantize(master))
	if err == nil {
		err = w.Flush()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		m.fs.Remove(tmpName)
		return err
	}

	if err := m.fs.Rename(tmpName, outputFile); err != nil {
		m.fs.Remove(tmpName)
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}

// SanitizeName keeps ASCII letters, digits and whitespace, trims, and turns
// whitespace runs into dashes. An empty result becomes DefaultName.
func SanitizeName(name string) string {
	cleaned := strings.TrimSpace(unsafeChars.ReplaceAllString(name, ""))
	cleaned = whitespace.ReplaceAllString(cleaned, "-")
	if cleaned == "" {
		return DefaultName
	}
	return cleaned
}

// FileName is the export file name for a project.
func FileName(projectName string) string {
	return SanitizeName(projectName) + ".wav"
}
