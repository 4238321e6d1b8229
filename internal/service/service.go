package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/catalog"
	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/metronome"
	"github.com/audiolibrelab/overdub/internal/mix"
	"github.com/audiolibrelab/overdub/internal/session"
)

// Service represents the core overdub control surface
type Service interface {
	// Recording operations
	Record(ctx context.Context, trackID int) error
	Stop(trackID int) error
	Cancel(trackID int, discard bool) error
	SetBPM(bpm int) error

	// Load puts existing audio on a track without recording
	Load(trackID int, buf *audio.SampleBuffer) error

	// Track operations
	Play(trackID int) error
	StopTrack(trackID int) error
	Delete(trackID int) error
	SetGain(trackID int, gain float64) error
	SetPan(trackID int, pan float64) error
	PlayAll() error
	StopAll() error

	// Mixdown operations
	Export(ctx context.Context, projectName string) (string, error)
	ListExports(ctx context.Context) ([]ExportInfo, error)
	OpenExport(name string) (afero.File, fs.FileInfo, error)

	// Information operations
	Status() session.Status
	ListSources(ctx context.Context) ([]string, error)
	GetConfig() *config.Config
	GetLastError() string

	Close() error
}

// ExportInfo describes one mixdown in the output directory
type ExportInfo struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	Duration     float64   `json:"duration_seconds"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedHuman string    `json:"created_human"`
	DownloadURL  string    `json:"download_url"`
}

// Options carries the collaborators the service cannot build from config
type Options struct {
	Capturer audio.Capturer
	Decoder  audio.Decoder
	Bus      session.Bus
	Clock    metronome.Clock
	Observer session.Observer

	// Fs holds the output directory; defaults to the OS filesystem
	Fs afero.Fs
	// Catalog is optional; without it exports are listed from the directory
	Catalog *catalog.Catalog
	// Sources lists capture ports for the sources command
	Sources func(ctx context.Context) ([]string, error)
}

// OverdubService is the main service implementation
type OverdubService struct {
	cfg     *config.Config
	session *session.Session
	mixer   *mix.Mixer
	fs      afero.Fs
	catalog *catalog.Catalog
	sources func(ctx context.Context) ([]string, error)

	// Mixer settings persistence
	settingsMutex sync.Mutex

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service with a fresh session. Starting gain and pan come from
// the config, overridden by any mixer.yaml saved in the output directory.
func New(cfg *config.Config, opts Options) (Service, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Observer == nil {
		opts.Observer = session.NopObserver{}
	}

	s := &OverdubService{
		cfg:     cfg,
		fs:      opts.Fs,
		catalog: opts.Catalog,
		sources: opts.Sources,
	}

	sessOpts := session.OptionsFromConfig(cfg)
	sessOpts.Capturer = opts.Capturer
	sessOpts.Decoder = opts.Decoder
	sessOpts.Bus = opts.Bus
	sessOpts.Clock = opts.Clock
	sessOpts.Observer = &errorObserver{Observer: opts.Observer, svc: s}

	sess, err := session.New(sessOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.session = sess
	s.mixer = mix.New(opts.Fs, cfg.Output.Directory, cfg.Audio.SampleRate)

	if err := s.restoreMixerSettings(); err != nil {
		slog.Warn("Failed to restore mixer settings", "error", err)
	}
	return s, nil
}

// errorObserver records lost takes as the service's last error
type errorObserver struct {
	session.Observer
	svc *OverdubService
}

func (o *errorObserver) OnTakeLost(trackID int, err error) {
	o.svc.setLastError(fmt.Sprintf("Take on track %d was lost: %v", trackID, err))
	o.Observer.OnTakeLost(trackID, err)
}

// Record arms a track; capture starts after the count-in
func (s *OverdubService) Record(ctx context.Context, trackID int) error {
	slog.Debug("Service.Record called", "track", trackID)
	s.clearLastError()
	return s.track("start recording", s.session.RequestRecord(ctx, trackID))
}

func (s *OverdubService) Stop(trackID int) error {
	err := s.session.RequestStop(trackID)
	if errors.Is(err, session.ErrNotRecording) {
		return err
	}
	return s.track("stop recording", err)
}

func (s *OverdubService) Cancel(trackID int, discard bool) error {
	err := s.session.RequestCancel(trackID, discard)
	if errors.Is(err, session.ErrNotRecording) {
		return err
	}
	return s.track("cancel recording", err)
}

func (s *OverdubService) SetBPM(bpm int) error {
	return s.track("set bpm", s.session.SetBPM(bpm))
}

func (s *OverdubService) Load(trackID int, buf *audio.SampleBuffer) error {
	return s.track("load track", s.session.AttachBuffer(trackID, buf))
}

func (s *OverdubService) Play(trackID int) error {
	return s.track("play track", s.session.Play(trackID))
}

func (s *OverdubService) StopTrack(trackID int) error {
	return s.track("stop track", s.session.StopTrack(trackID))
}

func (s *OverdubService) Delete(trackID int) error {
	return s.track("delete track", s.session.Delete(trackID))
}

func (s *OverdubService) SetGain(trackID int, gain float64) error {
	if err := s.session.SetGain(trackID, gain); err != nil {
		return s.track("set gain", err)
	}
	s.saveMixerSettings()
	return nil
}

func (s *OverdubService) SetPan(trackID int, pan float64) error {
	if err := s.session.SetPan(trackID, pan); err != nil {
		return s.track("set pan", err)
	}
	s.saveMixerSettings()
	return nil
}

func (s *OverdubService) PlayAll() error {
	return s.track("play all", s.session.PlayAll())
}

func (s *OverdubService) StopAll() error {
	return s.track("stop all", s.session.StopAll())
}

// Export renders every track into <output.directory>/<name>.wav and records
// it in the catalog
func (s *OverdubService) Export(ctx context.Context, projectName string) (string, error) {
	snaps, err := s.session.Snapshot()
	if err != nil {
		return "", s.track("export", err)
	}

	path, err := s.mixer.Export(ctx, projectName, snaps)
	if err != nil {
		return "", s.track("export", err)
	}

	if s.catalog != nil {
		info, err := s.fs.Stat(path)
		if err != nil {
			slog.Warn("Failed to stat export", "path", path, "error", err)
		} else {
			_, err = s.catalog.Add(ctx, catalog.Entry{
				Name:       filepath.Base(path),
				Path:       path,
				Size:       info.Size(),
				SampleRate: s.cfg.Audio.SampleRate,
				Duration:   wavDuration(info.Size(), s.cfg.Audio.SampleRate),
			})
			if err != nil {
				slog.Warn("Failed to record export in catalog", "path", path, "error", err)
			}
		}
	}

	s.clearLastError()
	return path, nil
}

// wavDuration derives the length of a 16-bit stereo export from its size
func wavDuration(size int64, sampleRate int) time.Duration {
	if size <= 44 || sampleRate <= 0 {
		return 0
	}
	frames := (size - 44) / 4
	return time.Duration(frames * int64(time.Second) / int64(sampleRate))
}

// ListExports returns the exports, newest first. Catalog records whose file
// has gone are dropped on the way.
func (s *OverdubService) ListExports(ctx context.Context) ([]ExportInfo, error) {
	if s.catalog == nil {
		return s.scanExports()
	}

	exists := func(path string) bool {
		_, err := s.fs.Stat(path)
		return err == nil
	}
	if _, err := s.catalog.Prune(ctx, exists); err != nil {
		slog.Warn("Failed to prune export catalog", "error", err)
	}

	entries, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	exports := make([]ExportInfo, 0, len(entries))
	for _, e := range entries {
		info := newExportInfo(e.Name, e.Path, e.Size, e.CreatedAt)
		info.ID = e.ID
		info.Duration = e.Duration.Seconds()
		exports = append(exports, info)
	}
	return exports, nil
}

func (s *OverdubService) scanExports() ([]ExportInfo, error) {
	dir := s.mixer.Directory()
	files, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var exports []ExportInfo
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".wav") {
			continue
		}
		info := newExportInfo(file.Name(), filepath.Join(dir, file.Name()), file.Size(), file.ModTime())
		info.Duration = wavDuration(file.Size(), s.cfg.Audio.SampleRate).Seconds()
		exports = append(exports, info)
	}

	sort.Slice(exports, func(i, j int) bool {
		return exports[i].CreatedAt.After(exports[j].CreatedAt)
	})
	return exports, nil
}

func newExportInfo(name, path string, size int64, created time.Time) ExportInfo {
	return ExportInfo{
		Name:         name,
		Path:         path,
		Size:         size,
		SizeHuman:    humanize.Bytes(uint64(size)),
		CreatedAt:    created,
		CreatedHuman: humanize.Time(created),
		DownloadURL:  fmt.Sprintf("/api/exports/download/%s", name),
	}
}

// OpenExport opens a mixdown in the output directory by file name
func (s *OverdubService) OpenExport(name string) (afero.File, fs.FileInfo, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") ||
		!strings.EqualFold(filepath.Ext(name), ".wav") {
		return nil, nil, fmt.Errorf("invalid export name: %q", name)
	}

	path := filepath.Join(s.mixer.Directory(), name)
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("export not found: %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat export: %w", err)
	}
	return f, info, nil
}

// Status returns the session and track states
func (s *OverdubService) Status() session.Status {
	return s.session.Status()
}

// ListSources returns the capture ports available to record from
func (s *OverdubService) ListSources(ctx context.Context) ([]string, error) {
	if s.sources == nil {
		return nil, fmt.Errorf("source listing not available")
	}
	ports, err := s.sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return ports, nil
}

// GetConfig returns the current configuration
func (s *OverdubService) GetConfig() *config.Config {
	return s.cfg
}

func (s *OverdubService) Close() error {
	err := s.session.Close()
	if s.catalog != nil {
		if cerr := s.catalog.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// track records a failed operation as the last error
func (s *OverdubService) track(op string, err error) error {
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to %s: %v", op, err))
	}
	return err
}

// GetLastError returns the last error message (thread-safe)
func (s *OverdubService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *OverdubService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *OverdubService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
