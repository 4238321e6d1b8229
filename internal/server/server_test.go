package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/overdub/internal/audio"
	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/service"
	"github.com/audiolibrelab/overdub/internal/session"
)

type fakeService struct {
	calls     []string
	err       error
	status    session.Status
	exports   []service.ExportInfo
	sources   []string
	fs        afero.Fs
	lastError string
}

func (f *fakeService) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeService) Record(ctx context.Context, id int) error {
	return f.record(fmt.Sprintf("record %d", id))
}
func (f *fakeService) Stop(id int) error { return f.record(fmt.Sprintf("stop %d", id)) }
func (f *fakeService) Cancel(id int, discard bool) error {
	return f.record(fmt.Sprintf("cancel %d %v", id, discard))
}
func (f *fakeService) SetBPM(bpm int) error   { return f.record(fmt.Sprintf("bpm %d", bpm)) }
func (f *fakeService) Play(id int) error      { return f.record(fmt.Sprintf("play %d", id)) }
func (f *fakeService) StopTrack(id int) error { return f.record(fmt.Sprintf("stop-track %d", id)) }
func (f *fakeService) Delete(id int) error    { return f.record(fmt.Sprintf("delete %d", id)) }
func (f *fakeService) PlayAll() error         { return f.record("play-all") }
func (f *fakeService) StopAll() error         { return f.record("stop-all") }
func (f *fakeService) GetConfig() *config.Config {
	cfg := config.Default()
	cfg.Output.Directory = "/exports"
	return cfg
}
func (f *fakeService) GetLastError() string { return f.lastError }
func (f *fakeService) Close() error         { return nil }

func (f *fakeService) SetGain(id int, gain float64) error {
	return f.record(fmt.Sprintf("gain %d %g", id, gain))
}

func (f *fakeService) SetPan(id int, pan float64) error {
	return f.record(fmt.Sprintf("pan %d %g", id, pan))
}

func (f *fakeService) Export(ctx context.Context, name string) (string, error) {
	if err := f.record("export " + name); err != nil {
		return "", err
	}
	return "/exports/" + name + ".wav", nil
}

func (f *fakeService) ListExports(ctx context.Context) ([]service.ExportInfo, error) {
	return f.exports, f.err
}

func (f *fakeService) OpenExport(name string) (afero.File, fs.FileInfo, error) {
	file, err := f.fs.Open("/exports/" + name)
	if err != nil {
		return nil, nil, err
	}
	info, _ := file.Stat()
	return file, info, nil
}

func (f *fakeService) Load(id int, buf *audio.SampleBuffer) error {
	return f.record(fmt.Sprintf("load %d", id))
}

func (f *fakeService) Status() session.Status { return f.status }

func (f *fakeService) ListSources(ctx context.Context) ([]string, error) {
	if f.sources == nil {
		return nil, errors.New("pw-link not found")
	}
	return f.sources, nil
}

func newTestServer(svc *fakeService) *httptest.Server {
	return httptest.NewServer(New(svc, "0", nil).Handler())
}

func postForm(t *testing.T, ts *httptest.Server, path string, values url.Values) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, values)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("POST %s: invalid JSON: %v", path, err)
	}
	return resp.StatusCode, body
}

func TestServer_TrackEndpoints(t *testing.T) {
	svc := &fakeService{}
	ts := newTestServer(svc)
	defer ts.Close()

	tests := []struct {
		path   string
		values url.Values
		call   string
	}{
		{"/record", url.Values{"track": {"1"}}, "record 1"},
		{"/stop", url.Values{"track": {"1"}}, "stop 1"},
		{"/cancel", url.Values{"track": {"2"}}, "cancel 2 false"},
		{"/cancel", url.Values{"track": {"2"}, "discard": {"true"}}, "cancel 2 true"},
		{"/play", url.Values{"track": {"3"}}, "play 3"},
		{"/stop-track", url.Values{"track": {"3"}}, "stop-track 3"},
		{"/delete", url.Values{"track": {"4"}}, "delete 4"},
		{"/gain", url.Values{"track": {"1"}, "gain": {"0.5"}}, "gain 1 0.5"},
		{"/pan", url.Values{"track": {"2"}, "pan": {"-1"}}, "pan 2 -1"},
		{"/play-all", nil, "play-all"},
		{"/stop-all", nil, "stop-all"},
		{"/bpm", url.Values{"bpm": {"90"}}, "bpm 90"},
		{"/export", url.Values{"project_name": {"demo"}}, "export demo"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			svc.calls = nil
			code, body := postForm(t, ts, tt.path, tt.values)

			if code != http.StatusOK {
				t.Errorf("Expected 200, got %d: %v", code, body)
			}
			if body["success"] != true {
				t.Errorf("Expected success, got %v", body)
			}
			if len(svc.calls) != 1 || svc.calls[0] != tt.call {
				t.Errorf("Expected call %q, got %v", tt.call, svc.calls)
			}
		})
	}
}

func TestServer_ExportResponse(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	_, body := postForm(t, ts, "/export", url.Values{"project_name": {"song"}})
	if body["path"] != "/exports/song.wav" {
		t.Errorf("Expected path /exports/song.wav, got %v", body["path"])
	}
	if body["download_url"] != "/api/exports/download/song.wav" {
		t.Errorf("Unexpected download url %v", body["download_url"])
	}
}

func TestServer_ErrorKinds(t *testing.T) {
	tests := []struct {
		err      error
		path     string
		values   url.Values
		wantCode int
		wantKind string
	}{
		{session.ErrInvalidBPM, "/record", url.Values{"track": {"1"}}, http.StatusBadRequest, "invalid_bpm"},
		{session.ErrAlreadyRecording, "/record", url.Values{"track": {"2"}}, http.StatusConflict, "already_recording"},
		{session.ErrPermissionDenied, "/record", url.Values{"track": {"1"}}, http.StatusForbidden, "permission_denied"},
		{session.ErrNoAudio, "/play-all", nil, http.StatusConflict, "no_audio"},
		{fmt.Errorf("%w: disk full", session.ErrRender), "/export", nil, http.StatusInternalServerError, "render"},
		{session.ErrUnknownTrack, "/play", url.Values{"track": {"9"}}, http.StatusBadRequest, "unknown_track"},
	}

	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			ts := newTestServer(&fakeService{err: tt.err})
			defer ts.Close()

			code, body := postForm(t, ts, tt.path, tt.values)
			if code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, code)
			}
			if body["success"] != false {
				t.Errorf("Expected failure, got %v", body)
			}
			if body["error_kind"] != tt.wantKind {
				t.Errorf("Expected error_kind %s, got %v", tt.wantKind, body["error_kind"])
			}
			if body["error"] == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestServer_StopWhenNotRecording(t *testing.T) {
	ts := newTestServer(&fakeService{err: session.ErrNotRecording})
	defer ts.Close()

	for _, path := range []string{"/stop", "/cancel"} {
		code, body := postForm(t, ts, path, url.Values{"track": {"1"}})
		if code != http.StatusOK || body["success"] != true {
			t.Errorf("%s: expected success for a track that is not recording, got %d %v", path, code, body)
		}
	}
}

func TestServer_BadRequests(t *testing.T) {
	svc := &fakeService{}
	ts := newTestServer(svc)
	defer ts.Close()

	tests := []struct {
		path   string
		values url.Values
	}{
		{"/record", url.Values{"track": {"one"}}},
		{"/record", nil},
		{"/gain", url.Values{"track": {"1"}, "gain": {"loud"}}},
		{"/pan", url.Values{"track": {"1"}}},
		{"/bpm", url.Values{"bpm": {"fast"}}},
		{"/cancel", url.Values{"track": {"1"}, "discard": {"maybe"}}},
	}

	for _, tt := range tests {
		code, body := postForm(t, ts, tt.path, tt.values)
		if code != http.StatusBadRequest {
			t.Errorf("%s %v: expected 400, got %d", tt.path, tt.values, code)
		}
		if body["error_kind"] != "bad_request" {
			t.Errorf("%s: expected bad_request, got %v", tt.path, body["error_kind"])
		}
	}
	if len(svc.calls) != 0 {
		t.Errorf("Expected no service calls for bad requests, got %v", svc.calls)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/record")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/status", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestServer_BPMWarning(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	_, body := postForm(t, ts, "/bpm", url.Values{"bpm": {"20"}})
	if body["success"] != true {
		t.Errorf("Expected out-of-range bpm to be stored, got %v", body)
	}
	if _, ok := body["warning"]; !ok {
		t.Error("Expected a warning for an out-of-range bpm")
	}
}

func TestServer_Status(t *testing.T) {
	svc := &fakeService{
		lastError: "Failed to export: no audio",
		status: session.Status{
			State:       session.StateCountingIn,
			ActiveTrack: 2,
			CountIn:     3,
			BPM:         100,
			Tracks: []session.TrackStatus{
				{ID: 1, HasBuffer: true, Duration: 1500 * time.Millisecond, Gain: 1, CanPlay: true, CanDelete: true},
				{ID: 2, Recording: true, Gain: 1, CanStop: true},
			},
		},
	}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	defer resp.Body.Close()

	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if st.State != "counting_in" || st.ActiveTrack != 2 || st.BPM != 100 {
		t.Errorf("Unexpected status %+v", st)
	}
	if st.CountIn == nil || *st.CountIn != 3 {
		t.Errorf("Expected count_in 3, got %v", st.CountIn)
	}
	if len(st.Tracks) != 2 || st.Tracks[0].Duration != 1.5 || !st.Tracks[1].CanStop {
		t.Errorf("Unexpected tracks %+v", st.Tracks)
	}
	if st.LastError != svc.lastError {
		t.Errorf("Expected last error %q, got %q", svc.lastError, st.LastError)
	}
	if st.Config == nil || st.Config.OutputDir != "/exports" || st.Config.MinBPM != 40 {
		t.Errorf("Unexpected resolved config %+v", st.Config)
	}
	if !strings.Contains(st.Message, "track 2") {
		t.Errorf("Expected count-in message, got %q", st.Message)
	}
}

func TestServer_StatusIdleHasNoCountIn(t *testing.T) {
	ts := newTestServer(&fakeService{status: session.Status{State: session.StateIdle, CountIn: -1}})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status error = %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&raw)
	if raw["count_in"] != nil {
		t.Errorf("Expected null count_in, got %v", raw["count_in"])
	}
}

func TestServer_Sources(t *testing.T) {
	svc := &fakeService{sources: []string{"system:capture_1"}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sources")
	if err != nil {
		t.Fatalf("GET /sources error = %v", err)
	}
	defer resp.Body.Close()

	var body SourcesResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Available) != 1 || body.Available[0] != "system:capture_1" {
		t.Errorf("Unexpected available sources %v", body.Available)
	}
	if len(body.Configured) != 1 {
		t.Errorf("Expected configured sources, got %v", body.Configured)
	}

	// Listing failures are reported in the body
	svc.sources = nil
	resp2, err := http.Get(ts.URL + "/sources")
	if err != nil {
		t.Fatalf("GET /sources error = %v", err)
	}
	defer resp2.Body.Close()
	var failed SourcesResponse
	json.NewDecoder(resp2.Body).Decode(&failed)
	if failed.Error == "" || len(failed.Available) != 0 {
		t.Errorf("Expected error and no sources, got %+v", failed)
	}
}

func TestServer_Exports(t *testing.T) {
	svc := &fakeService{exports: []service.ExportInfo{
		{Name: "a.wav", Size: 100, DownloadURL: "/api/exports/download/a.wav"},
	}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/exports")
	if err != nil {
		t.Fatalf("GET /api/exports error = %v", err)
	}
	defer resp.Body.Close()

	var body ExportsResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.TotalCount != 1 || body.Exports[0].Name != "a.wav" {
		t.Errorf("Unexpected exports %+v", body)
	}
	if body.OutputDirectory != "/exports" {
		t.Errorf("Expected /exports, got %s", body.OutputDirectory)
	}
}

func TestServer_ExportDownload(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/exports/song.wav", []byte("RIFF....WAVE"), 0644)
	ts := newTestServer(&fakeService{fs: fs})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/exports/download/song.wav")
	if err != nil {
		t.Fatalf("GET download error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "RIFF....WAVE" {
		t.Errorf("Unexpected body %q", data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "song.wav") {
		t.Errorf("Expected attachment header, got %q", cd)
	}

	for path, want := range map[string]int{
		"/api/exports/download/missing.wav": http.StatusNotFound,
		"/api/exports/download/":            http.StatusBadRequest,
		"/api/exports/download/..%5Cx.wav":  http.StatusBadRequest,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestServer_Events(t *testing.T) {
	events := NewEventLog(3)
	ts := httptest.NewServer(New(&fakeService{}, "0", events).Handler())
	defer ts.Close()

	events.OnRecordArmed(1)
	events.OnCountIn(1, 4)
	events.OnRecordStart(1)
	events.OnTakeLost(1, session.ErrDecode)

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Events []Event `json:"events"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Events) != 3 {
		t.Fatalf("Expected 3 retained events, got %d", len(body.Events))
	}
	if body.Events[0].Type != "count_in" || body.Events[2].Type != "take_lost" {
		t.Errorf("Expected oldest event dropped, got %+v", body.Events)
	}
}
