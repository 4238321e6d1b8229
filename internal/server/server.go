package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/overdub/internal/config"
	"github.com/audiolibrelab/overdub/internal/service"
	"github.com/audiolibrelab/overdub/internal/session"
)

// Server represents the web server for controlling the recorder
type Server struct {
	service service.Service
	cfg     *config.Config
	port    string
	events  *EventLog
	mux     *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	State       string              `json:"state"`
	Message     string              `json:"message,omitempty"`
	ActiveTrack int                 `json:"active_track"`
	CountIn     *int                `json:"count_in"`
	BPM         int                 `json:"bpm"`
	Tracks      []TrackInfo         `json:"tracks"`
	LastError   string              `json:"last_error,omitempty"`
	Config      *ResolvedConfigInfo `json:"resolved_config"`
}

// TrackInfo is one track as the UI sees it
type TrackInfo struct {
	ID        int     `json:"id"`
	HasAudio  bool    `json:"has_audio"`
	Duration  float64 `json:"duration_seconds"`
	Gain      float64 `json:"gain"`
	Pan       float64 `json:"pan"`
	Playing   bool    `json:"playing"`
	Recording bool    `json:"recording"`
	CanRecord bool    `json:"can_record"`
	CanStop   bool    `json:"can_stop"`
	CanPlay   bool    `json:"can_play"`
	CanDelete bool    `json:"can_delete"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	OutputDir    string   `json:"output_dir"`
	SampleRate   int      `json:"sample_rate"`
	Sources      []string `json:"sources"`
	CountInBeats int      `json:"count_in_beats"`
	MaxGain      float64  `json:"max_gain"`
	MinBPM       int      `json:"min_bpm"`
	MaxBPM       int      `json:"max_bpm"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Configured []string `json:"configured"`
	Available  []string `json:"available"`
	Error      string   `json:"error,omitempty"`
}

// ExportsResponse represents the JSON response for the exports endpoint
type ExportsResponse struct {
	Exports         []service.ExportInfo `json:"exports"`
	TotalCount      int                  `json:"total_count"`
	OutputDirectory string               `json:"output_directory"`
}

// New creates a new web server instance
func New(svc service.Service, port string, events *EventLog) *Server {
	if events == nil {
		events = NewEventLog(0)
	}

	s := &Server{
		service: svc,
		cfg:     svc.GetConfig(),
		port:    port,
		events:  events,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/record", s.handleRecord)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/cancel", s.handleCancel)
	s.mux.HandleFunc("/play", s.handlePlay)
	s.mux.HandleFunc("/stop-track", s.handleStopTrack)
	s.mux.HandleFunc("/delete", s.handleDelete)
	s.mux.HandleFunc("/gain", s.handleGain)
	s.mux.HandleFunc("/pan", s.handlePan)
	s.mux.HandleFunc("/play-all", s.handlePlayAll)
	s.mux.HandleFunc("/stop-all", s.handleStopAll)
	s.mux.HandleFunc("/export", s.handleExport)
	s.mux.HandleFunc("/bpm", s.handleBPM)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/sources", s.handleSources)
	s.mux.HandleFunc("/events", s.handleEvents)
	// Exports API
	s.mux.HandleFunc("/api/exports", s.handleExports)
	s.mux.HandleFunc("/api/exports/download/", s.handleExportDownload)

	return s
}

// Handler returns the server's request router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the web server
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting Overdub Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return http.ListenAndServe(":"+s.port, s.mux)
}

// handleIndex serves a minimal page describing the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Overdub</title>
</head>
<body>
    <h1>Overdub</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /record, /stop, /cancel (track, discard)</li>
        <li>POST /play, /stop-track, /delete (track)</li>
        <li>POST /gain (track, gain), /pan (track, pan), /bpm (bpm)</li>
        <li>POST /play-all, /stop-all</li>
        <li>POST /export (project_name)</li>
        <li>GET /status, /sources, /events, /api/exports</li>
    </ul>
</body>
</html>`

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.trackRequest(w, r, "record")
	if !ok {
		return
	}

	slog.Info("Server: record requested", "track", id)
	if err := s.service.Record(r.Context(), id); err != nil {
		s.sendErrorResponse(w, err, "track", id, "operation", "record")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Count-in started on track %d", id),
		"track":   id,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := s.trackRequest(w, r, "stop")
	if !ok {
		return
	}
	s.finishRecording(w, id, "stop", func() error { return s.service.Stop(id) })
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.trackRequest(w, r, "cancel")
	if !ok {
		return
	}
	// The partial take is kept unless discard is asked for
	discard := false
	if v := r.FormValue("discard"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.sendBadRequest(w, fmt.Sprintf("Invalid discard value: %s", v), "operation", "cancel")
			return
		}
		discard = parsed
	}
	s.finishRecording(w, id, "cancel", func() error { return s.service.Cancel(id, discard) })
}

// finishRecording reports stopping a track that is not recording as success
func (s *Server) finishRecording(w http.ResponseWriter, id int, op string, stop func() error) {
	err := stop()
	if errors.Is(err, session.ErrNotRecording) {
		sendJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("Track %d is not recording", id),
			"track":   id,
		})
		return
	}
	if err != nil {
		s.sendErrorResponse(w, err, "track", id, "operation", op)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
		"track":   id,
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.trackAction(w, r, "play", "Track %d playing", s.service.Play)
}

func (s *Server) handleStopTrack(w http.ResponseWriter, r *http.Request) {
	s.trackAction(w, r, "stop_track", "Track %d stopped", s.service.StopTrack)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.trackAction(w, r, "delete", "Track %d cleared", s.service.Delete)
}

func (s *Server) trackAction(w http.ResponseWriter, r *http.Request, op, message string, action func(int) error) {
	id, ok := s.trackRequest(w, r, op)
	if !ok {
		return
	}
	if err := action(id); err != nil {
		s.sendErrorResponse(w, err, "track", id, "operation", op)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf(message, id),
		"track":   id,
	})
}

func (s *Server) handleGain(w http.ResponseWriter, r *http.Request) {
	s.chainParam(w, r, "gain", s.service.SetGain)
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request) {
	s.chainParam(w, r, "pan", s.service.SetPan)
}

func (s *Server) chainParam(w http.ResponseWriter, r *http.Request, name string, set func(int, float64) error) {
	id, ok := s.trackRequest(w, r, name)
	if !ok {
		return
	}

	raw := r.FormValue(name)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.sendBadRequest(w, fmt.Sprintf("Invalid %s value: %q", name, raw), "operation", name)
		return
	}

	if err := set(id, value); err != nil {
		s.sendErrorResponse(w, err, "track", id, "operation", name)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Track %d %s set to %g", id, name, value),
		"track":   id,
		name:      value,
	})
}

func (s *Server) handlePlayAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.PlayAll(); err != nil {
		s.sendErrorResponse(w, err, "operation", "play_all")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Playing all tracks"})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.StopAll(); err != nil {
		s.sendErrorResponse(w, err, "operation", "stop_all")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "All tracks stopped"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendBadRequest(w, "Failed to parse form", "operation", "export")
		return
	}

	projectName := r.FormValue("project_name")
	slog.Info("Server: export requested", "project_name", projectName)

	path, err := s.service.Export(r.Context(), projectName)
	if err != nil {
		s.sendErrorResponse(w, err, "project_name", projectName, "operation", "export")
		return
	}

	name := filepath.Base(path)
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      fmt.Sprintf("Mixdown saved to %s", path),
		"path":         path,
		"download_url": fmt.Sprintf("/api/exports/download/%s", name),
	})
}

func (s *Server) handleBPM(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendBadRequest(w, "Failed to parse form", "operation", "bpm")
		return
	}

	raw := r.FormValue("bpm")
	bpm, err := strconv.Atoi(raw)
	if err != nil {
		s.sendBadRequest(w, fmt.Sprintf("Invalid bpm value: %q", raw), "operation", "bpm")
		return
	}
	if err := s.service.SetBPM(bpm); err != nil {
		s.sendErrorResponse(w, err, "operation", "bpm")
		return
	}

	response := map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Tempo set to %d bpm", bpm),
		"bpm":     bpm,
	}
	// Stored as typed; the range is enforced on the next record
	if bpm < config.MinBPM || bpm > config.MaxBPM {
		response["warning"] = fmt.Sprintf("bpm must be between %d and %d to record", config.MinBPM, config.MaxBPM)
	}
	sendJSON(w, http.StatusOK, response)
}

// handleStatus returns the session and track states
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	st := s.service.Status()
	response := StatusResponse{
		State:       st.State.String(),
		Message:     generateStatusMessage(st),
		ActiveTrack: st.ActiveTrack,
		BPM:         st.BPM,
		Tracks:      make([]TrackInfo, 0, len(st.Tracks)),
		LastError:   s.service.GetLastError(),
		Config:      s.getResolvedConfigInfo(),
	}
	if st.CountIn >= 0 {
		countIn := st.CountIn
		response.CountIn = &countIn
	}
	for _, t := range st.Tracks {
		response.Tracks = append(response.Tracks, TrackInfo{
			ID:        t.ID,
			HasAudio:  t.HasBuffer,
			Duration:  t.Duration.Seconds(),
			Gain:      t.Gain,
			Pan:       t.Pan,
			Playing:   t.Playing,
			Recording: t.Recording,
			CanRecord: t.CanRecord,
			CanStop:   t.CanStop,
			CanPlay:   t.CanPlay,
			CanDelete: t.CanDelete,
		})
	}

	sendJSON(w, http.StatusOK, response)
}

func generateStatusMessage(st session.Status) string {
	switch st.State {
	case session.StateCountingIn:
		return fmt.Sprintf("Count-in on track %d: %d", st.ActiveTrack, st.CountIn)
	case session.StateRecording:
		return fmt.Sprintf("Recording track %d", st.ActiveTrack)
	default:
		return ""
	}
}

func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	if s.cfg == nil {
		return nil
	}
	return &ResolvedConfigInfo{
		OutputDir:    s.cfg.Output.Directory,
		SampleRate:   s.cfg.Audio.SampleRate,
		Sources:      s.cfg.Audio.Sources,
		CountInBeats: s.cfg.Session.CountInBeats,
		MaxGain:      s.cfg.Session.MaxGain,
		MinBPM:       config.MinBPM,
		MaxBPM:       config.MaxBPM,
	}
}

// handleSources lists the capture ports PipeWire currently offers
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	response := SourcesResponse{Available: []string{}}
	if s.cfg != nil {
		response.Configured = s.cfg.Audio.Sources
	}

	ports, err := s.service.ListSources(r.Context())
	if err != nil {
		slog.Warn("Failed to list sources", "error", err)
		response.Error = err.Error()
	} else if ports != nil {
		response.Available = ports
	}

	sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"events": s.events.Recent()})
}

// handleExports returns every mixdown, newest first
func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	exports, err := s.service.ListExports(r.Context())
	if err != nil {
		s.sendErrorResponse(w, err, "operation", "list_exports")
		return
	}
	if exports == nil {
		exports = []service.ExportInfo{}
	}

	response := ExportsResponse{Exports: exports, TotalCount: len(exports)}
	if s.cfg != nil {
		response.OutputDirectory = s.cfg.Output.Directory
	}
	sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/exports/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	file, info, err := s.service.OpenExport(filename)
	if err != nil {
		slog.Debug("Export download failed", "file", filename, "error", err)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// trackRequest checks the method and parses the track form value
func (s *Server) trackRequest(w http.ResponseWriter, r *http.Request, op string) (int, bool) {
	if !requireMethod(w, r, http.MethodPost) {
		return 0, false
	}
	if err := r.ParseForm(); err != nil {
		s.sendBadRequest(w, "Failed to parse form", "operation", op)
		return 0, false
	}

	raw := r.FormValue("track")
	id, err := strconv.Atoi(raw)
	if err != nil {
		s.sendBadRequest(w, fmt.Sprintf("Invalid track: %q", raw), "operation", op)
		return 0, false
	}
	return id, true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// statusCode maps a control-surface error to an HTTP status
func statusCode(kind string) int {
	switch kind {
	case "invalid_bpm", "invalid_gain", "invalid_pan", "unknown_track":
		return http.StatusBadRequest
	case "permission_denied":
		return http.StatusForbidden
	case "already_recording", "not_recording", "no_audio":
		return http.StatusConflict
	case "closed":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, err error, logContext ...interface{}) {
	kind := service.ErrorKind(err)
	code := statusCode(kind)

	logFields := []interface{}{"error_message", err.Error(), "error_kind", kind, "status_code", code}
	logFields = append(logFields, logContext...)
	slog.Error("Sending error response to client", logFields...)

	sendJSON(w, code, map[string]interface{}{
		"success":    false,
		"error":      err.Error(),
		"error_kind": kind,
	})
}

func (s *Server) sendBadRequest(w http.ResponseWriter, msg string, logContext ...interface{}) {
	logFields := append([]interface{}{"error_message", msg}, logContext...)
	slog.Warn("Rejecting request", logFields...)

	sendJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success":    false,
		"error":      msg,
		"error_kind": "bad_request",
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
