// Package dashboard serves the live-detection dashboard: session control,
// overlay and event streams, recording, and backend passthrough endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/auraa-fs/cropscan/internal/aggregator"
	"github.com/auraa-fs/cropscan/internal/config"
	"github.com/auraa-fs/cropscan/internal/inference"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/internal/pipeline"
	"github.com/auraa-fs/cropscan/internal/recorder"
	"github.com/auraa-fs/cropscan/internal/source"
	"github.com/auraa-fs/cropscan/internal/webrtc"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var errNoSession = errors.New("no session")

const backendHealthTimeout = 2 * time.Second

// SourceOpener builds a frame source for a parsed selector.
type SourceOpener func(spec source.Spec) (source.Source, error)

// Option configures a Server.
type Option func(*Server)

// WithSourceOpener replaces the default source.Open based opener.
func WithSourceOpener(open SourceOpener) Option {
	return func(s *Server) { s.openSource = open }
}

// WithEventSink adds a sink that receives every session's detection events.
func WithEventSink(sink pipeline.EventSink) Option {
	return func(s *Server) { s.eventSinks = append(s.eventSinks, sink) }
}

// WithReportSink adds a sink that receives every session's report.
func WithReportSink(sink pipeline.ReportSink) Option {
	return func(s *Server) { s.reportSinks = append(s.reportSinks, sink) }
}

// Server wires HTTP handlers to the current session and its broadcasters.
type Server struct {
	cfg     config.Config
	client  *inference.Client
	metrics *metrics.Metrics

	recorder   *recorder.Recorder
	rtc        *webrtc.Server
	frames     *FrameBroadcaster
	detections *DetectionBroadcaster
	status     *StatusBroadcaster
	upgrader   websocket.Upgrader

	openSource  SourceOpener
	eventSinks  []pipeline.EventSink
	reportSinks []pipeline.ReportSink

	mu      sync.Mutex
	session *pipeline.Session
}

// NewServer builds a dashboard server. Call Start before serving and Close
// on shutdown.
func NewServer(cfg config.Config, client *inference.Client, m *metrics.Metrics, opts ...Option) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:        cfg,
		client:     client,
		metrics:    m,
		recorder:   recorder.NewRecorder(cfg.RecordingOutputPath, m),
		rtc:        webrtc.NewServer(cfg.STUNServers, 8, m),
		frames:     NewFrameBroadcaster(m),
		detections: NewDetectionBroadcaster(m),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.status = NewStatusBroadcaster(func() any { return s.statusPayload() }, cfg.StatusInterval, m)
	s.openSource = func(spec source.Spec) (source.Source, error) {
		return source.Open(spec, pipeline.SourceOptions(cfg))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins status polling.
func (s *Server) Start() {
	s.status.Start()
}

// Close stops the current session, recording and peer connections.
func (s *Server) Close() error {
	s.status.Stop()
	if sess := s.current(); sess != nil {
		_ = sess.Stop()
	}
	if err := s.recorder.Close(); err != nil {
		log.Warn("Recorder close: %v", err)
	}
	return s.rtc.Close()
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session/start", s.handleSessionStart).Methods(http.MethodPost)
	api.HandleFunc("/session/stop", s.handleSessionStop).Methods(http.MethodPost)
	api.HandleFunc("/session/status", s.handleSessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/session/report", s.handleSessionReport).Methods(http.MethodPost)

	api.HandleFunc("/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	api.HandleFunc("/detections/stream", s.handleDetectionsStream).Methods(http.MethodGet)
	api.HandleFunc("/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost)

	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/switch", s.handleSwitchModel).Methods(http.MethodPost)
	api.HandleFunc("/llm/models", s.handleListLLMModels).Methods(http.MethodGet)
	api.HandleFunc("/llm/switch", s.handleSwitchLLM).Methods(http.MethodPost)

	api.HandleFunc("/recording/start", s.handleRecordingStart).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleRecordingStop).Methods(http.MethodPost)
	api.HandleFunc("/recording/status", s.handleRecordingStatus).Methods(http.MethodGet)

	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/ws/detections", s.handleDetectionsWS).Methods(http.MethodGet)

	return r
}

func (s *Server) current() *pipeline.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := pipeline.Idle
	if sess := s.current(); sess != nil {
		state = sess.State()
	}

	// A down backend is reported, not propagated to the status code.
	ctx, cancel := context.WithTimeout(r.Context(), backendHealthTimeout)
	defer cancel()
	backend := map[string]any{"url": s.client.BaseURL()}
	if status, err := s.client.Health(ctx); err != nil {
		backend["status"] = "unreachable"
		backend["error"] = err.Error()
	} else {
		backend["status"] = "ok"
		backend["detail"] = status
	}

	writeJSON(w, map[string]any{
		"status":  "ok",
		"session": state,
		"backend": backend,
	})
}

type startRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	spec, err := source.ParseSpec(req.Source)
	if err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	// A session is created Idle and only leaves it inside Start, so anything
	// short of Stopped still owns the slot.
	if s.session != nil && s.session.State() != pipeline.Stopped {
		s.mu.Unlock()
		writeJSONWithStatus(w, http.StatusConflict, map[string]any{"error": "a session is already running"})
		return
	}
	src, err := s.openSource(spec)
	if err != nil {
		s.mu.Unlock()
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	opts := []pipeline.Option{
		pipeline.WithMetrics(s.metrics),
		pipeline.WithFrameSink(s.frames),
		pipeline.WithFrameSink(s.recorder),
		pipeline.WithEventSink(s.detections),
		pipeline.WithEventSink(s.rtc),
	}
	for _, sink := range s.eventSinks {
		opts = append(opts, pipeline.WithEventSink(sink))
	}
	for _, sink := range s.reportSinks {
		opts = append(opts, pipeline.WithReportSink(sink))
	}
	sess := pipeline.New(src, s.client, pipeline.FromConfig(s.cfg), opts...)
	s.session = sess
	s.mu.Unlock()

	if err := sess.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"status":     sess.State(),
		"session_id": sess.ID(),
		"source":     src.Name(),
	})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	sess := s.current()
	if sess == nil {
		writeError(w, errNoSession)
		return
	}
	_ = sess.Stop()
	writeJSON(w, map[string]any{
		"status":     sess.State(),
		"session_id": sess.ID(),
		"stopped_at": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	sess := s.current()
	if sess == nil {
		writeError(w, errNoSession)
		return
	}
	rep, err := sess.Report()
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"report": rep}
	if wantsLLM(r) {
		llm, err := s.client.GenerateReport(r.Context(), rep)
		if err != nil {
			log.Warn("LLM report for %s: %v", rep.ID, err)
			resp["llm_error"] = err.Error()
		} else {
			resp["llm_report"] = llm
		}
	}
	writeJSON(w, resp)
}

func wantsLLM(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("llm")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// SessionStatus is the payload of /api/session/status and /api/status/stream.
type SessionStatus struct {
	State     pipeline.State       `json:"state"`
	SessionID string               `json:"session_id,omitempty"`
	Source    string               `json:"source,omitempty"`
	Error     string               `json:"error,omitempty"`
	Stats     *aggregator.Stats    `json:"stats,omitempty"`
	Skipped   uint64               `json:"skipped_ticks"`
	Boxes     []types.DetectionBox `json:"boxes"`
	Recording bool                 `json:"recording"`
	Clients   map[string]int       `json:"clients"`
	Timestamp int64                `json:"timestamp"`
}

func (s *Server) statusPayload() SessionStatus {
	st := SessionStatus{
		State:     pipeline.Idle,
		Boxes:     []types.DetectionBox{},
		Recording: s.recorder.IsRecording(),
		Clients: map[string]int{
			"mjpeg":      s.frames.ClientCount(),
			"detections": s.detections.ClientCount(),
			"status":     s.status.ClientCount(),
			"webrtc":     s.rtc.ClientCount(),
		},
		Timestamp: time.Now().UnixMilli(),
	}
	sess := s.current()
	if sess == nil {
		return st
	}

	st.State = sess.State()
	st.SessionID = sess.ID()
	st.Source = sess.Source().Name()
	if err := sess.Err(); err != nil {
		st.Error = err.Error()
	}
	stats := sess.Stats()
	st.Stats = &stats
	st.Skipped = sess.Skipped()
	if boxes := sess.CurrentBoxes(); len(boxes) > 0 {
		st.Boxes = boxes
	}
	return st
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, ch)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	// Push one snapshot right away instead of waiting a full interval.
	go s.status.Broadcast()
	streamEventsFromChannel(w, r, ch, wantsProtobuf(r))
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.detections.Subscribe()
	defer s.detections.Unsubscribe(id)
	streamEventsFromChannel(w, r, ch, wantsProtobuf(r))
}

type webrtcOffer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtcOffer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	if offer.SDP == "" || offer.Type != "offer" {
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": "Missing sdp or type"})
		return
	}

	body, _ := json.Marshal(offer)
	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		log.Warn("WebRTC offer: %v", err)
		writeJSONWithStatus(w, status, map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

type recordingRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	// Body is optional.
	_ = json.NewDecoder(r.Body).Decode(&req)

	path, err := s.recorder.Start(req.Filename)
	if err != nil {
		status := http.StatusInternalServerError
		if s.recorder.IsRecording() {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       path,
		"started_at": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, _ *http.Request) {
	if !s.recorder.IsRecording() {
		writeJSONWithStatus(w, http.StatusConflict, map[string]any{"error": "not recording"})
		return
	}
	path, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       path,
		"stopped_at": time.Now().Format(time.RFC3339),
		"stats":      s.recorder.Status(),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.recorder.Status())
}
