package dashboard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auraa-fs/cropscan/internal/config"
	"github.com/auraa-fs/cropscan/internal/inference"
	"github.com/auraa-fs/cropscan/internal/metrics"
)

// fakeBackend answers the detection API with one fixed box.
type fakeBackend struct {
	*httptest.Server
	detects  atomic.Int32
	predicts atomic.Int32
}

func backendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			backendJSON(w, http.StatusOK, map[string]any{"status": "healthy", "model_loaded": true})
		case "/stream/detect":
			b.detects.Add(1)
			backendJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"detections": []map[string]any{
					{"class": "Leaf Blight", "conf": 91, "x1": 0.1, "y1": 0.2, "x2": 0.5, "y2": 0.6},
				},
			})
		case "/predict":
			b.predicts.Add(1)
			backendJSON(w, http.StatusOK, map[string]any{
				"success": true, "source": "yolo", "disease": "Brown Spot", "confidence": 88,
			})
		case "/models", "/llm/models":
			backendJSON(w, http.StatusOK, map[string]any{"success": true, "models": []map[string]any{
				{"id": "yolov8n", "name": "YOLOv8 Nano", "type": "yolo", "active": true},
			}})
		case "/models/switch", "/llm/switch":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["model_id"] == "missing" {
				backendJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid model_id"})
				return
			}
			backendJSON(w, http.StatusOK, map[string]any{"success": true, "active_model": req["model_id"]})
		case "/llm/generate_report":
			backendJSON(w, http.StatusOK, map[string]any{"success": true, "report": map[string]any{
				"report_overview": "Blight pressure is high.",
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.Close)
	return b
}

// leafImage writes a small PNG and returns its path.
func leafImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{G: 160, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "leaf.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

type testEnv struct {
	backend *fakeBackend
	server  *Server
	http    *httptest.Server
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := newFakeBackend(t)

	cfg := config.DefaultConfig()
	cfg.APIBaseURL = backend.URL
	cfg.InferenceInterval = 20 * time.Millisecond
	cfg.TargetFPS = 20
	cfg.StatusInterval = 50 * time.Millisecond
	cfg.AcquisitionTimeout = 2 * time.Second
	cfg.RecordingOutputPath = t.TempDir()
	cfg.STUNServers = nil
	cfg.TimeZone = "UTC"

	m := metrics.New()
	srv := NewServer(cfg, inference.NewClient(cfg.APIBaseURL), m)
	srv.Start()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return &testEnv{backend: backend, server: srv, http: ts, metrics: m}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (e *testEnv) startSession(t *testing.T) {
	t.Helper()
	resp, body := e.postJSON(t, "/api/session/start", map[string]string{"source": "file:" + leafImage(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

// readSSEData returns the payload of the first data line, skipping comments.
func readSSEData(t *testing.T, url, accept string) (string, http.Header) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: "), resp.Header
		}
	}
	t.Fatalf("sse stream ended without data: %v", scanner.Err())
	return "", nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}
