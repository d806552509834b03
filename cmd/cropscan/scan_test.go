package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auraa-fs/cropscan/internal/config"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/internal/publisher"
	"github.com/auraa-fs/cropscan/pkg/types"
)

func writeLeaf(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
}

func testBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/stream/detect":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "detections": []map[string]any{
				{"class": "Rust", "conf": "72", "x": 0.2, "y": 0.2, "w": 0.3, "h": 0.3},
			}})
		case "/llm/generate_report":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "no engine"})
		case "/predict":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "disease": "Rust", "confidence": 72})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func useConfig(t *testing.T, backendURL string) {
	t.Helper()
	prev := cfg
	cfg = config.DefaultConfig()
	cfg.APIBaseURL = backendURL
	cfg.InferenceInterval = 20 * time.Millisecond
	cfg.TargetFPS = 20
	cfg.TimeZone = "UTC"
	t.Cleanup(func() { cfg = prev })
}

func TestScanDirectoryProducesReport(t *testing.T) {
	useConfig(t, testBackend(t).URL)
	dir := t.TempDir()
	writeLeaf(t, dir, "a.jpg")
	writeLeaf(t, dir, "b.jpg")

	out, err := scan(context.Background(), dir, 300*time.Millisecond, true)
	require.NoError(t, err)

	require.NotEmpty(t, out.Report.Diseases)
	assert.Equal(t, "Rust", out.Report.Diseases[0].Name)
	assert.Equal(t, 72, out.Report.Diseases[0].AvgConfidence)
	assert.Equal(t, "Moderate", out.Report.Diseases[0].Severity)
	assert.Regexp(t, `^FILE-`, out.Report.ID)
	assert.Nil(t, out.LLMReport)
	assert.Contains(t, out.LLMError, "no engine")
}

func TestScanRejectsBadSource(t *testing.T) {
	useConfig(t, testBackend(t).URL)
	_, err := scan(context.Background(), "camera:ftp://nope", time.Second, false)
	assert.Error(t, err)
}

func TestPredictCommand(t *testing.T) {
	useConfig(t, testBackend(t).URL)
	dir := t.TempDir()
	writeLeaf(t, dir, "leaf.jpg")

	cmd := newPredictCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{filepath.Join(dir, "leaf.jpg")})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"disease": "Rust"`)

	cmd = newPredictCmd()
	cmd.SetArgs([]string{filepath.Join(dir, "missing.jpg")})
	cmd.SetContext(context.Background())
	assert.Error(t, cmd.Execute())
}

type doneToken struct{ done chan struct{} }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{}          { return t.done }
func (t doneToken) Error() error                   { return nil }

type slowBroker struct {
	mu     sync.Mutex
	topics []string
}

func (b *slowBroker) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	time.Sleep(20 * time.Millisecond)
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
	done := make(chan struct{})
	close(done)
	return doneToken{done: done}
}

func TestRunPublisherFlushesBeforeReturning(t *testing.T) {
	broker := &slowBroker{}
	pub := publisher.New(broker, "farm", metrics.New())
	stop := runPublisher(pub)

	box := types.DetectionBox{Class: "Rust", Confidence: 70, W: 0.1, H: 0.1}
	for i := 0; i < 3; i++ {
		pub.PublishEvent(types.DetectionEvent{Timestamp: int64(i), Boxes: []types.DetectionBox{box}})
	}
	pub.PublishReport(types.Report{ID: "FILE-12345678"})
	stop()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Len(t, broker.topics, 4)
	assert.Equal(t, "farm/report", broker.topics[3])
}
