package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInferenceCountsErrors(t *testing.T) {
	m := New()

	m.ObserveInference(120*time.Millisecond, nil)
	m.ObserveInference(80*time.Millisecond, errors.New("502"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InferenceErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.InferenceLatency))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Detections.WithLabelValues("Leaf Blight").Add(3)
	m.FramesRendered.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cropscan_detections_total{class="Leaf Blight"} 3`)
	assert.Contains(t, string(body), "cropscan_frames_rendered_total 1")
}
