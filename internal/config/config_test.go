package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auraa-fs/cropscan/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:5000", cfg.APIBaseURL)
	assert.Equal(t, time.Second, cfg.InferenceInterval)
	assert.Equal(t, 5*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 640, cfg.MaxDimension)
	assert.Equal(t, 70, cfg.JPEGQuality)
	assert.Equal(t, 100, cfg.HistoryCapacity)
	assert.Equal(t, 30, cfg.TargetFPS)
}

func TestLoadLayersYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cropscan.yaml")
	yml := []byte(`
api_base_url: http://backend:9000
inference_interval: 2s
history_capacity: 50
mqtt:
  broker: tcp://broker:1883
  topic: farm/field-7
`)
	require.NoError(t, os.WriteFile(path, yml, 0o644))

	t.Setenv("CROPSCAN_HISTORY_CAPACITY", "75")
	t.Setenv("CROPSCAN_INFERENCE_TIMEOUT", "1500")
	t.Setenv("CROPSCAN_STUN", "stun:a:1, stun:b:2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.APIBaseURL)
	assert.Equal(t, 2*time.Second, cfg.InferenceInterval)
	assert.Equal(t, 75, cfg.HistoryCapacity)
	assert.Equal(t, 1500*time.Millisecond, cfg.InferenceTimeout)
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, cfg.STUNServers)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "farm/field-7", cfg.MQTT.Topic)
	assert.Equal(t, "cropscan", cfg.MQTT.ClientID)
}

func TestLoadIgnoresUnparseableEnv(t *testing.T) {
	var buf bytes.Buffer
	logger.SetDefault(logger.New(logger.WARN, &buf, false))
	t.Cleanup(func() { logger.SetDefault(nil) })

	t.Setenv("CROPSCAN_TARGET_FPS", "fast")
	t.Setenv("CROPSCAN_INFERENCE_TIMEOUT", "soon")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.TargetFPS)
	assert.Equal(t, DefaultConfig().InferenceTimeout, cfg.InferenceTimeout)

	out := buf.String()
	assert.Contains(t, out, "[WARN] [Config] failed to parse CROPSCAN_TARGET_FPS as int")
	assert.Contains(t, out, "failed to parse CROPSCAN_INFERENCE_TIMEOUT as duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty base url":  func(c *Config) { c.APIBaseURL = "" },
		"zero interval":   func(c *Config) { c.InferenceInterval = 0 },
		"zero timeout":    func(c *Config) { c.InferenceTimeout = 0 },
		"quality too big": func(c *Config) { c.JPEGQuality = 101 },
		"zero capacity":   func(c *Config) { c.HistoryCapacity = 0 },
		"bad zone":        func(c *Config) { c.TimeZone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
