package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/auraa-fs/cropscan/internal/logger"
)

var log = logger.For("Config")

// Config defines the runtime configuration for the dashboard and the headless CLI.
type Config struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`

	// Backend origin serving /stream/detect, /predict, /llm/* and /models.
	APIBaseURL string `yaml:"api_base_url"`

	InferenceInterval  time.Duration `yaml:"inference_interval"`
	InferenceTimeout   time.Duration `yaml:"inference_timeout"`
	AcquisitionTimeout time.Duration `yaml:"acquisition_timeout"`
	TargetFPS          int           `yaml:"target_fps"`
	StatusInterval     time.Duration `yaml:"status_interval"`
	HistoryCapacity    int           `yaml:"history_capacity"`

	MaxDimension int `yaml:"max_dimension"`
	JPEGQuality  int `yaml:"jpeg_quality"`

	// Location used for timeline labels; empty means the local zone.
	TimeZone string `yaml:"time_zone"`

	RecordingOutputPath string `yaml:"recording_path"`

	STUNServers []string `yaml:"stun_servers"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional telemetry publisher. Empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig returns a config matching the dashboard's historical behavior.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		LogLevel:            "info",
		APIBaseURL:          "http://localhost:5000",
		InferenceInterval:   1000 * time.Millisecond,
		InferenceTimeout:    5 * time.Second,
		AcquisitionTimeout:  10 * time.Second,
		TargetFPS:           30,
		StatusInterval:      2 * time.Second,
		HistoryCapacity:     100,
		MaxDimension:        640,
		JPEGQuality:         70,
		RecordingOutputPath: "./recordings",
		STUNServers:         []string{"stun:stun.l.google.com:19302"},
		MQTT: MQTTConfig{
			ClientID: "cropscan",
			Topic:    "cropscan",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, a .env file and
// the process environment, in that order. CLI flags are applied by the caller.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("CROPSCAN_ADDR", c.Addr)
	c.LogLevel = getEnv("CROPSCAN_LOG_LEVEL", c.LogLevel)
	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.InferenceInterval = getEnvDuration("CROPSCAN_INFERENCE_INTERVAL", c.InferenceInterval)
	c.InferenceTimeout = getEnvDuration("CROPSCAN_INFERENCE_TIMEOUT", c.InferenceTimeout)
	c.AcquisitionTimeout = getEnvDuration("CROPSCAN_ACQUISITION_TIMEOUT", c.AcquisitionTimeout)
	c.TargetFPS = getEnvInt("CROPSCAN_TARGET_FPS", c.TargetFPS)
	c.HistoryCapacity = getEnvInt("CROPSCAN_HISTORY_CAPACITY", c.HistoryCapacity)
	c.MaxDimension = getEnvInt("CROPSCAN_MAX_DIMENSION", c.MaxDimension)
	c.JPEGQuality = getEnvInt("CROPSCAN_JPEG_QUALITY", c.JPEGQuality)
	c.TimeZone = getEnv("CROPSCAN_TIME_ZONE", c.TimeZone)
	c.RecordingOutputPath = getEnv("CROPSCAN_RECORDING_PATH", c.RecordingOutputPath)
	if v := os.Getenv("CROPSCAN_STUN"); v != "" {
		c.STUNServers = splitList(v)
	}

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.APIBaseURL == "":
		return fmt.Errorf("api base url is required")
	case c.InferenceInterval <= 0:
		return fmt.Errorf("inference interval must be positive, got %s", c.InferenceInterval)
	case c.InferenceTimeout <= 0:
		return fmt.Errorf("inference timeout must be positive, got %s", c.InferenceTimeout)
	case c.TargetFPS <= 0:
		return fmt.Errorf("target fps must be positive, got %d", c.TargetFPS)
	case c.HistoryCapacity <= 0:
		return fmt.Errorf("history capacity must be positive, got %d", c.HistoryCapacity)
	case c.MaxDimension <= 0:
		return fmt.Errorf("max dimension must be positive, got %d", c.MaxDimension)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality must be in 1..100, got %d", c.JPEGQuality)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TimeZone, defaulting to time.Local.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn("failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go durations ("1500ms") or bare milliseconds ("1500").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn("failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
