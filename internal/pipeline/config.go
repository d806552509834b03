package pipeline

import (
	"time"

	"github.com/auraa-fs/cropscan/internal/config"
	"github.com/auraa-fs/cropscan/internal/encoder"
	"github.com/auraa-fs/cropscan/internal/source"
)

// FromConfig maps service configuration onto session tuning. An invalid
// time zone falls back to the local one.
func FromConfig(c config.Config) Config {
	cfg := DefaultConfig()
	cfg.InferenceInterval = c.InferenceInterval
	cfg.TargetFPS = c.TargetFPS
	cfg.HistoryCapacity = c.HistoryCapacity
	cfg.Encoder = encoder.Options{MaxDimension: c.MaxDimension, Quality: c.JPEGQuality}

	loc, err := c.Location()
	if err != nil {
		log.Warn("time zone %q: %v, using local", c.TimeZone, err)
		loc = time.Local
	}
	cfg.Location = loc
	return cfg
}

// SourceOptions maps service configuration onto frame acquisition. Cameras
// are polled at the render cadence.
func SourceOptions(c config.Config) source.Options {
	opts := source.Options{AcquisitionTimeout: c.AcquisitionTimeout}
	if c.TargetFPS > 0 {
		opts.PollInterval = time.Second / time.Duration(c.TargetFPS)
	}
	return opts
}
