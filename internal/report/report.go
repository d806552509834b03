// Package report turns a session's aggregated detections into the report shape
// consumed by the dashboard and the LLM report endpoint.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auraa-fs/cropscan/internal/aggregator"
	"github.com/auraa-fs/cropscan/pkg/types"
)

const (
	HealthyName = "Healthy"

	// TimeLabelLayout renders bucket labels like "04:24:30 PM".
	TimeLabelLayout = "03:04:05 PM"
)

// Meta describes the session a report is built for.
type Meta struct {
	Kind     types.SourceKind
	Source   string         // human label; defaults by Kind
	Start    time.Time      // session start
	End      time.Time      // session end; zero means the snapshot time
	Location *time.Location // timeline label zone; nil means time.Local
	ID       string         // fixed id; empty generates one
}

// Build derives the Report from snap. It never mutates snap.
func Build(snap aggregator.Snapshot, meta Meta) types.Report {
	loc := meta.Location
	if loc == nil {
		loc = time.Local
	}
	start := meta.Start
	if start.IsZero() {
		start = snap.Started
	}
	end := meta.End
	if end.IsZero() {
		end = snap.Taken
	}

	diseases := summarize(snap.Classes)
	total := len(diseases)
	if total == 0 {
		diseases = []types.DiseaseSummary{healthy()}
	}

	return types.Report{
		ID:            reportID(meta),
		Source:        sourceLabel(meta),
		Duration:      FormatDuration(end.Sub(start)),
		TotalDiseases: total,
		TimelineData:  Timeline(snap.Buckets, loc),
		Diseases:      diseases,
	}
}

// Timeline labels each per-second bucket in loc. Buckets are expected in
// chronological order, as Snapshot returns them.
func Timeline(buckets []aggregator.Bucket, loc *time.Location) []types.TimePoint {
	points := make([]types.TimePoint, 0, len(buckets))
	for _, b := range buckets {
		values := make(map[string]int, len(b.Values))
		for k, v := range b.Values {
			values[k] = v
		}
		points = append(points, types.TimePoint{
			Time:   time.Unix(b.Second, 0).In(loc).Format(TimeLabelLayout),
			Second: b.Second,
			Values: values,
		})
	}
	return points
}

func summarize(classes []aggregator.ClassTotals) []types.DiseaseSummary {
	out := make([]types.DiseaseSummary, 0, len(classes))
	for _, c := range classes {
		if c.Boxes == 0 {
			continue
		}
		avg := int(math.Round(c.Sum / float64(c.Boxes)))
		out = append(out, types.DiseaseSummary{
			Name:          c.Name,
			Severity:      Severity(avg),
			AffectedArea:  fmt.Sprintf("%.1f%%", c.Area/float64(c.Boxes)*100),
			Description:   fmt.Sprintf("Detected in %d frames during session.", c.Frames),
			AvgConfidence: avg,
		})
	}
	return out
}

// Severity grades a class by its mean confidence.
func Severity(avgConfidence int) string {
	switch {
	case avgConfidence >= 85:
		return "High"
	case avgConfidence >= 60:
		return "Moderate"
	default:
		return "Low"
	}
}

func healthy() types.DiseaseSummary {
	return types.DiseaseSummary{
		Name:          HealthyName,
		Severity:      "None",
		AffectedArea:  "0%",
		Description:   "No diseases detected",
		AvgConfidence: 100,
		Synthetic:     true,
	}
}

// FormatDuration renders d as "MMm SSs", truncated to whole seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02dm %02ds", secs/60, secs%60)
}

func reportID(meta Meta) string {
	if meta.ID != "" {
		return meta.ID
	}
	prefix := "CAM"
	switch meta.Kind {
	case types.SourceFile:
		prefix = "FILE"
	case types.SourceNetwork:
		prefix = "NET"
	}
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func sourceLabel(meta Meta) string {
	if meta.Source != "" {
		return meta.Source
	}
	switch meta.Kind {
	case types.SourceFile:
		return "Video File"
	case types.SourceNetwork:
		return "Network Stream"
	default:
		return "Live Camera Feed"
	}
}
