package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	timeKey = "time"
	// classKeyPrefix escapes class names that would collide with timeKey.
	classKeyPrefix = "class:"
)

// Report is the read-only session summary consumed by the display layer and
// posted to /llm/generate_report as analysis_data.
type Report struct {
	ID            string           `json:"id"`
	Source        string           `json:"source"`
	Duration      string           `json:"duration"`
	TotalDiseases int              `json:"totalDiseases"`
	TimelineData  []TimePoint      `json:"timelineData"`
	Diseases      []DiseaseSummary `json:"diseases"`
}

// DiseaseSummary aggregates one class across a whole session.
type DiseaseSummary struct {
	Name          string `json:"name"`
	Severity      string `json:"severity"`
	AffectedArea  string `json:"affectedArea"`
	Description   string `json:"description"`
	AvgConfidence int    `json:"avgConfidence"`
	// Synthetic marks the placeholder entry emitted when nothing was detected.
	Synthetic bool `json:"synthetic,omitempty"`
}

// TimePoint is one timeline bucket: a one-second window with the max
// confidence seen per class. It serializes flat, e.g. {"time":"04:24:30 PM","Blast":90}.
// A class named "time" (or already starting with "class:") is written with a
// "class:" prefix.
type TimePoint struct {
	Time   string
	Second int64 // Unix seconds of the bucket
	Values map[string]int
}

// MarshalJSON flattens the per-class values next to the time label.
func (p TimePoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Values)+1)
	for k, v := range p.Values {
		out[classKey(k)] = v
	}
	out[timeKey] = p.Time
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON. Second is not carried on the wire.
func (p *TimePoint) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Values = make(map[string]int, len(raw))
	for k, v := range raw {
		if k == timeKey {
			if err := json.Unmarshal(v, &p.Time); err != nil {
				return fmt.Errorf("time: %w", err)
			}
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		p.Values[strings.TrimPrefix(k, classKeyPrefix)] = int(n)
	}
	return nil
}

func classKey(name string) string {
	if name == timeKey || strings.HasPrefix(name, classKeyPrefix) {
		return classKeyPrefix + name
	}
	return name
}
