package report

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auraa-fs/cropscan/internal/aggregator"
	"github.com/auraa-fs/cropscan/pkg/types"
)

func box(class string, conf float64) types.DetectionBox {
	return types.DetectionBox{Class: class, Confidence: conf, X: 0, Y: 0, W: 0.5, H: 0.2}
}

func snapshotOf(capacity int, events ...types.DetectionEvent) aggregator.Snapshot {
	agg := aggregator.New(capacity)
	for _, ev := range events {
		agg.Push(ev)
	}
	return agg.Snapshot()
}

func TestBuildThreeSecondSession(t *testing.T) {
	base := time.Date(2026, 3, 14, 16, 24, 30, 0, time.UTC)
	ms := base.UnixMilli()
	snap := snapshotOf(10,
		types.DetectionEvent{Timestamp: ms, Boxes: []types.DetectionBox{box("A", 70)}},
		types.DetectionEvent{Timestamp: ms + 400, Boxes: []types.DetectionBox{box("A", 90)}},
		types.DetectionEvent{Timestamp: ms + 1000, Boxes: []types.DetectionBox{box("B", 50)}},
	)
	snap.Started = base
	snap.Taken = base.Add(3 * time.Second)

	rep := Build(snap, Meta{Kind: types.SourceCamera, Location: time.UTC})

	require.Len(t, rep.TimelineData, 2)
	assert.Equal(t, "04:24:30 PM", rep.TimelineData[0].Time)
	assert.Equal(t, map[string]int{"A": 90}, rep.TimelineData[0].Values)
	assert.Equal(t, "04:24:31 PM", rep.TimelineData[1].Time)
	assert.Equal(t, map[string]int{"B": 50}, rep.TimelineData[1].Values)

	require.Len(t, rep.Diseases, 2)
	assert.Equal(t, "A", rep.Diseases[0].Name)
	assert.Equal(t, 80, rep.Diseases[0].AvgConfidence)
	assert.Equal(t, "Moderate", rep.Diseases[0].Severity)
	assert.Equal(t, "Detected in 2 frames during session.", rep.Diseases[0].Description)
	assert.Equal(t, "10.0%", rep.Diseases[0].AffectedArea)
	assert.Equal(t, "B", rep.Diseases[1].Name)
	assert.Equal(t, 50, rep.Diseases[1].AvgConfidence)
	assert.Equal(t, "Low", rep.Diseases[1].Severity)

	assert.Equal(t, 2, rep.TotalDiseases)
	assert.Equal(t, "00m 03s", rep.Duration)
	assert.Equal(t, "Live Camera Feed", rep.Source)
	assert.Regexp(t, regexp.MustCompile(`^CAM-[0-9a-f]{8}$`), rep.ID)
}

func TestBuildNoDetectionsEmitsSyntheticHealthy(t *testing.T) {
	rep := Build(aggregator.Snapshot{}, Meta{Kind: types.SourceNetwork, ID: "NET-fixed"})

	require.Len(t, rep.Diseases, 1)
	h := rep.Diseases[0]
	assert.Equal(t, HealthyName, h.Name)
	assert.GreaterOrEqual(t, h.AvgConfidence, 95)
	assert.LessOrEqual(t, h.AvgConfidence, 100)
	assert.True(t, h.Synthetic)
	assert.Equal(t, 0, rep.TotalDiseases)
	assert.Empty(t, rep.TimelineData)
	assert.Equal(t, "NET-fixed", rep.ID)

	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"synthetic":true`)
}

func TestAvgConfidenceRoundsMean(t *testing.T) {
	snap := snapshotOf(10,
		types.DetectionEvent{Timestamp: 0, Boxes: []types.DetectionBox{box("Rust", 60.4), box("Rust", 61)}},
		types.DetectionEvent{Timestamp: 5000, Boxes: []types.DetectionBox{box("Rust", 62)}},
	)
	rep := Build(snap, Meta{Location: time.UTC})

	require.Len(t, rep.Diseases, 1)
	// (60.4 + 61 + 62) / 3 = 61.13
	assert.Equal(t, 61, rep.Diseases[0].AvgConfidence)
	assert.Equal(t, "Detected in 2 frames during session.", rep.Diseases[0].Description)
}

func TestTimelineIsChronological(t *testing.T) {
	snap := snapshotOf(10,
		types.DetectionEvent{Timestamp: 3000, Boxes: []types.DetectionBox{box("A", 10)}},
		types.DetectionEvent{Timestamp: 1000, Boxes: []types.DetectionBox{box("A", 20)}},
		types.DetectionEvent{Timestamp: 2999, Boxes: []types.DetectionBox{box("A", 30.5)}},
	)
	points := Timeline(snap.Buckets, time.UTC)
	require.Len(t, points, 3)
	assert.Equal(t, int64(1), points[0].Second)
	assert.Equal(t, int64(2), points[1].Second)
	assert.Equal(t, 31, points[1].Values["A"])
	assert.Equal(t, int64(3), points[2].Second)
}

func TestBuildCoversWholeSessionBeyondHistory(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	agg := aggregator.New(100)
	for i := 0; i < 300; i++ {
		class, conf := "Brown Spot", 70.0
		if i < 60 {
			class, conf = "Blast", 90.0
		}
		agg.Push(types.DetectionEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second).UnixMilli(),
			Boxes:     []types.DetectionBox{box(class, conf)},
		})
	}
	snap := agg.Snapshot()
	require.Len(t, snap.Events, 100)

	rep := Build(snap, Meta{Start: base, End: base.Add(300 * time.Second), Location: time.UTC})

	assert.Equal(t, "05m 00s", rep.Duration)
	assert.Equal(t, 2, rep.TotalDiseases)
	require.Len(t, rep.Diseases, 2)
	assert.Equal(t, "Blast", rep.Diseases[0].Name)
	assert.Equal(t, 90, rep.Diseases[0].AvgConfidence)
	assert.Equal(t, "Detected in 60 frames during session.", rep.Diseases[0].Description)
	assert.Equal(t, "Brown Spot", rep.Diseases[1].Name)
	assert.Equal(t, "Detected in 240 frames during session.", rep.Diseases[1].Description)

	require.Len(t, rep.TimelineData, 300)
	assert.Equal(t, "09:00:00 AM", rep.TimelineData[0].Time)
	assert.Equal(t, map[string]int{"Blast": 90}, rep.TimelineData[0].Values)
	assert.Equal(t, map[string]int{"Brown Spot": 70}, rep.TimelineData[299].Values)
}

func TestTimePointJSONIsFlat(t *testing.T) {
	raw, err := json.Marshal(types.TimePoint{Time: "04:24:30 PM", Values: map[string]int{"Blast": 90}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":"04:24:30 PM","Blast":90}`, string(raw))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00m 00s", FormatDuration(0))
	assert.Equal(t, "00m 00s", FormatDuration(-time.Second))
	assert.Equal(t, "01m 05s", FormatDuration(65*time.Second+900*time.Millisecond))
	assert.Equal(t, "125m 00s", FormatDuration(125*time.Minute))
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, "High", Severity(85))
	assert.Equal(t, "Moderate", Severity(60))
	assert.Equal(t, "Low", Severity(59))
}

func TestReportIDPrefixes(t *testing.T) {
	assert.Regexp(t, `^FILE-`, Build(aggregator.Snapshot{}, Meta{Kind: types.SourceFile}).ID)
	assert.Regexp(t, `^NET-`, Build(aggregator.Snapshot{}, Meta{Kind: types.SourceNetwork}).ID)
}
