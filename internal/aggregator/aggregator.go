// Package aggregator keeps the rolling detection history of a session,
// whole-session per-class totals and per-second timeline buckets, and derives
// live stats from them.
package aggregator

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/auraa-fs/cropscan/pkg/types"
)

const (
	// DefaultCapacity is the number of detection events kept.
	DefaultCapacity = 100
	// latencyWindow is the number of recent ticks averaged for latency.
	latencyWindow = 30
)

// Stats is a point-in-time summary of a session's inference activity.
type Stats struct {
	TotalTicks    int                `json:"total_ticks"`
	DetectedTicks int                `json:"detected_ticks"`
	DetectionRate float64            `json:"detection_rate"` // percent of ticks with boxes
	InferenceFPS  float64            `json:"inference_fps"`
	AvgLatencyMs  int64              `json:"avg_latency_ms"`
	ClassAvgConf  map[string]float64 `json:"class_avg_confidence"`
	HistoryLen    int                `json:"history_len"`
}

// ClassTotals accumulates one class over the whole session.
type ClassTotals struct {
	Name   string
	Sum    float64 // sum of box confidences
	Boxes  int
	Frames int     // events containing the class
	Area   float64 // sum of normalized box areas
}

// Bucket holds the highest rounded confidence per class within one second.
type Bucket struct {
	Second int64 // Unix seconds
	Values map[string]int
}

// Snapshot is an immutable copy of the aggregator state. Events is the
// bounded live history, oldest first. Classes (first-seen order) and
// Buckets (chronological) cover every tick since the session started.
type Snapshot struct {
	Events  []types.DetectionEvent
	Classes []ClassTotals
	Buckets []Bucket
	Started time.Time
	Taken   time.Time
}

// Aggregator is a bounded, append-only ring of detection events. Safe for
// concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	capacity int
	ring     []types.DetectionEvent
	head     int // index of the oldest event once the ring is full
	now      func() time.Time

	started       time.Time
	totalTicks    int
	detectedTicks int
	latencies     [latencyWindow]int64
	latencyCount  int
	classes       map[string]*ClassTotals
	classOrder    []*ClassTotals
	buckets       map[int64]map[string]int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New returns an aggregator holding at most capacity events.
func New(capacity int, opts ...Option) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Aggregator{
		capacity: capacity,
		ring:     make([]types.DetectionEvent, 0, capacity),
		now:      time.Now,
		classes:  make(map[string]*ClassTotals),
		buckets:  make(map[int64]map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.now()
	return a
}

// Push records one inference tick. Every tick counts toward the stats; only
// events carrying at least one box enter the history, evicting the oldest
// beyond capacity.
func (a *Aggregator) Push(ev types.DetectionEvent) {
	ev = ev.Clone()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalTicks++
	a.latencies[a.latencyCount%latencyWindow] = ev.LatencyMs
	a.latencyCount++

	if len(ev.Boxes) == 0 {
		return
	}
	a.detectedTicks++
	sec := floorDiv(ev.Timestamp, 1000)
	bucket := a.buckets[sec]
	if bucket == nil {
		bucket = make(map[string]int)
		a.buckets[sec] = bucket
	}
	seen := make(map[string]bool, len(ev.Boxes))
	for _, b := range ev.Boxes {
		t := a.classes[b.Class]
		if t == nil {
			t = &ClassTotals{Name: b.Class}
			a.classes[b.Class] = t
			a.classOrder = append(a.classOrder, t)
		}
		t.Sum += b.Confidence
		t.Area += b.Area()
		t.Boxes++
		if !seen[b.Class] {
			seen[b.Class] = true
			t.Frames++
		}

		conf := int(math.Round(b.Confidence))
		if prev, ok := bucket[b.Class]; !ok || conf > prev {
			bucket[b.Class] = conf
		}
	}

	if len(a.ring) < a.capacity {
		a.ring = append(a.ring, ev)
		return
	}
	a.ring[a.head] = ev
	a.head = (a.head + 1) % a.capacity
}

// Len returns the number of events currently held.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ring)
}

// Snapshot returns a deep copy of the history in insertion order.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	events := make([]types.DetectionEvent, 0, len(a.ring))
	for i := 0; i < len(a.ring); i++ {
		events = append(events, a.ring[(a.head+i)%len(a.ring)].Clone())
	}

	classes := make([]ClassTotals, 0, len(a.classOrder))
	for _, t := range a.classOrder {
		classes = append(classes, *t)
	}

	secs := make([]int64, 0, len(a.buckets))
	for sec := range a.buckets {
		secs = append(secs, sec)
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i] < secs[j] })
	buckets := make([]Bucket, 0, len(secs))
	for _, sec := range secs {
		values := make(map[string]int, len(a.buckets[sec]))
		for k, v := range a.buckets[sec] {
			values[k] = v
		}
		buckets = append(buckets, Bucket{Second: sec, Values: values})
	}

	return Snapshot{
		Events:  events,
		Classes: classes,
		Buckets: buckets,
		Started: a.started,
		Taken:   a.now(),
	}
}

// Stats summarizes all ticks pushed so far.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		TotalTicks:    a.totalTicks,
		DetectedTicks: a.detectedTicks,
		ClassAvgConf:  make(map[string]float64, len(a.classes)),
		HistoryLen:    len(a.ring),
	}
	if a.totalTicks > 0 {
		s.DetectionRate = float64(a.detectedTicks) / float64(a.totalTicks) * 100
	}
	if elapsed := a.now().Sub(a.started).Seconds(); elapsed > 0 {
		s.InferenceFPS = float64(a.totalTicks) / elapsed
	}

	n := min(a.latencyCount, latencyWindow)
	if n > 0 {
		var sum int64
		for i := 0; i < n; i++ {
			sum += a.latencies[i]
		}
		s.AvgLatencyMs = sum / int64(n)
	}

	for name, t := range a.classes {
		s.ClassAvgConf[name] = t.Sum / float64(t.Boxes)
	}
	return s
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
