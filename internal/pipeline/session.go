// Package pipeline runs a live-detection session: frames from a source are
// rendered with the latest boxes at display cadence while, independently,
// one frame per interval is encoded and sent for inference.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/auraa-fs/cropscan/internal/aggregator"
	"github.com/auraa-fs/cropscan/internal/encoder"
	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/internal/report"
	"github.com/auraa-fs/cropscan/internal/source"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var log = logger.For("Pipeline")

// Detector runs inference on one encoded frame.
type Detector interface {
	Detect(ctx context.Context, frame types.EncodedFrame) ([]types.DetectionBox, error)
}

// EventSink receives every inference tick's event. Implementations must not block.
type EventSink interface {
	PublishEvent(ev types.DetectionEvent)
}

// FrameSink receives rendered overlay frames. Implementations must not block.
type FrameSink interface {
	PublishFrame(f types.RenderedFrame)
}

// ReportSink receives the session report once it is built.
type ReportSink interface {
	PublishReport(r types.Report)
}

// Config tunes the two cadences and the payloads.
type Config struct {
	InferenceInterval time.Duration
	TargetFPS         int
	HistoryCapacity   int
	Encoder           encoder.Options // inference payload
	RenderQuality     int             // JPEG quality of rendered frames
	Location          *time.Location  // report timeline zone
}

// DefaultConfig returns a 1s inference interval, 30 fps rendering and a
// 100-event history.
func DefaultConfig() Config {
	return Config{
		InferenceInterval: time.Second,
		TargetFPS:         30,
		HistoryCapacity:   aggregator.DefaultCapacity,
		Encoder:           encoder.DefaultOptions(),
		RenderQuality:     80,
	}
}

// Option configures a Session.
type Option func(*Session)

func WithEventSink(s EventSink) Option {
	return func(se *Session) { se.eventSinks = append(se.eventSinks, s) }
}

func WithFrameSink(s FrameSink) Option {
	return func(se *Session) { se.frameSinks = append(se.frameSinks, s) }
}

func WithReportSink(s ReportSink) Option {
	return func(se *Session) { se.reportSinks = append(se.reportSinks, s) }
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.Metrics) Option { return func(se *Session) { se.metrics = m } }

// Session owns one stream-and-analyze interaction. It is single use: once
// Stopped it cannot be restarted.
type Session struct {
	id  string
	cfg Config
	src source.Source
	det Detector
	agg *aggregator.Aggregator

	metrics     *metrics.Metrics
	eventSinks  []EventSink
	frameSinks  []FrameSink
	reportSinks []ReportSink

	state atomic.Int32
	// Written only by inference results, read by the render loop. Always
	// replaced whole.
	boxes atomic.Pointer[[]types.DetectionBox]
	// At most one detection request outstanding.
	inflight *semaphore.Weighted
	requests sync.WaitGroup
	skipped  atomic.Uint64

	mu            sync.Mutex
	startedAt     time.Time
	endedAt       time.Time
	err           error
	stopInference context.CancelFunc
	inferenceDone chan struct{}
	stopRender    context.CancelFunc
	renderDone    chan struct{}
	stopWatch     context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}

	reportOnce sync.Once
	report     types.Report
}

// New builds an Idle session reading from src and detecting with det.
func New(src source.Source, det Detector, cfg Config, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.InferenceInterval <= 0 {
		cfg.InferenceInterval = def.InferenceInterval
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = def.TargetFPS
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.Encoder.Quality <= 0 {
		cfg.Encoder = def.Encoder
	}
	if cfg.RenderQuality <= 0 {
		cfg.RenderQuality = def.RenderQuality
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		src:      src,
		det:      det,
		agg:      aggregator.New(cfg.HistoryCapacity),
		inflight: semaphore.NewWeighted(1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Source() source.Source { return s.src }

// Done is closed once the session reaches Stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session stopped on its own, nil after an explicit Stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CurrentBoxes returns the boxes of the latest inference result.
func (s *Session) CurrentBoxes() []types.DetectionBox {
	if p := s.boxes.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns live inference stats.
func (s *Session) Stats() aggregator.Stats {
	return s.agg.Stats()
}

// Skipped returns the number of inference ticks dropped by backpressure.
func (s *Session) Skipped() uint64 { return s.skipped.Load() }

// Start acquires the source and, once a frame is available, starts the
// render and inference loops. Acquisition failures are returned as-is
// (typically *source.AcquisitionError) and leave the session Stopped.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Acquiring)) {
		if s.State() == Stopped {
			return ErrSessionStopped
		}
		return ErrSessionNotIdle
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	log.Info("session %s acquiring %s", s.id, s.src.Name())

	if err := s.src.Start(ctx); err != nil {
		log.Error("session %s: %v", s.id, err)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(Acquiring), int32(Streaming)) {
		// Stop won the race and is releasing the source.
		return ErrSessionStopped
	}
	s.startedAt = time.Now()

	inferCtx, stopInference := context.WithCancel(context.Background())
	renderCtx, stopRender := context.WithCancel(context.Background())
	watchCtx, stopWatch := context.WithCancel(context.Background())
	s.stopInference, s.stopRender, s.stopWatch = stopInference, stopRender, stopWatch
	s.inferenceDone = make(chan struct{})
	s.renderDone = make(chan struct{})

	go s.inferenceLoop(inferCtx)
	go s.renderLoop(renderCtx)
	go s.watchSource(watchCtx)

	log.Info("session %s streaming (inference every %s, render %d fps)", s.id, s.cfg.InferenceInterval, s.cfg.TargetFPS)
	return nil
}

// Stop tears the session down: inference timer first, then rendering, then
// the source. Idempotent and safe to call while Start is still acquiring.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		prev := State(s.state.Swap(int32(Stopped)))

		s.mu.Lock()
		s.endedAt = time.Now()
		stopInference, inferenceDone := s.stopInference, s.inferenceDone
		stopRender, renderDone := s.stopRender, s.renderDone
		stopWatch := s.stopWatch
		s.mu.Unlock()

		if stopInference != nil {
			stopInference()
			<-inferenceDone
		}
		if stopRender != nil {
			stopRender()
			<-renderDone
		}
		if stopWatch != nil {
			stopWatch()
		}
		if prev.Active() {
			if err := s.src.Stop(); err != nil {
				log.Warn("session %s: release %s: %v", s.id, s.src.Name(), err)
			}
			if s.metrics != nil {
				s.metrics.ActiveSessions.Dec()
			}
		}

		close(s.done)
		log.Info("session %s stopped (was %s)", s.id, prev)
	})
	return nil
}

// Report stops the session if needed and returns its report. The report is
// built once; later calls return the same value.
func (s *Session) Report() (types.Report, error) {
	_ = s.Stop()

	s.mu.Lock()
	started, ended := s.startedAt, s.endedAt
	s.mu.Unlock()
	if started.IsZero() {
		return types.Report{}, ErrSessionNotStarted
	}

	s.reportOnce.Do(func() {
		s.report = report.Build(s.agg.Snapshot(), report.Meta{
			Kind:     s.src.Kind(),
			Start:    started,
			End:      ended,
			Location: s.cfg.Location,
		})
		for _, sink := range s.reportSinks {
			sink.PublishReport(s.report)
		}
		log.Info("session %s report %s: %d diseases over %s", s.id, s.report.ID, s.report.TotalDiseases, s.report.Duration)
	})
	return s.report, nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	_ = s.Stop()
}

// watchSource stops the session when the source ends on its own.
func (s *Session) watchSource(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.src.Done():
		if ctx.Err() != nil {
			return
		}
		err := s.src.Err()
		if err == nil {
			err = source.ErrNoFrame
		}
		log.Error("session %s: source ended: %v", s.id, err)
		// Stop waits for loops that never wait on the watcher.
		go s.fail(err)
	}
}
