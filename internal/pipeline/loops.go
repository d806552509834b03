package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/auraa-fs/cropscan/internal/encoder"
	"github.com/auraa-fs/cropscan/internal/overlay"
	"github.com/auraa-fs/cropscan/pkg/types"
)

// inferenceLoop fires on a fixed interval. A tick issues a request only when
// none is outstanding; otherwise it is skipped.
func (s *Session) inferenceLoop(ctx context.Context) {
	defer close(s.inferenceDone)
	// Outstanding requests see ctx canceled; wait for them to unwind.
	defer s.requests.Wait()

	ticker := time.NewTicker(s.cfg.InferenceInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Session) tick(ctx context.Context) {
	if !s.inflight.TryAcquire(1) {
		s.skipped.Add(1)
		if s.metrics != nil {
			s.metrics.InferenceSkipped.Inc()
		}
		log.Debug("session %s: previous request outstanding, tick skipped", s.id)
		return
	}

	s.requests.Add(1)
	go func() {
		defer s.requests.Done()
		defer s.inflight.Release(1)
		s.infer(ctx)
	}()
}

func (s *Session) infer(ctx context.Context) {
	frame, ok := s.src.Frame()
	if !ok {
		return
	}
	enc, err := encoder.Encode(frame.Image, s.cfg.Encoder)
	if err != nil {
		log.Warn("session %s: encode frame %d: %v", s.id, frame.Seq, err)
		return
	}

	if s.metrics != nil {
		s.metrics.InferenceRequests.Inc()
		s.metrics.InferenceInFlight.Inc()
	}
	start := time.Now()
	boxes, err := s.det.Detect(ctx, enc)
	latency := time.Since(start)
	if s.metrics != nil {
		s.metrics.InferenceInFlight.Dec()
		s.metrics.ObserveInference(latency, err)
	}

	if ctx.Err() != nil {
		// Session is stopping; late results are discarded.
		return
	}
	if err != nil {
		log.Warn("session %s: detect failed, treating tick as empty: %v", s.id, err)
		boxes = nil
	}

	valid := make([]types.DetectionBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Valid() {
			valid = append(valid, b)
		}
	}
	s.boxes.Store(&valid)

	ev := types.DetectionEvent{
		Timestamp: time.Now().UnixMilli(),
		Boxes:     valid,
		LatencyMs: latency.Milliseconds(),
	}
	s.agg.Push(ev)

	if s.metrics != nil {
		for _, b := range valid {
			s.metrics.Detections.WithLabelValues(b.Class).Inc()
		}
	}
	for _, sink := range s.eventSinks {
		sink.PublishEvent(ev.Clone())
	}
}

// renderLoop redraws the latest frame with the current boxes at TargetFPS,
// independent of inference.
func (s *Session) renderLoop(ctx context.Context) {
	defer close(s.renderDone)

	limiter := rate.NewLimiter(rate.Limit(s.cfg.TargetFPS), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		frame, ok := s.src.Frame()
		if !ok {
			continue
		}

		stats := s.agg.Stats()
		img := overlay.Render(frame.Image, s.CurrentBoxes(), &overlay.HUD{
			FPS:           stats.InferenceFPS,
			AvgLatencyMs:  stats.AvgLatencyMs,
			DetectionRate: stats.DetectionRate,
		})
		if s.metrics != nil {
			s.metrics.FramesRendered.Inc()
		}
		if len(s.frameSinks) == 0 {
			continue
		}

		data, err := encoder.JPEG(img, s.cfg.RenderQuality)
		if err != nil {
			log.Warn("session %s: encode overlay: %v", s.id, err)
			continue
		}
		out := types.RenderedFrame{
			JPEG:      data,
			Seq:       frame.Seq,
			Timestamp: frame.Timestamp,
			Width:     img.Bounds().Dx(),
			Height:    img.Bounds().Dy(),
		}
		for _, sink := range s.frameSinks {
			sink.PublishFrame(out)
		}
	}
}
