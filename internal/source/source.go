// Package source acquires live decoded frames from a camera bridge, local
// files, or a network MJPEG stream behind one Source interface.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var log = logger.For("Source")

var (
	// ErrNoFrame is returned by producers that end before emitting anything.
	ErrNoFrame = errors.New("source produced no frame")
	// ErrStopped is returned when Start is called on a stopped source.
	ErrStopped = errors.New("source stopped")
)

// Source yields the latest decoded frame of a live input.
type Source interface {
	// Start blocks until the first frame is available or acquisition fails
	// with an *AcquisitionError.
	Start(ctx context.Context) error
	// Frame returns the most recent frame, if any.
	Frame() (*types.Frame, bool)
	// Stop releases the underlying resources. Safe to call repeatedly and
	// before Start has returned.
	Stop() error
	// Done is closed once the source has ended, for any reason.
	Done() <-chan struct{}
	// Err reports why the source ended, nil after a clean Stop.
	Err() error
	Name() string
	Kind() types.SourceKind
}

// AcquisitionError reports that a source could not deliver its first frame.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Spec is a parsed source selector.
type Spec struct {
	Kind   types.SourceKind
	Target string
}

func (s Spec) String() string {
	return string(s.Kind) + ":" + s.Target
}

// ParseSpec parses a selector:
//
//	camera:<snapshot-url>   still-image endpoint of a camera bridge, polled
//	file:<path> | <path>    image file or directory of images, looped
//	http(s)://...           MJPEG multipart stream
func ParseSpec(selector string) (Spec, error) {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return Spec{}, fmt.Errorf("empty source selector")
	}

	switch {
	case strings.HasPrefix(sel, "camera:"):
		target := strings.TrimPrefix(sel, "camera:")
		if err := checkHTTPURL(target); err != nil {
			return Spec{}, fmt.Errorf("camera source: %w", err)
		}
		return Spec{Kind: types.SourceCamera, Target: target}, nil
	case strings.HasPrefix(sel, "file:"):
		target := strings.TrimPrefix(sel, "file:")
		if target == "" {
			return Spec{}, fmt.Errorf("file source: empty path")
		}
		return Spec{Kind: types.SourceFile, Target: target}, nil
	case strings.HasPrefix(sel, "http://"), strings.HasPrefix(sel, "https://"):
		if err := checkHTTPURL(sel); err != nil {
			return Spec{}, fmt.Errorf("network source: %w", err)
		}
		return Spec{Kind: types.SourceNetwork, Target: sel}, nil
	default:
		return Spec{Kind: types.SourceFile, Target: sel}, nil
	}
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// Options tune acquisition for every source kind.
type Options struct {
	HTTPClient         *http.Client
	PollInterval       time.Duration // camera polling and directory playback cadence
	AcquisitionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.AcquisitionTimeout <= 0 {
		o.AcquisitionTimeout = 10 * time.Second
	}
	return o
}

// Open builds the Source for spec. Nothing is acquired until Start.
func Open(spec Spec, opts Options) (Source, error) {
	opts = opts.withDefaults()

	var produce producer
	switch spec.Kind {
	case types.SourceCamera:
		produce = snapshotProducer(opts.HTTPClient, spec.Target, opts.PollInterval)
	case types.SourceFile:
		produce = fileProducer(spec.Target, opts.PollInterval)
	case types.SourceNetwork:
		produce = mjpegProducer(opts.HTTPClient, spec.Target)
	default:
		return nil, fmt.Errorf("unknown source kind %q", spec.Kind)
	}
	return newLoop(spec, produce, opts.AcquisitionTimeout), nil
}

// producer runs until ctx is canceled or the input ends, calling emit for
// every decoded image.
type producer func(ctx context.Context, emit func(image.Image)) error

// loop drives a producer and holds the latest frame.
type loop struct {
	spec    Spec
	produce producer
	timeout time.Duration

	latest atomic.Pointer[types.Frame]
	seq    atomic.Uint64

	first     chan struct{}
	firstOnce sync.Once

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	stopOnce sync.Once
}

func newLoop(spec Spec, produce producer, timeout time.Duration) *loop {
	return &loop{
		spec:    spec,
		produce: produce,
		timeout: timeout,
		first:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *loop) Name() string           { return l.spec.String() }
func (l *loop) Kind() types.SourceKind { return l.spec.Kind }
func (l *loop) Done() <-chan struct{}  { return l.done }

func (l *loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *loop) Frame() (*types.Frame, bool) {
	f := l.latest.Load()
	return f, f != nil
}

func (l *loop) emit(img image.Image) {
	b := img.Bounds()
	l.latest.Store(&types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Seq:       l.seq.Add(1),
		Width:     b.Dx(),
		Height:    b.Dy(),
	})
	l.firstOnce.Do(func() { close(l.first) })
}

func (l *loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return &AcquisitionError{Source: l.Name(), Err: ErrStopped}
	}
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("source %s already started", l.Name())
	}
	l.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.mu.Unlock()

	go l.run(runCtx)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case <-l.first:
		log.Info("%s streaming", l.Name())
		return nil
	case <-l.done:
		err := l.Err()
		if err == nil {
			err = ErrNoFrame
		}
		return &AcquisitionError{Source: l.Name(), Err: err}
	case <-timer.C:
		_ = l.Stop()
		return &AcquisitionError{Source: l.Name(), Err: fmt.Errorf("no frame within %s", l.timeout)}
	case <-ctx.Done():
		_ = l.Stop()
		return &AcquisitionError{Source: l.Name(), Err: ctx.Err()}
	}
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)
	err := l.produce(ctx, l.emit)
	if err != nil && ctx.Err() == nil {
		log.Warn("%s ended: %v", l.Name(), err)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
	}
}

func (l *loop) Stop() error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		cancel := l.cancel
		started := l.started
		l.mu.Unlock()

		if !started {
			close(l.done)
			return
		}
		cancel()
		<-l.done
		log.Debug("%s released", l.Name())
	})
	return nil
}
