package dashboard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var log = logger.For("Dashboard")

// SerializedEvent holds a payload pre-serialized in both wire formats so
// each subscriber only picks one.
type SerializedEvent struct {
	JSONData     []byte // JSON text
	ProtobufData []byte // base64 of a google.protobuf.Struct
}

// serialize encodes v as JSON and as a base64 protobuf Struct of the same shape.
func serialize(v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(pbData)))
	base64.StdEncoding.Encode(encoded, pbData)
	return &SerializedEvent{JSONData: jsonData, ProtobufData: encoded}, nil
}

// fanout is the subscriber registry shared by the broadcasters. Sends never
// block: a client whose buffer is full misses the message.
type fanout[T any] struct {
	name    string
	mu      sync.RWMutex
	clients map[int]chan T
	nextID  int
	gauge   func(n int)
	drop    func()
}

func newFanout[T any](name string, m *metrics.Metrics, channel string) *fanout[T] {
	f := &fanout[T]{name: name, clients: make(map[int]chan T)}
	if m != nil {
		f.gauge = func(n int) { m.ActiveClients.WithLabelValues(channel).Set(float64(n)) }
	}
	return f
}

// Subscribe adds a new client and returns its channel.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, 2)
	f.clients[id] = ch
	if f.gauge != nil {
		f.gauge(len(f.clients))
	}
	log.Debug("%s client #%d subscribed (total clients: %d)", f.name, id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		if f.gauge != nil {
			f.gauge(len(f.clients))
		}
		log.Debug("%s client #%d unsubscribed (total clients: %d)", f.name, id, len(f.clients))
	}
}

// ClientCount returns the number of subscribers.
func (f *fanout[T]) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// Skip slow client
			if f.drop != nil {
				f.drop()
			}
		}
	}
}

// FrameBroadcaster fans rendered overlay JPEGs out to MJPEG viewers.
type FrameBroadcaster struct {
	*fanout[[]byte]
}

func NewFrameBroadcaster(m *metrics.Metrics) *FrameBroadcaster {
	f := newFanout[[]byte]("Frames", m, "mjpeg")
	if m != nil {
		f.drop = m.FramesDropped.Inc
	}
	return &FrameBroadcaster{fanout: f}
}

// PublishFrame implements pipeline.FrameSink.
func (b *FrameBroadcaster) PublishFrame(frame types.RenderedFrame) {
	b.broadcast(frame.JPEG)
}

// DetectionBroadcaster fans detection events out to SSE and WebSocket clients.
type DetectionBroadcaster struct {
	*fanout[*SerializedEvent]
}

func NewDetectionBroadcaster(m *metrics.Metrics) *DetectionBroadcaster {
	return &DetectionBroadcaster{fanout: newFanout[*SerializedEvent]("Detections", m, "detections")}
}

// PublishEvent implements pipeline.EventSink.
func (b *DetectionBroadcaster) PublishEvent(ev types.DetectionEvent) {
	if b.ClientCount() == 0 {
		return
	}
	event, err := serialize(ev)
	if err != nil {
		log.Error("Failed to serialize detection event: %v", err)
		return
	}
	b.broadcast(event)
}

// StatusBroadcaster polls a status provider and fans snapshots out to SSE
// clients.
type StatusBroadcaster struct {
	*fanout[*SerializedEvent]
	provider func() any
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func NewStatusBroadcaster(provider func() any, interval time.Duration, m *metrics.Metrics) *StatusBroadcaster {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusBroadcaster{
		fanout:   newFanout[*SerializedEvent]("Status", m, "status"),
		provider: provider,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins polling in a goroutine.
func (b *StatusBroadcaster) Start() {
	go b.run()
}

// Stop stops polling. Subscribers keep their channels until they unsubscribe.
func (b *StatusBroadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *StatusBroadcaster) run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if b.ClientCount() == 0 {
				continue
			}
			b.Broadcast()
		}
	}
}

// Broadcast sends one status snapshot immediately.
func (b *StatusBroadcaster) Broadcast() {
	event, err := serialize(b.provider())
	if err != nil {
		log.Error("Failed to serialize status: %v", err)
		return
	}
	b.broadcast(event)
}
