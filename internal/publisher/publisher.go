// Package publisher forwards detection events and session reports to an
// MQTT broker for field telemetry.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/auraa-fs/cropscan/internal/config"
	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var log = logger.For("MQTT")

const (
	qos         = 0
	publishWait = 2 * time.Second
)

// Client is the part of the paho client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type message struct {
	topic   string
	payload []byte
}

// Publisher publishes from a buffered channel so pipeline sinks never block
// on the network.
type Publisher struct {
	client  Client
	topic   string
	queue   chan message
	metrics *metrics.Metrics
	closer  func()
}

// Connect dials the broker in cfg and returns a publisher bound to it.
func Connect(cfg config.MQTTConfig, m *metrics.Metrics) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("Connected to broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("Connection lost: %v", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p := New(client, cfg.Topic, m)
	p.closer = func() { client.Disconnect(250) }
	return p, nil
}

// New wraps an already connected client.
func New(client Client, topic string, m *metrics.Metrics) *Publisher {
	return &Publisher{
		client:  client,
		topic:   topic,
		queue:   make(chan message, 32),
		metrics: m,
	}
}

// DetectionsTopic is where events with at least one box are published.
func (p *Publisher) DetectionsTopic() string { return p.topic + "/detections" }

// ReportTopic is where final session reports are published.
func (p *Publisher) ReportTopic() string { return p.topic + "/report" }

// PublishEvent queues ev unless it has no boxes.
func (p *Publisher) PublishEvent(ev types.DetectionEvent) {
	if len(ev.Boxes) == 0 {
		return
	}
	p.enqueue(p.DetectionsTopic(), ev)
}

// PublishReport queues the session report.
func (p *Publisher) PublishReport(rep types.Report) {
	p.enqueue(p.ReportTopic(), rep)
}

func (p *Publisher) enqueue(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed("marshal %s: %v", topic, err)
		return
	}
	select {
	case p.queue <- message{topic: topic, payload: payload}:
	default:
		p.failed("queue full, dropping message for %s", topic)
	}
}

// Start publishes queued messages until ctx is canceled, then flushes what
// is already queued.
func (p *Publisher) Start(ctx context.Context) {
	log.Info("Publisher started on %s/#", p.topic)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					p.publish(msg)
				default:
					log.Info("Publisher stopped")
					return
				}
			}
		case msg := <-p.queue:
			p.publish(msg)
		}
	}
}

func (p *Publisher) publish(msg message) {
	token := p.client.Publish(msg.topic, qos, false, msg.payload)
	if !token.WaitTimeout(publishWait) {
		p.failed("publish to %s timed out", msg.topic)
		return
	}
	if err := token.Error(); err != nil {
		p.failed("publish to %s: %v", msg.topic, err)
		return
	}
	log.Debug("Published %d bytes to %s", len(msg.payload), msg.topic)
}

func (p *Publisher) failed(format string, args ...any) {
	log.Warn(format, args...)
	if p.metrics != nil {
		p.metrics.PublishErrors.Inc()
	}
}

// Close disconnects a publisher created with Connect.
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
