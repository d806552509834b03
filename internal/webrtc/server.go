// Package webrtc pushes detection events to dashboard peers over a WebRTC
// data channel, for viewers that render the overlay client-side.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var log = logger.For("WebRTC")

// ChannelLabel is the data channel label peers must open.
const ChannelLabel = "detections"

// ErrTooManyClients is returned by HandleOffer when the server is full.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id         string
	peerConn   *webrtc.PeerConnection
	mu         sync.Mutex
	channel    *webrtc.DataChannel
	eventChan  chan []byte
	closeChan  chan struct{}
	eventsSent uint64
	dropped    uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a server using the given STUN servers. m may be nil.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(2 * time.Second)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only; no media codecs.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if maxClients <= 0 {
		maxClients = 8
	}
	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer accepts an SDP offer that carries a "detections" data channel
// and returns the answer with gathered ICE candidates.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString()[:8],
		peerConn:  peerConn,
		eventChan: make(chan []byte, 30),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			log.Debug("Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			log.Info("Client %s data channel open", client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())
		if isTerminal(state) {
			log.Info("Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		_ = peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		_ = peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		_ = peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	log.Debug("ICE gathering complete for client %s", client.id)

	if !s.register(client) {
		return nil, fmt.Errorf("peer connection %s before answer", peerConn.ConnectionState())
	}

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	log.Info("Client %s connected", client.id)
	return answerJSON, nil
}

// register adds client and starts its sender. A peer that already went
// terminal during gathering missed its state callback, so it is removed here
// and register returns false.
func (s *Server) register(client *Client) bool {
	s.clientsMu.Lock()
	s.clients[client.id] = client
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.setGauge(n)

	go s.sendEvents(client)

	if state := client.peerConn.ConnectionState(); isTerminal(state) {
		log.Info("Client %s connection %s during gathering, removing...", client.id, state.String())
		s.RemoveClient(client.id)
		return false
	}
	return true
}

func isTerminal(state webrtc.PeerConnectionState) bool {
	return state == webrtc.PeerConnectionStateDisconnected ||
		state == webrtc.PeerConnectionStateFailed ||
		state == webrtc.PeerConnectionStateClosed
}

// PublishEvent sends ev to all connected peers, dropping it for peers whose
// queue is full.
func (s *Server) PublishEvent(ev types.DetectionEvent) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error("Failed to marshal event: %v", err)
		return
	}
	for _, client := range s.clients {
		select {
		case client.eventChan <- data:
		default:
			client.mu.Lock()
			client.dropped++
			client.mu.Unlock()
		}
	}
}

func (s *Server) sendEvents(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case data := <-client.eventChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				continue
			}
			if err := dc.SendText(string(data)); err != nil {
				log.Warn("Error sending event to client %s: %v", client.id, err)
				continue
			}
			client.mu.Lock()
			client.eventsSent++
			client.mu.Unlock()
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n := len(s.clients)
	s.clientsMu.Unlock()
	if !exists {
		return
	}
	s.setGauge(n)

	close(client.closeChan)
	// Close outside the lock; state callbacks re-enter RemoveClient.
	_ = client.peerConn.Close()

	client.mu.Lock()
	sent, dropped := client.eventsSent, client.dropped
	client.mu.Unlock()
	log.Info("Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns per-client delivery counters.
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent,
			"events_dropped": client.dropped,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}

func (s *Server) setGauge(n int) {
	if s.metrics != nil {
		s.metrics.ActiveClients.WithLabelValues("webrtc").Set(float64(n))
	}
}
