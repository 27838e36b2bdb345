package kds

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/utils"
)

const DefaultHeartbeatInterval = 25 * time.Second

// Subscriber is one live output channel. Implementations must serialize
// their own writes; the hub may call WriteEvent from several goroutines.
type Subscriber interface {
	ID() string
	WriteEvent(event string, data []byte) error
	WriteComment(text string) error
	Close() error
}

// Relay carries published frames between instances. Publish must not block
// for long; Listen delivers every frame (including this instance's own)
// until ctx is done.
type Relay interface {
	Publish(ctx context.Context, frame []byte) error
	Listen(ctx context.Context, deliver func(frame []byte)) error
}

// Hub holds the live subscribers and fans events out to them. Nothing is
// queued: a subscriber only sees events published while it is registered.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Subscriber

	heartbeat time.Duration
	relay     Relay
	metrics   *metrics.Metrics
	log       *logrus.Logger
}

type HubOption func(*Hub)

func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:   make(map[string]Subscriber),
		heartbeat: DefaultHeartbeatInterval,
		log:       utils.InfoLogger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers s and sends the connection marker. A subscriber whose
// marker cannot be written is not registered.
func (h *Hub) Subscribe(s Subscriber) error {
	if err := s.WriteComment("connected"); err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[s.ID()] = s
	n := len(h.clients)
	h.mu.Unlock()

	h.setGauge(n)
	h.log.WithFields(logrus.Fields{"subscriber": s.ID(), "subscribers": n}).Debug("stream subscriber registered")
	return nil
}

// Unsubscribe removes s and closes it. Safe to call more than once.
func (h *Hub) Unsubscribe(s Subscriber) {
	if s == nil {
		return
	}
	h.remove(s.ID())
	_ = s.Close()
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes one event to one subscriber. A failed write drops the subscriber.
func (h *Hub) Send(s Subscriber, event string, payload interface{}) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := s.WriteEvent(event, data); err != nil {
		h.drop(s, err)
		return err
	}
	return nil
}

// Publish broadcasts an event to every subscriber, through the relay when
// one is configured.
func (h *Hub) Publish(event string, payload interface{}) {
	data, err := encodePayload(payload)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("marshal event payload")
		return
	}

	if h.relay != nil {
		frame, err := json.Marshal(relayFrame{Event: event, Data: data})
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = h.relay.Publish(ctx, frame)
			cancel()
			if err == nil {
				return
			}
		}
		h.log.WithError(err).WithField("event", event).Warn("relay publish failed, delivering locally")
	}

	h.broadcast(event, data)
}

// Run sends heartbeats and, with a relay, delivers relayed frames until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.relay != nil {
		go func() {
			err := h.relay.Listen(ctx, h.deliverRelayed)
			if err != nil && ctx.Err() == nil {
				h.log.WithError(err).Error("relay listener stopped")
			}
		}()
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.broadcast(EventPing, []byte("pong"))
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) deliverRelayed(frame []byte) {
	var f relayFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		h.log.WithError(err).Warn("discarding malformed relay frame")
		return
	}
	h.broadcast(f.Event, f.Data)
}

func (h *Hub) broadcast(event string, data []byte) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients))
	for _, s := range h.clients {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.WriteEvent(event, data); err != nil {
			h.drop(s, err)
		}
	}
}

// drop removes a subscriber whose write failed; treated as a disconnect.
func (h *Hub) drop(s Subscriber, cause error) {
	if h.remove(s.ID()) {
		h.log.WithFields(logrus.Fields{"subscriber": s.ID(), "error": cause}).Debug("stream subscriber dropped")
		_ = s.Close()
	}
}

func (h *Hub) remove(id string) bool {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.setGauge(n)
	}
	return ok
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range clients {
		_ = s.Close()
	}
	h.setGauge(0)
}

func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.StreamSubscribers.Set(float64(n))
	}
}

type relayFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// encodePayload serializes payload as JSON; strings are sent verbatim.
func encodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return []byte("{}"), nil
	default:
		return json.Marshal(v)
	}
}
