// Package websocket pushes queue board events to browser clients. Clients
// subscribe to topics of the form "<board>/<tenant id>/..." and only ever
// receive topics of their own tenant.
package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one realtime notification.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is sent by a client: {"action":"subscribe","topics":[...]}.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ServerMessage acknowledges a ClientMessage.
type ServerMessage struct {
	Type     string   `json:"type"`
	Topics   []string `json:"topics,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
	Message  string   `json:"message,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client is one connection, bound to a tenant for its lifetime.
type Client struct {
	ID       string
	TenantID uuid.UUID
	Send     chan []byte

	topics map[string]struct{}
}

const sendBuffer = 64

func NewClient(tenantID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Send:     make(chan []byte, sendBuffer),
		topics:   make(map[string]struct{}),
	}
}

// Hub tracks clients and their subscriptions. Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
	dropped atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
}

// Unregister drops every subscription of c and closes c.Send. Calling it
// twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(topic, c)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) removeLocked(topic string, c *Client) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	delete(c.topics, topic)
}

// TopicTenant returns the tenant id embedded as the second topic segment.
func TopicTenant(topic string) (uuid.UUID, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Subscribe adds the topics that belong to c's tenant and returns the rest
// as rejected.
func (h *Hub) Subscribe(c *Client, topics []string) (accepted, rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return nil, topics
	}
	for _, topic := range topics {
		if tenant, ok := TopicTenant(topic); !ok || tenant != c.TenantID {
			rejected = append(rejected, topic)
			continue
		}
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Client]struct{})
		}
		h.topics[topic][c] = struct{}{}
		c.topics[topic] = struct{}{}
		accepted = append(accepted, topic)
	}
	return accepted, rejected
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(topic, c)
	}
}

// ProcessMessage applies msg and returns the reply for the client.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) ServerMessage {
	switch msg.Action {
	case "subscribe":
		accepted, rejected := h.Subscribe(c, msg.Topics)
		reply := ServerMessage{Type: "subscribed", Topics: accepted, Rejected: rejected}
		if len(rejected) > 0 {
			reply.Message = "topics outside your tenant were rejected"
		}
		return reply
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
		return ServerMessage{Type: "unsubscribed", Topics: msg.Topics}
	case "ping":
		return ServerMessage{Type: "pong"}
	default:
		return ServerMessage{Type: "error", Message: "unknown action " + msg.Action}
	}
}

// Publish delivers event to the subscribers of event.Topic. A client whose
// buffer is full misses the event; the board recovers on the next update
// or a queue refetch.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[event.Topic] {
		select {
		case c.Send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("client_id", c.ID).Str("topic", event.Topic).Msg("client buffer full, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Dropped returns how many deliveries were skipped for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
