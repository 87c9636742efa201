// Package hub fans queue events out to connected display clients. A
// client may narrow its subscription to a single lane; an empty filter
// receives everything.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/Moha7763/queue-care-flow/internal/models"

	"go.uber.org/zap"
)

type Subscription struct {
	Lane models.Lane
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Lane   string `json:"lane"`
}

func New(logger *zap.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast delivers payload to every client whose filter matches lane.
// Slow clients are skipped rather than blocking the fan-out; they
// reconcile from the event log on their next poll.
func (h *Hub) Broadcast(payload []byte, lane models.Lane) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.Lane != "" && lane != "" && client.Subscription.Lane != lane {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("dropping message for slow client", zap.String("client_id", client.ID))
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Lane != "" {
		if _, ok := models.ParseLane(msg.Lane); !ok {
			return SubscribeMessage{}, false
		}
	}
	return msg, true
}
