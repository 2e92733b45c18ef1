package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "relay/contracts/realtime/v1"
)

// Hub owns the live clients of this process and their topic groups.
// It is addressed only by connection id or topic name.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]*Group
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
		groups:  make(map[string]*Group),
	}
}

// Attach makes c addressable by its connection id.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.clients[c.ConnectionID] = c
	h.mu.Unlock()
}

// Subscribe adds c to topic, creating the group on first use.
// The join happens under h.mu so a concurrent Detach cannot drop the group in between.
func (h *Hub) Subscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[topic]
	if !ok {
		g = NewGroup(h.log, topic)
		h.groups[topic] = g
	}
	g.Join(c)
	c.addTopic(topic)
}

// Detach removes the client from every group and from the hub, then closes it.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	c := h.clients[connectionID]
	delete(h.clients, connectionID)
	if c != nil {
		for _, topic := range c.Topics() {
			if g := h.groups[topic]; g != nil && g.Leave(connectionID) {
				delete(h.groups, topic)
			}
		}
	}
	h.mu.Unlock()

	// Close after removal so no sender still holds the client.
	if c != nil {
		c.Close()
	}
}

// Live reports whether connectionID is attached.
func (h *Hub) Live(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connectionID]
	return ok
}

// GroupSize returns the number of members subscribed to topic.
func (h *Hub) GroupSize(topic string) int {
	h.mu.RLock()
	g := h.groups[topic]
	h.mu.RUnlock()
	if g == nil {
		return 0
	}
	return g.Len()
}

// Send enqueues one event envelope to each connection independently. Failures are
// returned joined, one *DeliveryError per connection; successful targets are unaffected.
func (h *Hub) Send(_ context.Context, connectionIDs []string, event string, payload any) error {
	env, err := eventEnvelope(event, "", payload)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range connectionIDs {
		h.mu.RLock()
		c := h.clients[id]
		h.mu.RUnlock()

		if c == nil {
			errs = append(errs, &DeliveryError{ConnectionID: id, Err: ErrNotConnected})
			continue
		}
		if err := c.offer(env); err != nil {
			errs = append(errs, &DeliveryError{ConnectionID: id, Err: err})
		}
	}
	return errors.Join(errs...)
}

// SendToGroup enqueues one event envelope to every member of topic.
func (h *Hub) SendToGroup(_ context.Context, topic, event string, payload any) error {
	env, err := eventEnvelope(event, topic, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	g := h.groups[topic]
	h.mu.RUnlock()

	return errors.Join(g.Broadcast(env)...)
}

func eventEnvelope(event, topic string, payload any) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(v1.TypeEvent, event, topic, raw, time.Now().UTC()), nil
}
