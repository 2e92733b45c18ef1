package realtime

import (
	"log/slog"
	"sync"

	v1 "relay/contracts/realtime/v1"
)

// Group is an in-memory topic membership and fan-out primitive.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks and is
// panic-safe because Client.Send is never closed by the server.
type Group struct {
	log   *slog.Logger
	Topic string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewGroup constructs an empty group.
func NewGroup(log *slog.Logger, topic string) *Group {
	return &Group{
		log:     log,
		Topic:   topic,
		members: make(map[string]*Client),
	}
}

// Join adds a client.
func (g *Group) Join(client *Client) {
	if g == nil || client == nil || client.ConnectionID == "" {
		return
	}
	g.mu.Lock()
	g.members[client.ConnectionID] = client
	g.mu.Unlock()

	g.log.Debug("group.member.join", "topic", g.Topic, "connection_id", client.ConnectionID)
}

// Leave removes a client and reports whether the group is now empty.
func (g *Group) Leave(connectionID string) bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	delete(g.members, connectionID)
	empty := len(g.members) == 0
	g.mu.Unlock()

	g.log.Debug("group.member.leave", "topic", g.Topic, "connection_id", connectionID)
	return empty
}

// Len returns the member count.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Broadcast offers env to every member and returns one error per member that
// could not take it.
func (g *Group) Broadcast(env v1.Envelope) []error {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	for id, m := range g.members {
		if err := m.offer(env); err != nil {
			errs = append(errs, &DeliveryError{ConnectionID: id, Err: err})
		}
	}
	return errs
}
