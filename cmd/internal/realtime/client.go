package realtime

import (
	"sync"

	v1 "relay/contracts/realtime/v1"
)

// Client represents one live WebSocket connection.
//
// Send is never closed by the server so concurrent senders cannot panic.
// done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	ConnectionID string
	UserID       string
	Channel      Channel
	Send         chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	topics []string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connectionID, userID string, channel Channel, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnectionID: connectionID,
		UserID:       userID,
		Channel:      channel,
		Send:         make(chan v1.Envelope, sendQueueSize),
		done:         make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Topics returns the groups the client was subscribed to.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func (c *Client) addTopic(topic string) {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
}

// offer enqueues env without blocking.
func (c *Client) offer(env v1.Envelope) error {
	select {
	case <-c.Done():
		return ErrNotConnected
	default:
	}
	select {
	case c.Send <- env:
		return nil
	default:
		return ErrBackpressure
	}
}
