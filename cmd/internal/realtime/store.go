package realtime

import (
	"context"
	"net"
	"time"
)

// ConnectionRecord is one live transport connection.
type ConnectionRecord struct {
	ConnectionID string
	UserID       string
	Channel      Channel
	IP           net.IP
	ConnectedAt  time.Time
}

// ConnectionStore persists live connections. Every list call reads current state.
type ConnectionStore interface {
	// Insert fails with ErrDuplicateConnection when the id is taken.
	Insert(ctx context.Context, rec ConnectionRecord) error

	// Delete reports whether a row was removed.
	Delete(ctx context.Context, connectionID string) (bool, error)

	ListByUser(ctx context.Context, userID string, channel Channel) ([]string, error)

	// ListByChannelExcept lists the channel's connections not owned by userID.
	ListByChannelExcept(ctx context.Context, channel Channel, userID string) ([]string, error)
}
