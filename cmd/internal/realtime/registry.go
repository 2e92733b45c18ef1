package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"relay/cmd/identity"
)

// ConnectInfo is what the transport knows about a new connection.
// UserID is empty when no identity is attached.
type ConnectInfo struct {
	ConnectionID string
	UserID       string
	Channel      Channel
	IP           net.IP
}

// Registry tracks live connections per user per channel.
type Registry struct {
	store   ConnectionStore
	users   identity.Directory
	members MembershipStore
	log     *slog.Logger
	now     func() time.Time
}

// NewRegistry constructs a Registry. members may be nil when no posts channel is served.
func NewRegistry(log *slog.Logger, store ConnectionStore, users identity.Directory, members MembershipStore) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		store:   store,
		users:   users,
		members: members,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterConnection records a connection after validating its identity and address.
// Any error means the transport must abort the connection.
func (r *Registry) RegisterConnection(ctx context.Context, in ConnectInfo) error {
	if strings.TrimSpace(in.UserID) == "" {
		return ErrUnauthorizedConnection
	}
	if !in.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, in.Channel)
	}
	if _, err := r.users.FindByID(ctx, in.UserID); err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return ErrIdentityNotFound
		}
		return err
	}
	if in.IP == nil || in.IP.IsUnspecified() {
		return ErrMissingAddress
	}

	err := r.store.Insert(ctx, ConnectionRecord{
		ConnectionID: in.ConnectionID,
		UserID:       in.UserID,
		Channel:      in.Channel,
		IP:           in.IP,
		ConnectedAt:  r.now(),
	})
	if err != nil {
		return err
	}
	r.log.Info("registry.connect", "connection_id", in.ConnectionID, "user_id", in.UserID, "channel", in.Channel)
	return nil
}

// UnregisterConnection removes a connection. Unknown ids are logged, not failed.
func (r *Registry) UnregisterConnection(ctx context.Context, connectionID string) error {
	removed, err := r.store.Delete(ctx, connectionID)
	if err != nil {
		return err
	}
	if !removed {
		r.log.Info("registry.disconnect.absent", "connection_id", connectionID)
		return nil
	}
	r.log.Info("registry.disconnect", "connection_id", connectionID)
	return nil
}

// ListConnectionIDs returns userID's connections on channel as of now.
func (r *Registry) ListConnectionIDs(ctx context.Context, userID string, channel Channel) ([]string, error) {
	return r.store.ListByUser(ctx, userID, channel)
}

// ListChannelConnectionIDsExcept returns every connection on channel not owned by userID.
func (r *Registry) ListChannelConnectionIDsExcept(ctx context.Context, channel Channel, userID string) ([]string, error) {
	return r.store.ListByChannelExcept(ctx, channel, userID)
}

// TopicsForConnection returns the groups a new connection joins. Only the posts
// channel has topics, one per post the user belongs to at connect time. They are
// not recomputed for the life of the connection.
func (r *Registry) TopicsForConnection(ctx context.Context, userID string, channel Channel) ([]string, error) {
	if channel != ChannelPosts || r.members == nil {
		return nil, nil
	}
	postIDs, err := r.members.ListPostIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	topics := make([]string, 0, len(postIDs))
	for _, id := range postIDs {
		topics = append(topics, PostTopic(id))
	}
	return topics, nil
}
