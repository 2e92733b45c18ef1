package notify

import (
	"context"
	"log/slog"
	"time"

	"relay/cmd/internal/realtime"
)

// Connections resolves users to live connection ids.
type Connections interface {
	ListConnectionIDs(ctx context.Context, userID string, channel realtime.Channel) ([]string, error)
	ListChannelConnectionIDsExcept(ctx context.Context, channel realtime.Channel, userID string) ([]string, error)
}

// Transport pushes events to connection ids or topics assigned by the core.
type Transport interface {
	Send(ctx context.Context, connectionIDs []string, event string, payload any) error
	SendToGroup(ctx context.Context, topic, event string, payload any) error
}

// Delivery summarizes one fan-out. It is informational; fan-out never fails the caller.
type Delivery struct {
	Event   string
	Targets []string
	Failed  []string
}

// Router computes targets for events and hands them to the transport.
type Router struct {
	conns     Connections
	transport Transport
	store     Store
	log       *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithClock overrides the clock used to stamp notifications.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter constructs a Router.
func NewRouter(conns Connections, transport Transport, store Store, opts ...RouterOption) *Router {
	r := &Router{
		conns:     conns,
		transport: transport,
		store:     store,
		log:       slog.New(slog.DiscardHandler),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// BroadcastExceptSelf pushes ev to every live connection on channel not owned by actingUserID.
// The business mutation behind ev must already be committed.
func (r *Router) BroadcastExceptSelf(ctx context.Context, ev Event, actingUserID string, channel realtime.Channel) Delivery {
	name, payload := Wire(ev)
	ids, err := r.conns.ListChannelConnectionIDsExcept(ctx, channel, actingUserID)
	if err != nil {
		r.log.Error("notify.broadcast.targets_fail", "event", name, "channel", channel, "err", err)
		r.metrics.failed(name, 1)
		return Delivery{Event: name}
	}
	return r.send(ctx, name, payload, ids)
}

// TargetedUnicast pushes ev to exactly the connections recipientUserID owns on channel.
func (r *Router) TargetedUnicast(ctx context.Context, ev Event, recipientUserID string, channel realtime.Channel) Delivery {
	name, payload := Wire(ev)
	return r.unicast(ctx, name, payload, recipientUserID, channel)
}

// PublishPersonal stores ev as a notification for recipientUserID, then pushes it to the
// recipient's notifications connections. A store error is returned and nothing is pushed.
func (r *Router) PublishPersonal(ctx context.Context, recipientUserID string, ev Personal) (Notification, Delivery, error) {
	title, desc := ev.notification()
	n, err := r.store.Create(ctx, NewNotification{
		UserID:      recipientUserID,
		Kind:        ev.Kind(),
		Title:       title,
		Description: desc,
		Now:         r.now(),
	})
	if err != nil {
		r.log.Error("notify.personal.persist_fail", "user_id", recipientUserID, "kind", ev.Kind(), "err", err)
		return Notification{}, Delivery{}, err
	}

	name, _ := Wire(ev)
	d := r.unicast(ctx, name, n.Payload(), recipientUserID, realtime.ChannelNotifications)
	return n, d, nil
}

// PublishToPost pushes ev to every connection following postID.
func (r *Router) PublishToPost(ctx context.Context, postID string, ev Event) {
	name, payload := Wire(ev)
	topic := realtime.PostTopic(postID)

	if err := r.transport.SendToGroup(ctx, topic, name, payload); err != nil {
		r.logSendErr(name, err)
		return
	}
	r.log.Debug("notify.group.sent", "event", name, "topic", topic)
}

func (r *Router) unicast(ctx context.Context, name string, payload any, userID string, channel realtime.Channel) Delivery {
	ids, err := r.conns.ListConnectionIDs(ctx, userID, channel)
	if err != nil {
		r.log.Error("notify.unicast.targets_fail", "event", name, "user_id", userID, "channel", channel, "err", err)
		r.metrics.failed(name, 1)
		return Delivery{Event: name}
	}
	return r.send(ctx, name, payload, ids)
}

func (r *Router) send(ctx context.Context, name string, payload any, ids []string) Delivery {
	d := Delivery{Event: name, Targets: ids}
	if len(ids) == 0 {
		return d
	}

	err := r.transport.Send(ctx, ids, name, payload)
	if err != nil {
		d.Failed = r.logSendErr(name, err)
		if len(d.Failed) == 0 {
			d.Failed = append([]string(nil), ids...)
		}
	}
	r.metrics.delivered(name, len(ids)-len(d.Failed))
	return d
}

// logSendErr logs each per-connection failure in err and returns their ids.
func (r *Router) logSendErr(name string, err error) []string {
	parts := realtime.DeliveryErrors(err)
	if len(parts) == 0 {
		r.log.Error("notify.send.fail", "event", name, "err", err)
		r.metrics.failed(name, 1)
		return nil
	}
	failed := make([]string, 0, len(parts))
	for _, de := range parts {
		r.log.Warn("notify.send.connection_fail", "event", name, "connection_id", de.ConnectionID, "err", de.Err)
		failed = append(failed, de.ConnectionID)
	}
	r.metrics.failed(name, len(failed))
	return failed
}
