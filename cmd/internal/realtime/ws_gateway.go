package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"relay/cmd/internal/auth/session"
	v1 "relay/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/spf13/viper"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Authenticator verifies the access token presented on connect.
type Authenticator interface {
	Authenticate(token string) (session.AccessClaims, error)
}

// Gateway is the WebSocket entrypoint (GET /hubs/{channel}).
//
// It authenticates the handshake, registers the connection before treating it
// as connected, subscribes post topics, and exposes Send/SendToGroup to the core.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	registry *Registry
	auth     Authenticator
	metrics  *Metrics

	devInsecure    bool
	trustProxy     bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	writeTimeout  time.Duration
	sendQueueSize int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
	stop   context.CancelFunc
	// stopCtx is cancelled by Close; every live connection watches it.
	stopCtx context.Context
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayMetrics attaches gateway metrics.
func WithGatewayMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway constructs a gateway with secure defaults, overridable by RELAY_WS_* env.
func NewGateway(log *slog.Logger, hub *Hub, registry *Registry, auth Authenticator, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{log: log, hub: hub, registry: registry, auth: auth}
	g.stopCtx, g.stop = context.WithCancel(context.Background())

	env := viper.New()
	env.AutomaticEnv()

	// TLS verification knob for local development only; not an origin policy.
	g.devInsecure = envBoolWS(env, "RELAY_WS_DEV_INSECURE", false)
	g.trustProxy = envBoolWS(env, "RELAY_WS_TRUST_PROXY", false)

	g.originRequired = envBoolWS(env, "RELAY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS(env, "RELAY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept runs its own origin check; keep both layers in agreement.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS(env, "RELAY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)

	g.sendQueueSize = envIntWS(env, "RELAY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS(env, "RELAY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS(env, "RELAY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS(env, "RELAY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS(env, "RELAY_WS_RATE_WINDOW", rateLimitWindow)

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Hub exposes the underlying hub.
func (g *Gateway) Hub() *Hub { return g.hub }

// Send pushes event to each connection id. See Hub.Send.
func (g *Gateway) Send(ctx context.Context, connectionIDs []string, event string, payload any) error {
	return g.hub.Send(ctx, connectionIDs, event, payload)
}

// SendToGroup pushes event to every connection subscribed to topic.
func (g *Gateway) SendToGroup(ctx context.Context, topic, event string, payload any) error {
	return g.hub.SendToGroup(ctx, topic, event, payload)
}

// Register mounts the gateway.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.Handle("GET /hubs/{channel}", g)
}

// Close stops accepting connections, closes live ones with StatusGoingAway and
// waits until each has been unregistered or ctx is done.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.stop()

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active.Add(1)
	return true
}

// ServeHTTP upgrades an HTTP request to a WebSocket connection and runs its loop.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.active.Done()

	channel, ok := ParseChannel(r.PathValue("channel"))
	if !ok {
		g.metrics.rejected("channel")
		http.NotFound(w, r)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.rejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// A missing token leaves the connection anonymous; registration rejects it.
	var userID string
	if tok := accessToken(r); tok != "" {
		claims, err := g.auth.Authenticate(tok)
		if err != nil {
			g.log.Info("ws.reject.token", "err", err, "remote", r.RemoteAddr)
			g.metrics.rejected("token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.metrics.rejected("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connectionID := NewConnectionID()
	client, err := g.open(r.Context(), connectionID, userID, channel, clientIP(r, g.trustProxy))
	if err != nil {
		g.log.Info("ws.reject.register", "connection_id", connectionID, "user_id", userID, "channel", channel, "err", err)
		g.metrics.rejected(rejectReason(err))
		_ = conn.Close(websocket.StatusPolicyViolation, "connection rejected")
		return
	}
	g.metrics.connected(channel)
	defer g.metrics.disconnected(channel)

	g.serve(r.Context(), conn, client)
}

// open registers the connection and subscribes its topics. On any failure nothing
// stays registered.
func (g *Gateway) open(parent context.Context, connectionID, userID string, channel Channel, ip net.IP) (*Client, error) {
	ctx, cancel := context.WithTimeout(parent, registryTimeout)
	defer cancel()

	// Attach first so any id the registry lists is already addressable.
	client := NewClient(connectionID, userID, channel, g.sendQueueSize)
	g.hub.Attach(client)

	err := g.registry.RegisterConnection(ctx, ConnectInfo{
		ConnectionID: connectionID,
		UserID:       userID,
		Channel:      channel,
		IP:           ip,
	})
	if err != nil {
		g.hub.Detach(connectionID)
		return nil, err
	}

	topics, err := g.registry.TopicsForConnection(ctx, userID, channel)
	if err != nil {
		g.hub.Detach(connectionID)
		g.unregister(connectionID)
		return nil, fmt.Errorf("topics: %w", err)
	}
	for _, topic := range topics {
		g.hub.Subscribe(topic, client)
	}
	return client, nil
}

func (g *Gateway) unregister(connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := g.registry.UnregisterConnection(ctx, connectionID); err != nil {
		g.log.Error("ws.unregister.fail", "connection_id", connectionID, "err", err)
	}
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, client *Client) {
	connectionID := client.ConnectionID

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. The hub drops the client before it is closed so
	// concurrent senders never see a half-closed connection.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Detach(connectionID)
			g.unregister(connectionID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	stopWatch := context.AfterFunc(g.stopCtx, func() {
		shutdown(websocket.StatusGoingAway, "server shutting down")
	})
	defer stopWatch()

	g.sendHelloAck(ctx, client)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", connectionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", connectionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "connection_id", connectionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.trySendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.sendHelloAck(ctx, client)
		default:
			g.trySendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) sendHelloAck(_ context.Context, client *Client) {
	p, _ := json.Marshal(v1.HelloAckPayload{
		ConnectionID: client.ConnectionID,
		Channel:      string(client.Channel),
		Topics:       client.Topics(),
	})
	if err := client.offer(newEnvelope(v1.TypeHelloAck, "", "", p, time.Now().UTC())); err != nil {
		g.log.Info("ws.hello_ack.drop", "connection_id", client.ConnectionID, "err", err)
	}
}

func (g *Gateway) trySendError(client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = client.offer(newEnvelope(v1.TypeError, "", "", p, time.Now().UTC()))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedConnection):
		return "unauthorized"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrMissingAddress):
		return "missing_address"
	default:
		return "error"
	}
}

// ---- handshake helpers ----

func accessToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// Browsers cannot set headers on WebSocket handshakes.
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// ---- envelope IO ----

func newEnvelope(typ, event, topic string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Event:   event,
		Topic:   topic,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers (unset, invalid or non-positive values keep the default) ----

func envBoolWS(env *viper.Viper, key string, def bool) bool {
	v := strings.TrimSpace(env.GetString(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(env *viper.Viper, key string, def int) int {
	v := strings.TrimSpace(env.GetString(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(env *viper.Viper, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(env.GetString(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(env *viper.Viper, key string, def string) []string {
	raw := strings.TrimSpace(env.GetString(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
