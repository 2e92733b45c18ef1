package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay/cmd/internal/auth/session"
	v1 "relay/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator map[string]string // token -> user id

func (f fakeAuthenticator) Authenticate(tok string) (session.AccessClaims, error) {
	uid, ok := f[tok]
	if !ok {
		return session.AccessClaims{}, session.ErrTokenSignatureInvalid
	}
	return session.AccessClaims{UserID: uid}, nil
}

type gatewayFixture struct {
	registryFixture
	gw      *Gateway
	metrics *Metrics
	srv     *httptest.Server
}

func newGatewayFixture(t *testing.T, auth fakeAuthenticator) gatewayFixture {
	t.Helper()
	t.Setenv("RELAY_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("RELAY_WS_HEARTBEAT_INTERVAL", "1h")

	f := gatewayFixture{registryFixture: newRegistryFixture(t)}
	f.metrics = NewMetrics(prometheus.NewRegistry())
	f.gw = NewGateway(nil, NewHub(nil), f.reg, auth, WithGatewayMetrics(f.metrics))

	mux := http.NewServeMux()
	f.gw.Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f gatewayFixture) dial(t *testing.T, channel, tok string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/hubs/" + channel
	h := http.Header{}
	if tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if conn != nil {
		t.Cleanup(func() { _ = conn.CloseNow() })
	}
	return conn, resp, err
}

func readEnv(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env, err := readEnvelope(ctx, conn)
	require.NoError(t, err)
	return env
}

func TestGateway_ConnectReceivesHelloAckWithTopics(t *testing.T) {
	f := newGatewayFixture(t, fakeAuthenticator{})
	u := mustUser(t, f.dir, "u@example.com")
	f.gw.auth = fakeAuthenticator{"tok-u": u.ID}
	require.NoError(t, f.members.Join(context.Background(), "p1", u.ID))

	conn, _, err := f.dial(t, "posts", "tok-u")
	require.NoError(t, err)

	env := readEnv(t, conn)
	require.Equal(t, v1.TypeHelloAck, env.Type)
	var ack v1.HelloAckPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	assert.Equal(t, "posts", ack.Channel)
	assert.Equal(t, []string{"post:p1"}, ack.Topics)
	assert.NotEmpty(t, ack.ConnectionID)

	ids, err := f.reg.ListConnectionIDs(context.Background(), u.ID, ChannelPosts)
	require.NoError(t, err)
	assert.Equal(t, []string{ack.ConnectionID}, ids)
	assert.Equal(t, 1, f.gw.Hub().GroupSize("post:p1"))

	require.NoError(t, f.gw.SendToGroup(context.Background(), "post:p1", "post.updated", map[string]string{"id": "p1"}))
	ev := readEnv(t, conn)
	assert.Equal(t, "post.updated", ev.Event)
	assert.Equal(t, "post:p1", ev.Topic)

	require.NoError(t, f.gw.Send(context.Background(), []string{ack.ConnectionID}, "ping.direct", nil))
	assert.Equal(t, "ping.direct", readEnv(t, conn).Event)

	// A client hello is answered with another ack.
	hello, _ := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeHello, TS: time.Now().UTC()})
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, hello))
	assert.Equal(t, v1.TypeHelloAck, readEnv(t, conn).Type)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	require.Eventually(t, func() bool {
		ids, _ := f.reg.ListConnectionIDs(context.Background(), u.ID, ChannelPosts)
		return len(ids) == 0 && f.gw.Hub().GroupSize("post:p1") == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGateway_CloseUnregistersLiveConnections(t *testing.T) {
	f := newGatewayFixture(t, fakeAuthenticator{})
	u := mustUser(t, f.dir, "u@example.com")
	f.gw.auth = fakeAuthenticator{"tok-u": u.ID}

	conn, _, err := f.dial(t, "chat", "tok-u")
	require.NoError(t, err)
	require.Equal(t, v1.TypeHelloAck, readEnv(t, conn).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Reading lets the client answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	require.NoError(t, f.gw.Close(ctx))
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-readErr))

	ids, err := f.reg.ListConnectionIDs(context.Background(), u.ID, ChannelChat)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, resp, err := f.dial(t, "chat", "tok-u")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_BadEnvelopeGetsError(t *testing.T) {
	f := newGatewayFixture(t, fakeAuthenticator{})
	u := mustUser(t, f.dir, "u@example.com")
	f.gw.auth = fakeAuthenticator{"tok-u": u.ID}

	conn, _, err := f.dial(t, "chat", "tok-u")
	require.NoError(t, err)
	require.Equal(t, v1.TypeHelloAck, readEnv(t, conn).Type)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"v":"v1","type":"chat.send"}`)))
	env := readEnv(t, conn)
	require.Equal(t, v1.TypeError, env.Type)
	var p v1.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "bad_envelope", p.Code)
}

func TestGateway_InvalidTokenIs401(t *testing.T) {
	f := newGatewayFixture(t, fakeAuthenticator{})

	_, resp, err := f.dial(t, "chat", "not-a-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.rejections.WithLabelValues("token")))
}

func TestGateway_UnknownChannelIs404(t *testing.T) {
	f := newGatewayFixture(t, fakeAuthenticator{})

	_, resp, err := f.dial(t, "video", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_RejectedRegistrationClosesWithPolicyViolation(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		reason string
	}{
		{"anonymous", "", "unauthorized"},
		{"unknown user", "tok-ghost", "identity_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newGatewayFixture(t, fakeAuthenticator{"tok-ghost": "01HZZZZZZZZZZZZZZZZZZZZZZZ"})

			conn, _, err := f.dial(t, "chat", tc.token)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _, err = conn.Read(ctx)
			require.Error(t, err)
			assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.rejections.WithLabelValues(tc.reason)))

			ids, err := f.reg.ListChannelConnectionIDsExcept(context.Background(), ChannelChat, "")
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

// attachCheckStore records whether each inserted id was already live in hub.
type attachCheckStore struct {
	*MemoryConnectionStore
	hub     *Hub
	liveAt  map[string]bool
	failFor string
}

func (s *attachCheckStore) Insert(ctx context.Context, rec ConnectionRecord) error {
	s.liveAt[rec.ConnectionID] = s.hub.Live(rec.ConnectionID)
	if rec.ConnectionID == s.failFor {
		return ErrDuplicateConnection
	}
	return s.MemoryConnectionStore.Insert(ctx, rec)
}

func TestGateway_OpenAttachesBeforeRegistering(t *testing.T) {
	f := newRegistryFixture(t)
	u := mustUser(t, f.dir, "u@example.com")
	hub := NewHub(nil)
	store := &attachCheckStore{MemoryConnectionStore: f.store, hub: hub, liveAt: map[string]bool{}, failFor: "c-dup"}
	gw := NewGateway(nil, hub, NewRegistry(nil, store, f.dir, f.members), fakeAuthenticator{})

	client, err := gw.open(context.Background(), "c-ok", u.ID, ChannelChat, loopback)
	require.NoError(t, err)
	assert.True(t, store.liveAt["c-ok"], "registered id must already be addressable")
	assert.True(t, hub.Live(client.ConnectionID))

	_, err = gw.open(context.Background(), "c-dup", u.ID, ChannelChat, loopback)
	require.Error(t, err)
	assert.True(t, store.liveAt["c-dup"])
	assert.False(t, hub.Live("c-dup"), "failed registration must detach the client")
}

func TestGateway_OriginPolicy(t *testing.T) {
	t.Setenv("RELAY_WS_ALLOWED_ORIGINS", "https://app.example.com")
	t.Setenv("RELAY_WS_ORIGIN_REQUIRED", "true")
	gw := NewGateway(nil, nil, nil, fakeAuthenticator{})

	r := httptest.NewRequest(http.MethodGet, "/hubs/chat", nil)
	assert.Error(t, gw.enforceOrigin(r))

	r.Header.Set("Origin", "https://app.example.com:8443")
	assert.NoError(t, gw.enforceOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.Error(t, gw.enforceOrigin(r))

	assert.Equal(t, []string{"app.example.com"}, gw.originPatterns)
}

func TestNewGateway_EnvSettings(t *testing.T) {
	t.Setenv("RELAY_WS_SEND_QUEUE", "64")
	t.Setenv("RELAY_WS_RATE_EVENTS", "-3")
	t.Setenv("RELAY_WS_RATE_WINDOW", "soon")
	t.Setenv("RELAY_WS_HEARTBEAT_TIMEOUT", "2m")
	t.Setenv("RELAY_WS_TRUST_PROXY", "true")
	t.Setenv("RELAY_WS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")

	gw := NewGateway(nil, nil, nil, fakeAuthenticator{})
	assert.Equal(t, 64, gw.sendQueueSize)
	assert.Equal(t, rateLimitEvents, gw.rateEvents)
	assert.Equal(t, rateLimitWindow, gw.rateWindow)
	assert.Equal(t, 2*time.Minute, gw.heartbeatTimeout)
	assert.True(t, gw.trustProxy)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, gw.allowedOrigins)

	t.Setenv("RELAY_WS_SEND_QUEUE", "4")
	assert.Equal(t, wsMinSendQueueSize, NewGateway(nil, nil, nil, fakeAuthenticator{}).sendQueueSize)
}

func TestAccessToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/hubs/chat?access_token=q", nil)
	assert.Equal(t, "q", accessToken(r))
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", accessToken(r))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "10.0.0.1", clientIP(r, false).String())
	assert.Equal(t, "203.0.113.9", clientIP(r, true).String())
}
