// Package main provides a CI-friendly smoke test for a running relay server.
//
// It validates:
//   - login over HTTP for two devices of the same account
//   - handshake + subprotocol selection on /hubs/notifications
//   - hello_ack with a connection id for each device
//   - hello round trip
//   - token refresh and replay rejection
//   - notification inbox listing
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "relay/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type device struct {
	name         string
	pair         tokenPair
	conn         *websocket.Conn
	connectionID string
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", os.Getenv("RELAY_SMOKE_EMAIL"), "Account email (confirmed)")
		password = flag.String("password", os.Getenv("RELAY_SMOKE_PASSWORD"), "Account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *email == "" || *password == "" {
		fatalf("-email and -password are required")
	}

	root := context.Background()

	a := &device{name: "A", pair: mustLogin(root, *baseURL, *email, *password, "smoke-device-a", *timeout)}
	b := &device{name: "B", pair: mustLogin(root, *baseURL, *email, *password, "smoke-device-b", *timeout)}

	mustConnect(root, a, *baseURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, *baseURL, *origin, *timeout)
	defer closeWS(b.conn)

	if a.connectionID == b.connectionID {
		fatalf("devices share a connection id: %s", a.connectionID)
	}
	if *verbose {
		fmt.Printf("connected: A=%s B=%s\n", a.connectionID, b.connectionID)
	}

	mustHelloRoundTrip(root, a, *timeout)

	old := a.pair
	a.pair = mustRefresh(root, *baseURL, old, "smoke-device-a", *timeout)
	if a.pair.RefreshToken == old.RefreshToken {
		fatalf("refresh: token was not rotated")
	}
	mustRefreshRejected(root, *baseURL, old, "smoke-device-a", *timeout)

	n := mustListNotifications(root, *baseURL, a.pair.AccessToken, *timeout)

	fmt.Printf("OK: A=%s B=%s notifications=%d\n", a.connectionID, b.connectionID, n)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsURL(base, channel string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	default:
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/hubs/" + channel
}

func mustLogin(parent context.Context, base, email, password, fingerprint string, stepTimeout time.Duration) tokenPair {
	var pair tokenPair
	status := mustPostJSON(parent, base+"/auth/login", "", map[string]string{
		"email":       email,
		"password":    password,
		"fingerprint": fingerprint,
	}, &pair, stepTimeout)
	if status != http.StatusOK {
		fatalf("login %s: status=%d", fingerprint, status)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		fatalf("login %s: empty token pair", fingerprint)
	}
	return pair
}

func mustRefresh(parent context.Context, base string, pair tokenPair, fingerprint string, stepTimeout time.Duration) tokenPair {
	var next tokenPair
	status := mustPostJSON(parent, base+"/auth/refresh", "", map[string]string{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"fingerprint":  fingerprint,
	}, &next, stepTimeout)
	if status != http.StatusOK {
		fatalf("refresh: status=%d", status)
	}
	return next
}

func mustRefreshRejected(parent context.Context, base string, pair tokenPair, fingerprint string, stepTimeout time.Duration) {
	status := mustPostJSON(parent, base+"/auth/refresh", "", map[string]string{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"fingerprint":  fingerprint,
	}, nil, stepTimeout)
	if status != http.StatusUnauthorized {
		fatalf("replayed refresh: status=%d want=401", status)
	}
}

func mustListNotifications(parent context.Context, base, access string, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/notifications?limit=10", nil)
	if err != nil {
		fatalf("notifications: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("notifications: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("notifications: status=%d", resp.StatusCode)
	}
	var body struct {
		Notifications []json.RawMessage `json:"notifications"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(&body); err != nil {
		fatalf("notifications: decode: %v", err)
	}
	return len(body.Notifications)
}

func mustPostJSON(parent context.Context, target, bearer string, in, out any, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(in)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("post %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(out); err != nil {
			fatalf("decode %s: %v", target, err)
		}
	}
	return resp.StatusCode
}

func mustConnect(parent context.Context, d *device, base, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+d.pair.AccessToken)

	conn, resp, err := websocket.Dial(ctx, wsURL(base, "notifications"), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("%s: dial: status=%d err=%v", d.name, status, err)
	}
	conn.SetReadLimit(maxReadBytes)
	d.conn = conn

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		fatalf("%s: subprotocol mismatch: got=%q want=%q", d.name, sp, v1.Subprotocol)
	}

	ack := mustReadType(ctx, d, v1.TypeHelloAck)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("%s: hello_ack payload: %v", d.name, err)
	}
	if p.ConnectionID == "" || p.Channel != "notifications" {
		fatalf("%s: unexpected hello_ack: %+v", d.name, p)
	}
	d.connectionID = p.ConnectionID
}

func mustHelloRoundTrip(parent context.Context, d *device, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeHello, TS: time.Now().UTC()})
	if err != nil {
		fatalf("%s: marshal hello: %v", d.name, err)
	}
	if err := d.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("%s: write hello: %v", d.name, err)
	}
	mustReadType(ctx, d, v1.TypeHelloAck)
}

// mustReadType reads until an envelope of wantType arrives. Pushed events are skipped.
func mustReadType(ctx context.Context, d *device, wantType string) v1.Envelope {
	for {
		_, data, err := d.conn.Read(ctx)
		if err != nil {
			fatalf("%s: read (want %s): %v", d.name, wantType, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("%s: bad json: %v", d.name, err)
		}
		switch env.Type {
		case wantType:
			return env
		case v1.TypeError:
			fatalf("%s: server error while waiting for %s: %s", d.name, wantType, string(env.Payload))
		}
	}
}

func closeWS(c *websocket.Conn) {
	if c != nil {
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
