package app

import (
	"testing"
	"time"
)

func TestAdvertisedURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		addr     string
		wantBase string
		wantHub  string
	}{
		{name: "default bind", addr: "0.0.0.0:8080", wantBase: "http://127.0.0.1:8080", wantHub: "ws://127.0.0.1:8080/hubs/{channel}"},
		{name: "port only", addr: ":9000", wantBase: "http://127.0.0.1:9000", wantHub: "ws://127.0.0.1:9000/hubs/{channel}"},
		{name: "bind all v6", addr: "[::]:9090", wantBase: "http://127.0.0.1:9090", wantHub: "ws://127.0.0.1:9090/hubs/{channel}"},
		{name: "named host", addr: "relay.internal:8443", wantBase: "http://relay.internal:8443", wantHub: "ws://relay.internal:8443/hubs/{channel}"},
		{name: "ipv6 host", addr: "[2001:db8::1]:9090", wantBase: "http://[2001:db8::1]:9090", wantHub: "ws://[2001:db8::1]:9090/hubs/{channel}"},
		{name: "no port", addr: "relay.internal", wantBase: "http://relay.internal", wantHub: "ws://relay.internal/hubs/{channel}"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			base := runtimeBaseURL(tc.addr)
			if base != tc.wantBase {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.addr, base, tc.wantBase)
			}
			if hub := wsBaseURL(base) + "/hubs/{channel}"; hub != tc.wantHub {
				t.Fatalf("hub url=%q want=%q", hub, tc.wantHub)
			}
		})
	}

	if got := wsBaseURL("https://relay.example.com"); got != "wss://relay.example.com" {
		t.Fatalf("tls base must map to wss, got %q", got)
	}
}

func TestServerTimeoutFallbacks(t *testing.T) {
	t.Parallel()

	if got := nonZeroDuration(0, 15*time.Second); got != 15*time.Second {
		t.Fatalf("zero duration must fall back, got %v", got)
	}
	if got := nonZeroDuration(-time.Second, 5*time.Second); got != 5*time.Second {
		t.Fatalf("negative duration must fall back, got %v", got)
	}
	if got := nonZeroDuration(2*time.Minute, 10*time.Second); got != 2*time.Minute {
		t.Fatalf("configured duration must win, got %v", got)
	}
	if got := nonZeroInt(0, 1<<20); got != 1<<20 {
		t.Fatalf("zero header limit must fall back, got %d", got)
	}
	if got := nonZeroInt(4096, 1<<20); got != 4096 {
		t.Fatalf("configured header limit must win, got %d", got)
	}
}
