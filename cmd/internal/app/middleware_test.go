package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRequestLogging_LevelAndAttrs(t *testing.T) {
	cases := []struct {
		status    int
		wantLevel string
		result    string
		class     string
	}{
		{status: http.StatusOK, wantLevel: "INFO", result: "success", class: "2xx"},
		{status: http.StatusSeeOther, wantLevel: "INFO", result: "redirect", class: "3xx"},
		{status: http.StatusTooManyRequests, wantLevel: "WARN", result: "client_error", class: "4xx"},
		{status: http.StatusServiceUnavailable, wantLevel: "ERROR", result: "server_error", class: "5xx"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, nil))
		h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("relay"))
		}), log)

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("status=%d: log line is not JSON: %v (%q)", tc.status, err, buf.String())
		}
		if rec["msg"] != "http.request" || rec["level"] != tc.wantLevel {
			t.Fatalf("status=%d: msg=%v level=%v", tc.status, rec["msg"], rec["level"])
		}
		if rec["result"] != tc.result || rec["status_class"] != tc.class || rec["path"] != "/auth/login" {
			t.Fatalf("status=%d: unexpected attrs %v", tc.status, rec)
		}
		if rec["bytes"] != float64(len("relay")) {
			t.Fatalf("status=%d: bytes=%v", tc.status, rec["bytes"])
		}
	}

	if got := statusClass(42); got != "unknown" {
		t.Fatalf("statusClass(42)=%q", got)
	}
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestRequestLogging_KeepsHijacker(t *testing.T) {
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatalf("wrapped writer lost http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("Hijack: %v", err)
		}
	}), discardLogger())

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hubs/chat", nil))
	if !rec.hijacked {
		t.Fatalf("hub upgrade must reach the underlying hijacker")
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/notifications", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Fatalf("%s=%q want=%q", k, got, v)
		}
	}
}

func TestOriginAllowed(t *testing.T) {
	patterns := parseOriginPatterns([]string{
		"https://app.example.com",
		"HTTP://127.0.0.1:*",
		"http://localhost:5173/",
		"not-an-origin",
	})
	if len(patterns) != 3 {
		t.Fatalf("expected 3 parsed patterns, got %+v", patterns)
	}

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://APP.example.com", true},
		{"https://app.example.com:8443", false},
		{"http://app.example.com", false},
		{"http://127.0.0.1:55123", true},
		{"http://127.0.0.1", true},
		{"https://127.0.0.1:55123", false},
		{"http://127.0.0.2:55123", false},
		{"http://localhost:5173", true},
		{"http://localhost:5174", false},
		{"null", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := originAllowed(patterns, tc.origin); got != tc.want {
			t.Fatalf("originAllowed(%q)=%v want=%v", tc.origin, got, tc.want)
		}
	}
}

func TestWithCORS(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins:   []string{"https://app.example.com", "http://127.0.0.1:*"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}

	cases := []struct {
		name        string
		method      string
		path        string
		headers     map[string]string
		wantStatus  int
		wantNext    bool
		wantOrigin  string
		wantMaxAge  string
		wantHeaders string
	}{
		{
			name:       "no origin",
			method:     http.MethodGet,
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "allowed origin",
			method:     http.MethodGet,
			path:       "/notifications",
			headers:    map[string]string{"Origin": "https://app.example.com"},
			wantStatus: http.StatusOK,
			wantNext:   true,
			wantOrigin: "https://app.example.com",
		},
		{
			name:       "wildcard port",
			method:     http.MethodPost,
			path:       "/auth/login",
			headers:    map[string]string{"Origin": "http://127.0.0.1:41234"},
			wantStatus: http.StatusOK,
			wantNext:   true,
			wantOrigin: "http://127.0.0.1:41234",
		},
		{
			name:       "denied origin",
			method:     http.MethodPost,
			path:       "/auth/refresh",
			headers:    map[string]string{"Origin": "https://evil.example.com"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:   "preflight",
			method: http.MethodOptions,
			path:   "/auth/refresh",
			headers: map[string]string{
				"Origin":                         "https://app.example.com",
				"Access-Control-Request-Method":  http.MethodPost,
				"Access-Control-Request-Headers": "Content-Type",
			},
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "https://app.example.com",
			wantMaxAge:  "600",
			wantHeaders: "Content-Type",
		},
		{
			name:   "preflight default headers",
			method: http.MethodOptions,
			path:   "/notifications",
			headers: map[string]string{
				"Origin":                        "http://127.0.0.1:3000",
				"Access-Control-Request-Method": http.MethodGet,
			},
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "http://127.0.0.1:3000",
			wantMaxAge:  "600",
			wantHeaders: "Authorization, Content-Type",
		},
		{
			name:       "websocket upgrade from foreign origin",
			method:     http.MethodGet,
			path:       "/hubs/chat",
			headers:    map[string]string{"Origin": "https://other.example.com", "Upgrade": "websocket"},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}), cfg, discardLogger())

			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus || called != tc.wantNext {
				t.Fatalf("status=%d next=%v want status=%d next=%v", rr.Code, called, tc.wantStatus, tc.wantNext)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow-origin=%q want=%q", got, tc.wantOrigin)
			}
			if tc.wantOrigin != "" && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Fatalf("allow-credentials missing")
			}
			if got := rr.Header().Get("Access-Control-Max-Age"); got != tc.wantMaxAge {
				t.Fatalf("max-age=%q want=%q", got, tc.wantMaxAge)
			}
			if got := rr.Header().Get("Access-Control-Allow-Headers"); got != tc.wantHeaders {
				t.Fatalf("allow-headers=%q want=%q", got, tc.wantHeaders)
			}
		})
	}
}

func TestWithCORS_EmptyAllowListIsPassthrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	h := WithCORS(next, Config{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("empty allow-list must not touch the response: status=%d headers=%v", rr.Code, rr.Header())
	}
}
