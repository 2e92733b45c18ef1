package app

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "json" || cfg.DBSchema != "public" {
		t.Fatalf("LogFormat=%q DBSchema=%q", cfg.LogFormat, cfg.DBSchema)
	}
	if cfg.ReadHeaderTimeout != 5*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("timeouts: %v %v", cfg.ReadHeaderTimeout, cfg.ShutdownTimeout)
	}
	if cfg.DBMaxConns != 10 || !cfg.MetricsEnabled {
		t.Fatalf("DBMaxConns=%d MetricsEnabled=%v", cfg.DBMaxConns, cfg.MetricsEnabled)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("RELAY_LOG_FORMAT", "text")
	t.Setenv("RELAY_HTTP_READ_TIMEOUT", "3s")
	t.Setenv("RELAY_DB_MAX_CONNS", "4")
	t.Setenv("RELAY_CORS_ALLOWED_ORIGINS", "https://a.example.com, http://127.0.0.1:*")
	t.Setenv("RELAY_CORS_ALLOW_CREDENTIALS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9090" || cfg.LogFormat != "text" {
		t.Fatalf("HTTPAddr=%q LogFormat=%q", cfg.HTTPAddr, cfg.LogFormat)
	}
	if cfg.ReadTimeout != 3*time.Second || cfg.DBMaxConns != 4 {
		t.Fatalf("ReadTimeout=%v DBMaxConns=%d", cfg.ReadTimeout, cfg.DBMaxConns)
	}
	want := []string{"https://a.example.com", "http://127.0.0.1:*"}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins=%v want=%v", cfg.CORSAllowedOrigins, want)
	}
	if !cfg.CORSAllowCredentials {
		t.Fatalf("CORSAllowCredentials not set")
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad log format", env: map[string]string{"RELAY_LOG_FORMAT": "xml"}},
		{name: "migrate without db", env: map[string]string{"RELAY_DB_MIGRATE": "true"}},
		{name: "min above max", env: map[string]string{"RELAY_DB_MAX_CONNS": "2", "RELAY_DB_MIN_CONNS": "5"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); !errors.Is(err, ErrConfig) {
				t.Fatalf("LoadConfig err=%v want ErrConfig", err)
			}
		})
	}
}
