package authapi

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("RELAY_AUTH_TRUST_PROXY", "true")
	t.Setenv("RELAY_AUTH_LOGIN_IP_MAX", "3")
	t.Setenv("RELAY_AUTH_LOGIN_IP_WINDOW", "1m")
	t.Setenv("RELAY_AUTH_MAX_BODY_BYTES", "-5")

	cfg := LoadConfigFromEnv()
	if !cfg.TrustProxy {
		t.Fatalf("expected trust proxy")
	}
	if cfg.LoginIPMax != 3 || cfg.LoginIPWindow != time.Minute {
		t.Fatalf("unexpected throttle config: %+v", cfg)
	}
	if cfg.MaxBodyBytes != DefaultConfig().MaxBodyBytes {
		t.Fatalf("invalid body limit must fall back to default, got %d", cfg.MaxBodyBytes)
	}
}

func TestLoadConfigFromEnv_Unparsable(t *testing.T) {
	t.Setenv("RELAY_AUTH_LOGIN_IP_MAX", "many")
	t.Setenv("RELAY_AUTH_LOGIN_IP_WINDOW", "soon")

	cfg := LoadConfigFromEnv()
	def := DefaultConfig()
	if cfg.LoginIPMax != def.LoginIPMax || cfg.LoginIPWindow != def.LoginIPWindow {
		t.Fatalf("unparsable values must fall back to defaults, got %+v", cfg)
	}
}
