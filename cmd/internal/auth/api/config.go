package authapi

import (
	"time"

	"github.com/spf13/viper"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Failed logins per client IP within LoginIPWindow before requests are refused.
	LoginIPMax    int
	LoginIPWindow time.Duration
}

// DefaultConfig returns the defaults used when no environment is set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:  1 << 20, // 1 MiB
		LoginIPMax:    20,
		LoginIPWindow: 5 * time.Minute,
	}
}

// LoadConfigFromEnv reads RELAY_AUTH_* variables. Non-positive or unparsable
// numbers keep their defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("RELAY_AUTH_TRUST_PROXY", def.TrustProxy)
	v.SetDefault("RELAY_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes)
	v.SetDefault("RELAY_AUTH_LOGIN_IP_MAX", def.LoginIPMax)
	v.SetDefault("RELAY_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow)

	cfg := Config{
		TrustProxy:    v.GetBool("RELAY_AUTH_TRUST_PROXY"),
		MaxBodyBytes:  v.GetInt64("RELAY_AUTH_MAX_BODY_BYTES"),
		LoginIPMax:    v.GetInt("RELAY_AUTH_LOGIN_IP_MAX"),
		LoginIPWindow: v.GetDuration("RELAY_AUTH_LOGIN_IP_WINDOW"),
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.LoginIPMax <= 0 {
		cfg.LoginIPMax = def.LoginIPMax
	}
	if cfg.LoginIPWindow <= 0 {
		cfg.LoginIPWindow = def.LoginIPWindow
	}
	return cfg
}
