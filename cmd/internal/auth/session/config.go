package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines runtime configuration for the session subsystem.
//
// It controls access-token signing and TTL, refresh-token lifetime, the per-user
// session cap, and the expired-session sweeper.
type Config struct {
	// SigningKey is the HMAC-SHA256 key for access tokens. At least 32 bytes.
	SigningKey []byte

	// Issuer and Audience are set on, and required of, every access token.
	Issuer   string
	Audience string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// ClockSkew is tolerated on exp/nbf/iat checks.
	ClockSkew time.Duration

	// RefreshTTL is the lifetime given to a session on create and on every rotation.
	RefreshTTL time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// SessionCap is the maximum number of live sessions per user.
	SessionCap int

	// SweepInterval controls how often expired sessions are deleted. Zero disables the sweeper.
	SweepInterval time.Duration

	// RevokeOnReplay deletes the session whose previous token was replayed.
	RevokeOnReplay bool

	// TokenHMACKey keys refresh-token hashing. Empty falls back to plain SHA-256.
	TokenHMACKey string
}

// MinSigningKeyBytes is the minimum accepted HMAC signing key length.
const MinSigningKeyBytes = 32

// DefaultConfig returns defaults suitable for development. SigningKey is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:            "relay",
		Audience:          "relay-clients",
		AccessTokenTTL:    30 * time.Minute,
		ClockSkew:         30 * time.Second,
		RefreshTTL:        30 * 24 * time.Hour,
		RefreshTokenBytes: 32,
		SessionCap:        5,
		SweepInterval:     10 * time.Minute,
		RevokeOnReplay:    true,
	}
}

// Validate checks invariants that would make the subsystem unsafe to start.
func (c Config) Validate() error {
	if len(c.SigningKey) < MinSigningKeyBytes {
		return ErrConfig
	}
	if strings.TrimSpace(c.Issuer) == "" || strings.TrimSpace(c.Audience) == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 || c.SweepInterval < 0 {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return ErrConfig
	}
	if c.SessionCap < 1 {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - RELAY_JWT_SIGNING_KEY
//
// Optional (durations must be valid Go duration strings):
//   - RELAY_JWT_ISSUER
//   - RELAY_JWT_AUDIENCE
//   - RELAY_JWT_ACCESS_TTL
//   - RELAY_JWT_CLOCK_SKEW
//   - RELAY_SESSION_REFRESH_TTL
//   - RELAY_SESSION_REFRESH_TOKEN_BYTES
//   - RELAY_SESSION_CAP
//   - RELAY_SESSION_SWEEP_INTERVAL
//   - RELAY_SESSION_REVOKE_ON_REPLAY
//   - RELAY_TOKEN_HMAC_KEY
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	env := viper.New()
	env.AutomaticEnv()

	cfg.SigningKey = []byte(env.GetString("RELAY_JWT_SIGNING_KEY"))

	if v := strings.TrimSpace(env.GetString("RELAY_JWT_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(env.GetString("RELAY_JWT_AUDIENCE")); v != "" {
		cfg.Audience = v
	}

	var err error
	if cfg.AccessTokenTTL, err = envDuration(env, "RELAY_JWT_ACCESS_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.ClockSkew, err = envDuration(env, "RELAY_JWT_CLOCK_SKEW", cfg.ClockSkew); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration(env, "RELAY_SESSION_REFRESH_TTL", cfg.RefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDuration(env, "RELAY_SESSION_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}

	if v := env.GetString("RELAY_SESSION_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}
	if v := env.GetString("RELAY_SESSION_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.SessionCap = n
	}
	if v := env.GetString("RELAY_SESSION_REVOKE_ON_REPLAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RevokeOnReplay = b
	}

	cfg.TokenHMACKey = env.GetString("RELAY_TOKEN_HMAC_KEY")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envDuration(env *viper.Viper, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(env.GetString(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, ErrConfig
	}
	return d, nil
}
