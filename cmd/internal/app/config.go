package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig marks an invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Config contains the process-level runtime configuration.
//
// Component configs (session, auth API, WS gateway) are loaded by their own
// packages from the same environment.
type Config struct {
	HTTPAddr  string `mapstructure:"RELAY_HTTP_ADDR"`
	LogLevel  string `mapstructure:"RELAY_LOG_LEVEL"`
	LogFormat string `mapstructure:"RELAY_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"RELAY_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"RELAY_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"RELAY_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"RELAY_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `mapstructure:"RELAY_HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"RELAY_HTTP_MAX_HEADER_BYTES"`

	// DatabaseURL selects Postgres-backed stores. Empty runs everything in memory.
	DatabaseURL string `mapstructure:"RELAY_DATABASE_URL"`
	DBSchema    string `mapstructure:"RELAY_DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"RELAY_DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"RELAY_DB_MIN_CONNS"`
	DBMigrate   bool   `mapstructure:"RELAY_DB_MIGRATE"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"RELAY_READINESS_REQUIRE_DB"`

	// If true, RELAY_TOKEN_HMAC_KEY must be set and refresh-token hashing runs in HMAC mode.
	RequireTokenHMAC bool `mapstructure:"RELAY_REQUIRE_TOKEN_HMAC"`

	CORSAllowedOrigins   []string `mapstructure:"RELAY_CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool     `mapstructure:"RELAY_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `mapstructure:"RELAY_CORS_MAX_AGE_SECONDS"`

	MetricsEnabled bool `mapstructure:"RELAY_METRICS_ENABLED"`
}

// LoadConfig reads an optional .env file, then the environment, and validates the result.
// Environment variables override the file.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("RELAY_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("RELAY_LOG_LEVEL", "info")
	v.SetDefault("RELAY_LOG_FORMAT", "json")
	v.SetDefault("RELAY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("RELAY_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("RELAY_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("RELAY_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("RELAY_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("RELAY_HTTP_MAX_HEADER_BYTES", 1<<20)
	v.SetDefault("RELAY_DATABASE_URL", "")
	v.SetDefault("RELAY_DB_SCHEMA", "public")
	v.SetDefault("RELAY_DB_MAX_CONNS", 10)
	v.SetDefault("RELAY_DB_MIN_CONNS", 0)
	v.SetDefault("RELAY_DB_MIGRATE", false)
	v.SetDefault("RELAY_READINESS_REQUIRE_DB", false)
	v.SetDefault("RELAY_REQUIRE_TOKEN_HMAC", false)
	v.SetDefault("RELAY_CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("RELAY_CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("RELAY_CORS_MAX_AGE_SECONDS", 600)
	v.SetDefault("RELAY_METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: RELAY_HTTP_ADDR must be set", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: RELAY_LOG_FORMAT must be json or text", ErrConfig)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("%w: invalid DB pool bounds", ErrConfig)
	}
	if c.DBMigrate && c.DatabaseURL == "" {
		return fmt.Errorf("%w: RELAY_DB_MIGRATE requires RELAY_DATABASE_URL", ErrConfig)
	}
	return nil
}

// cleanList splits comma-joined entries and drops blanks.
func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
