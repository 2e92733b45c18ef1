// Package app wires the relay server runtime: config, logging, stores, HTTP routes
// and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	authapi "relay/cmd/internal/auth/api"
	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/db"
	"relay/cmd/internal/notify"
	"relay/cmd/internal/realtime"
	"relay/cmd/identity"
	"relay/cmd/security/password"
	"relay/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// directory is the identity boundary: lookups plus verification links.
type directory interface {
	identity.Directory
	identity.Verifications
}

// stores groups the persistence backends selected at startup.
type stores struct {
	users         directory
	sessions      session.Store
	connections   realtime.ConnectionStore
	members       realtime.MembershipStore
	notifications notify.Store
	audit         authapi.AuditLog
}

// App is the relay server runtime.
type App struct {
	cfg Config
	log *slog.Logger

	pool *pgxpool.Pool

	metrics *prometheus.Registry
	sweeper *session.Sweeper
	gateway *realtime.Gateway
	handler http.Handler
}

// New constructs a fully wired App. It fails on signing-key or store misconfiguration.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if err := sessCfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	tokens, err := refreshTokenHasher(cfg, sessCfg.TokenHMACKey)
	if err != nil {
		return nil, err
	}
	passwords := password.NewHasher(password.DefaultParams())

	st, pool, err := newStores(ctx, cfg, log, passwords, tokens)
	if err != nil {
		return nil, err
	}

	a, err := assemble(cfg, log, sessCfg, st, pool)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	return a, nil
}

// assemble builds services and routes over already selected stores.
func assemble(cfg Config, log *slog.Logger, sessCfg session.Config, st stores, pool *pgxpool.Pool) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	issuer, err := session.NewJWTIssuer(sessCfg)
	if err != nil {
		return nil, err
	}
	sessMetrics := session.NewMetrics(reg)
	sessions, err := session.NewService(sessCfg, st.sessions, issuer, st.users,
		session.WithLogger(log.With("component", "session")),
		session.WithMetrics(sessMetrics),
	)
	if err != nil {
		return nil, err
	}

	wsLog := log.With("component", "realtime")
	registry := realtime.NewRegistry(wsLog, st.connections, st.users, st.members)
	gateway := realtime.NewGateway(wsLog, realtime.NewHub(wsLog), registry, sessions,
		realtime.WithGatewayMetrics(realtime.NewMetrics(reg)),
	)

	router := notify.NewRouter(registry, gateway, st.notifications,
		notify.WithLogger(log.With("component", "notify")),
		notify.WithMetrics(notify.NewMetrics(reg)),
	)

	auth, err := authapi.NewHandler(log.With("component", "auth"), authapi.LoadConfigFromEnv(), sessions, st.users,
		authapi.WithAuditLog(st.audit),
		authapi.WithPublisher(router),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:     log,
		cfg:     cfg,
		pool:    pool,
		metrics: reg,
		auth:    auth,
		inbox:   notify.NewHandler(log.With("component", "inbox"), st.notifications, sessions),
		gateway: gateway,
	})

	var h http.Handler = mux
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log)

	return &App{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		metrics: reg,
		sweeper: session.NewSweeper(st.sessions, sessCfg.SweepInterval, log.With("component", "sweeper"), sessMetrics),
		gateway: gateway,
		handler: h,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the session sweeper and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(sweepCtx)
	}()

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.pool != nil,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/hubs/{channel}",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	// Hijacked WebSocket connections are not covered by Shutdown.
	if err := a.gateway.Close(shutdownCtx); err != nil {
		a.log.Error("ws.shutdown.fail", "err", err)
	}

	stopSweep()
	wg.Wait()

	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores picks Postgres-backed stores when a database URL is configured and
// in-memory stores otherwise. The returned pool is owned by the caller.
func newStores(ctx context.Context, cfg Config, log *slog.Logger, passwords password.Hasher, tokens token.Hasher) (stores, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return stores{
			users:         identity.NewMemoryDirectory(passwords, tokens),
			sessions:      session.NewMemoryStore(),
			connections:   realtime.NewMemoryConnectionStore(),
			members:       realtime.NewMemoryMembershipStore(),
			notifications: notify.NewMemoryStore(),
			audit:         authapi.NewMemoryAuditLog(),
		}, nil, nil
	}

	if cfg.DBMigrate {
		if err := db.Migrate(cfg.DatabaseURL, "up"); err != nil {
			return stores{}, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("db.migrated")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, nil, err
	}

	st, err := postgresStores(pool, cfg.DBSchema, passwords, tokens)
	if err != nil {
		pool.Close()
		return stores{}, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, pool, nil
}

func postgresStores(pool *pgxpool.Pool, schema string, passwords password.Hasher, tokens token.Hasher) (stores, error) {
	var (
		st  stores
		err error
	)
	if st.users, err = identity.NewPostgresDirectory(pool, passwords, tokens, identity.WithSchema(schema)); err != nil {
		return stores{}, err
	}
	if st.sessions, err = session.NewPostgresStore(pool, session.WithSchema(schema)); err != nil {
		return stores{}, err
	}
	if st.connections, err = realtime.NewPostgresConnectionStore(pool, realtime.WithSchema(schema)); err != nil {
		return stores{}, err
	}
	if st.members, err = realtime.NewPostgresMembershipStore(pool, realtime.WithSchema(schema)); err != nil {
		return stores{}, err
	}
	if st.notifications, err = notify.NewPostgresStore(pool, notify.WithSchema(schema)); err != nil {
		return stores{}, err
	}
	if st.audit, err = authapi.NewPostgresAuditLog(pool, schema); err != nil {
		return stores{}, err
	}
	return st, nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
