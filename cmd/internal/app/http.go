package app

import (
	"log/slog"
	"net/http"
	"time"

	authapi "relay/cmd/internal/auth/api"
	"relay/cmd/internal/notify"
	"relay/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes holds everything registerHTTP mounts. Nil handlers are skipped.
type routes struct {
	log     *slog.Logger
	cfg     Config
	pool    *pgxpool.Pool
	metrics prometheus.Gatherer
	auth    *authapi.Handler
	inbox   *notify.Handler
	gateway *realtime.Gateway
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && rt.pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if rt.pool != nil {
			if err := PingDB(r.Context(), rt.pool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.cfg.MetricsEnabled && rt.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.metrics, promhttp.HandlerOpts{}))
	}

	if rt.auth != nil {
		rt.auth.Register(mux)
	}
	if rt.inbox != nil {
		rt.inbox.Register(mux)
	}
	if rt.gateway != nil {
		rt.gateway.Register(mux)
	}
}
