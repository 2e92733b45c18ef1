package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired sessions.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewSweeper returns a Sweeper. A nil logger discards output.
func NewSweeper(store Store, interval time.Duration, log *slog.Logger, m *Metrics) *Sweeper {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done. A non-positive interval returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes sessions expired at the current time.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("session.sweep.fail", "err", err)
		}
		return 0, err
	}
	s.metrics.sweptN(n)
	if n > 0 {
		s.log.Info("session.sweep", "deleted", n)
	}
	return n, nil
}
