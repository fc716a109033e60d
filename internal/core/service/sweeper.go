package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/ports"
)

const defaultSweepInterval = time.Hour

// Sweeper periodically deletes expired sessions and one-time tokens.
type Sweeper struct {
	store    ports.Store
	interval time.Duration
	now      Clock
	log      zerolog.Logger
}

func NewSweeper(store ports.Store, interval time.Duration, now Clock, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if now == nil {
		now = SystemClock
	}
	return &Sweeper{store: store, interval: interval, now: now, log: log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Failures are logged and retried on the next tick.
func (s *Sweeper) Sweep(ctx context.Context) (sessions, tokens int64) {
	now := s.now()

	sessions, err := s.store.Sessions().DeleteExpired(ctx, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to delete expired sessions")
	}
	tokens, err = s.store.Tokens().DeleteExpired(ctx, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to delete expired one-time tokens")
	}

	if sessions > 0 || tokens > 0 {
		s.log.Info().Int64("sessions", sessions).Int64("tokens", tokens).Msg("expired records swept")
	}
	return sessions, tokens
}
