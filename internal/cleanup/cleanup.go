// Package cleanup reclaims idle tinymem sessions in the background.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reclaimer finds and closes idle sessions. *session.Manager satisfies it.
type Reclaimer interface {
	StaleSessions(ctx context.Context, maxInactive time.Duration) ([]string, error)
	CleanupStale(ctx context.Context, maxInactive time.Duration) ([]string, error)
}

// Sweeper periodically marks idle sessions done.
type Sweeper struct {
	reclaimer   Reclaimer
	interval    time.Duration
	maxInactive time.Duration
	logger      *slog.Logger
}

// NewSweeper returns a Sweeper that runs every interval and closes sessions
// idle for longer than maxInactive.
func NewSweeper(r Reclaimer, interval, maxInactive time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{reclaimer: r, interval: interval, maxInactive: maxInactive, logger: logger}
}

// Sweep runs a single pass. If dryRun is true nothing is changed; the
// function only returns the ids that would be closed.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) ([]string, error) {
	var (
		ids []string
		err error
	)
	if dryRun {
		ids, err = s.reclaimer.StaleSessions(ctx, s.maxInactive)
	} else {
		ids, err = s.reclaimer.CleanupStale(ctx, s.maxInactive)
	}
	if err != nil {
		return ids, fmt.Errorf("sweeping stale sessions: %w", err)
	}
	return ids, nil
}

// Run sweeps every interval until ctx is done. Failed passes are logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := s.Sweep(ctx, false)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("stale sweep failed", "error", err)
				}
				continue
			}
			if len(cleaned) > 0 {
				s.logger.Info("stale sessions closed", "ids", cleaned)
			}
		}
	}
}

// Start runs the sweeper in a new goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.Run(ctx)
}
