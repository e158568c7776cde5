package cleanup

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SessionReaper is the slice of the session service the sweeper drives.
type SessionReaper interface {
	MarkOverdueExpired(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeDeadSessions(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOrphanedArtifacts(ctx context.Context) (int64, error)
}

// Sweeper periodically expires overdue sessions and reclaims artifacts of
// terminal sessions once a grace period past their expiry has lapsed.
// Each sweep computes its own cutoff, so a session created after that
// point is never touched; sweeps are idempotent and safe to interrupt.
type Sweeper struct {
	sessions SessionReaper
	clock    clockwork.Clock
	logger   *zap.Logger
	interval time.Duration
	grace    time.Duration
	stopCh   chan struct{}
}

// NewSweeper builds a sweeper; interval and grace default to one hour.
func NewSweeper(sessions SessionReaper, clock clockwork.Clock, logger *zap.Logger, interval, grace time.Duration) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if grace < 0 {
		grace = time.Hour
	}
	return &Sweeper{
		sessions: sessions,
		clock:    clock,
		logger:   logger,
		interval: interval,
		grace:    grace,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.Sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("cleanup sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper context cancelled")
			return
		}
	}
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

// Sweep performs one pass: expire overdue active sessions, purge terminal
// sessions whose grace period has lapsed, then reclaim disk artifacts
// that no longer have a session record.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()

	expired, err := s.sessions.MarkOverdueExpired(ctx, now)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	}

	cutoff := now.Add(-s.grace)
	purged, err := s.sessions.PurgeDeadSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("purge sweep failed", zap.Error(err))
	}

	orphans, err := s.sessions.PurgeOrphanedArtifacts(ctx)
	if err != nil {
		s.logger.Error("orphan sweep failed", zap.Error(err))
	}

	if expired > 0 || purged > 0 || orphans > 0 {
		s.logger.Info("cleanup sweep finished",
			zap.Int64("expired", expired),
			zap.Int64("purged", purged),
			zap.Int64("orphans", orphans))
	}
}
